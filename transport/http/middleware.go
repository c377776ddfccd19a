package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
	"github.com/layer-3/paymaster/service"
)

const clientPublicKeyKey = "clientPublicKey"

// Rate limit key prefixes
const (
	RateLimitGlobal = "rl:global:"
	RateLimitStrict = "rl:strict:"
)

// AuthMiddleware creates middleware that validates bearer credentials
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		credential, err := authService.ValidateCredential(c.Request.Context(), token)
		if err != nil {
			slog.Warn("credential rejected", "err", err)
			if errors.Is(err, core.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		c.Set(clientPublicKeyKey, credential.PublicKey)

		c.Next()
	}
}

// RateLimit allows limit requests per client IP in each fixed window.
// Store failures let the request through.
func RateLimit(store ports.Store, prefix string, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := store.Incr(c.Request.Context(), prefix+c.ClientIP(), window)
		if err != nil {
			slog.Error("rate limiter unavailable", "prefix", prefix, "err", err)
			c.Next()
			return
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("RateLimit-Limit", strconv.FormatInt(limit, 10))
		c.Header("RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > limit {
			slog.Warn("rate limit exceeded", "prefix", prefix, "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later"})
			return
		}

		c.Next()
	}
}

// RequestLogger logs every request with slog
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		slog.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		)
	}
}
