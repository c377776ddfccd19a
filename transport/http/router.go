package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/layer-3/paymaster/ports"
)

// RateLimits configures the two IP limiters
type RateLimits struct {
	Window time.Duration
	Global int64
	Strict int64
}

// DefaultRateLimits allows 100 requests per IP every 15 minutes, 10 on the
// authentication and relay routes
func DefaultRateLimits() RateLimits {
	return RateLimits{Window: 15 * time.Minute, Global: 100, Strict: 10}
}

// SetupRouter sets up the Gin router
func SetupRouter(handlers *RelayHandlers, store ports.Store, limits RateLimits, trustedProxies []string) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, err
	}

	strict := RateLimit(store, RateLimitStrict, limits.Strict, limits.Window)
	auth := AuthMiddleware(handlers.authService)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", handlers.Healthz)

	api := router.Group("/")
	api.Use(RateLimit(store, RateLimitGlobal, limits.Global, limits.Window))
	{
		api.GET("/", handlers.Root)
		api.GET("/fees", handlers.Fees)
		api.GET("/challenge", strict, handlers.Challenge)
		api.POST("/verify", strict, handlers.Verify)
		api.POST("/relay", strict, auth, handlers.Relay)
		api.GET("/usage", auth, handlers.Usage)
	}

	return router, nil
}
