package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
	"github.com/layer-3/paymaster/service"
)

const serviceName = "paymaster-relayer"

// RelayHandlers contains HTTP handlers for the relay endpoints
type RelayHandlers struct {
	authService  *service.AuthService
	relayService *service.RelayService
	rules        *service.SponsorshipRules
	fees         *service.FeeEstimator
	ledger       ports.Ledger
	identities   *service.IdentitySet
}

// NewRelayHandlers creates new relay handlers
func NewRelayHandlers(
	authService *service.AuthService,
	relayService *service.RelayService,
	rules *service.SponsorshipRules,
	fees *service.FeeEstimator,
	ledger ports.Ledger,
	identities *service.IdentitySet,
) *RelayHandlers {
	return &RelayHandlers{
		authService:  authService,
		relayService: relayService,
		rules:        rules,
		fees:         fees,
		ledger:       ledger,
		identities:   identities,
	}
}

// Root describes the service
func (h *RelayHandlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":          serviceName,
		"status":           "running",
		"relayerPublicKey": h.identities.Primary().PublicKey().String(),
	})
}

// Healthz is the liveness probe
func (h *RelayHandlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Challenge issues a nonce for the client to sign
func (h *RelayHandlers) Challenge(c *gin.Context) {
	challenge, err := h.authService.IssueChallenge(c.Request.Context())
	if err != nil {
		slog.Error("failed to issue challenge", "err", err)
		if errors.Is(err, core.ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nonce":            challenge.Nonce,
		"relayerPublicKey": challenge.RelayerPublicKey,
	})
}

// Verify exchanges a signed nonce for a credential
func (h *RelayHandlers) Verify(c *gin.Context) {
	var req struct {
		Nonce     string `json:"nonce" binding:"required"`
		PublicKey string `json:"publicKey" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, _, err := h.authService.VerifyAndIssue(c.Request.Context(), req.Nonce, req.PublicKey, req.Signature)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Verification failed"

		switch {
		case errors.Is(err, core.ErrInvalidOrExpiredNonce):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid or expired nonce"
		case errors.Is(err, core.ErrInvalidSignature):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid signature"
		case errors.Is(err, core.ErrStoreUnavailable):
			statusCode = http.StatusServiceUnavailable
			errorMsg = "Service temporarily unavailable"
			slog.Error("failed to verify challenge", "err", err)
		default:
			slog.Error("failed to verify challenge", "err", err)
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
	})
}

// Relay co-signs and lands the client's transaction
func (h *RelayHandlers) Relay(c *gin.Context) {
	var req struct {
		Transaction          string `json:"transaction"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sig, err := h.relayService.Relay(c.Request.Context(), service.RelayRequest{
		Transaction:          req.Transaction,
		LastValidBlockHeight: req.LastValidBlockHeight,
		ClientPublicKey:      c.GetString(clientPublicKeyKey),
	})
	if err != nil {
		h.relayError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"signature": sig.String(),
	})
}

func (h *RelayHandlers) relayError(c *gin.Context, err error) {
	var rerr *core.RelayError
	if !errors.As(err, &rerr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	switch {
	case errors.Is(rerr.Err, core.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Transaction not sponsored"})
	case errors.Is(rerr.Err, core.ErrBadRequest):
		switch rerr.Reason {
		case core.ReasonSimulationFailed:
			body := gin.H{"error": "Transaction simulation failed"}
			if rerr.Simulation != nil {
				body["details"] = rerr.Simulation.Err
				body["logs"] = rerr.Simulation.Logs
			}
			c.JSON(http.StatusBadRequest, body)
		case core.ReasonInvalidFeePayer:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fee payer"})
		case core.ReasonInvalidSignature:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		}
	case errors.Is(rerr.Err, core.ErrExpired):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Transaction expired before confirmation"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// Fees quotes a priority fee and a fresh blockhash
func (h *RelayHandlers) Fees(c *gin.Context) {
	fee := h.fees.PriorityFee(c.Request.Context())

	latest, err := h.ledger.GetLatestBlockhash(c.Request.Context())
	if err != nil {
		slog.Error("failed to fetch latest blockhash", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch blockhash"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"priorityFee":          fee,
		"blockhash":            latest.Blockhash.String(),
		"lastValidBlockHeight": latest.LastValidBlockHeight,
	})
}

// Usage returns the caller's consumed sponsorship budget
func (h *RelayHandlers) Usage(c *gin.Context) {
	client := c.GetString(clientPublicKeyKey)

	usage, err := h.rules.Usage(c.Request.Context(), client)
	if err != nil {
		slog.Error("failed to read usage", "publicKey", client, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read usage"})
		return
	}

	maxTransactions, maxCost := h.rules.Limits()
	c.JSON(http.StatusOK, gin.H{
		"publicKey":       usage.PublicKey,
		"transactions":    usage.Transactions,
		"costSol":         usage.CostSOL,
		"maxTransactions": maxTransactions,
		"maxCostSol":      maxCost.InexactFloat64(),
	})
}
