package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

const (
	countPrefix = "txn_count:"
	costPrefix  = "txn_cost:"

	lamportsPerSignature = 5000
)

// Programs sponsored without touching any budget by default.
var (
	MemoProgramV1 = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLnmEyY2ency7v5tXgQr5A9uC2j6y8")
	MemoProgramV2 = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
)

// SponsorshipConfig bounds what the relay pays for
type SponsorshipConfig struct {
	AllowedPrograms []solana.PublicKey
	Blacklist       []string
	MaxTransactions int64
	MaxCostSOL      decimal.Decimal

	// BudgetWindow expires both usage counters after the first sponsored
	// attempt in a window. Zero keeps them forever.
	BudgetWindow time.Duration
}

// DefaultSponsorshipConfig returns the stock limits
func DefaultSponsorshipConfig() SponsorshipConfig {
	return SponsorshipConfig{
		AllowedPrograms: []solana.PublicKey{MemoProgramV1, MemoProgramV2},
		MaxTransactions: 5,
		MaxCostSOL:      decimal.New(1, -4),
	}
}

// SponsorshipRules decides whether a client's transaction is subsidized
type SponsorshipRules struct {
	store  ports.Store
	ledger ports.Ledger
	cfg    SponsorshipConfig
	logger *slog.Logger

	allowed   map[solana.PublicKey]struct{}
	blacklist map[string]struct{}
}

// NewSponsorshipRules creates a rules engine over the usage counters in store
func NewSponsorshipRules(store ports.Store, ledger ports.Ledger, cfg SponsorshipConfig) *SponsorshipRules {
	r := &SponsorshipRules{
		store:     store,
		ledger:    ledger,
		cfg:       cfg,
		logger:    slog.Default().With("component", "rules"),
		allowed:   make(map[solana.PublicKey]struct{}, len(cfg.AllowedPrograms)),
		blacklist: make(map[string]struct{}, len(cfg.Blacklist)),
	}

	for _, p := range cfg.AllowedPrograms {
		r.allowed[p] = struct{}{}
	}
	for _, b := range cfg.Blacklist {
		r.blacklist[b] = struct{}{}
	}

	return r
}

// IsSponsored evaluates the blacklist, the onboarding allow-list, the count
// budget and the cost budget in that order. A counted attempt stays counted
// when the cost check rejects it.
func (r *SponsorshipRules) IsSponsored(ctx context.Context, tx *solana.Transaction, client string) (bool, error) {
	if _, ok := r.blacklist[client]; ok {
		r.logger.Warn("blacklisted client", "publicKey", client)
		return false, nil
	}

	if r.isOnboarding(tx) {
		return true, nil
	}

	count, err := r.store.Incr(ctx, countPrefix+client, r.cfg.BudgetWindow)
	if err != nil {
		return false, fmt.Errorf("failed to count transaction: %w", err)
	}
	if count > r.cfg.MaxTransactions {
		r.logger.Info("transaction count budget exhausted", "publicKey", client, "count", count, "max", r.cfg.MaxTransactions)
		return false, nil
	}

	lamports := r.estimateFee(ctx, tx)
	costSOL, _ := LamportsToSOL(lamports).Float64()

	total, err := r.store.IncrByFloat(ctx, costPrefix+client, costSOL, r.cfg.BudgetWindow)
	if err != nil {
		return false, fmt.Errorf("failed to add transaction cost: %w", err)
	}
	if decimal.NewFromFloat(total).GreaterThan(r.cfg.MaxCostSOL) {
		r.logger.Info("transaction cost budget exhausted", "publicKey", client, "costSol", total, "max", r.cfg.MaxCostSOL.String())
		return false, nil
	}

	return true, nil
}

// Usage reads the counters of client without changing them
func (r *SponsorshipRules) Usage(ctx context.Context, client string) (*core.ClientUsage, error) {
	usage := &core.ClientUsage{PublicKey: client}

	count, err := r.store.Get(ctx, countPrefix+client)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to read transaction count: %w", err)
	default:
		if usage.Transactions, err = strconv.ParseInt(count, 10, 64); err != nil {
			return nil, fmt.Errorf("malformed transaction count: %w", err)
		}
	}

	cost, err := r.store.Get(ctx, costPrefix+client)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to read transaction cost: %w", err)
	default:
		if usage.CostSOL, err = strconv.ParseFloat(cost, 64); err != nil {
			return nil, fmt.Errorf("malformed transaction cost: %w", err)
		}
	}

	return usage, nil
}

// Limits returns the configured budgets
func (r *SponsorshipRules) Limits() (int64, decimal.Decimal) {
	return r.cfg.MaxTransactions, r.cfg.MaxCostSOL
}

func (r *SponsorshipRules) isOnboarding(tx *solana.Transaction) bool {
	keys := tx.Message.AccountKeys
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			continue
		}
		if _, ok := r.allowed[keys[ix.ProgramIDIndex]]; ok {
			return true
		}
	}
	return false
}

// estimateFee asks the ledger for the exact fee and falls back to one
// signature per existing slot plus the relay's own.
func (r *SponsorshipRules) estimateFee(ctx context.Context, tx *solana.Transaction) uint64 {
	fee, err := r.ledger.GetFeeForMessage(ctx, &tx.Message)
	if err == nil {
		return fee
	}

	signatures := uint64(1)
	if len(tx.Signatures) > 0 {
		signatures += uint64(len(tx.Signatures))
	} else {
		signatures++
	}

	r.logger.Warn("failed to get exact fee, using estimate", "err", err, "signatures", signatures)
	return signatures * lamportsPerSignature
}

// LamportsToSOL converts lamports to SOL without rounding
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(lamports)).Shift(-9)
}
