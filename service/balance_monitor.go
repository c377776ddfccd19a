package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/layer-3/paymaster/ports"
)

// BalanceMonitor reports the fee payer balance and warns when it runs low
type BalanceMonitor struct {
	ledger    ports.Ledger
	account   solana.PublicKey
	interval  time.Duration
	threshold decimal.Decimal
	logger    *slog.Logger
}

// NewBalanceMonitor creates a monitor for account
func NewBalanceMonitor(ledger ports.Ledger, account solana.PublicKey, interval time.Duration, thresholdSOL decimal.Decimal) *BalanceMonitor {
	return &BalanceMonitor{
		ledger:    ledger,
		account:   account,
		interval:  interval,
		threshold: thresholdSOL,
		logger:    slog.Default().With("component", "balance", "publicKey", account.String()),
	}
}

// Run checks the balance immediately and then every interval until ctx is done
func (m *BalanceMonitor) Run(ctx context.Context) {
	m.logger.Info("starting balance monitor", "interval", m.interval.String())

	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		if _, err := m.Check(ctx); err != nil {
			m.logger.Error("failed to check balance", "err", err)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("balance monitor stopped")
			return
		case <-t.C:
		}
	}
}

// Check reads the balance once and updates the gauge
func (m *BalanceMonitor) Check(ctx context.Context) (decimal.Decimal, error) {
	lamports, err := m.ledger.GetBalance(ctx, m.account)
	if err != nil {
		return decimal.Zero, err
	}

	balance := LamportsToSOL(lamports)
	walletBalance.WithLabelValues(m.account.String()).Set(balance.InexactFloat64())

	if balance.LessThan(m.threshold) {
		m.logger.Warn("low balance", "balanceSol", balance.String(), "thresholdSol", m.threshold.String())
	} else {
		m.logger.Debug("balance checked", "balanceSol", balance.String())
	}

	return balance, nil
}
