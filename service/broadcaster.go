package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

// errConfirmed stops the rebroadcast loop once the watcher has an answer.
var errConfirmed = errors.New("confirmed")

// Broadcaster lands signed transactions by resending the same bytes until
// they confirm or their blockhash expires
type Broadcaster struct {
	ledger   ports.Ledger
	interval time.Duration
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster that resends every interval
func NewBroadcaster(ledger ports.Ledger, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		ledger:   ledger,
		interval: interval,
		logger:   slog.Default().With("component", "broadcaster"),
	}
}

// SendAndConfirm submits raw once, then races a confirmation watcher against
// a rebroadcast loop bounded by expiry.LastValidBlockHeight. Both goroutines
// have returned by the time SendAndConfirm does.
func (b *Broadcaster) SendAndConfirm(ctx context.Context, raw []byte, expiry core.BlockhashWithExpiry) (solana.Signature, error) {
	sig, err := b.ledger.SendRawTransaction(ctx, raw)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("initial send failed: %w", err)
	}

	logger := b.logger.With("txid", sig.String(), "lastValidBlockHeight", expiry.LastValidBlockHeight)
	logger.Info("initial transaction sent")

	g, gctx := errgroup.WithContext(ctx)

	var confirmation *core.Confirmation
	g.Go(func() error {
		c, err := b.ledger.ConfirmTransaction(gctx, sig)
		if err != nil {
			return err
		}
		confirmation = c
		return errConfirmed
	})

	g.Go(func() error {
		return b.rebroadcast(gctx, logger, raw, expiry.LastValidBlockHeight)
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errConfirmed):
		if confirmation.Failed() {
			logger.Warn("transaction failed on chain", "err", string(confirmation.Err))
			return sig, fmt.Errorf("%w: %s: %s", core.ErrTransactionFailed, sig, confirmation.Err)
		}
		logger.Info("transaction confirmed", "slot", confirmation.Slot)
		return sig, nil
	case errors.Is(err, core.ErrExpired):
		return sig, fmt.Errorf("%w: %s", core.ErrExpired, sig)
	default:
		return sig, err
	}
}

func (b *Broadcaster) rebroadcast(ctx context.Context, logger *slog.Logger, raw []byte, lastValid uint64) error {
	t := time.NewTicker(b.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		height, err := b.ledger.GetBlockHeight(ctx)
		if err != nil {
			logger.Warn("failed to read block height", "err", err)
			continue
		}

		if height > lastValid {
			logger.Warn("blockhash expired", "blockHeight", height)
			return core.ErrExpired
		}

		if _, err := b.ledger.SendRawTransaction(ctx, raw); err != nil {
			logger.Error("error during re-broadcast", "err", err)
			continue
		}

		rebroadcasts.Inc()
		logger.Debug("re-broadcasted transaction")
	}
}
