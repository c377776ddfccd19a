// Package ledgertest provides a scriptable in-memory ports.Ledger.
package ledgertest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/layer-3/paymaster/core"
)

// Fake is a ports.Ledger whose answers are set by the test. Fields must be
// set before the fake is shared; counters are safe to read concurrently.
type Fake struct {
	// BlockHeight is returned by GetBlockHeight and advances by HeightStep
	// after every call.
	BlockHeight uint64
	HeightStep  uint64

	Blockhash core.BlockhashWithExpiry

	Fees    []core.FeeSample
	FeesErr error

	Simulation  *core.SimulationResult
	SimulateErr error

	FeeForMessage    uint64
	FeeForMessageErr error

	Balances   map[solana.PublicKey]uint64
	BalanceErr error

	// SendErr fails every send; SendErrs fails the first len(SendErrs)
	// sends in order, nil entries succeed.
	SendErr  error
	SendErrs []error

	// ConfirmAfterSends delivers a confirmation once that many sends have
	// happened. Zero never confirms.
	ConfirmAfterSends int
	ConfirmErr        json.RawMessage

	mu         sync.Mutex
	sent       [][]byte
	heightRead int
}

// Sent returns a copy of every payload handed to SendRawTransaction.
func (f *Fake) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *Fake) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, append([]byte(nil), raw...))
	n := len(f.sent)

	if f.SendErr != nil {
		return solana.Signature{}, f.SendErr
	}
	if n <= len(f.SendErrs) && f.SendErrs[n-1] != nil {
		return solana.Signature{}, f.SendErrs[n-1]
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil || len(tx.Signatures) == 0 {
		return solana.Signature{}, errors.New("fake ledger: undecodable transaction")
	}

	return tx.Signatures[0], nil
}

func (f *Fake) ConfirmTransaction(ctx context.Context, sig solana.Signature) (*core.Confirmation, error) {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()

	for {
		f.mu.Lock()
		ready := f.ConfirmAfterSends > 0 && len(f.sent) >= f.ConfirmAfterSends
		f.mu.Unlock()

		if ready {
			return &core.Confirmation{Signature: sig, Slot: f.BlockHeight, Err: f.ConfirmErr}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (f *Fake) GetBlockHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	height := f.BlockHeight + uint64(f.heightRead)*f.HeightStep
	f.heightRead++
	return height, nil
}

func (f *Fake) GetLatestBlockhash(ctx context.Context) (*core.BlockhashWithExpiry, error) {
	bh := f.Blockhash
	return &bh, nil
}

func (f *Fake) GetRecentPrioritizationFees(ctx context.Context) ([]core.FeeSample, error) {
	if f.FeesErr != nil {
		return nil, f.FeesErr
	}
	return append([]core.FeeSample(nil), f.Fees...), nil
}

func (f *Fake) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*core.SimulationResult, error) {
	if f.SimulateErr != nil {
		return nil, f.SimulateErr
	}
	if f.Simulation == nil {
		return &core.SimulationResult{}, nil
	}
	return f.Simulation, nil
}

func (f *Fake) GetFeeForMessage(ctx context.Context, message *solana.Message) (uint64, error) {
	if f.FeeForMessageErr != nil {
		return 0, f.FeeForMessageErr
	}
	return f.FeeForMessage, nil
}

func (f *Fake) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if f.BalanceErr != nil {
		return 0, f.BalanceErr
	}
	return f.Balances[account], nil
}
