package ports

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/layer-3/paymaster/core"
)

// Ledger is the subset of the Solana RPC surface the relay depends on.
type Ledger interface {
	// SendRawTransaction submits wire bytes with preflight skipped and
	// node-side retries disabled.
	SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error)

	// ConfirmTransaction blocks until sig reaches "confirmed" commitment or
	// ctx is done. Transient polling errors are absorbed.
	ConfirmTransaction(ctx context.Context, sig solana.Signature) (*core.Confirmation, error)

	GetBlockHeight(ctx context.Context) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (*core.BlockhashWithExpiry, error)
	GetRecentPrioritizationFees(ctx context.Context) ([]core.FeeSample, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*core.SimulationResult, error)

	// GetFeeForMessage returns the exact fee in lamports for a compiled message
	GetFeeForMessage(ctx context.Context, message *solana.Message) (uint64, error)

	// GetBalance returns the balance in lamports
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}
