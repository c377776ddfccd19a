package core

import (
	"encoding/json"

	"github.com/gagliardetto/solana-go"
)

// FeeSample is one entry of the recent prioritization fee market.
type FeeSample struct {
	Slot uint64
	Fee  uint64
}

// BlockhashWithExpiry pairs a blockhash with the last block height at which a
// transaction referencing it can still be included.
type BlockhashWithExpiry struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// SimulationResult holds the diagnostics of a dry run. Err is nil when the
// transaction executed cleanly.
type SimulationResult struct {
	Err  json.RawMessage `json:"err,omitempty"`
	Logs []string        `json:"logs,omitempty"`
}

// Failed reports whether the simulation produced an execution error.
func (r *SimulationResult) Failed() bool {
	return r != nil && len(r.Err) > 0 && string(r.Err) != "null"
}

// Confirmation is the outcome of waiting for a signature.
type Confirmation struct {
	Signature solana.Signature
	Slot      uint64
	Err       json.RawMessage
}

// Failed reports whether the confirmed transaction carried an execution error.
func (c *Confirmation) Failed() bool {
	return c != nil && len(c.Err) > 0 && string(c.Err) != "null"
}
