// Package ledger talks to a Solana JSON-RPC node.
package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

// Network names resolved by EndpointFor.
const (
	NetworkMainnet = "mainnet-beta"
	NetworkDevnet  = "devnet"
	NetworkTestnet = "testnet"
	NetworkLocal   = "localnet"
)

// EndpointFor returns the public RPC endpoint of a cluster name.
func EndpointFor(network string) (string, error) {
	switch network {
	case NetworkMainnet, "mainnet":
		return rpc.MainNetBeta_RPC, nil
	case NetworkDevnet, "":
		return rpc.DevNet_RPC, nil
	case NetworkTestnet:
		return rpc.TestNet_RPC, nil
	case NetworkLocal:
		return rpc.LocalNet_RPC, nil
	default:
		return "", fmt.Errorf("unknown solana network %q", network)
	}
}

// RPCLedger implements ports.Ledger on top of solana-go's RPC client
type RPCLedger struct {
	client       *rpc.Client
	pollInterval time.Duration
}

// NewRPCLedger creates a ledger for the node at endpoint
func NewRPCLedger(endpoint string) ports.Ledger {
	return &RPCLedger{
		client:       rpc.New(endpoint),
		pollInterval: 500 * time.Millisecond,
	}
}

func (l *RPCLedger) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	var sig solana.Signature

	err := l.client.RPCCallForInto(ctx, &sig, "sendTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		map[string]interface{}{
			"encoding":      "base64",
			"skipPreflight": true,
			"maxRetries":    0,
		},
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction: %w", err)
	}

	if sig.IsZero() {
		return solana.Signature{}, fmt.Errorf("sendTransaction returned an empty signature")
	}

	return sig, nil
}

func (l *RPCLedger) ConfirmTransaction(ctx context.Context, sig solana.Signature) (*core.Confirmation, error) {
	t := time.NewTicker(l.pollInterval)
	defer t.Stop()

	for {
		confirmation, err := l.signatureStatus(ctx, sig)
		if err != nil {
			slog.Debug("signature status poll failed", "txid", sig.String(), "err", err)
		} else if confirmation != nil {
			return confirmation, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// signatureStatus returns nil until sig has reached confirmed commitment.
func (l *RPCLedger) signatureStatus(ctx context.Context, sig solana.Signature) (*core.Confirmation, error) {
	out, err := l.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return nil, err
	}

	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}

	status := out.Value[0]
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
	default:
		return nil, nil
	}

	confirmation := &core.Confirmation{
		Signature: sig,
		Slot:      status.Slot,
	}

	if status.Err != nil {
		raw, err := json.Marshal(status.Err)
		if err != nil {
			raw = json.RawMessage(fmt.Sprintf("%q", fmt.Sprint(status.Err)))
		}
		confirmation.Err = raw
	}

	return confirmation, nil
}

func (l *RPCLedger) GetBlockHeight(ctx context.Context) (uint64, error) {
	height, err := l.client.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getBlockHeight: %w", err)
	}

	return height, nil
}

func (l *RPCLedger) GetLatestBlockhash(ctx context.Context) (*core.BlockhashWithExpiry, error) {
	out, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("getLatestBlockhash: %w", err)
	}

	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("getLatestBlockhash: empty response")
	}

	return &core.BlockhashWithExpiry{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

type prioritizationFee struct {
	Slot              uint64 `json:"slot"`
	PrioritizationFee uint64 `json:"prioritizationFee"`
}

func (l *RPCLedger) GetRecentPrioritizationFees(ctx context.Context) ([]core.FeeSample, error) {
	var out []prioritizationFee

	if err := l.client.RPCCallForInto(ctx, &out, "getRecentPrioritizationFees", []interface{}{}); err != nil {
		return nil, fmt.Errorf("getRecentPrioritizationFees: %w", err)
	}

	samples := make([]core.FeeSample, 0, len(out))
	for _, f := range out {
		samples = append(samples, core.FeeSample{Slot: f.Slot, Fee: f.PrioritizationFee})
	}

	return samples, nil
}

type simulateResponse struct {
	Value struct {
		Err  json.RawMessage `json:"err"`
		Logs []string        `json:"logs"`
	} `json:"value"`
}

func (l *RPCLedger) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*core.SimulationResult, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	var out simulateResponse
	err = l.client.RPCCallForInto(ctx, &out, "simulateTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": "confirmed",
			"sigVerify":  false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("simulateTransaction: %w", err)
	}

	result := &core.SimulationResult{Logs: out.Value.Logs}
	if string(out.Value.Err) != "null" {
		result.Err = out.Value.Err
	}

	return result, nil
}

type feeForMessageResponse struct {
	Value *uint64 `json:"value"`
}

func (l *RPCLedger) GetFeeForMessage(ctx context.Context, message *solana.Message) (uint64, error) {
	raw, err := message.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("serialize message: %w", err)
	}

	var out feeForMessageResponse
	err = l.client.RPCCallForInto(ctx, &out, "getFeeForMessage", []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		map[string]interface{}{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, fmt.Errorf("getFeeForMessage: %w", err)
	}

	if out.Value == nil {
		return 0, fmt.Errorf("getFeeForMessage: blockhash not found")
	}

	return *out.Value, nil
}

func (l *RPCLedger) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := l.client.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getBalance: %w", err)
	}

	return out.Value, nil
}
