package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newNode answers JSON-RPC calls from results, keyed by method.
func newNode(t *testing.T, results map[string]any) (*RPCLedger, *[]rpcRequest) {
	t.Helper()

	var seen []rpcRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)

		result, ok := results[req.Method]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(srv.Close)

	return NewRPCLedger(srv.URL).(*RPCLedger), &seen
}

func TestGetRecentPrioritizationFees(t *testing.T) {
	l, _ := newNode(t, map[string]any{
		"getRecentPrioritizationFees": []map[string]any{
			{"slot": 10, "prioritizationFee": 0},
			{"slot": 11, "prioritizationFee": 2500},
		},
	})

	samples, err := l.GetRecentPrioritizationFees(t.Context())
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, uint64(11), samples[1].Slot)
	assert.Equal(t, uint64(2500), samples[1].Fee)
}

func TestGetFeeForMessageUnknownBlockhash(t *testing.T) {
	l, _ := newNode(t, map[string]any{
		"getFeeForMessage": map[string]any{"context": map[string]any{"slot": 1}, "value": nil},
	})

	_, err := l.GetFeeForMessage(t.Context(), &solana.Message{})
	assert.Error(t, err)
}

func TestSendRawTransactionSkipsPreflight(t *testing.T) {
	sig := solana.Signature{1, 2, 3}
	l, seen := newNode(t, map[string]any{
		"sendTransaction": sig.String(),
	})

	got, err := l.SendRawTransaction(t.Context(), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, sig, got)

	require.Len(t, *seen, 1)
	var opts map[string]any
	require.NoError(t, json.Unmarshal((*seen)[0].Params[1], &opts))
	assert.Equal(t, true, opts["skipPreflight"])
	assert.Equal(t, float64(0), opts["maxRetries"])
	assert.Equal(t, "base64", opts["encoding"])
}

func TestSimulateTransactionError(t *testing.T) {
	l, _ := newNode(t, map[string]any{
		"simulateTransaction": map[string]any{
			"context": map[string]any{"slot": 1},
			"value": map[string]any{
				"err":  map[string]any{"InstructionError": []any{0, "Custom"}},
				"logs": []string{"Program log: boom"},
			},
		},
	})

	res, err := l.SimulateTransaction(t.Context(), &solana.Transaction{})
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, []string{"Program log: boom"}, res.Logs)
}

func TestEndpointFor(t *testing.T) {
	url, err := EndpointFor("devnet")
	require.NoError(t, err)
	assert.Contains(t, url, "devnet")

	_, err = EndpointFor("moon")
	assert.Error(t, err)
}
