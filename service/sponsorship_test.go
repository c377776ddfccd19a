package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/paymaster/adapters/ledger/ledgertest"
	"github.com/layer-3/paymaster/adapters/store"
	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

type brokenStore struct{ ports.Store }

func (brokenStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, core.ErrStoreUnavailable
}

func newRules(t *testing.T, cfg SponsorshipConfig, fake *ledgertest.Fake) (*SponsorshipRules, ports.Store) {
	t.Helper()
	s := store.NewMemoryStore(t.Context())
	return NewSponsorshipRules(s, fake, cfg), s
}

func TestSponsorshipCountBudget(t *testing.T) {
	cfg := DefaultSponsorshipConfig()
	cfg.MaxTransactions = 3
	rules, _ := newRules(t, cfg, &ledgertest.Fake{FeeForMessage: 10000})

	client := newKey(t).PublicKey()
	tx := buildTx(t, newKey(t).PublicKey(), client, testProgram)

	for i := 1; i <= 3; i++ {
		ok, err := rules.IsSponsored(t.Context(), tx, client.String())
		require.NoError(t, err)
		assert.True(t, ok, "transaction %d", i)
	}

	ok, err := rules.IsSponsored(t.Context(), tx, client.String())
	require.NoError(t, err)
	assert.False(t, ok)

	usage, err := rules.Usage(t.Context(), client.String())
	require.NoError(t, err)
	assert.Equal(t, int64(4), usage.Transactions)
	assert.InDelta(t, 0.00003, usage.CostSOL, 1e-12)
}

func TestSponsorshipAllowListBypassesBudget(t *testing.T) {
	cfg := DefaultSponsorshipConfig()
	cfg.MaxTransactions = 0
	rules, s := newRules(t, cfg, &ledgertest.Fake{FeeForMessage: 10000})

	client := newKey(t).PublicKey()
	require.NoError(t, s.Set(t.Context(), countPrefix+client.String(), "42", 0))

	tx := buildTx(t, newKey(t).PublicKey(), client, MemoProgramV2)

	ok, err := rules.IsSponsored(t.Context(), tx, client.String())
	require.NoError(t, err)
	assert.True(t, ok)

	usage, err := rules.Usage(t.Context(), client.String())
	require.NoError(t, err)
	assert.Equal(t, int64(42), usage.Transactions)
	assert.Zero(t, usage.CostSOL)
}

func TestSponsorshipBlacklist(t *testing.T) {
	client := newKey(t).PublicKey()

	cfg := DefaultSponsorshipConfig()
	cfg.Blacklist = []string{client.String()}
	rules, _ := newRules(t, cfg, &ledgertest.Fake{FeeForMessage: 10000})

	// Even an allow-listed program is refused.
	for _, program := range []solana.PublicKey{MemoProgramV1, testProgram} {
		ok, err := rules.IsSponsored(t.Context(), buildTx(t, newKey(t).PublicKey(), client, program), client.String())
		require.NoError(t, err)
		assert.False(t, ok)
	}

	usage, err := rules.Usage(t.Context(), client.String())
	require.NoError(t, err)
	assert.Equal(t, core.ClientUsage{PublicKey: client.String()}, *usage)
}

func TestSponsorshipCostBudget(t *testing.T) {
	cfg := DefaultSponsorshipConfig()
	cfg.MaxTransactions = 100
	rules, _ := newRules(t, cfg, &ledgertest.Fake{FeeForMessage: 50000})

	client := newKey(t).PublicKey()
	tx := buildTx(t, newKey(t).PublicKey(), client, testProgram)

	for _, want := range []bool{true, true, false} {
		ok, err := rules.IsSponsored(t.Context(), tx, client.String())
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}
}

func TestSponsorshipFeeFallback(t *testing.T) {
	rules, _ := newRules(t, DefaultSponsorshipConfig(), &ledgertest.Fake{FeeForMessageErr: errors.New("blockhash not found")})

	client := newKey(t).PublicKey()
	tx := buildTx(t, newKey(t).PublicKey(), client, testProgram)
	require.Len(t, tx.Signatures, 2)

	ok, err := rules.IsSponsored(t.Context(), tx, client.String())
	require.NoError(t, err)
	assert.True(t, ok)

	usage, err := rules.Usage(t.Context(), client.String())
	require.NoError(t, err)
	assert.InDelta(t, 0.000015, usage.CostSOL, 1e-12)
}

func TestSponsorshipBudgetWindow(t *testing.T) {
	cfg := DefaultSponsorshipConfig()
	cfg.MaxTransactions = 1
	cfg.BudgetWindow = 100 * time.Millisecond
	rules, _ := newRules(t, cfg, &ledgertest.Fake{FeeForMessage: 5000})

	client := newKey(t).PublicKey()
	tx := buildTx(t, newKey(t).PublicKey(), client, testProgram)

	for _, want := range []bool{true, false} {
		ok, err := rules.IsSponsored(t.Context(), tx, client.String())
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}

	time.Sleep(150 * time.Millisecond)

	ok, err := rules.IsSponsored(t.Context(), tx, client.String())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSponsorshipStoreError(t *testing.T) {
	rules := NewSponsorshipRules(brokenStore{}, &ledgertest.Fake{}, DefaultSponsorshipConfig())

	client := newKey(t).PublicKey()
	_, err := rules.IsSponsored(t.Context(), buildTx(t, newKey(t).PublicKey(), client, testProgram), client.String())
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestLamportsToSOL(t *testing.T) {
	assert.True(t, decimal.RequireFromString("0.000005").Equal(LamportsToSOL(5000)))
	assert.True(t, decimal.NewFromInt(1).Equal(LamportsToSOL(1_000_000_000)))
}
