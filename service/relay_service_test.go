package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/paymaster/adapters/ledger/ledgertest"
	"github.com/layer-3/paymaster/adapters/store"
	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

type recordingPublisher struct {
	mu      sync.Mutex
	relayed []ports.RelayEvent
	failed  []ports.RelayEvent
}

func (p *recordingPublisher) PublishRelayed(_ context.Context, e ports.RelayEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relayed = append(p.relayed, e)
	return nil
}

func (p *recordingPublisher) PublishRelayFailed(_ context.Context, e ports.RelayEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

type relayFixture struct {
	svc        *RelayService
	rules      *SponsorshipRules
	fake       *ledgertest.Fake
	events     *recordingPublisher
	primary    solana.PrivateKey
	secondary  solana.PrivateKey
	identities *IdentitySet
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()

	f := &relayFixture{
		fake: &ledgertest.Fake{
			BlockHeight:       10,
			Blockhash:         core.BlockhashWithExpiry{Blockhash: solana.Hash{7}, LastValidBlockHeight: 1000},
			FeeForMessage:     10000,
			ConfirmAfterSends: 1,
		},
		events:    &recordingPublisher{},
		primary:   newKey(t),
		secondary: newKey(t),
	}

	var err error
	f.identities, err = NewIdentitySet(f.primary, f.secondary)
	require.NoError(t, err)

	f.rules = NewSponsorshipRules(store.NewMemoryStore(t.Context()), f.fake, DefaultSponsorshipConfig())
	f.svc = NewRelayService(f.rules, f.identities, f.fake, NewBroadcaster(f.fake, 10*time.Millisecond), f.events)

	return f
}

func requireRelayError(t *testing.T, err error, reason string, kind error) *core.RelayError {
	t.Helper()

	var rerr *core.RelayError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, reason, rerr.Reason)
	assert.ErrorIs(t, err, kind)
	return rerr
}

func TestRelaySucceeds(t *testing.T) {
	f := newRelayFixture(t)
	client := newKey(t)

	tx := buildTx(t, f.primary.PublicKey(), client.PublicKey(), testProgram)
	clientSign(t, tx, client)
	clientSig := tx.Signatures[1]

	sig, err := f.svc.Relay(t.Context(), RelayRequest{
		Transaction:     encodeTx(t, tx),
		ClientPublicKey: client.PublicKey().String(),
	})
	require.NoError(t, err)
	assert.False(t, sig.IsZero())

	sent := f.fake.Sent()
	require.NotEmpty(t, sent)
	landed, err := DecodeTransaction(encodeRaw(sent[0]))
	require.NoError(t, err)
	assert.Equal(t, sig, landed.Signatures[0])
	assert.Equal(t, clientSig, landed.Signatures[1], "client signature kept")

	usage, err := f.rules.Usage(t.Context(), client.PublicKey().String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Transactions)

	require.Len(t, f.events.relayed, 1)
	assert.Equal(t, sig.String(), f.events.relayed[0].Signature)
}

func TestRelayRotatedIdentity(t *testing.T) {
	f := newRelayFixture(t)
	client := newKey(t)

	tx := buildTx(t, f.secondary.PublicKey(), client.PublicKey(), testProgram)
	clientSign(t, tx, client)

	_, err := f.svc.Relay(t.Context(), RelayRequest{
		Transaction:          encodeTx(t, tx),
		LastValidBlockHeight: 500,
		ClientPublicKey:      client.PublicKey().String(),
	})
	require.NoError(t, err)

	require.Len(t, f.events.relayed, 1)
	assert.Equal(t, f.secondary.PublicKey().String(), f.events.relayed[0].FeePayer)
}

func TestRelayRejections(t *testing.T) {
	for _, tt := range []struct {
		name   string
		setup  func(t *testing.T, f *relayFixture, client solana.PrivateKey) string
		reason string
		kind   error
	}{
		{
			name:   "missing transaction",
			setup:  func(*testing.T, *relayFixture, solana.PrivateKey) string { return "" },
			reason: core.ReasonMissingTransaction,
			kind:   core.ErrBadRequest,
		},
		{
			name:   "not base64",
			setup:  func(*testing.T, *relayFixture, solana.PrivateKey) string { return "%%%" },
			reason: core.ReasonMissingTransaction,
			kind:   core.ErrBadRequest,
		},
		{
			name:   "garbage bytes",
			setup:  func(*testing.T, *relayFixture, solana.PrivateKey) string { return encodeRaw([]byte{1, 2, 3}) },
			reason: core.ReasonMissingTransaction,
			kind:   core.ErrBadRequest,
		},
		{
			name: "unknown fee payer",
			setup: func(t *testing.T, f *relayFixture, client solana.PrivateKey) string {
				tx := buildTx(t, newKey(t).PublicKey(), client.PublicKey(), testProgram)
				clientSign(t, tx, client)
				return encodeTx(t, tx)
			},
			reason: core.ReasonInvalidFeePayer,
			kind:   core.ErrBadRequest,
		},
		{
			name: "client did not sign",
			setup: func(t *testing.T, f *relayFixture, client solana.PrivateKey) string {
				return encodeTx(t, buildTx(t, f.primary.PublicKey(), client.PublicKey(), testProgram))
			},
			reason: core.ReasonInvalidSignature,
			kind:   core.ErrBadRequest,
		},
		{
			name: "simulation unavailable",
			setup: func(t *testing.T, f *relayFixture, client solana.PrivateKey) string {
				f.fake.SimulateErr = errors.New("rpc unreachable")
				tx := buildTx(t, f.primary.PublicKey(), client.PublicKey(), testProgram)
				clientSign(t, tx, client)
				return encodeTx(t, tx)
			},
			reason: core.ReasonExecutionError,
			kind:   core.ErrInternal,
		},
		{
			name: "not sponsored",
			setup: func(t *testing.T, f *relayFixture, client solana.PrivateKey) string {
				for range 5 {
					_, err := f.rules.IsSponsored(t.Context(), buildTx(t, f.primary.PublicKey(), client.PublicKey(), testProgram), client.PublicKey().String())
					require.NoError(t, err)
				}
				tx := buildTx(t, f.primary.PublicKey(), client.PublicKey(), testProgram)
				clientSign(t, tx, client)
				return encodeTx(t, tx)
			},
			reason: core.ReasonNotSponsored,
			kind:   core.ErrForbidden,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newRelayFixture(t)
			client := newKey(t)

			_, err := f.svc.Relay(t.Context(), RelayRequest{
				Transaction:     tt.setup(t, f, client),
				ClientPublicKey: client.PublicKey().String(),
			})
			requireRelayError(t, err, tt.reason, tt.kind)

			assert.Empty(t, f.fake.Sent(), "nothing broadcast")
			require.Len(t, f.events.failed, 1)
			assert.Equal(t, tt.reason, f.events.failed[0].Reason)
		})
	}
}

func TestRelaySimulationFailure(t *testing.T) {
	f := newRelayFixture(t)
	f.fake.Simulation = &core.SimulationResult{
		Err:  json.RawMessage(`{"InstructionError":[0,"InvalidAccountData"]}`),
		Logs: []string{"Program log: boom"},
	}
	client := newKey(t)

	tx := buildTx(t, f.primary.PublicKey(), client.PublicKey(), testProgram)
	clientSign(t, tx, client)

	_, err := f.svc.Relay(t.Context(), RelayRequest{
		Transaction:     encodeTx(t, tx),
		ClientPublicKey: client.PublicKey().String(),
	})
	rerr := requireRelayError(t, err, core.ReasonSimulationFailed, core.ErrBadRequest)
	require.NotNil(t, rerr.Simulation)
	assert.Equal(t, []string{"Program log: boom"}, rerr.Simulation.Logs)
	assert.Empty(t, f.fake.Sent())
}

func TestRelayExpired(t *testing.T) {
	f := newRelayFixture(t)
	f.fake.ConfirmAfterSends = 0
	f.fake.BlockHeight = 2000
	client := newKey(t)

	tx := buildTx(t, f.primary.PublicKey(), client.PublicKey(), testProgram)
	clientSign(t, tx, client)

	_, err := f.svc.Relay(t.Context(), RelayRequest{
		Transaction:     encodeTx(t, tx),
		ClientPublicKey: client.PublicKey().String(),
	})
	requireRelayError(t, err, core.ReasonExecutionError, core.ErrExpired)
}

func TestRelayExpiryHeight(t *testing.T) {
	for _, tt := range []struct {
		name         string
		clientHeight uint64
		blockHeight  uint64
		heightStep   uint64
		maxSends     int
	}{
		{
			// The newest blockhash expires at 150 no matter what the client claims.
			name:         "client height past the newest expiry",
			clientHeight: math.MaxUint64,
			blockHeight:  10,
			heightStep:   50,
			maxSends:     5,
		},
		{
			name:         "client height shortens the window",
			clientHeight: 20,
			blockHeight:  100,
			maxSends:     1,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newRelayFixture(t)
			f.fake.ConfirmAfterSends = 0
			f.fake.BlockHeight = tt.blockHeight
			f.fake.HeightStep = tt.heightStep
			f.fake.Blockhash.LastValidBlockHeight = 150
			client := newKey(t)

			tx := buildTx(t, f.primary.PublicKey(), client.PublicKey(), testProgram)
			clientSign(t, tx, client)

			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()

			_, err := f.svc.Relay(ctx, RelayRequest{
				Transaction:          encodeTx(t, tx),
				LastValidBlockHeight: tt.clientHeight,
				ClientPublicKey:      client.PublicKey().String(),
			})
			requireRelayError(t, err, core.ReasonExecutionError, core.ErrExpired)
			assert.NoError(t, ctx.Err(), "stopped by block height, not by the deadline")
			assert.LessOrEqual(t, len(f.fake.Sent()), tt.maxSends)
		})
	}
}
