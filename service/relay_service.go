package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

// RelayRequest is one client submission
type RelayRequest struct {
	// Transaction is the base64 wire encoding, fee payer set to a relay
	// identity and client signatures already applied
	Transaction string

	// LastValidBlockHeight is the client's expiry for the transaction's
	// blockhash. Zero, or anything past the newest blockhash's expiry, means
	// the newest blockhash's expiry is used.
	LastValidBlockHeight uint64

	// ClientPublicKey comes from the verified credential
	ClientPublicKey string
}

// RelayService co-signs sponsored transactions and drives them to confirmation
type RelayService struct {
	rules       *SponsorshipRules
	identities  *IdentitySet
	ledger      ports.Ledger
	broadcaster *Broadcaster
	eventPub    ports.EventPublisher
	logger      *slog.Logger
}

// NewRelayService creates a new relay service
func NewRelayService(
	rules *SponsorshipRules,
	identities *IdentitySet,
	ledger ports.Ledger,
	broadcaster *Broadcaster,
	eventPub ports.EventPublisher,
) *RelayService {
	return &RelayService{
		rules:       rules,
		identities:  identities,
		ledger:      ledger,
		broadcaster: broadcaster,
		eventPub:    eventPub,
		logger:      slog.Default().With("component", "relay"),
	}
}

// Relay runs one request through decode, sponsorship, co-signing,
// verification, simulation and broadcast. Every failure comes back as a
// *core.RelayError.
func (s *RelayService) Relay(ctx context.Context, req RelayRequest) (solana.Signature, error) {
	logger := s.logger.With("publicKey", req.ClientPublicKey)

	feePayer, sig, err := s.relay(ctx, logger, req)
	if err != nil {
		var rerr *core.RelayError
		if !errors.As(err, &rerr) {
			rerr = &core.RelayError{Reason: core.ReasonExecutionError, Err: core.ErrInternal, Cause: err}
		}

		if errors.Is(rerr.Err, core.ErrInternal) || errors.Is(rerr.Err, core.ErrExpired) {
			logger.Error("error relaying transaction", "reason", rerr.Reason, "err", rerr)
		} else {
			logger.Warn("relay rejected", "reason", rerr.Reason, "err", rerr)
		}

		relayFailures.WithLabelValues(rerr.Reason).Inc()
		s.publish(ctx, logger, s.eventPub.PublishRelayFailed, ports.RelayEvent{
			ClientPublicKey: req.ClientPublicKey,
			FeePayer:        feePayer,
			Signature:       signatureString(sig),
			Reason:          rerr.Reason,
		})

		return solana.Signature{}, rerr
	}

	logger.Info("transaction relayed successfully", "txid", sig.String())
	relaySuccess.Inc()
	s.publish(ctx, logger, s.eventPub.PublishRelayed, ports.RelayEvent{
		ClientPublicKey: req.ClientPublicKey,
		FeePayer:        feePayer,
		Signature:       sig.String(),
	})

	return sig, nil
}

func (s *RelayService) relay(ctx context.Context, logger *slog.Logger, req RelayRequest) (string, solana.Signature, error) {
	if req.Transaction == "" {
		return "", solana.Signature{}, fail(core.ReasonMissingTransaction, core.ErrBadRequest, nil)
	}

	tx, err := DecodeTransaction(req.Transaction)
	if err != nil {
		return "", solana.Signature{}, fail(core.ReasonMissingTransaction, core.ErrBadRequest, err)
	}

	logger.Debug("checking rules")
	sponsored, err := s.rules.IsSponsored(ctx, tx, req.ClientPublicKey)
	if err != nil {
		return "", solana.Signature{}, fail(core.ReasonExecutionError, core.ErrInternal, err)
	}
	if !sponsored {
		return "", solana.Signature{}, fail(core.ReasonNotSponsored, core.ErrForbidden, nil)
	}

	feePayer := tx.Message.AccountKeys[0]
	identity, ok := s.identities.Find(feePayer)
	if !ok {
		return feePayer.String(), solana.Signature{}, fail(core.ReasonInvalidFeePayer, core.ErrBadRequest,
			fmt.Errorf("fee payer %s is not a relay identity", feePayer))
	}

	logger.Debug("signing transaction", "feePayer", feePayer.String())
	message, err := partialSign(tx, identity)
	if err != nil {
		return feePayer.String(), solana.Signature{}, fail(core.ReasonSigningFailed, core.ErrBadRequest, err)
	}

	if err := verifySignatures(tx, message); err != nil {
		return feePayer.String(), solana.Signature{}, fail(core.ReasonInvalidSignature, core.ErrBadRequest, err)
	}

	logger.Debug("simulating transaction")
	sim, err := s.ledger.SimulateTransaction(ctx, tx)
	if err != nil {
		return feePayer.String(), solana.Signature{}, fail(core.ReasonExecutionError, core.ErrInternal, err)
	}
	if sim.Failed() {
		rerr := fail(core.ReasonSimulationFailed, core.ErrBadRequest, fmt.Errorf("simulation error: %s", sim.Err))
		rerr.Simulation = sim
		return feePayer.String(), solana.Signature{}, rerr
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return feePayer.String(), solana.Signature{}, fail(core.ReasonSerializationFailed, core.ErrBadRequest, err)
	}

	// No blockhash outlives the newest one, so the client's height may only
	// shorten the rebroadcast window.
	latest, err := s.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return feePayer.String(), solana.Signature{}, fail(core.ReasonExecutionError, core.ErrInternal, err)
	}
	expiry := core.BlockhashWithExpiry{
		Blockhash:            tx.Message.RecentBlockhash,
		LastValidBlockHeight: latest.LastValidBlockHeight,
	}
	if req.LastValidBlockHeight > 0 {
		expiry.LastValidBlockHeight = min(req.LastValidBlockHeight, latest.LastValidBlockHeight)
	}

	logger.Debug("sending transaction", "lastValidBlockHeight", expiry.LastValidBlockHeight)
	sig, err := s.broadcaster.SendAndConfirm(ctx, raw, expiry)
	if err != nil {
		kind := core.ErrInternal
		if errors.Is(err, core.ErrExpired) {
			kind = core.ErrExpired
		}
		return feePayer.String(), sig, fail(core.ReasonExecutionError, kind, err)
	}

	return feePayer.String(), sig, nil
}

func (s *RelayService) publish(ctx context.Context, logger *slog.Logger, fn func(context.Context, ports.RelayEvent) error, event ports.RelayEvent) {
	if err := fn(ctx, event); err != nil {
		logger.Warn("failed to publish relay event", "err", err)
	}
}

// DecodeTransaction parses a base64 wire transaction
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transaction is not base64: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}

	if len(tx.Message.AccountKeys) == 0 {
		return nil, errors.New("transaction has no account keys")
	}

	return tx, nil
}

// partialSign adds identity's signature in the fee payer slot and leaves the
// client signatures in place. It returns the signed message bytes.
func partialSign(tx *solana.Transaction, identity solana.PrivateKey) ([]byte, error) {
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if required == 0 {
		return nil, errors.New("transaction requires no signatures")
	}
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}

	sig, err := identity.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	tx.Signatures[0] = sig

	return message, nil
}

func verifySignatures(tx *solana.Transaction, message []byte) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != required {
		return fmt.Errorf("transaction carries %d signatures, want %d", len(tx.Signatures), required)
	}
	if len(tx.Message.AccountKeys) < required {
		return fmt.Errorf("transaction lists %d signers but %d account keys", required, len(tx.Message.AccountKeys))
	}

	for i := 0; i < required; i++ {
		signer := tx.Message.AccountKeys[i]
		if !VerifySignature(message, tx.Signatures[i][:], signer[:]) {
			return fmt.Errorf("missing or invalid signature for %s", signer)
		}
	}

	return nil
}

func fail(reason string, kind, cause error) *core.RelayError {
	return &core.RelayError{Reason: reason, Err: kind, Cause: cause}
}

func signatureString(sig solana.Signature) string {
	if sig.IsZero() {
		return ""
	}
	return sig.String()
}
