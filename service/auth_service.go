package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

const (
	noncePrefix = "nonce:"
	nonceBytes  = 16
)

// AuthService issues nonce challenges and exchanges signed nonces for
// credentials
type AuthService struct {
	tokenizer  ports.Tokenizer
	store      ports.Store
	identities *IdentitySet
	logger     *slog.Logger

	nonceTTL      time.Duration
	credentialTTL time.Duration
	now           func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	store ports.Store,
	identities *IdentitySet,
) *AuthService {
	return &AuthService{
		tokenizer:     tokenizer,
		store:         store,
		identities:    identities,
		logger:        slog.Default().With("component", "auth"),
		nonceTTL:      5 * time.Minute,
		credentialTTL: 15 * time.Minute,
		now:           time.Now,
	}
}

// IssueChallenge stores a fresh single-use nonce and returns it with the
// primary relay public key
func (s *AuthService) IssueChallenge(ctx context.Context) (*core.Challenge, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.now()
	challenge := &core.Challenge{
		Nonce:            hex.EncodeToString(buf),
		RelayerPublicKey: s.identities.Primary().PublicKey().String(),
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.nonceTTL),
	}

	if err := s.store.Set(ctx, noncePrefix+challenge.Nonce, "1", s.nonceTTL); err != nil {
		return nil, fmt.Errorf("%w: failed to store nonce: %w", core.ErrStoreUnavailable, err)
	}

	challengesIssued.Inc()
	s.logger.Debug("challenge issued", "nonce", challenge.Nonce)

	return challenge, nil
}

// VerifyAndIssue burns the nonce, checks the client's signature over it and
// returns a signed credential. A nonce is burned even when the signature
// turns out to be wrong.
func (s *AuthService) VerifyAndIssue(ctx context.Context, nonce, publicKey, signature string) (string, *core.Credential, error) {
	consumed, err := s.store.Consume(ctx, noncePrefix+nonce)
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to consume nonce: %w", core.ErrStoreUnavailable, err)
	}
	if !consumed {
		s.logger.Warn("invalid or expired nonce", "nonce", nonce)
		return "", nil, core.ErrInvalidOrExpiredNonce
	}

	pub, err := solana.PublicKeyFromBase58(publicKey)
	if err != nil {
		s.logger.Warn("malformed public key", "publicKey", publicKey, "err", err)
		return "", nil, core.ErrInvalidSignature
	}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		s.logger.Warn("malformed signature", "publicKey", publicKey, "err", err)
		return "", nil, core.ErrInvalidSignature
	}

	if !VerifySignature([]byte(nonce), sig[:], pub[:]) {
		s.logger.Warn("invalid signature for nonce", "nonce", nonce, "publicKey", publicKey)
		return "", nil, core.ErrInvalidSignature
	}

	now := s.now()
	credential := &core.Credential{
		ID:        uuid.New().String(),
		PublicKey: pub.String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.credentialTTL),
	}

	token, err := s.tokenizer.CredentialToToken(credential)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create token: %w", err)
	}

	credentialsIssued.Inc()
	s.logger.Info("verification successful, credential issued", "publicKey", credential.PublicKey)

	return token, credential, nil
}

// ValidateCredential parses a bearer token into the credential it carries
func (s *AuthService) ValidateCredential(ctx context.Context, token string) (*core.Credential, error) {
	credential, err := s.tokenizer.TokenToCredential(token)
	if err != nil {
		return nil, fmt.Errorf("invalid credential: %w", err)
	}

	if s.now().After(credential.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	return credential, nil
}
