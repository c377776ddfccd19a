package service

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"
)

// IdentitySet is the ordered list of keys the relay signs as fee payer with.
// The first key is primary and advertised to clients; the rest stay valid so
// transactions addressed to a rotated-out key still relay.
type IdentitySet struct {
	keys []solana.PrivateKey
}

// NewIdentitySet builds an identity set. Duplicate keys are dropped.
func NewIdentitySet(keys ...solana.PrivateKey) (*IdentitySet, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one relay identity is required")
	}

	seen := make(map[solana.PublicKey]struct{}, len(keys))
	set := &IdentitySet{}
	for _, k := range keys {
		if len(k) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("relay identity has %d bytes, want %d", len(k), ed25519.PrivateKeySize)
		}

		pub := k.PublicKey()
		if _, ok := seen[pub]; ok {
			continue
		}
		seen[pub] = struct{}{}
		set.keys = append(set.keys, k)
	}

	return set, nil
}

// Primary returns the advertised identity
func (s *IdentitySet) Primary() solana.PrivateKey {
	return s.keys[0]
}

// Find returns the identity whose public key is pub
func (s *IdentitySet) Find(pub solana.PublicKey) (solana.PrivateKey, bool) {
	for _, k := range s.keys {
		if k.PublicKey().Equals(pub) {
			return k, true
		}
	}
	return nil, false
}

// PublicKeys lists every identity, primary first
func (s *IdentitySet) PublicKeys() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.PublicKey())
	}
	return out
}

// ParsePrivateKey decodes a relay secret. Hex (with or without 0x) holding a
// 64 byte keypair or a 32 byte seed is tried first, then base58.
func ParsePrivateKey(secret string) (solana.PrivateKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("empty private key")
	}

	hexSecret := secret
	if !strings.HasPrefix(hexSecret, "0x") && !strings.HasPrefix(hexSecret, "0X") {
		hexSecret = "0x" + hexSecret
	}

	if raw, err := hexutil.Decode(hexSecret); err == nil {
		switch len(raw) {
		case ed25519.PrivateKeySize:
			return solana.PrivateKey(raw), nil
		case ed25519.SeedSize:
			return solana.PrivateKey(ed25519.NewKeyFromSeed(raw)), nil
		}
	}

	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("private key is neither hex nor base58: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("base58 private key has %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}

	return key, nil
}
