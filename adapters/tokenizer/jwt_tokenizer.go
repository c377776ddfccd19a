package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

const AudienceCredential = "paymaster:credential"

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewJWTTokenizer creates a tokenizer signing ES256 credentials
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{
		method:    jwt.SigningMethodES256,
		signKey:   signKey,
		verifyKey: &signKey.PublicKey,
	}
}

// NewHMACTokenizer creates a tokenizer signing HS256 credentials with a shared secret
func NewHMACTokenizer(secret []byte) ports.Tokenizer {
	return &JWTTokenizer{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
	}
}

// CredentialToToken converts a Credential to a signed JWT
func (j *JWTTokenizer) CredentialToToken(credential *core.Credential) (string, error) {
	claims := CredentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   credential.PublicKey,
			ID:        credential.ID,
			ExpiresAt: jwt.NewNumericDate(credential.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(credential.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceCredential},
		},
		PublicKey: credential.PublicKey,
	}

	token := jwt.NewWithClaims(j.method, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToCredential verifies a JWT and converts it back to a Credential
func (j *JWTTokenizer) TokenToCredential(tokenStr string) (*core.Credential, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &CredentialClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != j.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.verifyKey, nil
	}, jwt.WithAudience(AudienceCredential), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", core.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*CredentialClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", core.ErrInvalidToken)
	}

	publicKey := claims.PublicKey
	if publicKey == "" {
		publicKey = claims.Subject
	}
	if publicKey == "" {
		return nil, fmt.Errorf("%w: missing public key", core.ErrInvalidToken)
	}

	credential := &core.Credential{
		ID:        claims.ID,
		PublicKey: publicKey,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		credential.IssuedAt = claims.IssuedAt.Time
	}

	return credential, nil
}
