package tokenizer

import "github.com/golang-jwt/jwt/v5"

// CredentialClaims combines standard claims with the client's public key
type CredentialClaims struct {
	jwt.RegisteredClaims
	PublicKey string `json:"publicKey"`
}
