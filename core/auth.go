package core

import "time"

// Challenge is a single-use nonce handed to a client for signing
type Challenge struct {
	Nonce            string    // Hex-encoded random bytes
	RelayerPublicKey string    // Primary relay identity advertised to the client
	IssuedAt         time.Time // When the nonce was stored
	ExpiresAt        time.Time // When the store drops the nonce
}

// Credential binds a verified client public key for a short time
type Credential struct {
	ID        string    // Unique token identifier
	PublicKey string    // Base58 public key of the client
	IssuedAt  time.Time // When the credential was issued
	ExpiresAt time.Time // When the credential stops being accepted
}

// ClientUsage is the sponsorship budget consumed by one client
type ClientUsage struct {
	PublicKey    string
	Transactions int64
	CostSOL      float64
}
