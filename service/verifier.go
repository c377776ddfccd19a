package service

import "crypto/ed25519"

// VerifySignature checks a detached Ed25519 signature over message.
// Malformed keys or signatures report false.
func VerifySignature(message, signature, publicKey []byte) bool {
	if len(signature) != ed25519.SignatureSize || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}
