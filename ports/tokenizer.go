package ports

import "github.com/layer-3/paymaster/core"

// Tokenizer converts between credentials and signed tokens
type Tokenizer interface {
	CredentialToToken(credential *core.Credential) (string, error)
	TokenToCredential(token string) (*core.Credential, error)
}
