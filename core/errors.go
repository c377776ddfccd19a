package core

import "errors"

var (
	ErrInvalidOrExpiredNonce = errors.New("invalid or expired nonce")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrInvalidToken          = errors.New("invalid token")
	ErrTokenExpired          = errors.New("token has expired")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("transaction not sponsored")
	ErrBadRequest            = errors.New("bad request")
	ErrInternal              = errors.New("internal error")
	ErrExpired               = errors.New("blockhash expired before confirmation")
	ErrTransactionFailed     = errors.New("transaction failed on chain")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrNotFound              = errors.New("key not found")
)

// Failure reasons recorded on the relay failure counter.
const (
	ReasonMissingTransaction  = "missing_transaction"
	ReasonNotSponsored        = "not_sponsored"
	ReasonInvalidFeePayer     = "invalid_fee_payer"
	ReasonSigningFailed       = "signing_failed"
	ReasonInvalidSignature    = "invalid_signature"
	ReasonSimulationFailed    = "simulation_failed"
	ReasonSerializationFailed = "serialization_failed"
	ReasonExecutionError      = "relay_execution_error"
)

// RelayError is returned by the relay engine. Err is one of the taxonomy
// sentinels above so callers can classify it with errors.Is.
type RelayError struct {
	Reason     string
	Err        error
	Cause      error
	Simulation *SimulationResult
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return e.Reason + ": " + e.Err.Error() + ": " + e.Cause.Error()
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *RelayError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}
