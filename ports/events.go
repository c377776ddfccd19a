package ports

import "context"

// RelayEvent describes the outcome of one relay request
type RelayEvent struct {
	ClientPublicKey string `json:"client_public_key"`
	FeePayer        string `json:"fee_payer,omitempty"`
	Signature       string `json:"signature,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// EventPublisher publishes relay events to other consumers
type EventPublisher interface {
	PublishRelayed(ctx context.Context, event RelayEvent) error
	PublishRelayFailed(ctx context.Context, event RelayEvent) error
}
