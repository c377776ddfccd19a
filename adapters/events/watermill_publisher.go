package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/paymaster/ports"
)

const (
	TopicRelayed     = "paymaster.relayed"
	TopicRelayFailed = "paymaster.relay_failed"
)

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
	}
}

// NewRedisStreamPublisher publishes relay events to Redis streams on client
func NewRedisStreamPublisher(client redis.UniversalClient, logger watermill.LoggerAdapter) (ports.EventPublisher, error) {
	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: client,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
	}

	return NewWatermillPublisher(publisher), nil
}

// PublishRelayed publishes a successful relay
func (p *WatermillPublisher) PublishRelayed(ctx context.Context, event ports.RelayEvent) error {
	return p.publish(ctx, TopicRelayed, event)
}

// PublishRelayFailed publishes a relay that was rejected or failed on chain
func (p *WatermillPublisher) PublishRelayFailed(ctx context.Context, event ports.RelayEvent) error {
	return p.publish(ctx, TopicRelayFailed, event)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event ports.RelayEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the underlying watermill publisher
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// NopPublisher drops every event. It is used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) Close() error { return nil }

func (NopPublisher) PublishRelayed(context.Context, ports.RelayEvent) error     { return nil }
func (NopPublisher) PublishRelayFailed(context.Context, ports.RelayEvent) error { return nil }
