package events

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/paymaster/ports"
)

func TestPublishRelayed(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	relayed, err := pubSub.Subscribe(t.Context(), TopicRelayed)
	require.NoError(t, err)
	failed, err := pubSub.Subscribe(t.Context(), TopicRelayFailed)
	require.NoError(t, err)

	publisher := NewWatermillPublisher(pubSub)

	want := ports.RelayEvent{
		ClientPublicKey: "client",
		FeePayer:        "payer",
		Signature:       "sig",
	}
	require.NoError(t, publisher.PublishRelayed(t.Context(), want))
	require.NoError(t, publisher.PublishRelayFailed(t.Context(), ports.RelayEvent{ClientPublicKey: "client", Reason: "not_sponsored"}))

	select {
	case msg := <-relayed:
		var got ports.RelayEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, want, got)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("relayed event not delivered")
	}

	select {
	case msg := <-failed:
		var got ports.RelayEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, "not_sponsored", got.Reason)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("failure event not delivered")
	}
}

func TestCloseStopsPublishing(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	publisher := NewWatermillPublisher(pubSub)
	closer, ok := publisher.(io.Closer)
	require.True(t, ok)

	require.NoError(t, closer.Close())
	assert.Error(t, publisher.PublishRelayed(t.Context(), ports.RelayEvent{ClientPublicKey: "client"}))

	assert.NoError(t, NopPublisher{}.Close())
}
