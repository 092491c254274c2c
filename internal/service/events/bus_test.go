package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/docchat/internal/model/chat"
	"github.com/zhouzirui/docchat/internal/service/events"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t))
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	sent := events.Event{
		Type: events.TypeReplyReceived,
		Seq:  7,
		Snapshot: chat.Snapshot{
			Seq:      7,
			Session:  chat.Session{ConversationID: "c1"},
			Messages: []chat.Message{chat.UserMessage("hello"), chat.AssistantMessage("hi there")},
		},
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, bus.Publish(ctx, sent))

	select {
	case got := <-stream:
		assert.Equal(t, events.TypeReplyReceived, got.Type)
		assert.Equal(t, uint64(7), got.Seq)
		assert.Equal(t, "c1", got.Snapshot.Session.ConversationID)
		assert.Equal(t, sent.Snapshot.Messages, got.Snapshot.Messages)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusSubscriptionClosesWithContext(t *testing.T) {
	bus := events.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-stream:
		assert.False(t, ok, "stream should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := events.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	assert.NoError(t, bus.Publish(context.Background(), events.Event{Type: events.TypeReset}))
}
