// Package events fans session state changes out to presentation observers.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Topic is the single in-process topic session events travel on.
const Topic = "session.events"

// Publisher is what the session client needs from the bus.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Subscriber is what presentation observers need from the bus.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Bus is an in-process pub/sub built on watermill's go channel transport.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger
}

// NewBus creates a bus. Events published with no subscriber are dropped.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		NewZapAdapter(logger.Named("watermill")),
	)
	return &Bus{pubSub: pubSub, logger: logger}
}

// Publish encodes and sends an event.
func (b *Bus) Publish(_ context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(evt.Type))
	if err := b.pubSub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", evt.Type, err)
	}
	return nil
}

// Subscribe streams decoded events until ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.logger.Warn("dropping undecodable event", zap.String("uuid", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}

			select {
			case out <- evt:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return out, nil
}

// Close stops every subscription.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
