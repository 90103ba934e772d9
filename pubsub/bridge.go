// Package pubsub bridges a SocketManager's publish/subscribe path to
// watermill's Publisher and Subscriber contracts, so applications
// written against watermill can ride manager-owned sockets without
// knowing about endpoints, readiness or serialization.
package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/gabrielfalcao/agentzero"
)

// Metadata keys used to carry watermill envelope fields through the
// manager's serialized payloads.
const (
	fieldUUID     = "uuid"
	fieldMetadata = "metadata"
	fieldPayload  = "payload"
)

// Bridge implements message.Publisher and message.Subscriber over a
// SocketManager. Outbound messages go through PublishSafe on the
// publish socket; subscriptions consume the manager's Subscribe
// channel on the subscribe socket.
type Bridge struct {
	manager   *agentzero.SocketManager
	pubSocket string
	subSocket string

	closed    chan struct{}
	closeOnce sync.Once
}

var (
	_ message.Publisher  = (*Bridge)(nil)
	_ message.Subscriber = (*Bridge)(nil)
)

// NewBridge wires a bridge to a manager and the names of the endpoints
// it should publish and subscribe on. Both endpoints must already be
// created (and normally bound or connected) through the manager.
func NewBridge(manager *agentzero.SocketManager, pubSocket, subSocket string) *Bridge {
	return &Bridge{
		manager:   manager,
		pubSocket: pubSocket,
		subSocket: subSocket,
		closed:    make(chan struct{}),
	}
}

// Publish sends each message as one event on the bridge's publish
// socket, preserving the watermill UUID and metadata inside the
// serialized payload.
func (b *Bridge) Publish(topic string, messages ...*message.Message) error {
	select {
	case <-b.closed:
		return agentzero.ErrSocket
	default:
	}
	for _, msg := range messages {
		payload := map[string]any{
			fieldUUID:     msg.UUID,
			fieldMetadata: map[string]string(msg.Metadata),
			fieldPayload:  string(msg.Payload),
		}
		if err := b.manager.PublishSafe(b.pubSocket, topic, payload); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe filters the subscribe socket to topic and returns a
// channel of reconstructed watermill messages. The channel closes when
// the context is canceled, the bridge is closed, or the underlying
// endpoint stops delivering.
func (b *Bridge) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	events, err := b.manager.Subscribe(b.subSocket, topic, func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-b.closed:
			return false
		default:
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for event := range events {
			msg := toWatermill(event)
			if msg == nil {
				slog.Warn("dropping event without a bridge envelope", "topic", event.Topic())
				continue
			}
			msg.SetContext(ctx)
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			}
		}
	}()
	return out, nil
}

// Close stops every active subscription loop at its next iteration.
// The bridged endpoints stay open; they belong to the manager.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// toWatermill rebuilds a watermill message from a bridge payload.
// Events published by something other than a Bridge come back without
// the envelope fields; those are reported as nil.
func toWatermill(event agentzero.Event) *message.Message {
	envelope, ok := event.Data().(map[string]any)
	if !ok {
		return nil
	}
	body, ok := envelope[fieldPayload].(string)
	if !ok {
		return nil
	}
	uuid, _ := envelope[fieldUUID].(string)
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	msg := message.NewMessage(uuid, []byte(body))
	if metadata, ok := envelope[fieldMetadata].(map[string]any); ok {
		for key, value := range metadata {
			if s, ok := value.(string); ok {
				msg.Metadata.Set(key, s)
			}
		}
	}
	return msg
}
