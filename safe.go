package agentzero

import (
	"fmt"

	"github.com/gabrielfalcao/agentzero/transport"
)

// SendSafe waits for the named endpoint to become write-ready, then
// serializes data with the configured backend and sends it as a single
// frame. It reports false, without serializing anything, when the
// endpoint never became ready within the wait budget.
func (m *SocketManager) SendSafe(name string, data any, opts ...WaitOption) (bool, error) {
	cfg := m.waitConfig(opts)
	ep, err := m.WaitUntilReady(name, transport.PollOut, cfg.timeout, cfg.pollingTimeout)
	if err != nil {
		return false, err
	}
	if ep == nil {
		return false, nil
	}
	payload, err := m.serializer.Pack(data)
	if err != nil {
		return false, fmt.Errorf("packing payload for socket %q: %w", name, err)
	}
	if err := ep.Send(payload); err != nil {
		return false, fmt.Errorf("sending on socket %q: %w", name, err)
	}
	return true, nil
}

// RecvSafe waits for the named endpoint to become read-ready, receives
// a single frame and deserializes it. The second return value is false
// when the endpoint never became ready, which is the normal
// "nothing yet" case rather than a fault.
func (m *SocketManager) RecvSafe(name string, opts ...WaitOption) (any, bool, error) {
	cfg := m.waitConfig(opts)
	ep, err := m.WaitUntilReady(name, transport.PollIn, cfg.timeout, cfg.pollingTimeout)
	if err != nil {
		return nil, false, err
	}
	if ep == nil {
		return nil, false, nil
	}
	raw, err := ep.Recv()
	if err != nil {
		return nil, false, fmt.Errorf("receiving on socket %q: %w", name, err)
	}
	value, err := m.serializer.Unpack(raw)
	if err != nil {
		return nil, false, fmt.Errorf("unpacking payload from socket %q: %w", name, err)
	}
	return value, true, nil
}

// PublishSafe serializes data and sends it as a two-frame message
// (topic, then payload) on the named endpoint. Publish endpoints are
// fire-and-forget, so no readiness wait happens here.
func (m *SocketManager) PublishSafe(name, topic string, data any) error {
	ep, err := m.GetByName(name)
	if err != nil {
		return err
	}
	payload, err := m.serializer.Pack(data)
	if err != nil {
		return fmt.Errorf("packing payload for socket %q: %w", name, err)
	}
	return ep.SendMultipart([][]byte{[]byte(topic), payload})
}

// RecvEventSafe waits for the named endpoint to become read-ready and
// receives one pub/sub event: a two-frame message whose first frame is
// the topic and whose second frame is the serialized payload. When a
// non-empty topic is supplied the subscription filter is set to it
// first. A nil event with a nil error means the wait timed out.
func (m *SocketManager) RecvEventSafe(name, topic string, opts ...WaitOption) (*Event, error) {
	if topic != "" {
		if err := m.SetTopic(name, topic); err != nil {
			return nil, err
		}
	}
	cfg := m.waitConfig(opts)
	ep, err := m.WaitUntilReady(name, transport.PollIn, cfg.timeout, cfg.pollingTimeout)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, nil
	}
	frames, err := ep.RecvMultipart()
	if err != nil {
		return nil, fmt.Errorf("receiving event on socket %q: %w", name, err)
	}
	if len(frames) < 2 {
		return nil, fmt.Errorf("socket %q delivered %d frame(s), want topic and payload", name, len(frames))
	}
	data, err := m.serializer.Unpack(frames[1])
	if err != nil {
		return nil, fmt.Errorf("unpacking event from socket %q: %w", name, err)
	}
	event := NewEvent(string(frames[0]), data)
	return &event, nil
}

// Subscribe sets the subscription filter on the named endpoint (an
// empty topic subscribes to every topic) and returns a channel of
// events fed by a background receive loop. The loop keeps going while
// keepPolling returns true; passing nil uses the default predicate,
// "the named endpoint still exists". The channel is closed when the
// predicate turns false or the endpoint stops delivering, and each
// call starts a fresh iteration from the current filter state.
func (m *SocketManager) Subscribe(name, topic string, keepPolling func() bool) (<-chan Event, error) {
	ep, err := m.GetByName(name)
	if err != nil {
		return nil, err
	}
	if err := ep.SetOption(transport.OptSubscribe, topic); err != nil {
		return nil, err
	}
	if keepPolling == nil {
		keepPolling = func() bool {
			_, err := m.GetByName(name)
			return err == nil
		}
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		for keepPolling() {
			frames, err := ep.RecvMultipart()
			if err != nil {
				m.logger.Debug("subscription loop ended", "socket", name, "error", err)
				return
			}
			if len(frames) < 2 {
				m.logger.Warn("dropping malformed event", "socket", name, "frames", len(frames))
				continue
			}
			data, err := m.serializer.Unpack(frames[1])
			if err != nil {
				m.logger.Warn("dropping undecodable event", "socket", name, "error", err)
				continue
			}
			events <- NewEvent(string(frames[0]), data)
		}
	}()
	return events, nil
}
