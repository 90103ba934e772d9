package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielfalcao/agentzero"
	"github.com/gabrielfalcao/agentzero/transport"
	"github.com/gabrielfalcao/agentzero/transport/inproc"
)

func newBridgeFixture(t *testing.T) (*agentzero.SocketManager, *Bridge) {
	t.Helper()
	tr := inproc.New()
	t.Cleanup(func() { _ = tr.Close() })

	m := agentzero.New(tr,
		agentzero.WithTimeout(250*time.Millisecond),
		agentzero.WithPollingTimeout(10*time.Millisecond),
	)
	t.Cleanup(m.CloseAll)

	_, err := m.EnsureAndBind("bridge-pub", transport.Pub, "inproc://bridge", transport.PollOut)
	require.NoError(t, err)
	_, err = m.EnsureAndConnect("bridge-sub", transport.Sub, "inproc://bridge", transport.PollIn)
	require.NoError(t, err)

	bridge := NewBridge(m, "bridge-pub", "bridge-sub")
	t.Cleanup(func() { _ = bridge.Close() })
	return m, bridge
}

func TestBridgeRoundTrip(t *testing.T) {
	_, bridge := newBridgeFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incoming, err := bridge.Subscribe(ctx, "orders")
	require.NoError(t, err)

	outbound := message.NewMessage(watermill.NewUUID(), []byte(`{"order":42}`))
	outbound.Metadata.Set("origin", "checkout")
	require.NoError(t, bridge.Publish("orders", outbound))

	select {
	case msg, open := <-incoming:
		require.True(t, open)
		assert.Equal(t, outbound.UUID, msg.UUID)
		assert.Equal(t, `{"order":42}`, string(msg.Payload))
		assert.Equal(t, "checkout", msg.Metadata.Get("origin"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged message")
	}
}

func TestBridgeTopicFiltering(t *testing.T) {
	_, bridge := newBridgeFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incoming, err := bridge.Subscribe(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, bridge.Publish("invoices", message.NewMessage(watermill.NewUUID(), []byte("skip"))))
	require.NoError(t, bridge.Publish("orders.eu", message.NewMessage(watermill.NewUUID(), []byte("take"))))

	select {
	case msg := <-incoming:
		assert.Equal(t, "take", string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged message")
	}
}

func TestBridgeDropsForeignEvents(t *testing.T) {
	m, bridge := newBridgeFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incoming, err := bridge.Subscribe(ctx, "mixed")
	require.NoError(t, err)

	// Published outside the bridge, so there is no envelope to unwrap.
	require.NoError(t, m.PublishSafe("bridge-pub", "mixed", map[string]any{"raw": true}))

	enveloped := message.NewMessage(watermill.NewUUID(), []byte("with envelope"))
	require.NoError(t, bridge.Publish("mixed", enveloped))

	select {
	case msg := <-incoming:
		assert.Equal(t, "with envelope", string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged message")
	}
}

func TestBridgePublishAfterClose(t *testing.T) {
	_, bridge := newBridgeFixture(t)

	require.NoError(t, bridge.Close())
	require.NoError(t, bridge.Close())

	err := bridge.Publish("orders", message.NewMessage(watermill.NewUUID(), []byte("late")))
	assert.ErrorIs(t, err, agentzero.ErrSocket)
}

func TestBridgeSubscribeEndsWithContext(t *testing.T) {
	m, bridge := newBridgeFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	incoming, err := bridge.Subscribe(ctx, "orders")
	require.NoError(t, err)

	cancel()
	// The predicate is checked per iteration; closing the endpoint
	// unblocks a receive already in flight.
	require.NoError(t, m.Close("bridge-sub"))

	select {
	case _, open := <-incoming:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel did not close")
	}
}

func TestBridgeSubscribeUnknownSocket(t *testing.T) {
	tr := inproc.New()
	t.Cleanup(func() { _ = tr.Close() })
	m := agentzero.New(tr)

	bridge := NewBridge(m, "nope", "nope")
	_, err := bridge.Subscribe(context.Background(), "orders")
	assert.ErrorIs(t, err, agentzero.ErrNotFound)
}
