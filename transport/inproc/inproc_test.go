package inproc

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielfalcao/agentzero/transport"
)

func TestBindConnectDelivery(t *testing.T) {
	tr := New()
	defer tr.Close()

	push, err := tr.NewEndpoint(transport.Push)
	require.NoError(t, err)
	pull, err := tr.NewEndpoint(transport.Pull)
	require.NoError(t, err)

	require.NoError(t, pull.Bind("inproc://pipeline"))
	require.NoError(t, push.Connect("inproc://pipeline"))

	require.NoError(t, push.Send([]byte("hello")))

	data, err := pull.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestConnectBeforeBind(t *testing.T) {
	tr := New()
	defer tr.Close()

	push, err := tr.NewEndpoint(transport.Push)
	require.NoError(t, err)
	pull, err := tr.NewEndpoint(transport.Pull)
	require.NoError(t, err)

	// Connect first; the link is established once the binder shows up.
	require.NoError(t, push.Connect("inproc://late"))
	require.NoError(t, pull.Bind("inproc://late"))

	require.NoError(t, push.Send([]byte("late")))
	data, err := pull.Recv()
	require.NoError(t, err)
	assert.Equal(t, "late", string(data))
}

func TestBindRejectsTakenAddress(t *testing.T) {
	tr := New()
	defer tr.Close()

	first, err := tr.NewEndpoint(transport.Rep)
	require.NoError(t, err)
	second, err := tr.NewEndpoint(transport.Rep)
	require.NoError(t, err)

	require.NoError(t, first.Bind("inproc://taken"))
	assert.Error(t, second.Bind("inproc://taken"))
}

func TestSendWithoutPeerWouldBlock(t *testing.T) {
	tr := New()
	defer tr.Close()

	push, err := tr.NewEndpoint(transport.Push)
	require.NoError(t, err)

	assert.Error(t, push.Send([]byte("nowhere")))
}

func TestPubSubFiltering(t *testing.T) {
	tr := New()
	defer tr.Close()

	pub, err := tr.NewEndpoint(transport.Pub)
	require.NoError(t, err)
	sub, err := tr.NewEndpoint(transport.Sub)
	require.NoError(t, err)

	require.NoError(t, pub.Bind("inproc://events"))
	require.NoError(t, sub.Connect("inproc://events"))
	require.NoError(t, sub.SetOption(transport.OptSubscribe, "metrics"))

	// Filtered out: the topic does not match the subscription prefix.
	require.NoError(t, pub.SendMultipart([][]byte{[]byte("logs"), []byte("x")}))
	// Matches the prefix filter.
	require.NoError(t, pub.SendMultipart([][]byte{[]byte("metrics.cpu"), []byte("y")}))

	frames, err := sub.RecvMultipart()
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "metrics.cpu", string(frames[0]))
	assert.Equal(t, "y", string(frames[1]))
}

func TestSubWithoutFilterReceivesNothing(t *testing.T) {
	tr := New()
	defer tr.Close()

	pub, err := tr.NewEndpoint(transport.Pub)
	require.NoError(t, err)
	sub, err := tr.NewEndpoint(transport.Sub)
	require.NoError(t, err)

	require.NoError(t, pub.Bind("inproc://silent"))
	require.NoError(t, sub.Connect("inproc://silent"))
	require.NoError(t, pub.SendMultipart([][]byte{[]byte("topic"), []byte("data")}))

	poller := tr.NewPoller()
	require.NoError(t, poller.Add(sub, transport.PollIn))
	ready, err := poller.Poll(0)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestPollerReadiness(t *testing.T) {
	tr := New()
	defer tr.Close()

	push, err := tr.NewEndpoint(transport.Push)
	require.NoError(t, err)
	pull, err := tr.NewEndpoint(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("inproc://ready"))
	require.NoError(t, push.Connect("inproc://ready"))

	poller := tr.NewPoller()
	require.NoError(t, poller.Add(push, transport.PollOut))
	require.NoError(t, poller.Add(pull, transport.PollIn))

	ready, err := poller.Poll(0)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, push, ready[0].Endpoint)
	assert.Equal(t, transport.PollOut, ready[0].Events)

	require.NoError(t, push.Send([]byte("wake")))

	ready, err = poller.Poll(time.Second)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, pull, ready[1].Endpoint)
	assert.Equal(t, transport.PollIn, ready[1].Events)
}

func TestPollerWakesBlockedPoll(t *testing.T) {
	tr := New()
	defer tr.Close()

	push, err := tr.NewEndpoint(transport.Push)
	require.NoError(t, err)
	pull, err := tr.NewEndpoint(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("inproc://wake"))
	require.NoError(t, push.Connect("inproc://wake"))

	poller := tr.NewPoller()
	require.NoError(t, poller.Add(pull, transport.PollIn))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = push.Send([]byte("now"))
	}()

	start := time.Now()
	ready, err := poller.Poll(5 * time.Second)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollTimeoutReturnsEmpty(t *testing.T) {
	tr := New()
	defer tr.Close()

	pull, err := tr.NewEndpoint(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("inproc://empty"))

	poller := tr.NewPoller()
	require.NoError(t, poller.Add(pull, transport.PollIn))

	ready, err := poller.Poll(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestBindToRandomPort(t *testing.T) {
	tr := New()
	defer tr.Close()

	rep, err := tr.NewEndpoint(transport.Rep)
	require.NoError(t, err)

	port, err := rep.BindToRandomPort("tcp://0.0.0.0")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 49152)

	req, err := tr.NewEndpoint(transport.Req)
	require.NoError(t, err)
	require.NoError(t, req.Connect(fmt.Sprintf("tcp://0.0.0.0:%d", port)))
	require.NoError(t, req.Send([]byte("ping")))

	data, err := rep.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(data))
}

func TestCloseUnblocksReceiver(t *testing.T) {
	tr := New()
	defer tr.Close()

	pull, err := tr.NewEndpoint(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("inproc://closing"))

	done := make(chan error, 1)
	go func() {
		_, err := pull.Recv()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pull.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestDisconnectSeversLink(t *testing.T) {
	tr := New()
	defer tr.Close()

	push, err := tr.NewEndpoint(transport.Push)
	require.NoError(t, err)
	pull, err := tr.NewEndpoint(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("inproc://severed"))
	require.NoError(t, push.Connect("inproc://severed"))
	require.NoError(t, push.Disconnect("inproc://severed"))

	assert.Error(t, push.Send([]byte("gone")))
}

func TestSendHighWaterMarkLimitsSender(t *testing.T) {
	tr := New()
	defer tr.Close()

	push, err := tr.NewEndpoint(transport.Push)
	require.NoError(t, err)
	pull, err := tr.NewEndpoint(transport.Pull)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("inproc://throttled"))
	require.NoError(t, push.Connect("inproc://throttled"))
	require.NoError(t, push.SetOption(transport.OptSendHWM, 1))

	require.NoError(t, push.Send([]byte("first")))
	// The receiver's queue has room, but the sender's mark is reached.
	assert.Error(t, push.Send([]byte("second")))

	poller := tr.NewPoller()
	require.NoError(t, poller.Add(push, transport.PollOut))
	ready, err := poller.Poll(0)
	require.NoError(t, err)
	assert.Empty(t, ready)

	// Draining the queue makes the sender writable again.
	_, err = pull.Recv()
	require.NoError(t, err)
	require.NoError(t, push.Send([]byte("second")))
}

func TestRecvHighWaterMarkDropsPubOverflow(t *testing.T) {
	tr := New()
	defer tr.Close()

	pub, err := tr.NewEndpoint(transport.Pub)
	require.NoError(t, err)
	sub, err := tr.NewEndpoint(transport.Sub)
	require.NoError(t, err)
	require.NoError(t, pub.Bind("inproc://firehose"))
	require.NoError(t, sub.Connect("inproc://firehose"))
	require.NoError(t, sub.SetOption(transport.OptSubscribe, ""))
	require.NoError(t, sub.SetOption(transport.OptRecvHWM, 1))

	require.NoError(t, pub.SendMultipart([][]byte{[]byte("t"), []byte("kept")}))
	require.NoError(t, pub.SendMultipart([][]byte{[]byte("t"), []byte("dropped")}))

	frames, err := sub.RecvMultipart()
	require.NoError(t, err)
	assert.Equal(t, "kept", string(frames[1]))

	poller := tr.NewPoller()
	require.NoError(t, poller.Add(sub, transport.PollIn))
	ready, err := poller.Poll(0)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestIdentityOption(t *testing.T) {
	tr := New()
	defer tr.Close()

	ep, err := tr.NewEndpoint(transport.Req)
	require.NoError(t, err)
	require.NoError(t, ep.SetOption(transport.OptIdentity, "node-7"))
	assert.Equal(t, "node-7", ep.(*Endpoint).Identity())

	err = ep.SetOption(transport.OptIdentity, 42)
	assert.Error(t, err)
}
