package agentzero

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielfalcao/agentzero/transport"
	"github.com/gabrielfalcao/agentzero/transport/inproc"
)

func newTestManager(t *testing.T, opts ...Option) (*SocketManager, *inproc.Transport) {
	t.Helper()
	tr := inproc.New()
	t.Cleanup(func() { _ = tr.Close() })
	base := []Option{
		WithTimeout(250 * time.Millisecond),
		WithPollingTimeout(10 * time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	m := New(tr, append(base, opts...)...)
	t.Cleanup(m.CloseAll)
	return m, tr
}

func TestCreateDistinctNames(t *testing.T) {
	m, _ := newTestManager(t)

	first, err := m.Create("requester", transport.Req)
	require.NoError(t, err)
	second, err := m.Create("responder", transport.Rep)
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	got, err := m.GetByName("requester")
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestCreateAssignsIdentity(t *testing.T) {
	m, _ := newTestManager(t)

	first, err := m.Create("one", transport.Pair)
	require.NoError(t, err)
	second, err := m.Create("two", transport.Pair)
	require.NoError(t, err)

	a := first.(*inproc.Endpoint).Identity()
	b := second.(*inproc.Endpoint).Identity()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestCreateDuplicateName(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create("requester", transport.Req)
	require.NoError(t, err)

	_, err = m.Create("requester", transport.Req)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.ErrorIs(t, err, ErrSocket)
}

func TestGetByNameMissing(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.GetByName("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrSocket)
}

func TestGetByNameAfterClose(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create("ephemeral", transport.Pull)
	require.NoError(t, err)
	require.NoError(t, m.Close("ephemeral"))

	_, err = m.GetByName("ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseMissingIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NoError(t, m.Close("never-created"))
}

func TestCloseDropsAddress(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.EnsureAndBind("sink", transport.Pull, "inproc://sink", transport.PollIn)
	require.NoError(t, err)
	_, ok := m.Address("sink")
	require.True(t, ok)

	require.NoError(t, m.Close("sink"))
	_, ok = m.Address("sink")
	assert.False(t, ok)
}

func TestDisconnectUnknownName(t *testing.T) {
	m, _ := newTestManager(t)

	ok, err := m.Disconnect("ghost")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDisconnectWithoutAddress(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create("loose", transport.Push)
	require.NoError(t, err)

	ok, err := m.Disconnect("loose")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestDisconnectSeversAndForgets(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.EnsureAndBind("sink", transport.Pull, "inproc://sink", transport.PollIn)
	require.NoError(t, err)
	source, err := m.EnsureAndConnect("source", transport.Push, "inproc://sink", transport.PollOut)
	require.NoError(t, err)

	ok, err := m.Disconnect("source")
	require.NoError(t, err)
	assert.True(t, ok)

	_, recorded := m.Address("source")
	assert.False(t, recorded)
	assert.Error(t, source.Send([]byte("orphaned")))

	// The endpoint itself survives a disconnect.
	_, err = m.GetByName("source")
	assert.NoError(t, err)
}

func TestConnectEmptyAddress(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Connect("any", "", transport.PollOut)
	assert.ErrorIs(t, err, ErrConnect)
}

func TestBindEmptyAddress(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Bind("any", "", transport.PollIn)
	assert.ErrorIs(t, err, ErrBind)
}

func TestBindUnknownSocket(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Bind("ghost", "inproc://somewhere", transport.PollIn)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBindTakenAddress(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.EnsureAndBind("first", transport.Rep, "inproc://shared", transport.PollIn)
	require.NoError(t, err)

	_, err = m.Create("second", transport.Rep)
	require.NoError(t, err)
	_, err = m.Bind("second", "inproc://shared", transport.PollIn)
	assert.ErrorIs(t, err, ErrBind)
	// The address book only records successful binds.
	_, ok := m.Address("second")
	assert.False(t, ok)
}

func TestBindToRandomPort(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create("server", transport.Rep)
	require.NoError(t, err)

	ep, address, err := m.BindToRandomPort("server", transport.PollIn, "tcp://0.0.0.0")
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Regexp(t, `^tcp://0\.0\.0\.0:\d+$`, address)

	recorded, ok := m.Address("server")
	require.True(t, ok)
	assert.Equal(t, address, recorded)
}

func TestEnsureAndConnectIsIdempotentOnName(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.EnsureAndBind("sink", transport.Pull, "inproc://sink", transport.PollIn)
	require.NoError(t, err)

	first, err := m.EnsureAndConnect("source", transport.Push, "inproc://sink", transport.PollOut)
	require.NoError(t, err)
	second, err := m.EnsureAndConnect("source", transport.Push, "inproc://sink", transport.PollOut)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestStringListsSocketsInCreationOrder(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create("alpha", transport.Push)
	require.NoError(t, err)
	_, err = m.Create("beta", transport.Pull)
	require.NoError(t, err)

	assert.Equal(t, "SocketManager(sockets=[alpha beta])", m.String())
}

func TestSetTopicUnknownSocket(t *testing.T) {
	m, _ := newTestManager(t)
	assert.ErrorIs(t, m.SetTopic("ghost", "anything"), ErrNotFound)
}

type flakyEndpoint struct {
	transport.Endpoint
	closeCalls int
}

func (f *flakyEndpoint) Close() error {
	f.closeCalls++
	return errors.New("endpoint refused to close")
}

func TestCloseAllSuppressesCloseFailures(t *testing.T) {
	m, tr := newTestManager(t)

	raw, err := tr.NewEndpoint(transport.Push)
	require.NoError(t, err)
	bad := &flakyEndpoint{Endpoint: raw}
	m.mu.Lock()
	m.sockets["bad"] = bad
	m.order = append(m.order, "bad")
	m.mu.Unlock()

	good, err := m.Create("good", transport.Pull)
	require.NoError(t, err)

	m.CloseAll()

	assert.Equal(t, 1, bad.closeCalls)
	assert.ErrorIs(t, good.Send([]byte("late")), transport.ErrClosed)
	assert.Equal(t, "SocketManager(sockets=[])", m.String())

	_, err = m.GetByName("good")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseAllIsReentrant(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create("only", transport.Pair)
	require.NoError(t, err)

	m.CloseAll()
	m.CloseAll()
	assert.Equal(t, "SocketManager(sockets=[])", m.String())
}
