// Package agentzero is a socket-lifecycle and readiness-multiplexing
// layer over an asynchronous messaging transport. Applications refer
// to endpoints by logical name, register them all with one shared
// poller, and send or receive only once the transport signals
// readiness. A non-blocking transport thus gains operations that wait
// cooperatively instead of blocking the process.
//
// The entry point is the SocketManager. A typical setup:
//
//	tr, _ := zeromq.New()
//	manager := agentzero.New(tr)
//	_, err := manager.EnsureAndConnect(
//		"requester", transport.Req,
//		"tcp://192.168.2.42:5051",
//		transport.PollIn|transport.PollOut,
//	)
//
// One manager is meant to be driven by one logical owner; see the
// concurrency notes on SocketManager.
package agentzero

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabrielfalcao/agentzero/serializers"
	"github.com/gabrielfalcao/agentzero/transport"
)

// SocketManager owns a set of named endpoints, the address book
// recording where each one is bound or connected, and the poll
// registry feeding the shared poller. It is the sole owner of every
// endpoint it creates: no other component may close or mutate them.
//
// A manager is intended for a single logical owner: one goroutine, or
// one cooperative pool sharing one transport context. The registry
// itself is guarded so that Subscribe's pump goroutine can check
// socket existence, but concurrent I/O on the same endpoint from
// independent goroutines is not supported.
type SocketManager struct {
	transport  transport.Transport
	serializer serializers.Serializer
	poller     transport.Poller
	logger     *slog.Logger
	yield      func()

	timeout        time.Duration
	pollingTimeout time.Duration

	mu        sync.RWMutex
	sockets   map[string]transport.Endpoint
	order     []string
	addresses map[string]string
	registry  map[transport.Endpoint]transport.Mask
}

// New creates a manager over the given transport. Unless overridden by
// options it serializes with JSON, waits up to DefaultTimeout, polls
// in DefaultPollingTimeout slices, yields through runtime.Gosched and
// logs through slog.Default.
func New(tr transport.Transport, opts ...Option) *SocketManager {
	m := &SocketManager{
		transport:      tr,
		serializer:     serializers.JSON{},
		poller:         tr.NewPoller(),
		yield:          runtime.Gosched,
		timeout:        DefaultTimeout,
		pollingTimeout: DefaultPollingTimeout,
		sockets:        make(map[string]transport.Endpoint),
		addresses:      make(map[string]string),
		registry:       make(map[transport.Endpoint]transport.Mask),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// String lists the managed socket names in creation order.
func (m *SocketManager) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("SocketManager(sockets=%v)", m.order)
}

// Serializer returns the configured payload codec.
func (m *SocketManager) Serializer() serializers.Serializer {
	return m.serializer
}

// Create creates a named endpoint of the given type and stamps it with
// a unique identity token so distinct endpoints can be told apart for
// the whole of their lifetime. It fails with ErrAlreadyExists when the
// name is taken.
func (m *SocketManager) Create(name string, t transport.Type) (transport.Endpoint, error) {
	m.mu.Lock()
	if _, taken := m.sockets[name]; taken {
		m.mu.Unlock()
		return nil, alreadyExistsError(m, name)
	}
	m.mu.Unlock()

	ep, err := m.transport.NewEndpoint(t)
	if err != nil {
		return nil, fmt.Errorf("creating socket %q: %w", name, err)
	}
	if err := ep.SetOption(transport.OptIdentity, uuid.NewString()); err != nil {
		_ = ep.Close()
		return nil, fmt.Errorf("assigning identity to socket %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.sockets[name]; taken {
		_ = ep.Close()
		return nil, alreadyExistsError(m, name)
	}
	m.sockets[name] = ep
	m.order = append(m.order, name)
	return ep, nil
}

// GetByName returns the live endpoint registered under name, or
// ErrNotFound.
func (m *SocketManager) GetByName(name string) (transport.Endpoint, error) {
	m.mu.RLock()
	ep, ok := m.sockets[name]
	m.mu.RUnlock()
	if !ok {
		return nil, notFoundError(m, name)
	}
	return ep, nil
}

// GetOrCreate ensures an endpoint exists under name and is registered
// with the poller under the given interest mask.
func (m *SocketManager) GetOrCreate(name string, t transport.Type, interest transport.Mask) (transport.Endpoint, error) {
	ep, err := m.GetByName(name)
	if err != nil {
		if ep, err = m.Create(name, t); err != nil {
			return nil, err
		}
	}
	if err := m.Register(ep, interest); err != nil {
		return nil, err
	}
	return ep, nil
}

// Register adds an endpoint to the poller's interest set exactly once.
// Re-registering an already registered endpoint is a no-op, even with
// a different mask; the first mask sticks until Unregister.
func (m *SocketManager) Register(ep transport.Endpoint, interest transport.Mask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, registered := m.registry[ep]; registered {
		return nil
	}
	if err := m.poller.Add(ep, interest); err != nil {
		return err
	}
	m.registry[ep] = interest
	return nil
}

// Unregister removes an endpoint from the poll registry and the
// poller, tolerating endpoints that were never registered.
func (m *SocketManager) Unregister(ep transport.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregisterLocked(ep)
}

func (m *SocketManager) unregisterLocked(ep transport.Endpoint) {
	if _, registered := m.registry[ep]; !registered {
		return
	}
	delete(m.registry, ep)
	if err := m.poller.Remove(ep); err != nil {
		m.logger.Warn("removing endpoint from poller", "error", err)
	}
}

// Close closes the named endpoint: it leaves the poll registry, its
// address-book entry goes away and the endpoint itself is closed.
// Closing a name that does not exist is a no-op.
func (m *SocketManager) Close(name string) error {
	m.mu.Lock()
	ep, ok := m.sockets[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	m.unregisterLocked(ep)
	delete(m.addresses, name)
	m.removeLocked(name)
	m.mu.Unlock()

	return ep.Close()
}

// Disconnect removes the named endpoint's address-book entry and, when
// an address had been recorded, issues a transport-level disconnect to
// it. It reports false only when no endpoint exists under the name;
// an endpoint with nothing to disconnect still reports true.
func (m *SocketManager) Disconnect(name string) (bool, error) {
	m.mu.Lock()
	ep, ok := m.sockets[name]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	address := m.addresses[name]
	delete(m.addresses, name)
	m.unregisterLocked(ep)
	m.mu.Unlock()

	if address == "" {
		return true, nil
	}
	if err := ep.Disconnect(address); err != nil {
		return true, fmt.Errorf("disconnecting socket %q from %s: %w", name, address, err)
	}
	return true, nil
}

// CloseAll tears the manager down, closing every owned endpoint. Close
// failures are logged and suppressed so one misbehaving endpoint
// cannot keep the others from being released.
func (m *SocketManager) CloseAll() {
	m.mu.Lock()
	endpoints := make(map[string]transport.Endpoint, len(m.sockets))
	for name, ep := range m.sockets {
		endpoints[name] = ep
	}
	order := m.order
	m.sockets = make(map[string]transport.Endpoint)
	m.order = nil
	m.addresses = make(map[string]string)
	m.registry = make(map[transport.Endpoint]transport.Mask)
	m.mu.Unlock()

	for _, name := range order {
		ep := endpoints[name]
		if err := m.poller.Remove(ep); err != nil {
			m.logger.Warn("removing endpoint from poller", "socket", name, "error", err)
		}
		if err := ep.Close(); err != nil {
			m.logger.Warn("closing socket during teardown", "socket", name, "error", err)
		}
	}
}

// Connect connects the named endpoint to address and registers it with
// the poller under the given interest mask. The address is recorded in
// the address book once the transport accepts it.
func (m *SocketManager) Connect(name, address string, interest transport.Mask) (transport.Endpoint, error) {
	if address == "" {
		return nil, connectError(name, address, nil)
	}
	ep, err := m.GetByName(name)
	if err != nil {
		return nil, err
	}
	if err := m.Register(ep, interest); err != nil {
		return nil, err
	}
	// Flush the fresh registration through the poller before dialing.
	if _, err := m.Engage(0); err != nil {
		return nil, err
	}
	if err := ep.Connect(address); err != nil {
		return nil, connectError(name, address, err)
	}
	m.recordAddress(name, address)
	return ep, nil
}

// Bind binds the named endpoint to address and registers it with the
// poller under the given interest mask.
func (m *SocketManager) Bind(name, address string, interest transport.Mask) (transport.Endpoint, error) {
	if address == "" {
		return nil, bindError(name, address, nil)
	}
	ep, err := m.GetByName(name)
	if err != nil {
		return nil, err
	}
	if err := m.Register(ep, interest); err != nil {
		return nil, err
	}
	if _, err := m.Engage(0); err != nil {
		return nil, err
	}
	if err := ep.Bind(address); err != nil {
		return nil, bindError(name, address, err)
	}
	m.recordAddress(name, address)
	return ep, nil
}

// BindToRandomPort binds the named endpoint to an ephemeral port under
// localAddress (e.g. "tcp://0.0.0.0") and returns the endpoint along
// with the composed address that was recorded for it.
func (m *SocketManager) BindToRandomPort(name string, interest transport.Mask, localAddress string) (transport.Endpoint, string, error) {
	ep, err := m.GetByName(name)
	if err != nil {
		return nil, "", err
	}
	if err := m.Register(ep, interest); err != nil {
		return nil, "", err
	}
	if _, err := m.Engage(0); err != nil {
		return nil, "", err
	}
	port, err := ep.BindToRandomPort(localAddress)
	if err != nil {
		return nil, "", bindError(name, localAddress, err)
	}
	address := fmt.Sprintf("%s:%d", localAddress, port)
	m.recordAddress(name, address)
	return ep, address, nil
}

// EnsureAndConnect composes create-if-absent, Connect and a full
// Engage into the idiomatic one-shot setup call.
func (m *SocketManager) EnsureAndConnect(name string, t transport.Type, address string, interest transport.Mask) (transport.Endpoint, error) {
	if _, err := m.GetOrCreate(name, t, interest); err != nil {
		return nil, err
	}
	ep, err := m.Connect(name, address, interest)
	if err != nil {
		return nil, err
	}
	if _, err := m.Engage(-1); err != nil {
		return nil, err
	}
	return ep, nil
}

// EnsureAndBind is the bind counterpart of EnsureAndConnect.
func (m *SocketManager) EnsureAndBind(name string, t transport.Type, address string, interest transport.Mask) (transport.Endpoint, error) {
	if _, err := m.GetOrCreate(name, t, interest); err != nil {
		return nil, err
	}
	ep, err := m.Bind(name, address, interest)
	if err != nil {
		return nil, err
	}
	if _, err := m.Engage(-1); err != nil {
		return nil, err
	}
	return ep, nil
}

// Address reports the address recorded for name at bind or connect
// time. It exists for introspection and random-port reporting; I/O
// never consults it.
func (m *SocketManager) Address(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	address, ok := m.addresses[name]
	return address, ok
}

// SetSocketOption applies a transport option to the named endpoint.
func (m *SocketManager) SetSocketOption(name string, opt transport.Option, value any) error {
	ep, err := m.GetByName(name)
	if err != nil {
		return err
	}
	return ep.SetOption(opt, value)
}

// SetTopic establishes a subscription filter on the named Sub
// endpoint. An empty topic subscribes to everything.
func (m *SocketManager) SetTopic(name, topic string) error {
	return m.SetSocketOption(name, transport.OptSubscribe, topic)
}

func (m *SocketManager) recordAddress(name, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[name] = address
}

func (m *SocketManager) removeLocked(name string) {
	delete(m.sockets, name)
	for i, known := range m.order {
		if known == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
