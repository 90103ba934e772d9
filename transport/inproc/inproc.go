// Package inproc is a channel-and-queue backed implementation of the
// transport contract for single-process use. Every endpoint lives in
// ordinary memory, bind/connect pair endpoints through an address
// table, and readiness is computed from queue occupancy. It exists so
// the socket manager, the safe I/O façade and anything built on them
// can be exercised without a broker or a native messaging library.
package inproc

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/gabrielfalcao/agentzero/transport"
)

// DefaultHighWaterMark bounds each endpoint's inbound queue until a
// caller overrides it through OptRecvHWM.
const DefaultHighWaterMark = 1024

// Transport is an in-process implementation of transport.Transport.
// One instance models one messaging context: endpoints created by the
// same Transport can reach each other by address, nothing else.
type Transport struct {
	mu       sync.Mutex
	bindings map[string]*Endpoint
	pending  map[string][]*Endpoint
	waiters  map[chan struct{}]struct{}
	nextPort int
	closed   bool
}

// New creates an empty in-process transport.
func New() *Transport {
	return &Transport{
		bindings: make(map[string]*Endpoint),
		pending:  make(map[string][]*Endpoint),
		waiters:  make(map[chan struct{}]struct{}),
		nextPort: 49152,
	}
}

// NewEndpoint creates a detached endpoint of the given type.
func (tr *Transport) NewEndpoint(t transport.Type) (transport.Endpoint, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed {
		return nil, transport.ErrClosed
	}
	return &Endpoint{tr: tr, typ: t, recvHWM: DefaultHighWaterMark, sendHWM: DefaultHighWaterMark}, nil
}

// NewPoller returns a poller over this transport's endpoints.
func (tr *Transport) NewPoller() transport.Poller {
	return &poller{tr: tr}
}

// Close shuts the transport down and closes every endpoint that was
// ever bound or connected through it.
func (tr *Transport) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed {
		return nil
	}
	tr.closed = true
	seen := make(map[*Endpoint]bool)
	for _, ep := range tr.bindings {
		seen[ep] = true
	}
	for _, eps := range tr.pending {
		for _, ep := range eps {
			seen[ep] = true
		}
	}
	for ep := range seen {
		ep.closeLocked()
	}
	tr.bindings = make(map[string]*Endpoint)
	tr.pending = make(map[string][]*Endpoint)
	tr.notifyLocked()
	return nil
}

// notifyLocked wakes every in-flight Poll and Recv. Callers hold tr.mu.
func (tr *Transport) notifyLocked() {
	for ch := range tr.waiters {
		close(ch)
	}
	tr.waiters = make(map[chan struct{}]struct{})
}

func (tr *Transport) addWaiter() chan struct{} {
	ch := make(chan struct{})
	tr.waiters[ch] = struct{}{}
	return ch
}

func (tr *Transport) dropWaiter(ch chan struct{}) {
	delete(tr.waiters, ch)
}

// Endpoint is one in-process messaging endpoint. All of its mutable
// state is guarded by the owning transport's lock.
type Endpoint struct {
	tr  *Transport
	typ transport.Type

	queue    [][][]byte
	peers    []*Endpoint
	filters  [][]byte
	bound    []string
	identity []byte

	rr      int
	recvHWM int
	sendHWM int
	closed  bool
}

// Type returns the messaging pattern this endpoint was created with.
func (ep *Endpoint) Type() transport.Type { return ep.typ }

// Identity returns the identity token last set through OptIdentity.
func (ep *Endpoint) Identity() string {
	ep.tr.mu.Lock()
	defer ep.tr.mu.Unlock()
	return string(ep.identity)
}

// Bind claims an address on the transport's address table and links
// any endpoints already waiting to connect to it.
func (ep *Endpoint) Bind(address string) error {
	tr := ep.tr
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if ep.closed || tr.closed {
		return transport.ErrClosed
	}
	if _, taken := tr.bindings[address]; taken {
		return fmt.Errorf("inproc: address %q already bound", address)
	}
	tr.bindings[address] = ep
	ep.bound = append(ep.bound, address)
	for _, other := range tr.pending[address] {
		linkLocked(ep, other)
	}
	delete(tr.pending, address)
	tr.notifyLocked()
	return nil
}

// BindToRandomPort picks an unused synthetic port under localAddress.
func (ep *Endpoint) BindToRandomPort(localAddress string) (int, error) {
	ep.tr.mu.Lock()
	port := ep.tr.nextPort
	ep.tr.nextPort++
	ep.tr.mu.Unlock()
	if err := ep.Bind(fmt.Sprintf("%s:%d", localAddress, port)); err != nil {
		return 0, err
	}
	return port, nil
}

// Connect links this endpoint with whatever is bound at address. If
// nothing is bound there yet the link is established as soon as a
// binder shows up, mirroring how connect-before-bind behaves on real
// messaging transports.
func (ep *Endpoint) Connect(address string) error {
	tr := ep.tr
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if ep.closed || tr.closed {
		return transport.ErrClosed
	}
	if binder, ok := tr.bindings[address]; ok {
		linkLocked(binder, ep)
	} else {
		tr.pending[address] = append(tr.pending[address], ep)
	}
	tr.notifyLocked()
	return nil
}

// Disconnect severs the link established by Connect(address).
func (ep *Endpoint) Disconnect(address string) error {
	tr := ep.tr
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if binder, ok := tr.bindings[address]; ok {
		unlinkLocked(binder, ep)
	}
	queued := tr.pending[address]
	for i, other := range queued {
		if other == ep {
			tr.pending[address] = append(queued[:i], queued[i+1:]...)
			break
		}
	}
	tr.notifyLocked()
	return nil
}

// Close detaches the endpoint from every peer and address. Subsequent
// operations fail with ErrClosed.
func (ep *Endpoint) Close() error {
	tr := ep.tr
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if ep.closed {
		return nil
	}
	ep.closeLocked()
	tr.notifyLocked()
	return nil
}

func (ep *Endpoint) closeLocked() {
	ep.closed = true
	for _, addr := range ep.bound {
		if ep.tr.bindings[addr] == ep {
			delete(ep.tr.bindings, addr)
		}
	}
	ep.bound = nil
	for _, peer := range ep.peers {
		peer.dropPeerLocked(ep)
	}
	ep.peers = nil
	ep.queue = nil
}

func (ep *Endpoint) dropPeerLocked(gone *Endpoint) {
	for i, p := range ep.peers {
		if p == gone {
			ep.peers = append(ep.peers[:i], ep.peers[i+1:]...)
			return
		}
	}
}

func linkLocked(a, b *Endpoint) {
	for _, p := range a.peers {
		if p == b {
			return
		}
	}
	a.peers = append(a.peers, b)
	b.peers = append(b.peers, a)
}

func unlinkLocked(a, b *Endpoint) {
	a.dropPeerLocked(b)
	b.dropPeerLocked(a)
}

// Send transmits a single-frame message.
func (ep *Endpoint) Send(data []byte) error {
	return ep.SendMultipart([][]byte{data})
}

// SendMultipart routes one message to this endpoint's peers. Pub
// endpoints fan out to every subscriber whose filter matches the first
// frame, dropping the message for subscribers whose queue is full.
// Every other pattern delivers to exactly one peer, round-robin, and
// reports a would-block error when no peer can take the message; the
// caller is expected to have checked writability through the poller.
func (ep *Endpoint) SendMultipart(frames [][]byte) error {
	tr := ep.tr
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if ep.closed || tr.closed {
		return transport.ErrClosed
	}
	msg := cloneFrames(frames)

	if ep.typ == transport.Pub {
		for _, peer := range ep.peers {
			if peer.closed || !peer.accepts(msg) {
				continue
			}
			if len(peer.queue) < ep.capacityTo(peer) {
				peer.queue = append(peer.queue, msg)
			}
		}
		tr.notifyLocked()
		return nil
	}

	n := len(ep.peers)
	for i := 0; i < n; i++ {
		peer := ep.peers[(ep.rr+i)%n]
		if peer.closed || !peer.accepts(msg) {
			continue
		}
		if len(peer.queue) < ep.capacityTo(peer) {
			peer.queue = append(peer.queue, msg)
			ep.rr = (ep.rr + i + 1) % n
			tr.notifyLocked()
			return nil
		}
	}
	return fmt.Errorf("inproc: send on %s endpoint would block", ep.typ)
}

// accepts applies subscription filtering. Only Sub endpoints filter;
// a Sub endpoint with no filter set receives nothing.
func (ep *Endpoint) accepts(msg [][]byte) bool {
	if ep.typ != transport.Sub {
		return true
	}
	if len(msg) == 0 {
		return false
	}
	for _, f := range ep.filters {
		if bytes.HasPrefix(msg[0], f) {
			return true
		}
	}
	return false
}

// Recv blocks until a message arrives and returns its first frame.
func (ep *Endpoint) Recv() ([]byte, error) {
	msg, err := ep.RecvMultipart()
	if err != nil {
		return nil, err
	}
	if len(msg) == 0 {
		return nil, nil
	}
	return msg[0], nil
}

// RecvMultipart blocks until a message arrives or the endpoint closes.
func (ep *Endpoint) RecvMultipart() ([][]byte, error) {
	tr := ep.tr
	tr.mu.Lock()
	for {
		if len(ep.queue) > 0 {
			msg := ep.queue[0]
			ep.queue = ep.queue[1:]
			tr.mu.Unlock()
			return msg, nil
		}
		if ep.closed || tr.closed {
			tr.mu.Unlock()
			return nil, transport.ErrClosed
		}
		ch := tr.addWaiter()
		tr.mu.Unlock()
		<-ch
		tr.mu.Lock()
	}
}

// SetOption implements the subset of options the in-process transport
// understands. Unknown options are an error so that misuse shows up in
// tests rather than silently doing nothing.
func (ep *Endpoint) SetOption(opt transport.Option, value any) error {
	tr := ep.tr
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if ep.closed {
		return transport.ErrClosed
	}
	switch opt {
	case transport.OptSubscribe:
		filter, err := bytesValue(value)
		if err != nil {
			return err
		}
		for _, f := range ep.filters {
			if bytes.Equal(f, filter) {
				return nil
			}
		}
		ep.filters = append(ep.filters, filter)
		tr.notifyLocked()
	case transport.OptUnsubscribe:
		filter, err := bytesValue(value)
		if err != nil {
			return err
		}
		for i, f := range ep.filters {
			if bytes.Equal(f, filter) {
				ep.filters = append(ep.filters[:i], ep.filters[i+1:]...)
				break
			}
		}
	case transport.OptIdentity:
		id, err := bytesValue(value)
		if err != nil {
			return err
		}
		ep.identity = id
	case transport.OptRecvHWM:
		hwm, ok := value.(int)
		if !ok || hwm <= 0 {
			return fmt.Errorf("inproc: recv high-water mark must be a positive int, got %v", value)
		}
		ep.recvHWM = hwm
	case transport.OptSendHWM:
		hwm, ok := value.(int)
		if !ok || hwm <= 0 {
			return fmt.Errorf("inproc: send high-water mark must be a positive int, got %v", value)
		}
		ep.sendHWM = hwm
	case transport.OptLinger:
		// Nothing queues past Close in this transport.
	default:
		return fmt.Errorf("inproc: unsupported option %d", opt)
	}
	return nil
}

func bytesValue(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("inproc: option value must be string or []byte, got %T", value)
	}
}

func cloneFrames(frames [][]byte) [][]byte {
	msg := make([][]byte, len(frames))
	for i, f := range frames {
		msg[i] = append([]byte(nil), f...)
	}
	return msg
}

// readyLocked computes the readiness mask currently satisfied by ep.
func (ep *Endpoint) readyLocked() transport.Mask {
	var got transport.Mask
	if ep.closed {
		return got
	}
	if len(ep.queue) > 0 {
		got |= transport.PollIn
	}
	if ep.writableLocked() {
		got |= transport.PollOut
	}
	return got
}

func (ep *Endpoint) writableLocked() bool {
	if ep.typ == transport.Pub {
		// Pub drops on slow subscribers instead of blocking.
		return true
	}
	for _, peer := range ep.peers {
		if !peer.closed && len(peer.queue) < ep.capacityTo(peer) {
			return true
		}
	}
	return false
}

// capacityTo bounds how deep a peer's queue may grow for messages from
// this endpoint: the lower of the sender's send high-water mark and the
// receiver's recv high-water mark.
func (ep *Endpoint) capacityTo(peer *Endpoint) int {
	if ep.sendHWM < peer.recvHWM {
		return ep.sendHWM
	}
	return peer.recvHWM
}

type registration struct {
	ep       *Endpoint
	interest transport.Mask
}

type poller struct {
	tr   *Transport
	regs []registration
}

func (p *poller) Add(ep transport.Endpoint, interest transport.Mask) error {
	own, ok := ep.(*Endpoint)
	if !ok || own.tr != p.tr {
		return fmt.Errorf("inproc: cannot poll a foreign endpoint (%T)", ep)
	}
	for _, reg := range p.regs {
		if reg.ep == own {
			return fmt.Errorf("inproc: endpoint already registered with poller")
		}
	}
	p.regs = append(p.regs, registration{ep: own, interest: interest})
	return nil
}

func (p *poller) Remove(ep transport.Endpoint) error {
	for i, reg := range p.regs {
		if transport.Endpoint(reg.ep) == ep {
			p.regs = append(p.regs[:i], p.regs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Poll samples readiness across every registration, waiting up to
// timeout for at least one endpoint to become ready. Results come back
// in registration order.
func (p *poller) Poll(timeout time.Duration) ([]transport.Polled, error) {
	deadline := time.Now().Add(timeout)
	for {
		p.tr.mu.Lock()
		if p.tr.closed {
			p.tr.mu.Unlock()
			return nil, transport.ErrClosed
		}
		var ready []transport.Polled
		for _, reg := range p.regs {
			if got := reg.ep.readyLocked() & reg.interest; got != 0 {
				ready = append(ready, transport.Polled{Endpoint: reg.ep, Events: got})
			}
		}
		if len(ready) > 0 || timeout == 0 {
			p.tr.mu.Unlock()
			return ready, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.tr.mu.Unlock()
			return nil, nil
		}
		ch := p.tr.addWaiter()
		p.tr.mu.Unlock()

		select {
		case <-ch:
		case <-time.After(remaining):
			p.tr.mu.Lock()
			p.tr.dropWaiter(ch)
			p.tr.mu.Unlock()
		}
	}
}
