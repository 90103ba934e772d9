// Package zeromq adapts ZeroMQ (through github.com/pebbe/zmq4) to the
// transport contract. The mapping is deliberately one to one: ZeroMQ
// already provides non-blocking sockets, multipart framing, topic
// subscription and a poller, so every method here is a translation,
// not a reimplementation.
package zeromq

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/gabrielfalcao/agentzero/transport"
)

var socketTypes = map[transport.Type]zmq.Type{
	transport.Pair:   zmq.PAIR,
	transport.Pub:    zmq.PUB,
	transport.Sub:    zmq.SUB,
	transport.Req:    zmq.REQ,
	transport.Rep:    zmq.REP,
	transport.Dealer: zmq.DEALER,
	transport.Router: zmq.ROUTER,
	transport.Pull:   zmq.PULL,
	transport.Push:   zmq.PUSH,
}

// Transport wraps one ZeroMQ context.
type Transport struct {
	ctx *zmq.Context
}

// New creates a transport backed by a fresh ZeroMQ context.
func New() (*Transport, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("zeromq: creating context: %w", err)
	}
	return &Transport{ctx: ctx}, nil
}

// NewEndpoint creates a ZeroMQ socket of the given pattern.
func (tr *Transport) NewEndpoint(t transport.Type) (transport.Endpoint, error) {
	zt, ok := socketTypes[t]
	if !ok {
		return nil, fmt.Errorf("zeromq: unsupported socket type %s", t)
	}
	sock, err := tr.ctx.NewSocket(zt)
	if err != nil {
		return nil, fmt.Errorf("zeromq: creating %s socket: %w", t, err)
	}
	return &Endpoint{sock: sock}, nil
}

// NewPoller returns a poller over ZeroMQ sockets.
func (tr *Transport) NewPoller() transport.Poller {
	return &poller{poller: zmq.NewPoller()}
}

// Close terminates the ZeroMQ context. Sockets that were not closed
// beforehand keep the termination pending until they are.
func (tr *Transport) Close() error {
	return tr.ctx.Term()
}

// Endpoint wraps one ZeroMQ socket.
type Endpoint struct {
	sock *zmq.Socket
}

func (ep *Endpoint) Bind(address string) error       { return ep.sock.Bind(address) }
func (ep *Endpoint) Connect(address string) error    { return ep.sock.Connect(address) }
func (ep *Endpoint) Disconnect(address string) error { return ep.sock.Disconnect(address) }
func (ep *Endpoint) Close() error                    { return ep.sock.Close() }

// BindToRandomPort binds to an OS-assigned ephemeral port and reports
// which one the kernel picked, read back from the socket's last
// endpoint.
func (ep *Endpoint) BindToRandomPort(localAddress string) (int, error) {
	if err := ep.sock.Bind(localAddress + ":*"); err != nil {
		return 0, err
	}
	last, err := ep.sock.GetLastEndpoint()
	if err != nil {
		return 0, err
	}
	idx := strings.LastIndex(last, ":")
	if idx < 0 {
		return 0, fmt.Errorf("zeromq: endpoint %q carries no port", last)
	}
	port, err := strconv.Atoi(last[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("zeromq: endpoint %q carries no port: %w", last, err)
	}
	return port, nil
}

func (ep *Endpoint) Send(data []byte) error {
	_, err := ep.sock.SendBytes(data, 0)
	return err
}

func (ep *Endpoint) SendMultipart(frames [][]byte) error {
	parts := make([]interface{}, len(frames))
	for i, f := range frames {
		parts[i] = f
	}
	_, err := ep.sock.SendMessage(parts...)
	return err
}

func (ep *Endpoint) Recv() ([]byte, error) {
	return ep.sock.RecvBytes(0)
}

func (ep *Endpoint) RecvMultipart() ([][]byte, error) {
	return ep.sock.RecvMessageBytes(0)
}

// SetOption translates the portable option set onto libzmq socket
// options.
func (ep *Endpoint) SetOption(opt transport.Option, value any) error {
	switch opt {
	case transport.OptSubscribe:
		s, err := stringValue(value)
		if err != nil {
			return err
		}
		return ep.sock.SetSubscribe(s)
	case transport.OptUnsubscribe:
		s, err := stringValue(value)
		if err != nil {
			return err
		}
		return ep.sock.SetUnsubscribe(s)
	case transport.OptIdentity:
		s, err := stringValue(value)
		if err != nil {
			return err
		}
		return ep.sock.SetIdentity(s)
	case transport.OptLinger:
		d, ok := value.(time.Duration)
		if !ok {
			return fmt.Errorf("zeromq: linger expects a time.Duration, got %T", value)
		}
		return ep.sock.SetLinger(d)
	case transport.OptSendHWM:
		hwm, ok := value.(int)
		if !ok {
			return fmt.Errorf("zeromq: send high-water mark expects an int, got %T", value)
		}
		return ep.sock.SetSndhwm(hwm)
	case transport.OptRecvHWM:
		hwm, ok := value.(int)
		if !ok {
			return fmt.Errorf("zeromq: recv high-water mark expects an int, got %T", value)
		}
		return ep.sock.SetRcvhwm(hwm)
	}
	return fmt.Errorf("zeromq: unsupported option %d", opt)
}

func stringValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("zeromq: option value must be string or []byte, got %T", value)
	}
}

type poller struct {
	poller    *zmq.Poller
	endpoints []*Endpoint
}

func (p *poller) Add(ep transport.Endpoint, interest transport.Mask) error {
	own, ok := ep.(*Endpoint)
	if !ok {
		return fmt.Errorf("zeromq: cannot poll a foreign endpoint (%T)", ep)
	}
	for _, known := range p.endpoints {
		if known == own {
			return fmt.Errorf("zeromq: endpoint already registered with poller")
		}
	}
	p.poller.Add(own.sock, state(interest))
	p.endpoints = append(p.endpoints, own)
	return nil
}

func (p *poller) Remove(ep transport.Endpoint) error {
	own, ok := ep.(*Endpoint)
	if !ok {
		return nil
	}
	for i, known := range p.endpoints {
		if known == own {
			p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
			return p.poller.RemoveBySocket(own.sock)
		}
	}
	return nil
}

func (p *poller) Poll(timeout time.Duration) ([]transport.Polled, error) {
	polled, err := p.poller.Poll(timeout)
	if err != nil {
		return nil, err
	}
	ready := make([]transport.Polled, 0, len(polled))
	for _, item := range polled {
		ep := p.lookup(item.Socket)
		if ep == nil {
			continue
		}
		ready = append(ready, transport.Polled{Endpoint: ep, Events: mask(item.Events)})
	}
	return ready, nil
}

func (p *poller) lookup(sock *zmq.Socket) *Endpoint {
	for _, ep := range p.endpoints {
		if ep.sock == sock {
			return ep
		}
	}
	return nil
}

func state(m transport.Mask) zmq.State {
	var s zmq.State
	if m.Has(transport.PollIn) {
		s |= zmq.POLLIN
	}
	if m.Has(transport.PollOut) {
		s |= zmq.POLLOUT
	}
	return s
}

func mask(s zmq.State) transport.Mask {
	var m transport.Mask
	if s&zmq.POLLIN != 0 {
		m |= transport.PollIn
	}
	if s&zmq.POLLOUT != 0 {
		m |= transport.PollOut
	}
	return m
}
