// Package transport defines the contract between the socket manager and
// the messaging layer underneath it: addressable endpoints that can
// bind, connect, send and receive without blocking, plus a poller that
// reports which endpoints are ready for I/O.
//
// Two implementations ship with this module: transport/inproc, a
// channel-backed transport for tests and single-process wiring, and
// transport/zeromq, a thin adapter over ZeroMQ.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mask describes which readiness conditions are of interest for an
// endpoint, or which conditions a poll call found satisfied.
type Mask uint8

const (
	// PollIn means the endpoint has at least one message to receive.
	PollIn Mask = 1 << iota
	// PollOut means the endpoint can accept a send without blocking.
	PollOut
)

// Has reports whether every bit of want is set in m.
func (m Mask) Has(want Mask) bool {
	return m&want == want
}

func (m Mask) String() string {
	switch {
	case m.Has(PollIn | PollOut):
		return "pollin|pollout"
	case m.Has(PollIn):
		return "pollin"
	case m.Has(PollOut):
		return "pollout"
	}
	return "none"
}

// Type identifies the messaging pattern an endpoint participates in.
type Type int

const (
	Pair Type = iota
	Pub
	Sub
	Req
	Rep
	Dealer
	Router
	Pull
	Push
)

var typeNames = map[Type]string{
	Pair:   "pair",
	Pub:    "pub",
	Sub:    "sub",
	Req:    "req",
	Rep:    "rep",
	Dealer: "dealer",
	Router: "router",
	Pull:   "pull",
	Push:   "push",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType maps a case-insensitive pattern name ("pub", "ROUTER", ...)
// to its Type. It is used by the command-line launcher to translate
// process arguments.
func ParseType(name string) (Type, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for t, known := range typeNames {
		if known == needle {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown socket type %q", name)
}

// Option identifies a tunable endpoint setting.
type Option int

const (
	// OptSubscribe establishes a topic prefix filter on a Sub endpoint.
	OptSubscribe Option = iota
	// OptUnsubscribe removes a previously established filter.
	OptUnsubscribe
	// OptIdentity sets the endpoint's identity token.
	OptIdentity
	// OptLinger sets how long a closed endpoint keeps draining.
	OptLinger
	// OptSendHWM sets the outbound high-water mark.
	OptSendHWM
	// OptRecvHWM sets the inbound high-water mark.
	OptRecvHWM
)

// ErrClosed is returned by endpoint operations after Close, and by
// transports after the whole transport has been shut down.
var ErrClosed = errors.New("transport: closed")

// Endpoint is a single addressable messaging object. Implementations
// own whatever OS or in-memory resources back it; callers must not
// share one endpoint across goroutines without external coordination.
type Endpoint interface {
	Bind(address string) error
	Connect(address string) error
	Disconnect(address string) error
	Close() error

	// BindToRandomPort binds to an ephemeral port under the given
	// local address (e.g. "tcp://0.0.0.0") and returns the port.
	BindToRandomPort(localAddress string) (int, error)

	Send(data []byte) error
	SendMultipart(frames [][]byte) error
	Recv() ([]byte, error)
	RecvMultipart() ([][]byte, error)

	SetOption(opt Option, value any) error
}

// Polled is one entry of a readiness snapshot: an endpoint together
// with the readiness conditions it currently satisfies.
type Polled struct {
	Endpoint Endpoint
	Events   Mask
}

// Poller multiplexes readiness over a set of registered endpoints.
// Registrations are ordered; Poll reports ready endpoints in
// registration order.
type Poller interface {
	// Add registers an endpoint with an interest mask. Adding an
	// endpoint twice is an error; de-duplication is the caller's job.
	Add(ep Endpoint, interest Mask) error

	// Remove drops an endpoint from the interest set. Removing an
	// endpoint that was never added is not an error.
	Remove(ep Endpoint) error

	// Poll waits up to timeout for any registered endpoint to become
	// ready and returns the subset that is. A zero timeout performs a
	// non-blocking check.
	Poll(timeout time.Duration) ([]Polled, error)
}

// Transport creates endpoints and pollers that share one messaging
// context. All endpoints created by a manager come from one Transport.
type Transport interface {
	NewEndpoint(t Type) (Endpoint, error)
	NewPoller() Poller
	Close() error
}
