package agentzero

import (
	"time"

	"github.com/gabrielfalcao/agentzero/transport"
)

// Snapshot is the result of one poll call: the registered endpoints
// that were ready at that instant, in registration order, each with
// the readiness conditions it satisfied. A snapshot is only valid for
// the moment it was produced; every poll recomputes it from scratch.
type Snapshot []transport.Polled

// Mask looks up the readiness mask the snapshot recorded for ep.
func (s Snapshot) Mask(ep transport.Endpoint) (transport.Mask, bool) {
	for _, polled := range s {
		if polled.Endpoint == ep {
			return polled.Events, true
		}
	}
	return 0, false
}

// Engage polls every registered endpoint with the given timeout and
// returns the resulting readiness snapshot. A zero timeout performs a
// non-blocking check; a negative timeout uses the manager's default
// polling timeout.
func (m *SocketManager) Engage(timeout time.Duration) (Snapshot, error) {
	if timeout < 0 {
		timeout = m.pollingTimeout
	}
	polled, err := m.poller.Poll(timeout)
	if err != nil {
		return nil, err
	}
	return Snapshot(polled), nil
}

// Ready polls once with the given timeout and returns the named
// endpoint if the snapshot shows it satisfying every condition in
// interest. A nil endpoint with a nil error means "not ready yet",
// the normal case rather than a fault.
//
// The readiness comparison is containment (got&interest == interest)
// rather than strict equality, so an endpoint that is simultaneously
// readable and writable still counts as read-ready.
func (m *SocketManager) Ready(name string, interest transport.Mask, timeout time.Duration) (transport.Endpoint, error) {
	ep, err := m.GetByName(name)
	if err != nil {
		return nil, err
	}
	snapshot, err := m.Engage(timeout)
	if err != nil {
		return nil, err
	}
	if got, ok := snapshot.Mask(ep); ok && got.Has(interest) {
		return ep, nil
	}
	return nil, nil
}

// WaitUntilReady repeatedly polls until the named endpoint satisfies
// the interest mask or the wall-clock timeout elapses, yielding to the
// scheduler between attempts. Zero or negative timeouts fall back to
// the manager's defaults.
//
// At least one poll attempt is made even when timeout is smaller than
// pollingTimeout, and the final attempt is not shrunk to fit the
// remaining budget, so the loop runs for up to
// ceil(timeout/pollingTimeout) iterations. A nil endpoint with a nil
// error means the timeout elapsed first.
func (m *SocketManager) WaitUntilReady(name string, interest transport.Mask, timeout, pollingTimeout time.Duration) (transport.Endpoint, error) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	if pollingTimeout <= 0 {
		pollingTimeout = m.pollingTimeout
	}

	start := time.Now()
	for {
		if _, err := m.Engage(pollingTimeout); err != nil {
			return nil, err
		}
		ep, err := m.Ready(name, interest, 0)
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(start)
		if ep != nil {
			return ep, nil
		}
		if elapsed >= timeout {
			return nil, nil
		}
		m.yield()
	}
}
