package agentzero

import (
	"log/slog"
	"time"

	"github.com/gabrielfalcao/agentzero/serializers"
)

// Defaults applied by New when the corresponding option is absent.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultPollingTimeout = 10 * time.Second
)

// Option configures a SocketManager at construction time.
type Option func(*SocketManager)

// WithSerializer replaces the payload codec used by the safe I/O
// façade. The default is serializers.JSON.
func WithSerializer(s serializers.Serializer) Option {
	return func(m *SocketManager) { m.serializer = s }
}

// WithTimeout sets the default overall budget for wait operations.
func WithTimeout(d time.Duration) Option {
	return func(m *SocketManager) { m.timeout = d }
}

// WithPollingTimeout sets the default duration of each individual poll
// attempt inside a wait loop.
func WithPollingTimeout(d time.Duration) Option {
	return func(m *SocketManager) { m.pollingTimeout = d }
}

// WithYield replaces the hook invoked between poll attempts. The
// readiness engine calls it after every poll so other tasks sharing
// the scheduler get a turn; tests substitute it to count iterations.
func WithYield(yield func()) Option {
	return func(m *SocketManager) { m.yield = yield }
}

// WithLogger routes the manager's own diagnostics (teardown failures,
// subscription loop exits) through the given logger instead of
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *SocketManager) { m.logger = logger }
}

// waitConfig carries the per-call overrides accepted by the safe I/O
// façade and WaitUntilReady convenience wrappers.
type waitConfig struct {
	timeout        time.Duration
	pollingTimeout time.Duration
}

// WaitOption overrides wait-loop timing for a single safe operation.
type WaitOption func(*waitConfig)

// WithWaitTimeout caps how long one safe operation may wait overall.
func WithWaitTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.timeout = d }
}

// WithWaitPollingTimeout sets the per-attempt poll duration for one
// safe operation.
func WithWaitPollingTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.pollingTimeout = d }
}

func (m *SocketManager) waitConfig(opts []WaitOption) waitConfig {
	cfg := waitConfig{timeout: m.timeout, pollingTimeout: m.pollingTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
