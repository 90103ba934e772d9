package agentzero

import (
	"errors"
	"fmt"
)

// ErrSocket is the base kind for every error raised by a
// SocketManager. errors.Is(err, ErrSocket) matches any of the
// specific kinds below.
var ErrSocket = errors.New("socket error")

var (
	// ErrNotFound is raised when an operation references a logical
	// name with no live endpoint behind it.
	ErrNotFound = fmt.Errorf("%w: no such socket", ErrSocket)

	// ErrAlreadyExists is raised by Create when the name is taken.
	ErrAlreadyExists = fmt.Errorf("%w: socket already exists", ErrSocket)

	// ErrBind is raised when an empty address is supplied to Bind or
	// the transport rejects the bind. The transport cause, when there
	// is one, stays reachable through errors.Unwrap.
	ErrBind = fmt.Errorf("%w: bind failed", ErrSocket)

	// ErrConnect is the Connect counterpart of ErrBind.
	ErrConnect = fmt.Errorf("%w: connect failed", ErrSocket)

	// ErrInvalidArgument is raised when an argument fails a type or
	// value contract before any transport call is made.
	ErrInvalidArgument = fmt.Errorf("%w: invalid argument", ErrSocket)
)

func notFoundError(m *SocketManager, name string) error {
	return fmt.Errorf("%s has no socket named %q: %w", m, name, ErrNotFound)
}

func alreadyExistsError(m *SocketManager, name string) error {
	return fmt.Errorf("%s already has a socket named %q: %w", m, name, ErrAlreadyExists)
}

func bindError(name, address string, cause error) error {
	if address == "" {
		return fmt.Errorf("socket %q received an empty address and cannot bind: %w", name, ErrBind)
	}
	return fmt.Errorf("socket %q could not bind to %s: %w: %w", name, address, ErrBind, cause)
}

func connectError(name, address string, cause error) error {
	if address == "" {
		return fmt.Errorf("socket %q received an empty address and cannot connect: %w", name, ErrConnect)
	}
	return fmt.Errorf("socket %q could not connect to %s: %w: %w", name, address, ErrConnect, cause)
}
