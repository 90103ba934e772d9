// Package netutil holds small host and address helpers used by the
// command-line launcher and by tests: free-port discovery, hostname
// resolution, and normalization of tcp:// transport addresses.
package netutil

import (
	"fmt"
	"net"
	"os"
	"regexp"
)

var tcpAddress = regexp.MustCompile(`^tcp://([^:]+):(\d+)`)

// FreeTCPPort returns a TCP port that is currently free on the host.
// The port is released before returning, so a racing process could
// still grab it; callers use it for test fixtures and default
// bind addresses, not for guarantees.
func FreeTCPPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}

// Hostname returns the local hostname, or "localhost" when the OS
// refuses to say.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}

// ResolveHostname resolves a hostname to its first address, falling
// back to the input when resolution fails.
func ResolveHostname(hostname string) string {
	if hostname == "" {
		return hostname
	}
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname
	}
	return addrs[0]
}

// ExtractHostname pulls the host part out of a tcp://host:port
// address. It returns "" for anything not in that shape.
func ExtractHostname(address string) string {
	found := tcpAddress.FindStringSubmatch(address)
	if found == nil {
		return ""
	}
	return found[1]
}

// FixTCPAddress rewrites the host part of a tcp://host:port address
// with its resolved form, leaving any other address untouched.
func FixTCPAddress(address string) string {
	hostname := ExtractHostname(address)
	if hostname == "" {
		return address
	}
	resolved := ResolveHostname(hostname)
	return tcpAddress.ReplaceAllString(address, fmt.Sprintf("tcp://%s:$2", resolved))
}

// DefaultBindAddress composes hostname:freeport for processes that
// want a routable default to bind on.
func DefaultBindAddress() (string, error) {
	port, err := FreeTCPPort()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", Hostname(), port), nil
}

// PublicAddress returns a resolved tcp:// address built from
// DefaultBindAddress.
func PublicAddress() (string, error) {
	hostport, err := DefaultBindAddress()
	if err != nil {
		return "", err
	}
	return FixTCPAddress("tcp://" + hostport), nil
}
