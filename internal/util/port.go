package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// ValidatePort checks if port is in valid range (1-65535).
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("port %d out of range (must be %d-%d)", port, MinPort, MaxPort)
	}
	return nil
}

// ParsePort converts a Port directive value and validates its range.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if err := ValidatePort(p); err != nil {
		return 0, err
	}
	return p, nil
}

// HostPort joins host and port, bracketing IPv6 literals.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
