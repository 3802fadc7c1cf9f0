package sshclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy decides what happens to server host keys.
type HostKeyPolicy string

const (
	// HostKeyStrict only accepts hosts already listed in known_hosts.
	HostKeyStrict HostKeyPolicy = "strict"
	// HostKeyAcceptNew records unknown hosts and rejects changed keys.
	HostKeyAcceptNew HostKeyPolicy = "accept-new"
	// HostKeyInsecure accepts any host key.
	HostKeyInsecure HostKeyPolicy = "insecure"
)

// ParseHostKeyPolicy validates a policy name. The empty string is strict.
func ParseHostKeyPolicy(s string) (HostKeyPolicy, error) {
	switch p := HostKeyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return HostKeyStrict, nil
	case HostKeyStrict, HostKeyAcceptNew, HostKeyInsecure:
		return p, nil
	default:
		return "", fmt.Errorf("unknown host key policy %q", s)
	}
}

// DefaultKnownHostsPath returns ~/.ssh/known_hosts.
func DefaultKnownHostsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

// NewHostKeyCallback builds the ssh.HostKeyCallback for policy. An empty path
// means ~/.ssh/known_hosts.
func NewHostKeyCallback(policy HostKeyPolicy, path string) (ssh.HostKeyCallback, error) {
	if policy == HostKeyInsecure {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly configured
	}
	if path == "" {
		path = DefaultKnownHostsPath()
	}
	if path == "" {
		return nil, errors.New("no known_hosts file available")
	}

	if policy != HostKeyAcceptNew {
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
		return cb, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating known_hosts directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("creating known_hosts file: %w", err)
		}
		_ = f.Close()
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := cb(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("host key mismatch for %s: %w", hostname, err)
		}
		if err := appendKnownHost(path, hostname, key); err != nil {
			return err
		}
		slog.Info("added host key", "host", hostname, "file", path)
		return nil
	}, nil
}

// appendKnownHost writes one known_hosts line while holding a file lock so
// concurrent processes do not interleave writes.
func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking known_hosts: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening known_hosts for writing: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("writing to known_hosts: %w", err)
	}
	return nil
}
