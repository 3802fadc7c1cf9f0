package sshclient

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func hostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	k, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return k
}

func TestParseHostKeyPolicy(t *testing.T) {
	tests := map[string]HostKeyPolicy{
		"":           HostKeyStrict,
		"strict":     HostKeyStrict,
		"Accept-New": HostKeyAcceptNew,
		"insecure":   HostKeyInsecure,
	}
	for in, want := range tests {
		got, err := ParseHostKeyPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseHostKeyPolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseHostKeyPolicy("yolo"); err == nil {
		t.Errorf("ParseHostKeyPolicy(yolo) succeeded")
	}
}

func TestHostKeyAcceptNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssh", "known_hosts")
	remote := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 22}
	key := hostKey(t)

	cb, err := NewHostKeyCallback(HostKeyAcceptNew, path)
	if err != nil {
		t.Fatalf("NewHostKeyCallback() error = %v", err)
	}
	if err := cb("example.com:22", remote, key); err != nil {
		t.Fatalf("first connect rejected: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read known_hosts: %v", err)
	}
	if !strings.HasPrefix(string(data), "example.com ssh-ed25519 ") {
		t.Fatalf("known_hosts = %q", data)
	}

	cb, err = NewHostKeyCallback(HostKeyAcceptNew, path)
	if err != nil {
		t.Fatalf("NewHostKeyCallback() reload error = %v", err)
	}
	if err := cb("example.com:22", remote, key); err != nil {
		t.Fatalf("known key rejected: %v", err)
	}
	if err := cb("example.com:22", remote, hostKey(t)); err == nil || !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("changed key error = %v, want mismatch", err)
	}
}

func TestHostKeyStrictRequiresFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")
	if _, err := NewHostKeyCallback(HostKeyStrict, path); err == nil {
		t.Fatalf("strict policy accepted a missing known_hosts file")
	}
}

func TestHostKeyStrictRejectsUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	cb, err := NewHostKeyCallback(HostKeyStrict, path)
	if err != nil {
		t.Fatalf("NewHostKeyCallback() error = %v", err)
	}
	remote := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 22}
	if err := cb("example.com:22", remote, hostKey(t)); err == nil {
		t.Fatalf("strict policy accepted unknown host")
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Fatalf("strict policy touched the lock file")
	}
}

func TestHostKeyInsecure(t *testing.T) {
	cb, err := NewHostKeyCallback(HostKeyInsecure, "")
	if err != nil {
		t.Fatalf("NewHostKeyCallback() error = %v", err)
	}
	if err := cb("anything:22", &net.TCPAddr{}, hostKey(t)); err != nil {
		t.Fatalf("insecure policy rejected key: %v", err)
	}
}
