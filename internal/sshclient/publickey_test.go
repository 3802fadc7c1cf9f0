package sshclient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// keyServer is an in-memory publickey subsystem server.
type keyServer struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func statusBody(code uint32, desc string) []byte {
	return ssh.Marshal(struct {
		Code        uint32
		Description string
		Language    string
	}{code, desc, "en"})
}

func (s *keyServer) serve(r io.Reader, w io.WriteCloser) {
	defer w.Close()
	c := &publickeyConn{r: r, w: w}
	for {
		name, body, err := c.recv()
		if err != nil {
			return
		}
		s.mu.Lock()
		switch name {
		case "version":
			_ = c.send("version", ssh.Marshal(struct{ Version uint32 }{2}))
		case "list":
			for alg, blob := range s.keys {
				pkt := ssh.Marshal(struct {
					Algorithm string
					Blob      []byte
					NumAttrs  uint32
					Name      string
					Value     string
				}{alg, blob, 1, "comment", "test key"})
				_ = c.send("publickey", pkt)
			}
			_ = c.send("status", statusBody(0, "ok"))
		case "add":
			var req struct {
				Algorithm string
				Blob      []byte
				Overwrite bool
				NumAttrs  uint32
				Rest      []byte `ssh:"rest"`
			}
			_ = ssh.Unmarshal(body, &req)
			if _, ok := s.keys[req.Algorithm]; ok && !req.Overwrite {
				_ = c.send("status", statusBody(6, "key already present"))
				break
			}
			s.keys[req.Algorithm] = req.Blob
			_ = c.send("status", statusBody(0, "ok"))
		case "remove":
			var req struct {
				Algorithm string
				Blob      []byte
			}
			_ = ssh.Unmarshal(body, &req)
			if _, ok := s.keys[req.Algorithm]; !ok {
				_ = c.send("status", statusBody(4, "key not found"))
				break
			}
			delete(s.keys, req.Algorithm)
			_ = c.send("status", statusBody(0, "ok"))
		default:
			_ = c.send("status", statusBody(8, "request not supported"))
		}
		s.mu.Unlock()
	}
}

func newTestPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("ssh public key: %v", err)
	}
	return key
}

func newTestPublickey(t *testing.T) *Publickey {
	t.Helper()
	srv := &keyServer{keys: map[string][]byte{}}
	res := &fakeResource{subsystems: map[string]func(io.Reader, io.WriteCloser){SubsystemPublickey: srv.serve}}
	p, err := NewPublickey(res)
	if err != nil {
		t.Fatalf("NewPublickey() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPublickeyVersion(t *testing.T) {
	p := newTestPublickey(t)
	v, err := p.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != 2 {
		t.Fatalf("Version() = %d, want 2", v)
	}
}

func TestPublickeyAddListRemove(t *testing.T) {
	p := newTestPublickey(t)
	ctx := context.Background()
	key := newTestPublicKey(t)

	if err := p.Add(ctx, key, false, KeyAttribute{Name: "comment", Value: "laptop"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	keys, err := p.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("List() returned %d keys, want 1", len(keys))
	}
	if string(keys[0].Key.Marshal()) != string(key.Marshal()) {
		t.Fatalf("listed key differs from added key")
	}
	if len(keys[0].Attributes) != 1 || keys[0].Attributes[0].Value != "test key" {
		t.Fatalf("attributes = %+v", keys[0].Attributes)
	}

	err = p.Add(ctx, key, false)
	var status *PublickeyStatusError
	if !errors.As(err, &status) || status.Code != 6 {
		t.Fatalf("duplicate Add() error = %v, want status 6", err)
	}
	if err := p.Add(ctx, key, true); err != nil {
		t.Fatalf("overwrite Add() error = %v", err)
	}

	if err := p.Remove(ctx, key); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	keys, err = p.List(ctx)
	if err != nil || len(keys) != 0 {
		t.Fatalf("List() after Remove = %v, %v", keys, err)
	}
	if err := p.Remove(ctx, key); !errors.As(err, &status) || status.Code != 4 {
		t.Fatalf("second Remove() error = %v, want status 4", err)
	}
}
