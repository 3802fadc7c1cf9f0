// Package sshtest runs an in-process SSH server on loopback for tests.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Result is what a Handler produces for one exec request.
type Result struct {
	Stdout string
	Stderr string
	Status uint32
}

// Handler answers an exec request.
type Handler func(cmd string, env map[string]string) Result

// Config configures a Server. At least one of Password and AuthorizedKey
// should be set.
type Config struct {
	User          string
	Password      string
	AuthorizedKey ssh.PublicKey
	Handler       Handler
	// Sftp enables the sftp subsystem, served from the local filesystem.
	Sftp bool
}

// Server is a running test server.
type Server struct {
	Host    string
	Port    int
	HostKey ssh.PublicKey

	cfg Config
	ln  net.Listener

	mu       sync.Mutex
	commands []string
}

// NewServer starts a server and stops it when the test ends.
func NewServer(t testing.TB, cfg Config) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("sshtest: generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("sshtest: host signer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("sshtest: listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	s := &Server{Host: addr.IP.String(), Port: addr.Port, HostKey: signer.PublicKey(), cfg: cfg, ln: ln}

	sc := &ssh.ServerConfig{}
	if cfg.Password != "" {
		sc.PasswordCallback = s.checkPassword
	}
	if cfg.AuthorizedKey != nil {
		sc.PublicKeyCallback = s.checkKey
	}
	sc.AddHostKey(signer)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serveConn(conn, sc)
		}
	}()
	return s
}

// Commands returns the exec commands received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) checkUser(meta ssh.ConnMetadata) error {
	if s.cfg.User != "" && meta.User() != s.cfg.User {
		return fmt.Errorf("unknown user %q", meta.User())
	}
	return nil
}

func (s *Server) checkPassword(meta ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
	if err := s.checkUser(meta); err != nil {
		return nil, err
	}
	if string(pw) != s.cfg.Password {
		return nil, errors.New("bad password")
	}
	return nil, nil
}

func (s *Server) checkKey(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	if err := s.checkUser(meta); err != nil {
		return nil, err
	}
	if string(key.Marshal()) != string(s.cfg.AuthorizedKey.Marshal()) {
		return nil, errors.New("key not authorized")
	}
	return nil, nil
}

func (s *Server) serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, chReqs)
	}
}

func (s *Server) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	env := map[string]string{}
	for req := range reqs {
		switch req.Type {
		case "env":
			var kv struct{ Name, Value string }
			if err := ssh.Unmarshal(req.Payload, &kv); err == nil {
				env[kv.Name] = kv.Value
			}
			_ = req.Reply(true, nil)
		case "pty-req":
			_ = req.Reply(true, nil)
		case "exec":
			var msg struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &msg)
			_ = req.Reply(true, nil)
			s.mu.Lock()
			s.commands = append(s.commands, msg.Command)
			s.mu.Unlock()
			res := Result{}
			if s.cfg.Handler != nil {
				res = s.cfg.Handler(msg.Command, env)
			}
			_, _ = io.WriteString(ch, res.Stdout)
			_, _ = io.WriteString(ch.Stderr(), res.Stderr)
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{res.Status}))
			return
		case "subsystem":
			var msg struct{ Name string }
			_ = ssh.Unmarshal(req.Payload, &msg)
			if msg.Name != "sftp" || !s.cfg.Sftp {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			srv, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = srv.Serve()
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

const statusSuffix = `;echo -ne "[return_code:$?]"`

// Shell wraps fn like a POSIX shell would run a command followed by an echo
// of its status: fn sees the command without that echo and the status is
// appended to stdout.
func Shell(fn Handler) Handler {
	return func(cmd string, env map[string]string) Result {
		base, echo := strings.CutSuffix(cmd, statusSuffix)
		res := fn(base, env)
		if echo {
			res.Stdout += fmt.Sprintf("[return_code:%d]", res.Status)
			res.Status = 0
		}
		return res
	}
}
