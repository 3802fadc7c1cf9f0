package sshclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/treykane/sshexec/internal/auth"
)

// State is where a Session is in its connection lifecycle.
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Subsystem names accepted by Session.Subsystem.
const (
	SubsystemExec      = "exec"
	SubsystemSftp      = "sftp"
	SubsystemPublickey = "publickey"
)

// Subsystem is a channel-level feature layered on a Session's transport.
type Subsystem interface {
	Name() string
	SessionResource(ctx context.Context) (Resource, error)
}

// Session owns one transport connection to one host. The connection is made
// on first use and authenticated as soon as an authentication is known.
type Session struct {
	config        Configuration
	connector     Connector
	authenticator Authenticator
	log           *slog.Logger

	mu       sync.Mutex
	spec     auth.Spec
	resource Resource
	state    State

	exec      *Exec
	sftp      *Sftp
	publickey *Publickey

	// active is held by a subsystem while it drives a channel.
	active sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithConnector replaces the default TCP connector.
func WithConnector(c Connector) Option {
	return func(s *Session) { s.connector = c }
}

// WithAuthenticator replaces the default SSH handshake.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Session) { s.authenticator = a }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// NewSession returns an unconnected Session. spec may be nil and set later
// with SetAuthentication.
func NewSession(cfg Configuration, spec auth.Spec, opts ...Option) *Session {
	s := &Session{
		config:        cfg,
		spec:          spec,
		connector:     Dialer{},
		authenticator: Handshake{Passphrase: cfg.Options.Passphrase},
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configuration returns the connection configuration.
func (s *Session) Configuration() Configuration {
	return s.config
}

// Authentication returns the current authentication, or nil.
func (s *Session) Authentication() auth.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Resource returns the transport resource, connecting on first call. When an
// authentication is set it is applied immediately after connecting; if that
// fails the resource is closed and the Session stays unconnected.
func (s *Session) Resource(ctx context.Context) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resource != nil {
		return s.resource, nil
	}

	addr := s.config.Addr()
	res, err := s.connector.Connect(ctx, s.config.Host, s.config.Port, s.config.Options)
	if err == nil && res == nil {
		err = errors.New("connector returned no resource")
	}
	if err != nil {
		s.log.Debug("connect failed", "addr", addr, "error", err)
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	s.resource = res
	s.state = StateConnected
	s.log.Debug("connected", "addr", addr)

	if s.spec == nil {
		return res, nil
	}
	if err := s.authenticate(ctx); err != nil {
		_ = res.Close()
		s.resource = nil
		s.state = StateUnconnected
		return nil, err
	}
	return res, nil
}

// SetAuthentication replaces the authentication. On a connected Session the
// new credentials are applied right away. Re-authenticating replaces the
// underlying client, so channels held by the sftp and publickey subsystems
// are dropped and reopened on next use.
func (s *Session) SetAuthentication(ctx context.Context, spec auth.Spec) error {
	s.mu.Lock()
	s.spec = spec
	if s.resource == nil || spec == nil {
		s.mu.Unlock()
		return nil
	}
	err := s.authenticate(ctx)
	stale := s.channelSubsystems()
	s.mu.Unlock()

	for _, sub := range stale {
		_ = sub.Close()
	}
	return err
}

// authenticate must be called with s.mu held and a live resource.
func (s *Session) authenticate(ctx context.Context) error {
	err := s.authenticator.Authenticate(ctx, s.resource, s.spec)
	if err != nil {
		s.state = StateConnected
		s.log.Debug("authentication failed", "addr", s.config.Addr(), "user", s.spec.Username(), "method", s.spec.Kind(), "error", err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	s.state = StateAuthenticated
	s.log.Debug("authenticated", "addr", s.config.Addr(), "user", s.spec.Username(), "method", s.spec.Kind())
	return nil
}

// Subsystem returns the named subsystem, creating it on first use.
func (s *Session) Subsystem(name string) (Subsystem, error) {
	switch name {
	case SubsystemExec:
		return s.Exec(), nil
	case SubsystemSftp:
		return s.Sftp(), nil
	case SubsystemPublickey:
		return s.Publickey(), nil
	default:
		return nil, &InvalidArgumentError{Msg: fmt.Sprintf("the subsystem '%s' is not supported", name)}
	}
}

// Exec returns the session's exec subsystem.
func (s *Session) Exec() *Exec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exec == nil {
		s.exec = &Exec{holder: holder{session: s}}
	}
	return s.exec
}

// Sftp returns the session's sftp subsystem.
func (s *Session) Sftp() *Sftp {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftp == nil {
		s.sftp = &Sftp{holder: holder{session: s}}
	}
	return s.sftp
}

// Publickey returns the session's publickey subsystem.
func (s *Session) Publickey() *Publickey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publickey == nil {
		s.publickey = &Publickey{holder: holder{session: s}}
	}
	return s.publickey
}

// Close closes subsystem channels and the transport. The Session can be
// reused; the next Resource call reconnects.
func (s *Session) Close() error {
	s.mu.Lock()
	subs := s.channelSubsystems()
	if s.exec != nil {
		subs = append(subs, s.exec)
	}
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resource != nil {
		if err := s.resource.Close(); err != nil {
			errs = append(errs, err)
		}
		s.resource = nil
	}
	s.state = StateUnconnected
	return errors.Join(errs...)
}

// channelSubsystems returns the created subsystems that keep a channel open
// across calls. Must be called with s.mu held.
func (s *Session) channelSubsystems() []interface{ Close() error } {
	var subs []interface{ Close() error }
	if s.sftp != nil {
		subs = append(subs, s.sftp)
	}
	if s.publickey != nil {
		subs = append(subs, s.publickey)
	}
	return subs
}
