package sshclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/net/proxy"

	"github.com/treykane/sshexec/internal/auth"
	"github.com/treykane/sshexec/internal/model"
	"github.com/treykane/sshexec/internal/util"
)

// Options are the extra connection arguments handed to a Connector.
type Options struct {
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	// SocksProxy, when set, is a host:port SOCKS5 proxy the TCP connection
	// is made through.
	SocksProxy     string
	HostKeyPolicy  HostKeyPolicy
	KnownHostsFile string
	// Passphrase is asked for encrypted identity files.
	Passphrase auth.PassphraseFunc
}

// Configuration is where a Session connects to.
type Configuration struct {
	Host    string
	Port    int
	Options Options
}

// NewConfiguration returns a Configuration for host on the default SSH port.
func NewConfiguration(host string) Configuration {
	return Configuration{
		Host:    host,
		Port:    util.DefaultSSHPort,
		Options: Options{DialTimeout: util.DefaultDialTimeout, HostKeyPolicy: HostKeyStrict},
	}
}

// ConfigurationFor builds a Configuration from a resolved host.
func ConfigurationFor(eff model.EffectiveConfig, opts Options) (Configuration, error) {
	port, err := eff.Port()
	if err != nil {
		return Configuration{}, err
	}
	return Configuration{Host: eff.HostName(), Port: port, Options: opts}, nil
}

// Addr returns host:port.
func (c Configuration) Addr() string {
	return util.HostPort(c.Host, c.Port)
}

// Channel is one SSH channel. *ssh.Session satisfies it.
type Channel interface {
	Setenv(name, value string) error
	SendRequest(name string, wantReply bool, payload []byte) (bool, error)
	RequestSubsystem(subsystem string) error
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Start(cmd string) error
	Wait() error
	Close() error
}

// Resource is the transport handle a Session owns.
type Resource interface {
	OpenChannel() (Channel, error)
	Close() error
}

// Connector opens a transport resource. It does not authenticate.
type Connector interface {
	Connect(ctx context.Context, host string, port int, opts Options) (Resource, error)
}

// Authenticator authenticates a transport resource with spec.
type Authenticator interface {
	Authenticate(ctx context.Context, res Resource, spec auth.Spec) error
}

// Conn is the Resource produced by Dialer. Until Handshake succeeds it holds
// only the raw network connection.
type Conn struct {
	addr string
	opts Options
	dial func(ctx context.Context) (net.Conn, error)

	mu     sync.Mutex
	raw    net.Conn
	client *ssh.Client
}

// Client returns the authenticated x/crypto client.
func (c *Conn) Client() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, ErrNotAuthenticated
	}
	return c.client, nil
}

// OpenChannel opens a new session channel.
func (c *Conn) OpenChannel() (Channel, error) {
	client, err := c.Client()
	if err != nil {
		return nil, err
	}
	s, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH session: %w", err)
	}
	return s, nil
}

// Close closes the client, or the raw connection when no handshake happened.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
		c.raw = nil
	}
	if c.raw != nil {
		err = c.raw.Close()
		c.raw = nil
	}
	return err
}

// handshake runs the SSH handshake with spec. A Conn that already completed
// a handshake, or whose last handshake failed, redials first.
func (c *Conn) handshake(ctx context.Context, spec auth.Spec, passphrase auth.PassphraseFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
		c.raw = nil
	}
	if c.raw == nil {
		raw, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.raw = raw
	}
	raw := c.raw

	methods, cleanup, err := auth.Methods(spec, passphrase)
	if err != nil {
		return err
	}
	defer cleanup()

	hostKeyCallback, err := NewHostKeyCallback(c.opts.HostKeyPolicy, c.opts.KnownHostsFile)
	if err != nil {
		return err
	}

	sshConfig := &ssh.ClientConfig{
		User:            spec.Username(),
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.opts.DialTimeout,
	}

	if c.opts.HandshakeTimeout > 0 {
		_ = raw.SetDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	cc, chans, reqs, err := ssh.NewClientConn(raw, c.addr, sshConfig)
	stop()
	if err != nil {
		_ = raw.Close()
		c.raw = nil
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ssh handshake: %w", err)
	}
	if c.opts.HandshakeTimeout > 0 {
		_ = raw.SetDeadline(time.Time{})
	}
	c.client = ssh.NewClient(cc, chans, reqs)
	return nil
}

// Dialer is the default Connector: a TCP connection, optionally through a
// SOCKS5 proxy.
type Dialer struct{}

func (Dialer) Connect(ctx context.Context, host string, port int, opts Options) (Resource, error) {
	addr := util.HostPort(host, port)
	c := &Conn{addr: addr, opts: opts, dial: dialFunc(addr, opts)}
	raw, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.raw = raw
	return c, nil
}

func dialFunc(addr string, opts Options) func(ctx context.Context) (net.Conn, error) {
	direct := &net.Dialer{Timeout: opts.DialTimeout}
	return func(ctx context.Context) (net.Conn, error) {
		if opts.SocksProxy == "" {
			conn, err := direct.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
			}
			return conn, nil
		}
		d, err := proxy.SOCKS5("tcp", opts.SocksProxy, nil, direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", opts.SocksProxy, err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support contexts")
		}
		conn, err := cd.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s via %s: %w", addr, opts.SocksProxy, err)
		}
		return conn, nil
	}
}

// Handshake is the default Authenticator. It only accepts *Conn resources.
type Handshake struct {
	Passphrase auth.PassphraseFunc
}

func (h Handshake) Authenticate(ctx context.Context, res Resource, spec auth.Spec) error {
	c, ok := res.(*Conn)
	if !ok {
		return fmt.Errorf("cannot authenticate resource of type %T", res)
	}
	return c.handshake(ctx, spec, h.Passphrase)
}
