package sshclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/treykane/sshexec/internal/auth"
)

// fakeShell emulates a remote shell: it writes stdout and stderr and, when
// the command carries the return code suffix, echoes code after stdout.
func fakeShell(stdout, stderr string, code int) func(cmd string) (string, string) {
	return func(cmd string) (string, string) {
		if strings.HasSuffix(cmd, ReturnCodeSuffix) {
			return stdout + fmt.Sprintf("[return_code:%d]", code), stderr
		}
		return stdout, stderr
	}
}

type fakeResource struct {
	mu      sync.Mutex
	handler func(cmd string) (string, string)
	hang    bool
	// earlyStderr is written and closed before a hanging command blocks.
	earlyStderr string
	subsystems  map[string]func(r io.Reader, w io.WriteCloser)
	channels    []*fakeChannel
	closed      bool
	openErr     error
}

func (r *fakeResource) OpenChannel() (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	ch := newFakeChannel(r)
	r.channels = append(r.channels, ch)
	return ch, nil
}

func (r *fakeResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeResource) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeResource) lastChannel() *fakeChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.channels) == 0 {
		return nil
	}
	return r.channels[len(r.channels)-1]
}

type fakeRequest struct {
	name    string
	payload []byte
}

type fakeChannel struct {
	res *fakeResource

	env      map[string]string
	requests []fakeRequest
	cmd      string

	stdinR, stdoutR, stderrR *io.PipeReader
	stdinW, stdoutW, stderrW *io.PipeWriter

	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
}

func newFakeChannel(res *fakeResource) *fakeChannel {
	ch := &fakeChannel{
		res:     res,
		env:     map[string]string{},
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	ch.stdinR, ch.stdinW = io.Pipe()
	ch.stdoutR, ch.stdoutW = io.Pipe()
	ch.stderrR, ch.stderrW = io.Pipe()
	return ch
}

func (c *fakeChannel) Setenv(name, value string) error {
	c.env[name] = value
	return nil
}

func (c *fakeChannel) SendRequest(name string, _ bool, payload []byte) (bool, error) {
	c.requests = append(c.requests, fakeRequest{name: name, payload: payload})
	return true, nil
}

func (c *fakeChannel) RequestSubsystem(name string) error {
	serve, ok := c.res.subsystems[name]
	if !ok {
		return errors.New("subsystem request failed")
	}
	go serve(c.stdinR, c.stdoutW)
	return nil
}

func (c *fakeChannel) StdinPipe() (io.WriteCloser, error) { return c.stdinW, nil }
func (c *fakeChannel) StdoutPipe() (io.Reader, error)     { return c.stdoutR, nil }
func (c *fakeChannel) StderrPipe() (io.Reader, error)     { return c.stderrR, nil }

func (c *fakeChannel) Start(cmd string) error {
	c.cmd = cmd
	go func() {
		defer close(c.done)
		stderrDone := false
		if c.res.hang {
			if c.res.earlyStderr != "" {
				_, _ = io.WriteString(c.stderrW, c.res.earlyStderr)
				_ = c.stderrW.Close()
				stderrDone = true
			}
			<-c.closing
		}
		stdout, stderr := c.res.handler(cmd)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = io.WriteString(c.stdoutW, stdout)
			_ = c.stdoutW.Close()
		}()
		go func() {
			defer wg.Done()
			if !stderrDone {
				_, _ = io.WriteString(c.stderrW, stderr)
			}
			_ = c.stderrW.Close()
		}()
		wg.Wait()
	}()
	return nil
}

func (c *fakeChannel) Wait() error {
	<-c.done
	return nil
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.stdinW.Close()
		_ = c.stdoutR.Close()
		_ = c.stderrR.Close()
	})
	return nil
}

type fakeConnector struct {
	mu    sync.Mutex
	res   *fakeResource
	err   error
	calls int
	opts  Options
}

func (c *fakeConnector) Connect(_ context.Context, _ string, _ int, opts Options) (Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.opts = opts
	if c.err != nil {
		return nil, c.err
	}
	return c.res, nil
}

type fakeAuthenticator struct {
	mu    sync.Mutex
	err   error
	specs []auth.Spec
}

func (a *fakeAuthenticator) Authenticate(_ context.Context, _ Resource, spec auth.Spec) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.specs = append(a.specs, spec)
	return a.err
}

func newFakeSession(res *fakeResource, spec auth.Spec) (*Session, *fakeConnector, *fakeAuthenticator) {
	conn := &fakeConnector{res: res}
	authn := &fakeAuthenticator{}
	s := NewSession(NewConfiguration("example.com"), spec, WithConnector(conn), WithAuthenticator(authn))
	return s, conn, authn
}
