package sshclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/treykane/sshexec/internal/util"
)

// ReturnCodeSuffix is appended to commands so the remote shell echoes the
// command's exit status after its output.
const ReturnCodeSuffix = `;echo -ne "[return_code:$?]"`

var returnCodePattern = regexp.MustCompile(`\[return_code:(\d+)\]`)

// SizeUnit is the unit of a terminal size.
type SizeUnit int

const (
	SizeChars SizeUnit = iota
	SizePixels
)

type runOptions struct {
	checkReturnCode bool
	pty             string
	env             map[string]string
	width           int
	height          int
	unit            SizeUnit
}

func defaultRunOptions() runOptions {
	return runOptions{
		checkReturnCode: true,
		width:           util.DefaultTermWidth,
		height:          util.DefaultTermHeight,
		unit:            SizeChars,
	}
}

// RunOption configures one Exec.Run call.
type RunOption func(*runOptions)

// WithoutReturnCode runs the command verbatim and returns its raw output.
func WithoutReturnCode() RunOption {
	return func(o *runOptions) { o.checkReturnCode = false }
}

// WithPty requests a pseudo-terminal of type term.
func WithPty(term string) RunOption {
	return func(o *runOptions) { o.pty = term }
}

// WithEnv sets an environment variable for the command.
func WithEnv(key, value string) RunOption {
	return func(o *runOptions) {
		if o.env == nil {
			o.env = map[string]string{}
		}
		o.env[key] = value
	}
}

// WithSize sets the terminal size used with WithPty.
func WithSize(width, height int, unit SizeUnit) RunOption {
	return func(o *runOptions) {
		o.width, o.height, o.unit = width, height, unit
	}
}

// Exec runs remote commands, one channel per command.
type Exec struct {
	holder
	res lazy[Resource]

	errMu     sync.Mutex
	lastError string
}

// NewExec builds an Exec from a *Session or a connected Resource.
func NewExec(owner any) (*Exec, error) {
	e := &Exec{}
	if err := e.init(owner); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Exec) Name() string { return SubsystemExec }

// Resource returns the resource commands run on.
func (e *Exec) Resource(ctx context.Context) (Resource, error) {
	return e.res.get(func() (Resource, error) {
		return e.SessionResource(ctx)
	})
}

// LastError returns the stderr of the most recent command that wrote any.
func (e *Exec) LastError() string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastError
}

// Close forgets the cached resource. The transport itself belongs to the
// owner.
func (e *Exec) Close() error {
	e.res.take()
	return nil
}

// Run executes command and returns its stdout. Unless WithoutReturnCode is
// given, the exit status is recovered from the output: a non-zero status is
// returned as *CommandError and a missing status as ErrMissingReturnCode.
func (e *Exec) Run(ctx context.Context, command string, opts ...RunOption) (string, error) {
	o := defaultRunOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.checkReturnCode {
		command += ReturnCodeSuffix
	}

	release := e.lock()
	defer release()

	res, err := e.Resource(ctx)
	if err != nil {
		return "", err
	}
	ch, err := res.OpenChannel()
	if err != nil {
		return "", fmt.Errorf("open exec channel: %w", err)
	}
	defer ch.Close()

	keys := make([]string, 0, len(o.env))
	for k := range o.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ch.Setenv(k, o.env[k]); err != nil {
			return "", fmt.Errorf("set env %s: %w", k, err)
		}
	}

	if o.pty != "" {
		ok, err := ch.SendRequest("pty-req", true, ptyRequest(o))
		if err != nil {
			return "", fmt.Errorf("request pty: %w", err)
		}
		if !ok {
			return "", errors.New("request pty: rejected by server")
		}
	}

	stdout, err := ch.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := ch.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}
	if err := ch.Start(command); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&outBuf, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})
	readErr := g.Wait()
	waitErr := ch.Wait()

	if errBuf.Len() > 0 {
		e.errMu.Lock()
		e.lastError = errBuf.String()
		e.errMu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if readErr != nil {
		return "", fmt.Errorf("read command output: %w", readErr)
	}
	if waitErr != nil {
		var exitErr *ssh.ExitError
		if !errors.As(waitErr, &exitErr) {
			return "", fmt.Errorf("wait for command: %w", waitErr)
		}
	}

	output := outBuf.String()
	if !o.checkReturnCode {
		return output, nil
	}
	code, stripped, err := extractReturnCode(output)
	if errors.Is(err, ErrMissingReturnCode) {
		return output, err
	}
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", &CommandError{Stderr: errBuf.String(), ExitCode: code}
	}
	return stripped, nil
}

// extractReturnCode finds the last sentinel in output and returns its code
// and the output with that sentinel removed.
func extractReturnCode(output string) (int, string, error) {
	matches := returnCodePattern.FindAllStringSubmatchIndex(output, -1)
	if len(matches) == 0 {
		return 0, "", ErrMissingReturnCode
	}
	m := matches[len(matches)-1]
	code, err := strconv.Atoi(output[m[2]:m[3]])
	if err != nil {
		return 0, "", fmt.Errorf("parse return code: %w", err)
	}
	return code, output[:m[0]] + output[m[1]:], nil
}

// ptyRequestMsg is the RFC 4254 pty-req payload.
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

func ptyRequest(o runOptions) []byte {
	req := ptyRequestMsg{Term: o.pty}
	if o.unit == SizePixels {
		req.Width, req.Height = uint32(o.width), uint32(o.height)
	} else {
		req.Columns, req.Rows = uint32(o.width), uint32(o.height)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	req.Modelist = encodeModes(modes)
	return ssh.Marshal(&req)
}

func encodeModes(modes ssh.TerminalModes) string {
	keys := make([]int, 0, len(modes))
	for k := range modes {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	var buf []byte
	for _, k := range keys {
		buf = append(buf, byte(k))
		buf = binary.BigEndian.AppendUint32(buf, modes[uint8(k)])
	}
	return string(append(buf, 0))
}
