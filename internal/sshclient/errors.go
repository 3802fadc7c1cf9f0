package sshclient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthenticationFailed is returned when the server rejects the
	// credentials of the session's authentication.
	ErrAuthenticationFailed = errors.New("the authentication over the current SSH connection failed")
	// ErrMissingReturnCode is returned when the remote shell did not echo the
	// return-code sentinel.
	ErrMissingReturnCode = errors.New("command output carries no return code sentinel")
	// ErrNotAuthenticated is returned when a channel is requested on a
	// transport that has not completed authentication.
	ErrNotAuthenticated = errors.New("ssh connection is not authenticated")
)

// ConnectionError reports a failed transport connect.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// InvalidArgumentError reports a value a constructor or lookup cannot accept.
type InvalidArgumentError struct {
	Msg string
}

func (e *InvalidArgumentError) Error() string { return e.Msg }

// CommandError reports a remote command that exited non-zero.
type CommandError struct {
	Stderr   string
	ExitCode int
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("command exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("command exited with code %d: %s", e.ExitCode, msg)
}
