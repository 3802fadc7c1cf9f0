package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/treykane/sshexec/internal/auth"
	"github.com/treykane/sshexec/internal/config"
	"github.com/treykane/sshexec/internal/sshclient"
)

// ClassifiedError separates a user-safe message from verbose debug details.
type ClassifiedError struct {
	UserSafe    string
	DebugDetail string
	Err         error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.UserSafe) == "" {
		return "operation failed"
	}
	return e.UserSafe
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewClassifiedError creates a new error with separated user-safe and debug details.
func NewClassifiedError(userSafe, debugDetail string) error {
	return &ClassifiedError{UserSafe: userSafe, DebugDetail: debugDetail}
}

// Classify wraps err with a short user-facing message chosen by its kind.
// The original error stays reachable through errors.Is/As.
func Classify(alias string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}

	var (
		parseErr    *config.ParseError
		missingErr  *config.FileNotFoundError
		hostErr     *config.HostNotFoundError
		resolveErr  *auth.ResolutionError
		connErr     *sshclient.ConnectionError
		cmdErr      *sshclient.CommandError
		argErr      *sshclient.InvalidArgumentError
		passMissing *ssh.PassphraseMissingError
	)
	var msg string
	switch {
	case errors.As(err, &parseErr), errors.As(err, &missingErr),
		errors.As(err, &hostErr), errors.As(err, &resolveErr),
		errors.As(err, &argErr), errors.As(err, &cmdErr):
		msg = err.Error()
	case errors.As(err, &passMissing):
		msg = fmt.Sprintf("%s: identity file is encrypted and no passphrase was given", alias)
	case errors.As(err, &connErr):
		msg = fmt.Sprintf("unable to connect to %s", connErr.Addr)
	case errors.Is(err, sshclient.ErrAuthenticationFailed):
		msg = fmt.Sprintf("%s: %s", alias, sshclient.ErrAuthenticationFailed.Error())
	case errors.Is(err, sshclient.ErrMissingReturnCode):
		msg = fmt.Sprintf("%s: remote shell did not report an exit status", alias)
	case errors.Is(err, context.DeadlineExceeded):
		msg = fmt.Sprintf("%s: timed out", alias)
	case errors.Is(err, context.Canceled):
		msg = fmt.Sprintf("%s: canceled", alias)
	default:
		return err
	}
	return &ClassifiedError{UserSafe: msg, DebugDetail: err.Error(), Err: err}
}

// UserMessage returns a message safe to show in CLI/TUI contexts.
func UserMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		msg = ce.Error()
	}
	if redact {
		return RedactMessage(msg)
	}
	return msg
}

// DebugMessage returns detailed error text for logs.
func DebugMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if strings.TrimSpace(ce.DebugDetail) != "" {
			return ce.DebugDetail
		}
	}
	return err.Error()
}

// RedactMessage replaces the home directory with "~" and hides file names
// under .ssh directories.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	out := msg
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = strings.ReplaceAll(out, home, "~")
	}
	return strings.ReplaceAll(out, "/.ssh/", "/.ssh/[redacted]/")
}
