package cli

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

var errNoTerminal = errors.New("stdin is not a terminal")

// readSecret prints label to stderr and reads a line without echo.
func readSecret(label string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errNoTerminal
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return b, nil
}

func promptPassphrase(keyPath string) ([]byte, error) {
	return readSecret(fmt.Sprintf("Enter passphrase for key '%s': ", keyPath))
}

func promptPassword(user, host string) (string, error) {
	b, err := readSecret(fmt.Sprintf("%s@%s's password: ", user, host))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
