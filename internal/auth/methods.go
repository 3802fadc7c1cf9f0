package auth

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// PassphraseFunc is asked for the passphrase of an encrypted key that has no
// passphrase in its Spec.
type PassphraseFunc func(keyPath string) ([]byte, error)

// Methods converts spec into x/crypto auth methods. The returned cleanup
// releases resources held for the handshake (the agent socket) and is never nil.
func Methods(spec Spec, prompt PassphraseFunc) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}
	switch s := spec.(type) {
	case None:
		// x/crypto always offers "none" first; nothing else to add.
		return nil, noop, nil
	case Password:
		return []ssh.AuthMethod{
			ssh.Password(s.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = s.Password
				}
				return answers, nil
			}),
		}, noop, nil
	case PublicKeyFile:
		signer, err := LoadSigner(s.PrivateKeyPath, s.Passphrase, prompt)
		if err != nil {
			return nil, noop, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil
	case Agent:
		return agentMethods()
	case nil:
		return nil, noop, errors.New("no authentication configured")
	default:
		return nil, noop, fmt.Errorf("unsupported authentication %T", spec)
	}
}

// LoadSigner reads and parses a private key file. An encrypted key without a
// passphrase is retried once through prompt when prompt is non-nil.
func LoadSigner(path, passphrase string, prompt PassphraseFunc) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path) //nolint:gosec // Path comes from ssh config or flags.
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", path, err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) || prompt == nil {
		return nil, fmt.Errorf("parsing key file %s: %w", path, err)
	}
	pass, err := prompt(path)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase for %s: %w", path, err)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, pass)
	if err != nil {
		return nil, fmt.Errorf("parsing key file %s: %w", path, err)
	}
	return signer, nil
}

func agentMethods() ([]ssh.AuthMethod, func(), error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, func() {}, errors.New("SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, func() {}, fmt.Errorf("connecting to SSH agent: %w", err)
	}
	client := agent.NewClient(conn)
	return []ssh.AuthMethod{ssh.PublicKeysCallback(client.Signers)}, func() { _ = conn.Close() }, nil
}
