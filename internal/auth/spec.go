// Package auth decides how to authenticate to a resolved host and turns that
// decision into golang.org/x/crypto/ssh auth methods.
package auth

// Spec is one concrete authentication method. The set of implementations is
// closed: None, Password, PublicKeyFile and Agent.
type Spec interface {
	// Username is the remote account to authenticate as.
	Username() string
	// Kind names the method for logs and display.
	Kind() string
	isSpec()
}

// None authenticates with the "none" method only.
type None struct {
	User string
}

// Password authenticates with a password, also answering keyboard-interactive
// prompts with it.
type Password struct {
	User     string
	Password string
}

// PublicKeyFile authenticates with a private key read from disk.
// Passphrase is empty for unencrypted keys.
type PublicKeyFile struct {
	User           string
	PublicKeyPath  string
	PrivateKeyPath string
	Passphrase     string
}

// Agent authenticates with the keys held by the agent at SSH_AUTH_SOCK.
type Agent struct {
	User string
}

func (s None) Username() string          { return s.User }
func (s Password) Username() string      { return s.User }
func (s PublicKeyFile) Username() string { return s.User }
func (s Agent) Username() string         { return s.User }

func (None) Kind() string          { return "none" }
func (Password) Kind() string      { return "password" }
func (PublicKeyFile) Kind() string { return "publickey" }
func (Agent) Kind() string         { return "agent" }

func (None) isSpec()          {}
func (Password) isSpec()      {}
func (PublicKeyFile) isSpec() {}
func (Agent) isSpec()         {}
