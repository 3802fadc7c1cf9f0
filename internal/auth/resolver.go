package auth

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/treykane/sshexec/internal/model"
)

// DefaultIdentities are probed under ~/.ssh, in order, when no IdentityFile
// is configured.
var DefaultIdentities = []string{"id_rsa", "id_ecdsa", "id_ed25519"}

// ResolutionError reports that no user could be determined for a host.
type ResolutionError struct {
	Host string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("can not authenticate for '%s' could not find user to authenticate as", e.Host)
}

// Resolver picks an authentication Spec for an effective host configuration.
// Home and Stat are the only filesystem touch points.
type Resolver struct {
	Home              func() (string, error)
	Stat              func(string) (fs.FileInfo, error)
	DefaultIdentities []string
}

// NewResolver returns a Resolver backed by the real home directory and filesystem.
func NewResolver() *Resolver {
	return &Resolver{
		Home:              os.UserHomeDir,
		Stat:              os.Stat,
		DefaultIdentities: DefaultIdentities,
	}
}

// Resolve returns the authentication to use for cfg. Non-empty identityFile
// and user override the configured IdentityFile and User directives.
func (r *Resolver) Resolve(cfg model.EffectiveConfig, identityFile, user string) (Spec, error) {
	if user == "" {
		user = cfg.User()
	}
	if user == "" {
		return nil, &ResolutionError{Host: cfg.HostName()}
	}

	if identityFile == "" {
		identityFile = cfg.IdentityFile()
	}
	if identityFile != "" {
		key, err := r.ExpandHome(identityFile)
		if err != nil {
			return nil, err
		}
		return PublicKeyFile{User: user, PublicKeyPath: key + ".pub", PrivateKeyPath: key}, nil
	}

	key, err := r.defaultIdentity()
	if err != nil {
		return nil, err
	}
	if key == "" {
		return None{User: user}, nil
	}
	return PublicKeyFile{User: user, PublicKeyPath: key + ".pub", PrivateKeyPath: key}, nil
}

// ExpandHome replaces a leading "~" (alone or followed by a separator) with
// the home directory. "~user" forms and embedded tildes are left alone.
func (r *Resolver) ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := r.Home()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func (r *Resolver) defaultIdentity() (string, error) {
	home, err := r.Home()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	for _, name := range r.DefaultIdentities {
		key := filepath.Join(home, ".ssh", name)
		st, err := r.Stat(key)
		if err == nil && !st.IsDir() {
			return key, nil
		}
	}
	return "", nil
}
