// Package remote ties the SSH config, authentication resolution, sessions and
// the exec journal together for a host alias.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/treykane/sshexec/internal/appconfig"
	"github.com/treykane/sshexec/internal/auth"
	"github.com/treykane/sshexec/internal/config"
	"github.com/treykane/sshexec/internal/events"
	"github.com/treykane/sshexec/internal/model"
	"github.com/treykane/sshexec/internal/sshclient"
)

// Environment is everything needed to reach a configured host.
type Environment struct {
	App           appconfig.Config
	SSHConfigPath string
	Resolver      *auth.Resolver
	// Journal is nil when the journal is disabled.
	Journal    *events.Store
	Passphrase auth.PassphraseFunc
	Logger     *slog.Logger
	// SessionOptions are appended to every session; tests use them to swap
	// the connector.
	SessionOptions []sshclient.Option
}

// Load builds an Environment from the app config. sshConfigPath overrides
// both the app config and ~/.ssh/config when non-empty.
func Load(sshConfigPath string) (*Environment, error) {
	app, err := appconfig.Load()
	if err != nil {
		return nil, err
	}
	resolver := auth.NewResolver()

	path := sshConfigPath
	if path == "" {
		path = app.SSHConfig
	}
	if path == "" {
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	if path, err = resolver.ExpandHome(path); err != nil {
		return nil, err
	}

	env := &Environment{App: app, SSHConfigPath: path, Resolver: resolver, Logger: slog.Default()}
	if app.Journal.Enabled {
		if env.Journal, err = events.NewStore(); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// ConfigFile parses the SSH config.
func (e *Environment) ConfigFile() (*model.ConfigFile, error) {
	return config.ParseFile(e.SSHConfigPath)
}

// Aliases returns the concrete host aliases of the SSH config.
func (e *Environment) Aliases() ([]string, error) {
	file, err := e.ConfigFile()
	if err != nil {
		return nil, err
	}
	return config.Aliases(file), nil
}

// Effective resolves the merged configuration for alias.
func (e *Environment) Effective(alias string) (model.EffectiveConfig, error) {
	file, err := e.ConfigFile()
	if err != nil {
		return model.EffectiveConfig{}, err
	}
	return config.Resolve(file, alias)
}

// Target is a resolved host with the authentication to use for it.
type Target struct {
	Alias     string
	Effective model.EffectiveConfig
	Auth      auth.Spec
}

// Resolve returns the target for alias. identityFile and user override the
// configured values when non-empty.
func (e *Environment) Resolve(alias, identityFile, user string) (Target, error) {
	eff, err := e.Effective(alias)
	if err != nil {
		return Target{}, err
	}
	spec, err := e.Resolver.Resolve(eff, identityFile, user)
	if err != nil {
		return Target{}, err
	}
	return Target{Alias: alias, Effective: eff, Auth: spec}, nil
}

// Options returns the connection options from the app config.
func (e *Environment) Options() (sshclient.Options, error) {
	policy, err := sshclient.ParseHostKeyPolicy(e.App.Security.HostKeyPolicy)
	if err != nil {
		return sshclient.Options{}, err
	}
	known := e.App.Security.KnownHosts
	if known != "" {
		if known, err = e.Resolver.ExpandHome(known); err != nil {
			return sshclient.Options{}, err
		}
	}
	return sshclient.Options{
		DialTimeout:      e.App.DialTimeout(),
		HandshakeTimeout: 2 * e.App.DialTimeout(),
		SocksProxy:       e.App.Connection.SocksProxy,
		HostKeyPolicy:    policy,
		KnownHostsFile:   known,
		Passphrase:       e.Passphrase,
	}, nil
}

// Open returns an unconnected session for target.
func (e *Environment) Open(target Target) (*sshclient.Session, error) {
	opts, err := e.Options()
	if err != nil {
		return nil, err
	}
	cfg, err := sshclient.ConfigurationFor(target.Effective, opts)
	if err != nil {
		return nil, err
	}
	sessOpts := []sshclient.Option{sshclient.WithLogger(e.logger().With("host", target.Alias))}
	sessOpts = append(sessOpts, e.SessionOptions...)
	return sshclient.NewSession(cfg, target.Auth, sessOpts...), nil
}

// Run executes command on the session and records the outcome in the
// journal.
func (e *Environment) Run(ctx context.Context, sess *sshclient.Session, alias, command string, opts ...sshclient.RunOption) (string, error) {
	start := time.Now()
	out, err := sess.Exec().Run(ctx, command, opts...)
	e.record(alias, command, time.Since(start), err)
	return out, err
}

func (e *Environment) record(alias, command string, took time.Duration, runErr error) {
	if e.Journal == nil {
		return
	}
	evt := events.Event{
		HostAlias:  alias,
		Command:    command,
		Status:     events.StatusOK,
		DurationMS: took.Milliseconds(),
	}
	var cmdErr *sshclient.CommandError
	switch {
	case runErr == nil:
	case errors.As(runErr, &cmdErr):
		evt.Status = events.StatusFailed
		evt.ExitCode = cmdErr.ExitCode
		evt.Message = cmdErr.Stderr
	default:
		evt.Status = events.StatusError
		evt.Message = runErr.Error()
	}
	if _, err := e.Journal.Append(evt); err != nil {
		e.logger().Warn("failed to record exec journal entry", "error", err)
	}
}

func (e *Environment) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
