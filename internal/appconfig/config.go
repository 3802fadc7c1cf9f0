// Package appconfig manages application configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/treykane/sshexec/internal/util"
)

const appName = "sshexec"

// Host key policies accepted in security.host_key_policy.
const (
	HostKeyPolicyStrict    = "strict"
	HostKeyPolicyAcceptNew = "accept-new"
	HostKeyPolicyInsecure  = "insecure"
)

// UIConfig contains TUI display settings.
type UIConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds"`
}

// ConnectionConfig controls how transports are dialed.
type ConnectionConfig struct {
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds"`
	SocksProxy         string `yaml:"socks_proxy"`
}

// SecurityConfig controls host key checking and error output.
type SecurityConfig struct {
	HostKeyPolicy string `yaml:"host_key_policy"`
	KnownHosts    string `yaml:"known_hosts"`
	RedactErrors  bool   `yaml:"redact_errors"`
}

// JournalConfig controls the exec journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config holds application-level configuration.
type Config struct {
	// SSHConfig overrides ~/.ssh/config.
	SSHConfig      string           `yaml:"ssh_config"`
	DefaultCommand string           `yaml:"default_command"`
	Connection     ConnectionConfig `yaml:"connection"`
	Security       SecurityConfig   `yaml:"security"`
	Journal        JournalConfig    `yaml:"journal"`
	UI             UIConfig         `yaml:"ui"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DefaultCommand: util.DefaultCommand,
		Connection:     ConnectionConfig{DialTimeoutSeconds: int(util.DefaultDialTimeout / time.Second)},
		Security: SecurityConfig{
			HostKeyPolicy: HostKeyPolicyStrict,
			RedactErrors:  true,
		},
		Journal: JournalConfig{Enabled: true},
		UI:      UIConfig{RefreshSeconds: util.DefaultRefreshSeconds},
	}
}

// DialTimeout returns the configured dial timeout.
func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.Connection.DialTimeoutSeconds) * time.Second
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/sshexec.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// JournalPath returns the full path to the exec journal.
func JournalPath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "journal.jsonl"), nil
}

// Load reads config.yaml from the config directory.
// If the file doesn't exist, creates it with defaults.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := Default()
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = def.UI.RefreshSeconds
	}
	if strings.TrimSpace(cfg.DefaultCommand) == "" {
		cfg.DefaultCommand = def.DefaultCommand
	}
	if cfg.Connection.DialTimeoutSeconds <= 0 {
		cfg.Connection.DialTimeoutSeconds = def.Connection.DialTimeoutSeconds
	}
	cfg.Connection.SocksProxy = strings.TrimSpace(cfg.Connection.SocksProxy)
	switch p := strings.ToLower(strings.TrimSpace(cfg.Security.HostKeyPolicy)); p {
	case HostKeyPolicyStrict, HostKeyPolicyAcceptNew, HostKeyPolicyInsecure:
		cfg.Security.HostKeyPolicy = p
	default:
		cfg.Security.HostKeyPolicy = def.Security.HostKeyPolicy
	}
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
