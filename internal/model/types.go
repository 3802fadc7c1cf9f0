package model

import (
	"fmt"
	"strings"

	"github.com/treykane/sshexec/internal/util"
)

// Directive is one key/value setting inside a Host block.
type Directive struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Line  int    `json:"line"`
}

// HostBlock is a parsed `Host <pattern>` section with its directives in file order.
type HostBlock struct {
	Pattern    string      `json:"pattern"`
	Line       int         `json:"line"`
	Directives []Directive `json:"directives"`
}

// Patterns splits the Host line into its individual patterns.
func (b HostBlock) Patterns() []string {
	return strings.Fields(b.Pattern)
}

// Get returns the first value set for key in this block. Keys are case-insensitive.
func (b HostBlock) Get(key string) (string, bool) {
	d, ok := b.lookup(key)
	return d.Value, ok
}

func (b HostBlock) lookup(key string) (Directive, bool) {
	key = strings.ToLower(key)
	for _, d := range b.Directives {
		if d.Key == key {
			return d, true
		}
	}
	return Directive{}, false
}

// ConfigFile is an ordered sequence of Host blocks. Order drives merge precedence.
type ConfigFile struct {
	Path   string      `json:"path"`
	Blocks []HostBlock `json:"blocks"`
}

// EffectiveConfig is the merged directive set for one alias.
type EffectiveConfig struct {
	Alias   string            `json:"alias"`
	Values  map[string]string `json:"values"`
	Sources map[string]int    `json:"sources,omitempty"`
}

// Get returns the merged value for key.
func (c EffectiveConfig) Get(key string) (string, bool) {
	v, ok := c.Values[strings.ToLower(key)]
	return v, ok
}

// HostName returns the hostname directive, or the alias when none was set.
func (c EffectiveConfig) HostName() string {
	if v, ok := c.Get("hostname"); ok && v != "" {
		return v
	}
	return c.Alias
}

// Port returns the port directive, or util.DefaultSSHPort when none was set.
func (c EffectiveConfig) Port() (int, error) {
	v, ok := c.Get("port")
	if !ok {
		return util.DefaultSSHPort, nil
	}
	p, err := util.ParsePort(v)
	if err != nil {
		return 0, fmt.Errorf("host %s: %w", c.Alias, err)
	}
	return p, nil
}

func (c EffectiveConfig) User() string {
	v, _ := c.Get("user")
	return v
}

func (c EffectiveConfig) IdentityFile() string {
	v, _ := c.Get("identityfile")
	return v
}
