package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/treykane/sshexec/internal/model"
)

// canonicalKeys restores OpenSSH's documented capitalization for the keys
// this package interprets. Other keys are written as parsed (lower-case).
var canonicalKeys = map[string]string{
	"hostname":     "HostName",
	"port":         "Port",
	"user":         "User",
	"identityfile": "IdentityFile",
}

// FormatHostBlock renders a Host block in ssh_config syntax, directives in
// their original order.
func FormatHostBlock(b model.HostBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Host %s\n", b.Pattern)
	for _, d := range b.Directives {
		key := d.Key
		if k, ok := canonicalKeys[key]; ok {
			key = k
		}
		value := d.Value
		if strings.ContainsAny(value, " \t") {
			value = `"` + value + `"`
		}
		fmt.Fprintf(&sb, "  %s %s\n", key, value)
	}
	return sb.String()
}

// AppendHostBlock appends b to the config file at path, creating it if needed.
// Appended blocks have the lowest precedence under first-match-wins.
func AppendHostBlock(path string, b model.HostBlock) error {
	if err := ValidateAlias(b.Pattern); err != nil {
		return err
	}
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read ssh config: %w", err)
	}
	if len(existing) > 0 {
		file, err := ParseFile(path)
		if err != nil {
			return err
		}
		for _, a := range Aliases(file) {
			if strings.EqualFold(a, b.Pattern) {
				return fmt.Errorf("alias %q already exists in %s", b.Pattern, path)
			}
		}
	}

	var prefix string
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		prefix = "\n"
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open ssh config for append: %w", err)
	}
	defer f.Close()

	if len(existing) > 0 {
		prefix += "\n"
	}
	if _, err := f.WriteString(prefix + FormatHostBlock(b)); err != nil {
		return fmt.Errorf("write host block: %w", err)
	}
	return nil
}

// ValidateAlias rejects aliases that would not round-trip as a single
// concrete Host pattern.
func ValidateAlias(alias string) error {
	if strings.TrimSpace(alias) == "" {
		return fmt.Errorf("alias cannot be empty")
	}
	if strings.ContainsAny(alias, " \t*?!#\"") {
		return fmt.Errorf("alias cannot contain spaces, quotes or wildcard characters")
	}
	return nil
}
