// Package config reads OpenSSH client configuration files and resolves the
// effective settings for a host alias.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/treykane/sshexec/internal/model"
)

// DefaultPath returns ~/.ssh/config.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// ParseDefault parses ~/.ssh/config.
func ParseDefault() (*model.ConfigFile, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return ParseFile(path)
}

// ParseFile opens and parses a single SSH client config file.
func ParseFile(path string) (*model.ConfigFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileNotFoundError{Path: path, Err: err}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, &FileNotFoundError{Path: path, Err: err}
	}
	if st.IsDir() {
		return nil, &FileNotFoundError{Path: path, Err: errors.New("is a directory")}
	}
	return Parse(path, f)
}

// Parse reads Host blocks from r. path is only used in errors.
func Parse(path string, r io.Reader) (*model.ConfigFile, error) {
	out := &model.ConfigFile{Path: path}
	var current *model.HostBlock

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = stripInlineComment(line)
		if line == "" {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			return nil, &ParseError{Path: path, Line: lineNo}
		}
		key = strings.ToLower(key)

		if key == "host" {
			if current != nil {
				out.Blocks = append(out.Blocks, *current)
			}
			current = &model.HostBlock{Pattern: value, Line: lineNo}
			continue
		}
		if current == nil {
			return nil, &ParseError{Path: path, Line: lineNo}
		}
		current.Directives = append(current.Directives, model.Directive{
			Key:   key,
			Value: unquote(value),
			Line:  lineNo,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if current != nil {
		out.Blocks = append(out.Blocks, *current)
	}
	return out, nil
}

// splitDirective accepts both "Key Value" and "Key=Value".
func splitDirective(line string) (key, value string, ok bool) {
	i := strings.IndexAny(line, " \t=")
	if i <= 0 {
		return "", "", false
	}
	key = line[:i]
	value = strings.TrimSpace(line[i:])
	value = strings.TrimSpace(strings.TrimPrefix(value, "="))
	return key, value, value != ""
}

func stripInlineComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return strings.TrimSpace(line)
}

func unquote(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}
