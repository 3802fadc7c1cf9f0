package config

import "fmt"

// ParseError reports a line that is neither a Host line nor a key/value
// directive, or a directive that appears before any Host line.
type ParseError struct {
	Path string
	Line int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("the file '%s' is not parsable at line '%d'", e.Path, e.Line)
}

// FileNotFoundError reports a configuration file that is missing or unreadable.
type FileNotFoundError struct {
	Path string
	Err  error
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("the file '%s' does not exist or is not readable", e.Path)
}

func (e *FileNotFoundError) Unwrap() error { return e.Err }

// HostNotFoundError reports an alias that no Host block matches.
type HostNotFoundError struct {
	Alias string
}

func (e *HostNotFoundError) Error() string {
	return fmt.Sprintf("unable to find configuration for host '%s'", e.Alias)
}
