// Package util provides common utility functions and constants used across
// sshexec. It imports no other internal/* package so every layer can use it.
package util

import "time"

const (
	// DefaultSSHPort is used when no matching Host block sets a Port directive.
	DefaultSSHPort = 22

	// DefaultDialTimeout bounds the TCP connect to a remote host when the
	// application config leaves connection.dial_timeout_seconds unset.
	DefaultDialTimeout = 10 * time.Second

	// DefaultCommand is what the TUI runs on Enter and what `exec` falls back
	// to when no command words follow the alias.
	DefaultCommand = "uptime"

	// DefaultRefreshSeconds is the fallback interval for the TUI status line.
	DefaultRefreshSeconds = 3

	// DefaultTermWidth and DefaultTermHeight size a requested PTY.
	DefaultTermWidth  = 80
	DefaultTermHeight = 25
)
