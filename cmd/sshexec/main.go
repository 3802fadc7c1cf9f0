// Package main is the entry point for the sshexec binary.
//
// sshexec runs commands and transfers files on hosts described in the
// OpenSSH client config, using the Go SSH implementation rather than the
// ssh binary.
//
// When invoked without arguments, it launches the interactive host browser.
// Subcommands run one operation and exit.
//
// Usage:
//
//	sshexec                       # launch the host browser
//	sshexec list                  # list hosts from ~/.ssh/config
//	sshexec exec web -- uptime    # run a command on host web
//	sshexec get web /etc/hostname # download a file over sftp
//
// A remote command that exits non-zero makes sshexec exit with the same code.
package main

import (
	"os"

	"github.com/treykane/sshexec/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
