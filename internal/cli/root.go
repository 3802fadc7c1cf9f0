// Package cli provides the command-line interface for sshexec.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/treykane/sshexec/internal/remote"
	"github.com/treykane/sshexec/internal/security"
	"github.com/treykane/sshexec/internal/sshclient"
	"github.com/treykane/sshexec/internal/ui"
)

// rootState is shared by all subcommands of one invocation.
type rootState struct {
	verbose   bool
	sshConfig string

	env *remote.Environment
	// sessionOpts are passed to every session the command opens.
	sessionOpts []sshclient.Option
}

// environment loads the environment on first use.
func (s *rootState) environment() (*remote.Environment, error) {
	if s.env != nil {
		return s.env, nil
	}
	env, err := remote.Load(s.sshConfig)
	if err != nil {
		return nil, err
	}
	env.Passphrase = promptPassphrase
	env.SessionOptions = append(env.SessionOptions, s.sessionOpts...)
	s.env = env
	return env, nil
}

func (s *rootState) redact() bool {
	if s.env == nil {
		return true
	}
	return s.env.App.Security.RedactErrors
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand(&rootState{})
	return cmd
}

func newRootCommand(st *rootState) (*cobra.Command, *rootState) {
	root := &cobra.Command{
		Use:           "sshexec",
		Short:         "Run commands on hosts from your SSH config",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if st.verbose {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := st.environment()
			if err != nil {
				return err
			}
			return ui.Run(env)
		},
	}
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "log connection details to stderr")
	root.PersistentFlags().StringVarP(&st.sshConfig, "config", "F", "", "ssh config file (default ~/.ssh/config)")

	root.AddCommand(
		newListCmd(st),
		newResolveCmd(st),
		newAddCmd(st),
		newAuthCmd(st),
		newExecCmd(st),
		newGetCmd(st),
		newPutCmd(st),
		newKeysCmd(st),
		newGroupCmd(st),
		newHistoryCmd(st),
		newDoctorCmd(st),
	)
	return root, st
}

// Execute runs the CLI and returns the process exit code. A remote command
// that exits non-zero makes sshexec exit with the same code.
func Execute() int {
	cmd, st := newRootCommand(&rootState{})
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	slog.Debug("command failed", "error", security.DebugMessage(err))
	fmt.Fprintln(os.Stderr, "error:", security.UserMessage(err, st.redact()))

	var cmdErr *sshclient.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 && cmdErr.ExitCode < 256 {
		return cmdErr.ExitCode
	}
	return 1
}
