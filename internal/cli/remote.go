package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/treykane/sshexec/internal/auth"
	"github.com/treykane/sshexec/internal/remote"
	"github.com/treykane/sshexec/internal/security"
	"github.com/treykane/sshexec/internal/sshclient"
	"github.com/treykane/sshexec/internal/util"
)

// targetFlags select and override the authentication for a host.
type targetFlags struct {
	user        string
	identity    string
	askPassword bool
	timeout     time.Duration
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.user, "user", "l", "", "login user (overrides User)")
	cmd.Flags().StringVarP(&f.identity, "identity", "i", "", "identity file (overrides IdentityFile)")
	cmd.Flags().BoolVar(&f.askPassword, "ask-password", false, "prompt for a password instead of using keys")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "overall time limit, 0 for none")
}

func (f *targetFlags) context() (context.Context, context.CancelFunc) {
	if f.timeout > 0 {
		return context.WithTimeout(context.Background(), f.timeout)
	}
	return context.WithCancel(context.Background())
}

// open resolves alias and returns an unconnected session for it.
func (st *rootState) open(alias string, f targetFlags) (*remote.Environment, remote.Target, *sshclient.Session, error) {
	env, err := st.environment()
	if err != nil {
		return nil, remote.Target{}, nil, err
	}
	target, err := env.Resolve(alias, f.identity, f.user)
	if err != nil {
		return nil, remote.Target{}, nil, err
	}
	if f.askPassword {
		pw, err := promptPassword(target.Auth.Username(), target.Effective.HostName())
		if err != nil {
			return nil, remote.Target{}, nil, err
		}
		target.Auth = auth.Password{User: target.Auth.Username(), Password: pw}
	}
	sess, err := env.Open(target)
	if err != nil {
		return nil, remote.Target{}, nil, err
	}
	return env, target, sess, nil
}

func describeAuth(spec auth.Spec) string {
	switch s := spec.(type) {
	case auth.PublicKeyFile:
		return fmt.Sprintf("publickey %s", s.PrivateKeyPath)
	default:
		return spec.Kind()
	}
}

func newAuthCmd(st *rootState) *cobra.Command {
	var f targetFlags
	var connect bool
	cmd := &cobra.Command{
		Use:   "auth <alias>",
		Short: "Show which authentication would be used for a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := args[0]
			_, target, sess, err := st.open(alias, f)
			if err != nil {
				return security.Classify(alias, err)
			}
			defer sess.Close()

			out := cmd.OutOrStdout()
			cfg := sess.Configuration()
			fmt.Fprintf(out, "host:   %s\n", cfg.Addr())
			fmt.Fprintf(out, "user:   %s\n", target.Auth.Username())
			fmt.Fprintf(out, "method: %s\n", describeAuth(target.Auth))
			if !connect {
				return nil
			}
			ctx, cancel := f.context()
			defer cancel()
			if _, err := sess.Resource(ctx); err != nil {
				return security.Classify(alias, err)
			}
			fmt.Fprintf(out, "state:  %s\n", sess.State())
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&connect, "connect", false, "connect and authenticate")
	return cmd
}

func newExecCmd(st *rootState) *cobra.Command {
	var f targetFlags
	var noCheck bool
	var pty string
	var envVars []string
	var size string
	cmd := &cobra.Command{
		Use:   "exec <alias> -- <command> [args...]",
		Short: "Run a command on a host and print its output",
		Long: "Runs a command on a host. A single argument is passed to the remote shell as is;\n" +
			"several arguments are quoted and joined.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := args[0]
			command := args[1]
			if len(args) > 2 {
				command = shellescape.QuoteCommand(args[1:])
			}

			var opts []sshclient.RunOption
			if noCheck {
				opts = append(opts, sshclient.WithoutReturnCode())
			}
			if pty != "" {
				opts = append(opts, sshclient.WithPty(pty))
			}
			if size != "" {
				w, h, err := parseSize(size)
				if err != nil {
					return err
				}
				opts = append(opts, sshclient.WithSize(w, h, sshclient.SizeChars))
			}
			for _, kv := range envVars {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
				}
				opts = append(opts, sshclient.WithEnv(k, v))
			}

			env, _, sess, err := st.open(alias, f)
			if err != nil {
				return security.Classify(alias, err)
			}
			defer sess.Close()

			ctx, cancel := f.context()
			defer cancel()
			out, err := env.Run(ctx, sess, alias, command, opts...)
			fmt.Fprint(cmd.OutOrStdout(), out)
			if noCheck {
				if stderr := sess.Exec().LastError(); stderr != "" {
					fmt.Fprint(cmd.ErrOrStderr(), stderr)
				}
			}
			return security.Classify(alias, err)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&noCheck, "no-check", false, "do not check the remote exit status")
	cmd.Flags().StringVar(&pty, "pty", "", "request a pseudo-terminal of this type")
	cmd.Flags().Lookup("pty").NoOptDefVal = "xterm"
	cmd.Flags().StringVar(&size, "size", "", "terminal size as COLSxROWS (with --pty)")
	cmd.Flags().StringArrayVarP(&envVars, "env", "e", nil, "environment variable KEY=VALUE, repeatable")
	return cmd
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, want COLSxROWS", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q, want COLSxROWS", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q, want COLSxROWS", s)
	}
	return w, h, nil
}

func newGetCmd(st *rootState) *cobra.Command {
	var f targetFlags
	cmd := &cobra.Command{
		Use:   "get <alias> <remote-path> [local-path]",
		Short: "Download a file over sftp",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, remotePath := args[0], args[1]
			localPath := filepath.Base(remotePath)
			if len(args) == 3 {
				localPath = args[2]
			}
			_, _, sess, err := st.open(alias, f)
			if err != nil {
				return security.Classify(alias, err)
			}
			defer sess.Close()

			ctx, cancel := f.context()
			defer cancel()
			data, err := sess.Sftp().ReadFile(ctx, remotePath)
			if err != nil {
				return security.Classify(alias, err)
			}
			if err := os.WriteFile(localPath, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s -> %s (%d bytes)\n", alias, remotePath, localPath, len(data))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newPutCmd(st *rootState) *cobra.Command {
	var f targetFlags
	var mode string
	cmd := &cobra.Command{
		Use:   "put <alias> <local-path> <remote-path>",
		Short: "Upload a file over sftp",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, localPath, remotePath := args[0], args[1], args[2]
			perm, err := strconv.ParseUint(mode, 8, 32)
			if err != nil || perm > 0o777 {
				return fmt.Errorf("invalid --mode %q", mode)
			}
			data, err := os.ReadFile(localPath)
			if err != nil {
				return err
			}
			_, _, sess, err := st.open(alias, f)
			if err != nil {
				return security.Classify(alias, err)
			}
			defer sess.Close()

			ctx, cancel := f.context()
			defer cancel()
			if err := sess.Sftp().WriteFile(ctx, remotePath, data, os.FileMode(perm)); err != nil {
				return security.Classify(alias, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s:%s (%d bytes)\n", localPath, alias, remotePath, len(data))
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", "0644", "remote file mode (octal)")
	return cmd
}

func newKeysCmd(st *rootState) *cobra.Command {
	root := &cobra.Command{Use: "keys", Short: "Manage authorized keys over the publickey subsystem"}

	var f targetFlags
	list := &cobra.Command{
		Use:   "list <alias>",
		Short: "List stored public keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := args[0]
			_, _, sess, err := st.open(alias, f)
			if err != nil {
				return security.Classify(alias, err)
			}
			defer sess.Close()
			ctx, cancel := f.context()
			defer cancel()
			keys, err := sess.Publickey().List(ctx)
			if err != nil {
				return security.Classify(alias, err)
			}
			out := cmd.OutOrStdout()
			for _, k := range keys {
				comment := ""
				for _, a := range k.Attributes {
					if a.Name == "comment" {
						comment = a.Value
					}
				}
				fmt.Fprintf(out, "%-20s %s %s\n", k.Key.Type(), ssh.FingerprintSHA256(k.Key), util.EmptyDash(comment))
			}
			return nil
		},
	}
	f.register(list)

	var af targetFlags
	var overwrite bool
	add := &cobra.Command{
		Use:   "add <alias> <public-key-file>",
		Short: "Store a public key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := args[0]
			key, comment, err := readPublicKey(args[1])
			if err != nil {
				return err
			}
			_, _, sess, err := st.open(alias, af)
			if err != nil {
				return security.Classify(alias, err)
			}
			defer sess.Close()
			ctx, cancel := af.context()
			defer cancel()
			var attrs []sshclient.KeyAttribute
			if comment != "" {
				attrs = append(attrs, sshclient.KeyAttribute{Name: "comment", Value: comment})
			}
			if err := sess.Publickey().Add(ctx, key, overwrite, attrs...); err != nil {
				return security.Classify(alias, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", ssh.FingerprintSHA256(key))
			return nil
		},
	}
	af.register(add)
	add.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing key")

	var rf targetFlags
	remove := &cobra.Command{
		Use:   "remove <alias> <public-key-file>",
		Short: "Remove a stored public key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := args[0]
			key, _, err := readPublicKey(args[1])
			if err != nil {
				return err
			}
			_, _, sess, err := st.open(alias, rf)
			if err != nil {
				return security.Classify(alias, err)
			}
			defer sess.Close()
			ctx, cancel := rf.context()
			defer cancel()
			if err := sess.Publickey().Remove(ctx, key); err != nil {
				return security.Classify(alias, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", ssh.FingerprintSHA256(key))
			return nil
		},
	}
	rf.register(remove)

	root.AddCommand(list, add, remove)
	return root
}

func readPublicKey(path string) (ssh.PublicKey, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	key, comment, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, "", fmt.Errorf("parse public key %s: %w", path, err)
	}
	return key, comment, nil
}
