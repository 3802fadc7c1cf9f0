package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/treykane/sshexec/internal/group"
	"github.com/treykane/sshexec/internal/remote"
	"github.com/treykane/sshexec/internal/security"
)

func newGroupCmd(st *rootState) *cobra.Command {
	root := &cobra.Command{Use: "group", Short: "Manage named host groups and run commands on them"}

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List host groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := group.LoadAll()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(all) == 0 {
				fmt.Fprintln(out, "no groups defined")
				return nil
			}
			for _, g := range all {
				fmt.Fprintf(out, "%-20s %s\n", g.Name, strings.Join(g.Hosts, " "))
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "create <name> <alias>...",
		Short: "Create or replace a host group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := st.environment()
			if err != nil {
				return err
			}
			for _, alias := range args[1:] {
				if _, err := env.Effective(alias); err != nil {
					return err
				}
			}
			if err := group.Create(args[0], args[1:]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved group %s\n", args[0])
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a host group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := group.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted group %s\n", args[0])
			return nil
		},
	})

	var parallel int
	var timeout time.Duration
	execCmd := &cobra.Command{
		Use:   "exec <name> -- <command> [args...]",
		Short: "Run a command on every host of a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := group.Get(args[0])
			if err != nil {
				return err
			}
			command := args[1]
			if len(args) > 2 {
				command = shellescape.QuoteCommand(args[1:])
			}
			env, err := st.environment()
			if err != nil {
				return err
			}

			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			results := runOnHosts(ctx, env, g.Hosts, command, parallel)

			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				for _, line := range strings.Split(strings.TrimRight(r.output, "\n"), "\n") {
					if line != "" {
						fmt.Fprintf(out, "%s: %s\n", r.alias, line)
					}
				}
				if r.err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: error: %s\n", r.alias, security.UserMessage(r.err, st.redact()))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d hosts failed", failed, len(results))
			}
			return nil
		},
	}
	execCmd.Flags().IntVar(&parallel, "parallel", 4, "hosts to run on at once")
	execCmd.Flags().DurationVar(&timeout, "timeout", 0, "overall time limit, 0 for none")
	root.AddCommand(execCmd)
	return root
}

type hostResult struct {
	alias  string
	output string
	err    error
}

// runOnHosts runs command on each alias with at most parallel sessions open.
// Results keep the order of aliases.
func runOnHosts(ctx context.Context, env *remote.Environment, aliases []string, command string, parallel int) []hostResult {
	results := make([]hostResult, len(aliases))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, alias := range aliases {
		i, alias := i, alias
		g.Go(func() error {
			results[i] = runOnHost(ctx, env, alias, command)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runOnHost(ctx context.Context, env *remote.Environment, alias, command string) hostResult {
	res := hostResult{alias: alias}
	target, err := env.Resolve(alias, "", "")
	if err != nil {
		res.err = security.Classify(alias, err)
		return res
	}
	sess, err := env.Open(target)
	if err != nil {
		res.err = security.Classify(alias, err)
		return res
	}
	defer sess.Close()
	res.output, err = env.Run(ctx, sess, alias, command)
	res.err = security.Classify(alias, err)
	return res
}
