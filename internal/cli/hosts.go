package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/treykane/sshexec/internal/config"
	"github.com/treykane/sshexec/internal/model"
	"github.com/treykane/sshexec/internal/util"
)

func newListCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List concrete hosts from the ssh config",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := st.environment()
			if err != nil {
				return err
			}
			file, err := env.ConfigFile()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-24s %-28s %-6s %-16s %s\n", "ALIAS", "HOSTNAME", "PORT", "USER", "IDENTITY")
			for _, alias := range config.Aliases(file) {
				eff, err := config.Resolve(file, alias)
				if err != nil {
					return err
				}
				port := "-"
				if p, err := eff.Port(); err == nil {
					port = strconv.Itoa(p)
				}
				fmt.Fprintf(out, "%-24s %-28s %-6s %-16s %s\n",
					alias, util.Truncate(eff.HostName(), 28), port, util.EmptyDash(eff.User()), util.EmptyDash(eff.IdentityFile()))
			}
			return nil
		},
	}
}

func newResolveCmd(st *rootState) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "resolve <alias>",
		Short: "Show the effective configuration for a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := st.environment()
			if err != nil {
				return err
			}
			eff, err := env.Effective(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(eff)
			}
			keys := make([]string, 0, len(eff.Values))
			for k := range eff.Values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%-16s %-32s line %d\n", k, eff.Values[k], eff.Sources[k])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newAddCmd(st *rootState) *cobra.Command {
	var hostname, user, identity string
	var port int
	cmd := &cobra.Command{
		Use:   "add <alias>",
		Short: "Append a Host block to the ssh config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := st.environment()
			if err != nil {
				return err
			}
			block := model.HostBlock{Pattern: args[0]}
			add := func(key, value string) {
				if value != "" {
					block.Directives = append(block.Directives, model.Directive{Key: key, Value: value})
				}
			}
			add("hostname", hostname)
			if port != 0 {
				if err := util.ValidatePort(port); err != nil {
					return err
				}
				if port != util.DefaultSSHPort {
					add("port", strconv.Itoa(port))
				}
			}
			add("user", user)
			add("identityfile", identity)

			if err := config.AppendHostBlock(env.SSHConfigPath, block); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", args[0], env.SSHConfigPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&hostname, "hostname", "", "real host name or address")
	cmd.Flags().StringVar(&user, "user", "", "login user")
	cmd.Flags().IntVar(&port, "port", 0, "port")
	cmd.Flags().StringVar(&identity, "identity", "", "identity file")
	return cmd
}
