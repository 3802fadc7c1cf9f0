package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/treykane/sshexec/internal/doctor"
	"github.com/treykane/sshexec/internal/events"
	"github.com/treykane/sshexec/internal/util"
)

func newHistoryCmd(st *rootState) *cobra.Command {
	var host, status string
	var limit int
	var since time.Duration
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := st.environment()
			if err != nil {
				return err
			}
			if env.Journal == nil {
				return errors.New("the exec journal is disabled (journal.enabled in config.yaml)")
			}
			q := events.Query{HostAlias: host, Status: status, Limit: limit}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			list, err := env.Journal.Read(q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				if list == nil {
					list = []events.Event{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			fmt.Fprintf(out, "%-20s %-16s %-7s %-5s %-9s %s\n", "TIME", "HOST", "STATUS", "CODE", "TOOK", "COMMAND")
			for _, evt := range list {
				code := "-"
				if evt.Status == events.StatusFailed {
					code = strconv.Itoa(evt.ExitCode)
				}
				took := (time.Duration(evt.DurationMS) * time.Millisecond).String()
				fmt.Fprintf(out, "%-20s %-16s %-7s %-5s %-9s %s\n",
					evt.Timestamp.Local().Format("2006-01-02 15:04:05"), util.Truncate(evt.HostAlias, 16), evt.Status, code, took, util.Truncate(evt.Command, 60))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "only this host alias")
	cmd.Flags().StringVar(&status, "status", "", "only this status (ok, failed, error)")
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many entries, 0 for all")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newDoctorCmd(st *rootState) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the ssh config, keys and settings for problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := st.environment()
			if err != nil {
				return err
			}
			report := doctor.Run(doctor.Input{App: env.App, SSHConfigPath: env.SSHConfigPath, Resolver: env.Resolver})
			out := cmd.OutOrStdout()
			if jsonOut {
				if report.Issues == nil {
					report.Issues = []doctor.Issue{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Issues) == 0 {
				fmt.Fprintln(out, "no issues found")
				return nil
			}
			for _, issue := range report.Issues {
				fmt.Fprintf(out, "[%s] %s %s: %s\n", issue.Severity, issue.Check, redactPath(issue.Target, st.redact()), issue.Message)
				fmt.Fprintf(out, "    -> %s\n", issue.Recommendation)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func redactPath(p string, redact bool) string {
	if !redact {
		return p
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if rest, ok := strings.CutPrefix(p, home); ok {
			return "~" + rest
		}
	}
	return p
}
