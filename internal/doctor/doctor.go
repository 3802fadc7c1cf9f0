// Package doctor runs local diagnostics over the SSH config and app settings.
package doctor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"

	"github.com/treykane/sshexec/internal/appconfig"
	"github.com/treykane/sshexec/internal/auth"
	"github.com/treykane/sshexec/internal/config"
	"github.com/treykane/sshexec/internal/model"
	"github.com/treykane/sshexec/internal/security"
	"github.com/treykane/sshexec/internal/sshclient"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Input is what Run inspects.
type Input struct {
	App           appconfig.Config
	SSHConfigPath string
	Resolver      *auth.Resolver
}

// Run executes local diagnostics.
func Run(in Input) Report {
	if in.Resolver == nil {
		in.Resolver = auth.NewResolver()
	}
	var issues []Issue

	file, err := config.ParseFile(in.SSHConfigPath)
	if err != nil {
		issues = append(issues, configIssue(in.SSHConfigPath, err))
	} else {
		issues = append(issues, hostIssues(file, in.Resolver)...)
	}
	issues = append(issues, connectionIssues(in.App)...)

	audit := security.RunLocalAudit(security.AuditInput{App: in.App, File: file, Resolver: in.Resolver})
	for _, f := range audit.Findings {
		sev := SeverityLow
		if f.Severity == security.SeverityMedium {
			sev = SeverityMedium
		}
		if f.Severity == security.SeverityHigh {
			sev = SeverityHigh
		}
		issues = append(issues, Issue{
			Severity:       sev,
			Check:          "security-audit",
			Target:         f.Target,
			Message:        f.Message,
			Recommendation: f.Recommendation,
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}
}

func configIssue(path string, err error) Issue {
	var missing *config.FileNotFoundError
	if errors.As(err, &missing) {
		return Issue{
			Severity:       SeverityHigh,
			Check:          "ssh-config",
			Target:         path,
			Message:        err.Error(),
			Recommendation: "create the file or set ssh_config in config.yaml",
		}
	}
	return Issue{
		Severity:       SeverityHigh,
		Check:          "ssh-config",
		Target:         path,
		Message:        err.Error(),
		Recommendation: "every line needs a keyword and a value, and directives must follow a Host line",
	}
}

func hostIssues(file *model.ConfigFile, r *auth.Resolver) []Issue {
	aliases := config.Aliases(file)
	if len(aliases) == 0 {
		return []Issue{{
			Severity:       SeverityLow,
			Check:          "no-hosts",
			Target:         file.Path,
			Message:        "no concrete host aliases are defined",
			Recommendation: "add a Host block without wildcards, for example with `sshexec add`",
		}}
	}

	var issues []Issue
	for _, alias := range aliases {
		eff, err := config.Resolve(file, alias)
		if err != nil {
			continue
		}
		if _, err := eff.Port(); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "host-port",
				Target:         alias,
				Message:        err.Error(),
				Recommendation: "set Port to a number between 1 and 65535",
			})
		}
		spec, err := r.Resolve(eff, "", "")
		if err != nil {
			var resErr *auth.ResolutionError
			if errors.As(err, &resErr) {
				issues = append(issues, Issue{
					Severity:       SeverityMedium,
					Check:          "host-user",
					Target:         alias,
					Message:        err.Error(),
					Recommendation: "set User for the host or pass --user",
				})
			}
			continue
		}
		key, ok := spec.(auth.PublicKeyFile)
		if !ok || eff.IdentityFile() == "" {
			continue
		}
		if _, err := os.Stat(key.PrivateKeyPath); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "identity-file",
				Target:         alias,
				Message:        fmt.Sprintf("identity file %s is not readable: %v", key.PrivateKeyPath, err),
				Recommendation: "fix the IdentityFile path or generate the key with ssh-keygen",
			})
		}
	}
	return issues
}

func connectionIssues(app appconfig.Config) []Issue {
	var issues []Issue
	if p := app.Connection.SocksProxy; p != "" {
		if _, _, err := net.SplitHostPort(p); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "socks-proxy",
				Target:         p,
				Message:        fmt.Sprintf("socks proxy address is invalid: %v", err),
				Recommendation: "set connection.socks_proxy to host:port",
			})
		}
	}
	if app.Security.HostKeyPolicy == appconfig.HostKeyPolicyStrict {
		path := app.Security.KnownHosts
		if path == "" {
			path = sshclient.DefaultKnownHostsPath()
		}
		if _, err := os.Stat(path); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "known-hosts",
				Target:         path,
				Message:        "strict host key checking needs a known_hosts file",
				Recommendation: "connect once with ssh or set security.host_key_policy to accept-new",
			})
		}
	}
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
