package security

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/treykane/sshexec/internal/appconfig"
	"github.com/treykane/sshexec/internal/auth"
	"github.com/treykane/sshexec/internal/config"
	"github.com/treykane/sshexec/internal/model"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// AuditInput is what an audit inspects. File may be nil when the SSH config
// could not be parsed.
type AuditInput struct {
	App      appconfig.Config
	File     *model.ConfigFile
	Resolver *auth.Resolver
}

// RunLocalAudit checks the app config, the local key material referenced by
// the SSH config and the permissions of both.
func RunLocalAudit(in AuditInput) AuditReport {
	if in.Resolver == nil {
		in.Resolver = auth.NewResolver()
	}

	var findings []Finding
	switch in.App.Security.HostKeyPolicy {
	case appconfig.HostKeyPolicyInsecure:
		findings = append(findings, Finding{
			Severity:       SeverityHigh,
			Target:         "config.yaml",
			Message:        "host key policy is insecure",
			Recommendation: "set security.host_key_policy to strict or accept-new",
		})
	case appconfig.HostKeyPolicyAcceptNew:
		findings = append(findings, Finding{
			Severity:       SeverityLow,
			Target:         "config.yaml",
			Message:        "unknown host keys are trusted on first use",
			Recommendation: "pre-populate known_hosts and use the strict policy",
		})
	}

	if home, err := in.Resolver.Home(); err == nil {
		checkPathPerm(&findings, filepath.Join(home, ".ssh"), 0o700, false)
	}
	if in.File != nil {
		checkPathPerm(&findings, in.File.Path, 0o600, true)
	}

	if cfgDir, err := appconfig.ConfigDir(); err == nil {
		checkPathPerm(&findings, cfgDir, 0o700, false)
		checkPathPerm(&findings, filepath.Join(cfgDir, "config.yaml"), 0o600, true)
	}
	if p, err := appconfig.JournalPath(); err == nil {
		checkPathPerm(&findings, p, 0o600, true)
	}

	for _, identity := range identityFiles(in.File, in.Resolver) {
		checkPathPerm(&findings, identity, 0o600, true)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}
}

// identityFiles returns the expanded private key paths the concrete hosts of
// file would authenticate with.
func identityFiles(file *model.ConfigFile, r *auth.Resolver) []string {
	if file == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, alias := range config.Aliases(file) {
		eff, err := config.Resolve(file, alias)
		if err != nil || eff.User() == "" {
			continue
		}
		spec, err := r.Resolve(eff, "", "")
		if err != nil {
			continue
		}
		key, ok := spec.(auth.PublicKeyFile)
		if !ok {
			continue
		}
		if _, dup := seen[key.PrivateKeyPath]; dup {
			continue
		}
		seen[key.PrivateKeyPath] = struct{}{}
		out = append(out, key.PrivateKeyPath)
	}
	return out
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

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode&^max != 0 {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityMedium,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
