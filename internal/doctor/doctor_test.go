package doctor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/treykane/sshexec/internal/appconfig"
)

func setupHome(t *testing.T, sshConfig string) (string, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sshDir, "known_hosts"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(sshDir, "config")
	if err := os.WriteFile(path, []byte(sshConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	return home, path
}

func checks(r Report) map[string]Issue {
	out := map[string]Issue{}
	for _, issue := range r.Issues {
		out[issue.Check+"|"+issue.Target] = issue
	}
	return out
}

func TestRunReportsHostProblems(t *testing.T) {
	_, path := setupHome(t, strings.Join([]string{
		"Host api",
		"  HostName 10.0.0.5",
		"  User deploy",
		"  IdentityFile ~/.ssh/missing_key",
		"Host db",
		"  HostName 10.0.0.6",
		"Host cache",
		"  User ops",
		"  Port 99999",
		"",
	}, "\n"))

	report := Run(Input{App: appconfig.Default(), SSHConfigPath: path})
	got := checks(report)
	if _, ok := got["identity-file|api"]; !ok {
		t.Fatalf("expected identity-file issue for api, got %+v", report.Issues)
	}
	if _, ok := got["host-user|db"]; !ok {
		t.Fatalf("expected host-user issue for db, got %+v", report.Issues)
	}
	if _, ok := got["host-port|cache"]; !ok {
		t.Fatalf("expected host-port issue for cache, got %+v", report.Issues)
	}
	if report.Issues[0].Severity != SeverityHigh {
		t.Fatalf("expected high severity first, got %+v", report.Issues[0])
	}
}

func TestRunReportsUnparsableConfig(t *testing.T) {
	_, path := setupHome(t, "Host api\nbroken\n")

	report := Run(Input{App: appconfig.Default(), SSHConfigPath: path})
	issue, ok := checks(report)["ssh-config|"+path]
	if !ok {
		t.Fatalf("expected ssh-config issue, got %+v", report.Issues)
	}
	if !strings.Contains(issue.Message, "line '2'") {
		t.Fatalf("unexpected message: %q", issue.Message)
	}
}

func TestRunReportsMissingConfigAndKnownHosts(t *testing.T) {
	home, _ := setupHome(t, "")
	if err := os.Remove(filepath.Join(home, ".ssh", "known_hosts")); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(home, "nope")

	report := Run(Input{App: appconfig.Default(), SSHConfigPath: missing})
	got := checks(report)
	if _, ok := got["ssh-config|"+missing]; !ok {
		t.Fatalf("expected ssh-config issue, got %+v", report.Issues)
	}
	if _, ok := got["known-hosts|"+filepath.Join(home, ".ssh", "known_hosts")]; !ok {
		t.Fatalf("expected known-hosts issue, got %+v", report.Issues)
	}
}

func TestRunJSONShapeDeterministic(t *testing.T) {
	_, path := setupHome(t, "Host api\n  HostName 127.0.0.1\n  User deploy\n")

	app := appconfig.Default()
	app.Connection.SocksProxy = "not-an-address"
	report := Run(Input{App: app, SSHConfigPath: path})
	b, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["issues"]; !ok {
		t.Fatalf("expected issues key in json output: %s", string(b))
	}
	if _, ok := checks(report)["socks-proxy|not-an-address"]; !ok {
		t.Fatalf("expected socks-proxy issue, got %+v", report.Issues)
	}
}
