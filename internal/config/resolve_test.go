package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func resolveFixture(t *testing.T, alias string) (map[string]string, error) {
	t.Helper()
	file, err := ParseFile(filepath.Join("testdata", "config_valid"))
	if err != nil {
		t.Fatal(err)
	}
	eff, err := Resolve(file, alias)
	if err != nil {
		return nil, err
	}
	return eff.Values, nil
}

func TestResolve_ExactBlock(t *testing.T) {
	got, err := resolveFixture(t, "hello")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"hostname": "hello.com", "port": "1234"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestResolve_FirstMatchWinsPerKey(t *testing.T) {
	got, err := resolveFixture(t, "tamp")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"hostname": "tamp.yo", "port": "12345", "user": "bob"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestResolve_EarlierBlockNeverOverwritten(t *testing.T) {
	cfg := strings.Join([]string{
		"Host app-*",
		"  User first",
		"  Port 2200",
		"Host *",
		"  User second",
		"  Port 22",
		"  HostName fallback.example",
		"",
	}, "\n")
	file, err := Parse("inline", strings.NewReader(cfg))
	if err != nil {
		t.Fatal(err)
	}
	eff, err := Resolve(file, "app-1")
	if err != nil {
		t.Fatal(err)
	}
	if eff.User() != "first" {
		t.Fatalf("expected user from earlier block, got %q", eff.User())
	}
	if p, _ := eff.Port(); p != 2200 {
		t.Fatalf("expected port from earlier block, got %d", p)
	}
	if eff.HostName() != "fallback.example" {
		t.Fatalf("expected hostname filled by later block, got %q", eff.HostName())
	}
	if eff.Sources["user"] != 2 || eff.Sources["hostname"] != 7 {
		t.Fatalf("unexpected source lines: %v", eff.Sources)
	}
}

func TestResolve_HostNotFound(t *testing.T) {
	_, err := resolveFixture(t, "notfound")
	var nf *HostNotFoundError
	if !errors.As(err, &nf) || nf.Alias != "notfound" {
		t.Fatalf("expected HostNotFoundError for notfound, got %v", err)
	}
	if err.Error() != "unable to find configuration for host 'notfound'" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestResolve_HostNameAndPortDefaults(t *testing.T) {
	file, err := Parse("inline", strings.NewReader("Host bare\n  User root\n"))
	if err != nil {
		t.Fatal(err)
	}
	eff, err := Resolve(file, "bare")
	if err != nil {
		t.Fatal(err)
	}
	if eff.HostName() != "bare" {
		t.Fatalf("expected alias as hostname, got %q", eff.HostName())
	}
	port, err := eff.Port()
	if err != nil || port != 22 {
		t.Fatalf("expected default port 22, got %d (%v)", port, err)
	}
}

func TestResolve_PortFromWildcard(t *testing.T) {
	file, err := ParseFile(filepath.Join("testdata", "config_valid"))
	if err != nil {
		t.Fatal(err)
	}
	eff, err := Resolve(file, "tamp")
	if err != nil {
		t.Fatal(err)
	}
	if eff.HostName() != "tamp.yo" {
		t.Fatalf("unexpected hostname %q", eff.HostName())
	}
	if p, err := eff.Port(); err != nil || p != 12345 {
		t.Fatalf("unexpected port %d (%v)", p, err)
	}
}

func TestResolve_InvalidPort(t *testing.T) {
	file, err := Parse("inline", strings.NewReader("Host x\n  Port ssh\n"))
	if err != nil {
		t.Fatal(err)
	}
	eff, err := Resolve(file, "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eff.Port(); err == nil {
		t.Fatal("expected invalid port error")
	}
}

func TestAliases(t *testing.T) {
	file, err := Parse("inline", strings.NewReader("Host b a *.x !c\nHost a\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := Aliases(file); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected aliases: %v", got)
	}
}
