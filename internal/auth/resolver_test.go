package auth

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/treykane/sshexec/internal/config"
	"github.com/treykane/sshexec/internal/model"
)

func fixtureHost(t *testing.T, alias string) model.EffectiveConfig {
	t.Helper()
	file, err := config.ParseFile(filepath.Join("..", "config", "testdata", "config_valid"))
	if err != nil {
		t.Fatal(err)
	}
	eff, err := config.Resolve(file, alias)
	if err != nil {
		t.Fatal(err)
	}
	return eff
}

func homeResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return NewResolver(), home
}

func TestResolve_IdentityFromConfig(t *testing.T) {
	r, _ := homeResolver(t)
	got, err := r.Resolve(fixtureHost(t, "testuser.com"), "", "")
	if err != nil {
		t.Fatal(err)
	}
	want := PublicKeyFile{User: "test", PublicKeyPath: "test.pub", PrivateKeyPath: "test"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func TestResolve_ExplicitUserOverride(t *testing.T) {
	r, _ := homeResolver(t)
	got, err := r.Resolve(fixtureHost(t, "testuser.com"), "", "otheruser")
	if err != nil {
		t.Fatal(err)
	}
	want := PublicKeyFile{User: "otheruser", PublicKeyPath: "test.pub", PrivateKeyPath: "test"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func TestResolve_ExplicitIdentityOverride(t *testing.T) {
	r, home := homeResolver(t)
	got, err := r.Resolve(fixtureHost(t, "testuser.com"), "~/.ssh/deploy", "")
	if err != nil {
		t.Fatal(err)
	}
	key := filepath.Join(home, ".ssh", "deploy")
	want := PublicKeyFile{User: "test", PublicKeyPath: key + ".pub", PrivateKeyPath: key}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func TestResolve_HomeExpansion(t *testing.T) {
	r, home := homeResolver(t)
	got, err := r.Resolve(fixtureHost(t, "identity"), "", "")
	if err != nil {
		t.Fatal(err)
	}
	pk, ok := got.(PublicKeyFile)
	if !ok {
		t.Fatalf("expected PublicKeyFile, got %T", got)
	}
	if pk.PrivateKeyPath != filepath.Join(home, "identity") {
		t.Fatalf("unexpected expanded path %q", pk.PrivateKeyPath)
	}
	if pk.PublicKeyPath != filepath.Join(home, "identity")+".pub" {
		t.Fatalf("unexpected public key path %q", pk.PublicKeyPath)
	}
}

func TestResolve_NoneWithoutDefaultKey(t *testing.T) {
	r, _ := homeResolver(t)
	got, err := r.Resolve(fixtureHost(t, "test"), "", "test")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, None{User: "test"}) {
		t.Fatalf("expected None{test}, got %+v", got)
	}
}

func TestResolve_DefaultKeyProbe(t *testing.T) {
	r, home := homeResolver(t)
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	key := filepath.Join(sshDir, "id_ed25519")
	if err := os.WriteFile(key, []byte("key"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := r.Resolve(fixtureHost(t, "test"), "", "test")
	if err != nil {
		t.Fatal(err)
	}
	want := PublicKeyFile{User: "test", PublicKeyPath: key + ".pub", PrivateKeyPath: key}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %+v, got %+v", want, got)
	}

	rsa := filepath.Join(sshDir, "id_rsa")
	if err := os.WriteFile(rsa, []byte("key"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = r.Resolve(fixtureHost(t, "test"), "", "test")
	if err != nil {
		t.Fatal(err)
	}
	if got.(PublicKeyFile).PrivateKeyPath != rsa {
		t.Fatalf("expected id_rsa to be probed first, got %+v", got)
	}
}

func TestResolve_NoUser(t *testing.T) {
	r, _ := homeResolver(t)
	_, err := r.Resolve(fixtureHost(t, "test"), "", "")
	var re *ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	want := "can not authenticate for 'test.com' could not find user to authenticate as"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestResolve_PureWithFakeFilesystem(t *testing.T) {
	var probed []string
	r := &Resolver{
		Home: func() (string, error) { return "/home/alice", nil },
		Stat: func(p string) (os.FileInfo, error) {
			probed = append(probed, p)
			return nil, os.ErrNotExist
		},
		DefaultIdentities: []string{"id_rsa"},
	}
	eff := model.EffectiveConfig{Alias: "x", Values: map[string]string{"user": "alice"}}
	got, err := r.Resolve(eff, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind() != "none" || got.Username() != "alice" {
		t.Fatalf("unexpected spec %+v", got)
	}
	if !reflect.DeepEqual(probed, []string{"/home/alice/.ssh/id_rsa"}) {
		t.Fatalf("unexpected probe paths %v", probed)
	}
}

func TestExpandHome(t *testing.T) {
	r := &Resolver{Home: func() (string, error) { return "/home/alice", nil }}
	tests := map[string]string{
		"~/identity":  "/home/alice/identity",
		"~":           "/home/alice",
		"test":        "test",
		"keys/~/id":   "keys/~/id",
		"~bob/id":     "~bob/id",
		"/abs/id_rsa": "/abs/id_rsa",
	}
	for in, want := range tests {
		got, err := r.ExpandHome(in)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}
