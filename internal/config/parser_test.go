package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseFile_ValidFixture(t *testing.T) {
	file, err := ParseFile(filepath.Join("testdata", "config_valid"))
	if err != nil {
		t.Fatal(err)
	}
	wantPatterns := []string{"hello", "hello.com", "test", "testuser.com", "tamp", "identity", "ta*"}
	if len(file.Blocks) != len(wantPatterns) {
		t.Fatalf("expected %d blocks, got %d", len(wantPatterns), len(file.Blocks))
	}
	for i, b := range file.Blocks {
		if b.Pattern != wantPatterns[i] {
			t.Fatalf("block %d: want pattern %q, got %q", i, wantPatterns[i], b.Pattern)
		}
	}
	last := file.Blocks[len(file.Blocks)-1]
	keys := make([]string, 0, len(last.Directives))
	for _, d := range last.Directives {
		keys = append(keys, d.Key)
	}
	if !reflect.DeepEqual(keys, []string{"user", "port", "hostname"}) {
		t.Fatalf("expected lower-cased keys in file order, got %v", keys)
	}
	if v, _ := last.Get("HOSTNAME"); v != "test.com" {
		t.Fatalf("expected case-insensitive lookup, got %q", v)
	}
}

func TestParseFile_Idempotent(t *testing.T) {
	path := filepath.Join("testdata", "config_valid")
	a, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("expected identical parse results for the same file")
	}
}

func TestParseFile_InvalidLine(t *testing.T) {
	path := filepath.Join("testdata", "config_invalid")
	_, err := ParseFile(path)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Line != 1 || pe.Path != path {
		t.Fatalf("unexpected parse error location: %+v", pe)
	}
	want := "the file '" + path + "' is not parsable at line '1'"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestParse_DirectiveBeforeHost(t *testing.T) {
	cfg := "# leading comment\n\nUser root\nHost a\n  HostName a.example\n"
	_, err := Parse("inline", strings.NewReader(cfg))
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Line != 3 {
		t.Fatalf("expected ParseError at line 3, got %v", err)
	}
}

func TestParse_SyntaxVariants(t *testing.T) {
	cfg := strings.Join([]string{
		"Host web db # two patterns",
		"  HostName=10.0.0.5",
		"  User = deploy",
		"  IdentityFile \"~/.ssh/my key\"",
		"  ForwardAgent yes",
		"  User ignored",
		"",
	}, "\n")
	file, err := Parse("inline", strings.NewReader(cfg))
	if err != nil {
		t.Fatal(err)
	}
	if len(file.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(file.Blocks))
	}
	b := file.Blocks[0]
	if !reflect.DeepEqual(b.Patterns(), []string{"web", "db"}) {
		t.Fatalf("unexpected patterns: %v", b.Patterns())
	}
	checks := map[string]string{
		"hostname":     "10.0.0.5",
		"user":         "deploy",
		"identityfile": "~/.ssh/my key",
		"forwardagent": "yes",
	}
	for k, want := range checks {
		if got, _ := b.Get(k); got != want {
			t.Fatalf("%s: want %q, got %q", k, want, got)
		}
	}
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile("fakefile")
	var nf *FileNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected FileNotFoundError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
	if err.Error() != "the file 'fakefile' does not exist or is not readable" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestParseFile_Directory(t *testing.T) {
	_, err := ParseFile(t.TempDir())
	var nf *FileNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected FileNotFoundError for directory, got %v", err)
	}
}

func TestParseDefault_UsesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".ssh"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".ssh", "config"), []byte("Host api\n  HostName 127.0.0.1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	file, err := ParseDefault()
	if err != nil {
		t.Fatal(err)
	}
	if len(file.Blocks) != 1 || file.Blocks[0].Pattern != "api" {
		t.Fatalf("unexpected blocks: %+v", file.Blocks)
	}
}
