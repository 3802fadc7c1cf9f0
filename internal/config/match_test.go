package config

import (
	"testing"

	"github.com/treykane/sshexec/internal/model"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		alias   string
		want    bool
	}{
		{"ta*", "tamp", true},
		{"ta*", "xtamp", false},
		{"ta*", "ta", true},
		{"*", "", true},
		{"*", "anything.example.com", true},
		{"?", "a", true},
		{"?", "", false},
		{"?", "ab", false},
		{"web-??", "web-01", true},
		{"web-??", "web-1", false},
		{"*.example.com", "db.example.com", true},
		{"*.example.com", "example.com", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
		{"hello", "hello", true},
		{"hello", "Hello", false},
		{"hello", "hello.com", false},
		{"[ab]", "[ab]", true},
		{"[ab]", "a", false},
		{"db/*", "db/primary", true},
	}
	for _, tt := range tests {
		if got := Match(tt.pattern, tt.alias); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.alias, got, tt.want)
		}
	}
}

func TestMatchBlock_MultiplePatternsAndNegation(t *testing.T) {
	b := model.HostBlock{Pattern: "*.internal !bastion.internal web"}
	if !MatchBlock(b, "db.internal") {
		t.Fatal("expected wildcard pattern to match")
	}
	if !MatchBlock(b, "web") {
		t.Fatal("expected literal pattern to match")
	}
	if MatchBlock(b, "bastion.internal") {
		t.Fatal("expected negated pattern to exclude block")
	}
	if MatchBlock(model.HostBlock{Pattern: "!web"}, "db") {
		t.Fatal("negation alone must not match")
	}
}
