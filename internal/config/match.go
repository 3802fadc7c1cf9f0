package config

import (
	"strings"

	"github.com/treykane/sshexec/internal/model"
)

// Match reports whether alias matches the glob pattern. '*' matches any run
// of characters including none, '?' matches exactly one character, every
// other byte is literal. The whole alias must be consumed.
//
// filepath.Match is not used because it treats '[' and '\' specially and
// stops '*' at path separators.
func Match(pattern, alias string) bool {
	p, a := 0, 0
	star, mark := -1, 0
	for a < len(alias) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, a
			p++
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == alias[a]):
			p++
			a++
		case star >= 0:
			p = star + 1
			mark++
			a = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// MatchBlock reports whether a Host block applies to alias. A Host line may
// list several patterns; a "!"-prefixed pattern that matches excludes the
// block regardless of the others.
func MatchBlock(b model.HostBlock, alias string) bool {
	matched := false
	for _, p := range b.Patterns() {
		negated := strings.HasPrefix(p, "!")
		if !Match(strings.TrimPrefix(p, "!"), alias) {
			continue
		}
		if negated {
			return false
		}
		matched = true
	}
	return matched
}

func isConcreteAlias(pattern string) bool {
	if strings.HasPrefix(pattern, "!") {
		return false
	}
	return pattern != "" && !strings.ContainsAny(pattern, "*?")
}
