package config

import (
	"sort"

	"github.com/treykane/sshexec/internal/model"
)

// Resolve merges every block matching alias, in file order. The first block
// to define a key wins; later matching blocks only fill keys still unset.
func Resolve(file *model.ConfigFile, alias string) (model.EffectiveConfig, error) {
	eff := model.EffectiveConfig{
		Alias:   alias,
		Values:  map[string]string{},
		Sources: map[string]int{},
	}
	found := false
	for _, b := range file.Blocks {
		if !MatchBlock(b, alias) {
			continue
		}
		found = true
		for _, d := range b.Directives {
			if _, ok := eff.Values[d.Key]; ok {
				continue
			}
			eff.Values[d.Key] = d.Value
			eff.Sources[d.Key] = d.Line
		}
	}
	if !found {
		return model.EffectiveConfig{}, &HostNotFoundError{Alias: alias}
	}
	return eff, nil
}

// Aliases lists the concrete (wildcard-free, non-negated) Host patterns in
// sorted order.
func Aliases(file *model.ConfigFile) []string {
	set := map[string]struct{}{}
	for _, b := range file.Blocks {
		for _, p := range b.Patterns() {
			if isConcreteAlias(p) {
				set[p] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
