// Package group stores named sets of host aliases that commands can fan out to.
package group

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/treykane/sshexec/internal/appconfig"
)

// Definition is a named, ordered list of host aliases.
type Definition struct {
	Name  string   `yaml:"name" json:"name"`
	Hosts []string `yaml:"hosts" json:"hosts"`
}

type fileModel struct {
	Groups map[string]Definition `yaml:"groups"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "groups.yaml"), nil
}

// LoadAll returns all groups sorted by name.
func LoadAll() ([]Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := make([]Definition, 0, len(fm.Groups))
	for _, g := range fm.Groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get fetches one group by name.
func Get(name string) (Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return Definition{}, err
	}
	g, ok := fm.Groups[name]
	if !ok {
		return Definition{}, fmt.Errorf("group not found: %s", name)
	}
	return g, nil
}

// Create adds or replaces a group. Duplicate aliases are dropped, keeping
// the first occurrence.
func Create(name string, hosts []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("group name cannot be empty")
	}
	if len(hosts) == 0 {
		return fmt.Errorf("group must include at least one host")
	}
	seen := map[string]bool{}
	var clean []string
	for i, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			return fmt.Errorf("group entry %d missing host alias", i)
		}
		if !seen[h] {
			seen[h] = true
			clean = append(clean, h)
		}
	}

	fm, err := loadFile()
	if err != nil {
		return err
	}
	fm.Groups[name] = Definition{Name: name, Hosts: clean}
	return saveFile(fm)
}

// Delete removes a group by name.
func Delete(name string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if _, ok := fm.Groups[name]; !ok {
		return fmt.Errorf("group not found: %s", name)
	}
	delete(fm.Groups, name)
	return saveFile(fm)
}

func loadFile() (fileModel, error) {
	path, err := filePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{Groups: map[string]Definition{}}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse groups: %w", err)
	}
	if fm.Groups == nil {
		fm.Groups = map[string]Definition{}
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
