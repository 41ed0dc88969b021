// Package command loads the chat command manifest and parses command lines.
package command

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Command is one chat command.
type Command struct {
	// Name is the canonical command name.
	Name    string
	Aliases []string
	Desc    string
	Usage   string
	// Permission, when non-empty, must be held by the invoking user.
	Permission string
}

// manifestEntry is the on-disk shape of one command.
type manifestEntry struct {
	Aliases    []string `json:"aliases" yaml:"aliases"`
	Desc       string   `json:"desc" yaml:"desc"`
	Usage      string   `json:"usage" yaml:"usage"`
	Permission string   `json:"permission" yaml:"permission"`
	Disabled   bool     `json:"disabled" yaml:"disabled"`
}

// LoadFile reads a command manifest (JSON, or YAML by extension) and builds
// a Registry from its enabled entries.
//
// Postcondition: Disabled entries are absent; name or alias collisions are errors.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading command manifest %s: %w", path, err)
	}
	entries := make(map[string]manifestEntry)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &entries)
	default:
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing command manifest %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	cmds := make([]Command, 0, len(names))
	for _, name := range names {
		e := entries[name]
		if e.Disabled {
			continue
		}
		aliases := make([]string, 0, len(e.Aliases))
		for _, a := range e.Aliases {
			aliases = append(aliases, strings.ToLower(a))
		}
		cmds = append(cmds, Command{
			Name:       strings.ToLower(name),
			Aliases:    aliases,
			Desc:       e.Desc,
			Usage:      e.Usage,
			Permission: e.Permission,
		})
	}
	r, err := NewRegistry(cmds)
	if err != nil {
		return nil, fmt.Errorf("command manifest %s: %w", path, err)
	}
	return r, nil
}
