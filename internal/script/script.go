// Package script loads named command sequences from TOML files and runs
// selected ones on a host.
package script

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/system"
)

// Info describes a script file
type Info struct {
	Name string `toml:"name"`
	Desc string `toml:"desc"`
}

// Action is one named command sequence
type Action struct {
	Sudo     bool     `toml:"sudo"`
	Desc     string   `toml:"desc"`
	Commands []string `toml:"commands"`
}

// Config is a parsed script file
type Config struct {
	Info   Info              `toml:"info"`
	Script map[string]Action `toml:"script"`
}

// Executor runs one remote command
type Executor interface {
	Execute(ctx context.Context, command string, elevate bool) (*ssh.CommandResult, error)
}

// Load reads a script file
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.NewSetupError(fmt.Sprintf("failed to load script %s", path), err)
	}
	return &cfg, nil
}

// Parse decodes script TOML from data
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, errors.NewSetupError("failed to parse script", err)
	}
	return &cfg, nil
}

// Names returns the action names, sorted
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Script))
	for name := range c.Script {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check makes sure at least one action is selected and all of them exist
func (c *Config) Check(actions []string) error {
	if len(actions) == 0 {
		return errors.NewSetupError("no actions specified", nil)
	}
	for _, name := range actions {
		if _, ok := c.Script[name]; !ok {
			return errors.NewSetupError(fmt.Sprintf("action '%s' not found", name), nil)
		}
	}
	return nil
}

// Run executes the selected actions in order, stopping at the first
// command with a non-zero exit
func (c *Config) Run(ctx context.Context, h Executor, actions []string) error {
	for _, name := range actions {
		action, ok := c.Script[name]
		if !ok {
			return errors.NewSetupError(fmt.Sprintf("action '%s' not found", name), nil)
		}
		for _, command := range action.Commands {
			if _, err := system.Succeeded(h.Execute(ctx, command, action.Sudo)); err != nil {
				return err
			}
		}
	}
	return nil
}

// List prints the script header and its actions
func (c *Config) List(w io.Writer) {
	fmt.Fprintf(w, "📋 Script: %s\n", c.Info.Name)
	fmt.Fprintf(w, "📝 Description: %s\n", c.Info.Desc)
	fmt.Fprintf(w, "\n🎯 Available actions:\n")
	if len(c.Script) == 0 {
		fmt.Fprintln(w, "  • No actions found")
		return
	}
	for _, name := range c.Names() {
		action := c.Script[name]
		desc := strings.TrimSpace(action.Desc)
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(w, "  • %s - %s (sudo: %t)\n", name, desc, action.Sudo)
	}
}
