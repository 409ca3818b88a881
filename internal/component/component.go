// Package component installs and removes optional software described by
// TOML descriptors, one file per component.
package component

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"ssh-fleet/internal/errors"
)

// Info names and describes a component
type Info struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// Service says which service manager operations follow an install
type Service struct {
	Start  bool `toml:"start"`
	Enable bool `toml:"enable"`
}

// Check is a command exiting zero when the component is installed
type Check struct {
	Command string `toml:"command"`
}

// Spec is how a component is installed or uninstalled: a PackageSpec or
// a CommandSpec
type Spec interface {
	spec()
}

// PackageSpec goes through the OS package manager, with optional commands
// around it
type PackageSpec struct {
	Packages []string
	Before   []string
	After    []string
}

// CommandSpec runs commands only
type CommandSpec struct {
	Commands []string
}

func (PackageSpec) spec() {}
func (CommandSpec) spec() {}

// Component is a parsed descriptor
type Component struct {
	Info      Info
	Service   Service
	Install   Spec
	Uninstall Spec
	Check     *Check
}

type rawSpec struct {
	Type     string   `toml:"type"`
	Packages []string `toml:"packages"`
	Before   []string `toml:"before"`
	After    []string `toml:"after"`
	Commands []string `toml:"commands"`
}

type rawComponent struct {
	Info      Info    `toml:"info"`
	Service   Service `toml:"service"`
	Install   rawSpec `toml:"install"`
	Uninstall rawSpec `toml:"uninstall"`
	Check     *Check  `toml:"check"`
}

func (r rawSpec) decode(section string) (Spec, error) {
	switch r.Type {
	case "package":
		if len(r.Packages) == 0 {
			return nil, fmt.Errorf("[%s] type \"package\" needs packages", section)
		}
		return PackageSpec{Packages: r.Packages, Before: r.Before, After: r.After}, nil
	case "command":
		if len(r.Commands) == 0 {
			return nil, fmt.Errorf("[%s] type \"command\" needs commands", section)
		}
		return CommandSpec{Commands: r.Commands}, nil
	case "":
		return nil, fmt.Errorf("[%s] missing type", section)
	}
	return nil, fmt.Errorf("[%s] unknown type %q", section, r.Type)
}

// Parse decodes one component descriptor
func Parse(data string) (*Component, error) {
	var raw rawComponent
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, err
	}
	if raw.Info.Name == "" {
		return nil, fmt.Errorf("[info] missing name")
	}

	install, err := raw.Install.decode("install")
	if err != nil {
		return nil, err
	}
	uninstall, err := raw.Uninstall.decode("uninstall")
	if err != nil {
		return nil, err
	}

	return &Component{
		Info:      raw.Info,
		Service:   raw.Service,
		Install:   install,
		Uninstall: uninstall,
		Check:     raw.Check,
	}, nil
}

// LoadFile reads one component descriptor
func LoadFile(path string) (*Component, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewSetupError(fmt.Sprintf("failed to read component %s", path), err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, errors.NewSetupError(fmt.Sprintf("invalid component %s", path), err)
	}
	return c, nil
}

// LoadDir reads every *.toml file in dir, keyed by component name
func LoadDir(dir string) (map[string]*Component, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, errors.NewSetupError("invalid component directory", err)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.NewSetupError(fmt.Sprintf("component directory %s", dir), err)
	}
	sort.Strings(paths)

	components := make(map[string]*Component, len(paths))
	for _, path := range paths {
		c, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if _, dup := components[c.Info.Name]; dup {
			return nil, errors.NewSetupError(fmt.Sprintf("component '%s' defined twice (%s)", c.Info.Name, path), nil)
		}
		components[c.Info.Name] = c
	}
	return components, nil
}
