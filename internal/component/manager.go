package component

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/system"
)

// Manager holds the loaded components. It is built once and passed to
// whatever needs it.
type Manager struct {
	components map[string]*Component
}

// NewManager loads every component in dir
func NewManager(dir string) (*Manager, error) {
	components, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return &Manager{components: components}, nil
}

// NewManagerFrom wraps already parsed components
func NewManagerFrom(components ...*Component) *Manager {
	m := &Manager{components: make(map[string]*Component, len(components))}
	for _, c := range components {
		m.components[c.Info.Name] = c
	}
	return m
}

// Names returns the component names, sorted
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Contains(name string) bool {
	_, ok := m.components[name]
	return ok
}

// Get returns a component by name
func (m *Manager) Get(name string) (*Component, error) {
	c, ok := m.components[name]
	if !ok {
		return nil, errors.NewSetupError(fmt.Sprintf("component '%s' not found", name), nil)
	}
	return c, nil
}

// Check fails unless every name is a known component
func (m *Manager) Check(names []string) error {
	var missing []string
	for _, name := range names {
		if !m.Contains(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.NewSetupError(fmt.Sprintf("supported component '%s' not found", strings.Join(missing, ", ")), nil)
	}
	return nil
}

// List prints the available components
func (m *Manager) List(w io.Writer) {
	if len(m.components) == 0 {
		fmt.Fprintln(w, "📝 No components available")
		return
	}
	rule := strings.Repeat("─", 60)
	fmt.Fprintf(w, "\n📦 Available Components (%d)\n%s\n", len(m.components), rule)
	for _, name := range m.Names() {
		fmt.Fprintf(w, "  📦 %s - %s\n", name, m.components[name].Info.Description)
	}
	fmt.Fprintln(w, rule)
}

// IsInstalled runs the component's check command. Without one the
// component is reported as not installed.
func (m *Manager) IsInstalled(ctx context.Context, h system.Host, name string) (bool, error) {
	c, err := m.Get(name)
	if err != nil {
		return false, err
	}
	if c.Check == nil || c.Check.Command == "" {
		return false, nil
	}
	result, err := h.Execute(ctx, c.Check.Command, true)
	if err != nil {
		return false, err
	}
	return result.ExitStatus == 0, nil
}

// Install runs the install spec, then enables and starts the service as
// configured. When a check command exists it must pass afterwards.
func (m *Manager) Install(ctx context.Context, h system.Host, name string) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	if err := apply(ctx, h, c.Install, system.Install); err != nil {
		return err
	}

	if c.Service.Enable {
		if _, err := system.Succeeded(system.Service(ctx, h, system.Enable, name)); err != nil {
			return err
		}
	}
	if c.Service.Start {
		if _, err := system.Succeeded(system.Service(ctx, h, system.Start, name)); err != nil {
			return err
		}
	}

	if c.Check != nil && c.Check.Command != "" {
		installed, err := m.IsInstalled(ctx, h, name)
		if err != nil {
			return err
		}
		if !installed {
			return errors.NewVerificationError(fmt.Sprintf("component '%s' check failed after install", name))
		}
	}
	return nil
}

// Uninstall stops and disables the service as configured, then runs the
// uninstall spec
func (m *Manager) Uninstall(ctx context.Context, h system.Host, name string) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}

	if c.Service.Start {
		if _, err := system.Succeeded(system.Service(ctx, h, system.Stop, name)); err != nil {
			return err
		}
	}
	if c.Service.Enable {
		if _, err := system.Succeeded(system.Service(ctx, h, system.Disable, name)); err != nil {
			return err
		}
	}
	return apply(ctx, h, c.Uninstall, system.Uninstall)
}

type packageFunc func(ctx context.Context, h system.Host, packages ...string) (*ssh.CommandResult, error)

func apply(ctx context.Context, h system.Host, spec Spec, packages packageFunc) error {
	switch s := spec.(type) {
	case PackageSpec:
		if err := runAll(ctx, h, s.Before); err != nil {
			return err
		}
		if _, err := system.Succeeded(packages(ctx, h, s.Packages...)); err != nil {
			return err
		}
		return runAll(ctx, h, s.After)
	case CommandSpec:
		return runAll(ctx, h, s.Commands)
	default:
		return fmt.Errorf("unsupported component spec %T", spec)
	}
}

func runAll(ctx context.Context, h system.Host, commands []string) error {
	for _, cmd := range commands {
		if _, err := system.Succeeded(h.Execute(ctx, cmd, true)); err != nil {
			return err
		}
	}
	return nil
}
