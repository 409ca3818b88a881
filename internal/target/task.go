package target

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Task is one server-targeted unit of work. It is immutable once built.
type Task struct {
	Name   string
	Target Target
}

// Label identifies the task in logs and outcome lines
func (t Task) Label() string {
	return fmt.Sprintf("%s (%s)", t.Name, t.Target)
}

// Prompter supplies passwords for servers that ask for one at runtime
type Prompter interface {
	Password(server string, t Target) (string, error)
}

// BuildTasks turns every server into a task, sorted by name. Servers using
// AuthPrompt are prompted once here so that workers never block on input.
func BuildTasks(servers map[string]Target, prompter Prompter) ([]Task, error) {
	return SelectTasks(servers, Names(servers), prompter)
}

// SelectTasks builds tasks for the named servers only, in the given order.
// An unknown name is an error.
func SelectTasks(servers map[string]Target, names []string, prompter Prompter) ([]Task, error) {
	tasks := make([]Task, 0, len(names))
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		t, ok := servers[name]
		if !ok {
			return nil, fmt.Errorf("server '%s' not found in config", name)
		}
		t.Name = name

		if t.Auth == AuthPrompt && t.Password == "" {
			if prompter == nil {
				return nil, fmt.Errorf("server '%s' requires a password but no prompt is available", name)
			}
			password, err := prompter.Password(name, t)
			if err != nil {
				return nil, fmt.Errorf("failed to read password for '%s': %w", name, err)
			}
			t.Password = password
		}

		if err := ValidateTarget(t); err != nil {
			return nil, fmt.Errorf("server '%s': %w", name, err)
		}
		tasks = append(tasks, Task{Name: name, Target: t})
	}

	return tasks, nil
}

// TerminalPrompter reads passwords from the controlling terminal without echo
type TerminalPrompter struct {
	In  *os.File
	Out *os.File
	mu  sync.Mutex
}

// NewTerminalPrompter prompts on stderr and reads from stdin
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// Password implements Prompter
func (p *TerminalPrompter) Password(server string, t Target) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}

	fmt.Fprintf(p.Out, "Password for %s (%s): ", server, t)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", err
	}
	return string(password), nil
}
