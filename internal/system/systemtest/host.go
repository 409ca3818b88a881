// Package systemtest provides a scripted system.Host for tests.
package systemtest

import (
	"context"
	"strings"
	"sync"

	"ssh-fleet/internal/ssh"
)

// Reply is the canned result for commands matching a prefix
type Reply struct {
	Prefix string
	Output string
	Exit   int
	Err    error
}

// Host records every command and answers from its replies. The first
// reply whose prefix matches wins; unmatched commands exit 0 with no output.
type Host struct {
	Family ssh.OSFamily

	mu       sync.Mutex
	replies  []Reply
	commands []string
	elevated []bool
}

// New returns a Debian host answering with replies
func New(replies ...Reply) *Host {
	return &Host{Family: ssh.Debian, replies: replies}
}

// On adds a reply, taking precedence over existing ones
func (h *Host) On(prefix, output string, exit int) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replies = append([]Reply{{Prefix: prefix, Output: output, Exit: exit}}, h.replies...)
	return h
}

func (h *Host) OSFamily() ssh.OSFamily { return h.Family }

func (h *Host) Execute(_ context.Context, command string, elevate bool) (*ssh.CommandResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, command)
	h.elevated = append(h.elevated, elevate)

	for _, r := range h.replies {
		if strings.HasPrefix(command, r.Prefix) {
			if r.Err != nil {
				return nil, r.Err
			}
			return &ssh.CommandResult{Command: command, Output: r.Output, ExitStatus: r.Exit}, nil
		}
	}
	return &ssh.CommandResult{Command: command}, nil
}

// Commands returns the commands run so far
func (h *Host) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

// Elevated reports whether the i-th command ran as root
func (h *Host) Elevated(i int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.elevated[i]
}

// Ran reports whether any command starting with prefix was run
func (h *Host) Ran(prefix string) bool {
	for _, c := range h.Commands() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
