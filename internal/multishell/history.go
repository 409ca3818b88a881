package multishell

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// History stores completed output lines per server
type History struct {
	mu    sync.Mutex
	lines map[string][]string
}

// NewHistory creates an empty history
func NewHistory() *History {
	return &History{lines: make(map[string][]string)}
}

// Append records one line for server
func (h *History) Append(server, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines[server] = append(h.lines[server], line)
}

// Lines returns a copy of the server's lines
func (h *History) Lines(server string) ([]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines, ok := h.lines[server]
	if !ok {
		return nil, false
	}
	return append([]string(nil), lines...), true
}

// Servers returns the servers with history, sorted
func (h *History) Servers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.lines))
	for name := range h.lines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Show writes history for one server, or all of them when server is "--all"
func (h *History) Show(w io.Writer, server string) {
	if server == "--all" {
		servers := h.Servers()
		if len(servers) == 0 {
			fmt.Fprintln(w, "📝 No command history available")
			return
		}
		fmt.Fprintln(w, "\n📋 Command History Summary")
		fmt.Fprintln(w, strings.Repeat("═", 50))
		for _, name := range servers {
			lines, _ := h.Lines(name)
			printServerHistory(w, name, lines)
		}
		return
	}

	lines, ok := h.Lines(server)
	if !ok {
		fmt.Fprintf(w, "❌ Server '%s' not found or no history available\n", server)
		return
	}
	fmt.Fprintf(w, "\n📋 Command History for %s\n", server)
	fmt.Fprintln(w, strings.Repeat("═", 50))
	printServerHistory(w, server, lines)
}

func printServerHistory(w io.Writer, server string, lines []string) {
	if len(lines) == 0 {
		fmt.Fprintf(w, "📝 %s: No commands executed yet\n", server)
		return
	}

	fmt.Fprintf(w, "\n🖥️  Server: %s\n", server)
	fmt.Fprintln(w, strings.Repeat("─", 30))
	for i, line := range lines {
		fmt.Fprintf(w, "%2d │ %s\n", i+1, line)
	}
	fmt.Fprintln(w, strings.Repeat("─", 30))
	fmt.Fprintf(w, "📊 Total: %d lines\n", len(lines))
}
