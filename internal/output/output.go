// Package output prints exactly one outcome line per task, either as
// colored text or as NDJSON records.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ssh-fleet/internal/executor"
	"ssh-fleet/internal/target"
)

// Mode selects the output format
type Mode string

const (
	// TextMode prints emoji outcome lines with indented command output
	TextMode Mode = "text"

	// JSONMode emits one NDJSON object per task plus a summary object
	JSONMode Mode = "json"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case TextMode, JSONMode:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown output mode: %s", s)
}

// Record is the NDJSON shape of one task outcome
type Record struct {
	Type     string   `json:"type"`
	RunID    string   `json:"run_id,omitempty"`
	Action   string   `json:"action,omitempty"`
	Server   string   `json:"server"`
	Target   string   `json:"target"`
	Success  bool     `json:"success"`
	Attempts int      `json:"attempts"`
	Error    string   `json:"error,omitempty"`
	Output   []string `json:"output,omitempty"`
}

// SummaryRecord is the NDJSON shape of the final summary
type SummaryRecord struct {
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	Action     string `json:"action,omitempty"`
	Total      int    `json:"total"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
}

// Printer is an executor.Observer that reports task outcomes. Detail
// lines attached with SetDetail are printed under the outcome line.
type Printer struct {
	mode   Mode
	w      io.Writer
	runID  string
	action string

	ok   lipgloss.Style
	fail lipgloss.Style
	dim  lipgloss.Style

	mu      sync.Mutex
	details map[int][]string
}

// NewPrinter writes to w, or stdout when w is nil
func NewPrinter(mode Mode, w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	r := lipgloss.NewRenderer(w)
	return &Printer{
		mode:    mode,
		w:       w,
		ok:      r.NewStyle().Foreground(lipgloss.Color("2")),
		fail:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dim:     r.NewStyle().Faint(true),
		details: make(map[int][]string),
	}
}

// SetRun tags JSON records with a run id and action name
func (p *Printer) SetRun(runID, action string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = runID
	p.action = action
}

// Mode returns the output mode
func (p *Printer) Mode() Mode {
	return p.mode
}

// SetDetail attaches output lines to a task, replacing earlier ones. Blank
// lines are dropped.
func (p *Printer) SetDetail(index int, lines []string) {
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.details[index] = kept
}

// TaskStarted implements executor.Observer
func (p *Printer) TaskStarted(int, target.Task) {}

// TaskFinished implements executor.Observer and prints the outcome
func (p *Printer) TaskFinished(index int, task target.Task, err error, attempts int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	detail := p.details[index]
	delete(p.details, index)

	if p.mode == JSONMode {
		rec := Record{
			Type:     "result",
			RunID:    p.runID,
			Action:   p.action,
			Server:   task.Name,
			Target:   task.Target.String(),
			Success:  err == nil,
			Attempts: attempts,
			Output:   detail,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		p.writeJSON(rec)
		return
	}

	if err == nil {
		fmt.Fprintln(p.w, p.ok.Render(fmt.Sprintf("✅ %s - Success", task.Label())))
	} else {
		fmt.Fprintln(p.w, p.fail.Render(fmt.Sprintf("❌ %s - Failed: %s", task.Label(), err)))
	}
	for _, line := range detail {
		fmt.Fprintf(p.w, "   %s\n", line)
	}
}

// Header prints a section title in text mode
func (p *Printer) Header(title string) {
	if p.mode != TextMode {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\n%s\n%s\n", title, strings.Repeat("═", 50))
}

// Println prints a free-form line in text mode
func (p *Printer) Println(line string) {
	if p.mode != TextMode {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

// ListTasks prints the numbered target list in text mode
func (p *Printer) ListTasks(tasks []target.Task) {
	if p.mode != TextMode {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(tasks) == 0 {
		fmt.Fprintln(p.w, "📝 No servers to process")
		return
	}
	rule := strings.Repeat("─", 40)
	fmt.Fprintf(p.w, "\n🎯 Target Servers (%d)\n%s\n", len(tasks), rule)
	for i, t := range tasks {
		fmt.Fprintf(p.w, "%2d - %s - %s\n", i+1, t.Name, t.Target)
	}
	fmt.Fprintln(p.w, rule)
}

// Summary prints the run totals
func (p *Printer) Summary(s *executor.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	failed := len(s.Failed)
	if p.mode == JSONMode {
		p.writeJSON(SummaryRecord{
			Type:       "summary",
			RunID:      p.runID,
			Action:     p.action,
			Total:      s.Total,
			Succeeded:  s.Succeeded,
			Failed:     failed,
			DurationMs: s.Duration.Milliseconds(),
		})
		return
	}

	line := fmt.Sprintf("\n📊 %d/%d succeeded, %d failed in %v", s.Succeeded, s.Total, failed, s.Duration.Round(time.Millisecond))
	fmt.Fprintln(p.w, p.dim.Render(line))
	for _, f := range s.Failed {
		fmt.Fprintln(p.w, p.fail.Render(fmt.Sprintf("   ✗ %s", f.Task.Name)))
	}
}

func (p *Printer) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(p.w, "{\"type\":\"error\",\"error\":%q}\n", err.Error())
		return
	}
	fmt.Fprintf(p.w, "%s\n", data)
}

// ListServers prints configured servers with their auth mode, sorted by name
func ListServers(w io.Writer, servers map[string]target.Target) {
	if len(servers) == 0 {
		fmt.Fprintln(w, "📝 No servers configured")
		return
	}

	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	rule := strings.Repeat("─", 50)
	fmt.Fprintf(w, "\n🖥️  Configured Servers (%d)\n%s\n", len(servers), rule)
	for _, name := range names {
		t := servers[name]
		fmt.Fprintf(w, "  %s - %s (%s)\n", name, t, authLabel(t.Auth))
	}
	fmt.Fprintln(w, rule)
}

func authLabel(a target.AuthMethod) string {
	switch a {
	case target.AuthPassword, target.AuthPrompt:
		return "🔐 Password"
	case target.AuthAgent:
		return "🗝️ Agent"
	default:
		return "🔑 Key"
	}
}
