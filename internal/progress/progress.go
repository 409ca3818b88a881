// Package progress draws task and transfer progress bars on a terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"ssh-fleet/internal/stats"
	"ssh-fleet/internal/target"
	"ssh-fleet/internal/transfer"
)

const barWidth = 40

// Tracker draws a bar over finished tasks. It implements executor.Observer.
type Tracker struct {
	total     int
	completed int
	failed    int
	startTime time.Time
	mu        sync.Mutex
	writer    io.Writer
	enabled   bool
	lastDraw  time.Time
	throttle  time.Duration
}

// NewTracker creates a tracker for total tasks
func NewTracker(total int, writer io.Writer, enabled bool) *Tracker {
	return &Tracker{
		total:     total,
		startTime: time.Now(),
		writer:    writer,
		enabled:   enabled,
		throttle:  100 * time.Millisecond,
	}
}

// TaskStarted implements executor.Observer
func (p *Tracker) TaskStarted(int, target.Task) {}

// TaskFinished implements executor.Observer
func (p *Tracker) TaskFinished(_ int, _ target.Task, err error, _ int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err == nil {
		p.completed++
	} else {
		p.failed++
	}
	if p.enabled {
		p.draw()
	}
}

// Finish clears the bar and prints the final line
func (p *Tracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}
	elapsed := time.Since(p.startTime).Round(time.Second)
	fmt.Fprintf(p.writer, "\r\033[K")
	if p.failed == 0 {
		fmt.Fprintf(p.writer, "✓ Completed %d/%d tasks successfully in %v\n", p.completed, p.total, elapsed)
	} else {
		fmt.Fprintf(p.writer, "⚠ Completed %d/%d tasks (%d successful, %d failed) in %v\n",
			p.completed+p.failed, p.total, p.completed, p.failed, elapsed)
	}
}

// Counts returns finished task counters
func (p *Tracker) Counts() (completed, failed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, p.failed, p.total
}

func (p *Tracker) draw() {
	now := time.Now()
	done := p.completed + p.failed
	if p.total == 0 || (now.Sub(p.lastDraw) < p.throttle && done < p.total) {
		return
	}
	p.lastDraw = now

	percentage := float64(done) / float64(p.total) * 100
	elapsed := now.Sub(p.startTime)

	eta := "ETA: calculating..."
	if done > 0 {
		remaining := time.Duration(p.total-done) * (elapsed / time.Duration(done))
		eta = fmt.Sprintf("ETA: %v", remaining.Round(time.Second))
	}

	// [████████████░░░░░░░░] 75.0% (15/20) ✓12 ✗3 [2m30s] ETA: 50s
	fmt.Fprintf(p.writer, "\r[%s] %.1f%% (%d/%d) ✓%d ✗%d [%v] %s",
		Bar(percentage, barWidth), percentage, done, p.total, p.completed, p.failed,
		elapsed.Round(time.Second), eta)
}

// Bar renders a fixed-width bar for a percentage in [0, 100]
func Bar(percentage float64, width int) string {
	filled := int(float64(width) * percentage / 100)
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// DisplayName shortens long file names to 20 characters
func DisplayName(name string) string {
	runes := []rune(name)
	if len(runes) > 20 {
		return string(runes[:17]) + "..."
	}
	return name
}

// TransferBoard draws byte progress for transfers, one line per update.
// It is shared by all workers of a transfer run.
type TransferBoard struct {
	mu      sync.Mutex
	writer  io.Writer
	enabled bool
}

// NewTransferBoard creates a board. A disabled board only discards.
func NewTransferBoard(writer io.Writer, enabled bool) *TransferBoard {
	return &TransferBoard{writer: writer, enabled: enabled}
}

// Func returns a progress callback labelled with server and file name
func (b *TransferBoard) Func(server, name string, dir transfer.Direction) transfer.ProgressFunc {
	if !b.enabled {
		return nil
	}
	icon := "📤"
	if dir == transfer.Download {
		icon = "📥"
	}
	label := fmt.Sprintf("%s [%s] %-20s", icon, server, DisplayName(name))
	return func(p transfer.Progress) {
		b.mu.Lock()
		defer b.mu.Unlock()
		fmt.Fprintf(b.writer, "\r\033[K%s", FormatTransfer(label, p))
		if p.DoneBytes >= p.TotalBytes {
			fmt.Fprintln(b.writer)
		}
	}
}

// FormatTransfer renders one transfer progress line
func FormatTransfer(label string, p transfer.Progress) string {
	return fmt.Sprintf("%s [%s] %5.1f%% %s/%s %s/s",
		label, Bar(p.Percent(), 30), p.Percent(),
		stats.FormatBytes(p.DoneBytes), stats.FormatBytes(p.TotalBytes),
		stats.FormatBytes(p.Speed))
}
