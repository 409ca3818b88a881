// Package stats tracks run statistics for ssh-fleet operations.
package stats

import (
	"fmt"
	"io"
	"sync"
	"time"

	"ssh-fleet/internal/target"
)

// Statistics holds run statistics
type Statistics struct {
	StartTime        time.Time
	TotalHosts       int
	CompletedHosts   int
	FailedHosts      int
	ActiveHosts      int
	TotalRetries     int
	BytesTransferred int64
}

// Tracker collects statistics from executor events and can display them
// live. It implements executor.Observer.
type Tracker struct {
	mu      sync.Mutex
	stats   Statistics
	writer  io.Writer
	enabled bool
	ticker  *time.Ticker
	done    chan struct{}
	stopped sync.WaitGroup
	now     func() time.Time
}

// NewTracker creates a tracker for totalHosts tasks. Nothing is printed
// unless enabled is set.
func NewTracker(totalHosts int, writer io.Writer, enabled bool) *Tracker {
	return &Tracker{
		stats: Statistics{
			StartTime:  time.Now(),
			TotalHosts: totalHosts,
		},
		writer:  writer,
		enabled: enabled,
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Start begins the live display, refreshed every second
func (t *Tracker) Start() {
	if !t.enabled {
		return
	}

	t.ticker = time.NewTicker(time.Second)
	t.stopped.Add(1)
	go func() {
		defer t.stopped.Done()
		for {
			select {
			case <-t.ticker.C:
				t.display()
			case <-t.done:
				return
			}
		}
	}()
}

// Stop ends the live display and prints the final statistics
func (t *Tracker) Stop() {
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.done)
		t.stopped.Wait()
		t.ticker = nil
	}

	if t.enabled {
		t.displayFinal()
	}
}

// TaskStarted implements executor.Observer
func (t *Tracker) TaskStarted(int, target.Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.ActiveHosts++
}

// TaskFinished implements executor.Observer
func (t *Tracker) TaskFinished(_ int, _ target.Task, err error, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.ActiveHosts--
	if attempts > 1 {
		t.stats.TotalRetries += attempts - 1
	}
	if err == nil {
		t.stats.CompletedHosts++
	} else {
		t.stats.FailedHosts++
	}
}

// AddBytes records transferred bytes
func (t *Tracker) AddBytes(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.BytesTransferred += n
}

// Snapshot returns a copy of the current statistics
func (t *Tracker) Snapshot() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Tracker) display() {
	s := t.Snapshot()
	elapsed := t.now().Sub(s.StartTime)
	completed := s.CompletedHosts + s.FailedHosts

	var hostsPerSec float64
	if elapsed.Seconds() > 0 {
		hostsPerSec = float64(completed) / elapsed.Seconds()
	}

	eta := "ETA: calculating..."
	if hostsPerSec > 0 {
		remaining := s.TotalHosts - completed
		eta = fmt.Sprintf("ETA: %v", (time.Duration(float64(remaining)/hostsPerSec) * time.Second).Round(time.Second))
	}

	fmt.Fprintf(t.writer, "\r\033[K")
	fmt.Fprintf(t.writer, "📊 Hosts: %d/%d (✓%d ✗%d ~%d) | Rate: %.1f h/s | Retries: %d | Data: %s | %s | %v",
		completed, s.TotalHosts,
		s.CompletedHosts, s.FailedHosts, s.ActiveHosts,
		hostsPerSec, s.TotalRetries,
		FormatBytes(s.BytesTransferred), eta, elapsed.Round(time.Second))
}

func (t *Tracker) displayFinal() {
	s := t.Snapshot()
	elapsed := t.now().Sub(s.StartTime)

	fmt.Fprintf(t.writer, "\r\033[K\n")
	fmt.Fprintf(t.writer, "📈 Final Statistics:\n")
	fmt.Fprintf(t.writer, "   Total Hosts: %d\n", s.TotalHosts)
	if s.TotalHosts > 0 {
		fmt.Fprintf(t.writer, "   Successful: %d (%.1f%%)\n", s.CompletedHosts, percent(s.CompletedHosts, s.TotalHosts))
		fmt.Fprintf(t.writer, "   Failed: %d (%.1f%%)\n", s.FailedHosts, percent(s.FailedHosts, s.TotalHosts))
	}
	fmt.Fprintf(t.writer, "   Total Retries: %d\n", s.TotalRetries)
	fmt.Fprintf(t.writer, "   Data Transferred: %s\n", FormatBytes(s.BytesTransferred))
	fmt.Fprintf(t.writer, "   Execution Time: %v\n", elapsed.Round(time.Second))
	if elapsed.Seconds() > 0 {
		fmt.Fprintf(t.writer, "   Average Rate: %.2f hosts/second\n", float64(s.TotalHosts)/elapsed.Seconds())
	}
	fmt.Fprintln(t.writer)
}

func percent(n, total int) float64 {
	return float64(n) / float64(total) * 100
}

// FormatBytes renders a byte count with a binary unit, e.g. "1.5 MB"
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
