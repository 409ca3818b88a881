package stats

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ssh-fleet/internal/target"
)

func TestTrackerCountsEvents(t *testing.T) {
	tr := NewTracker(3, &bytes.Buffer{}, false)
	task := target.Task{Name: "a"}

	tr.TaskStarted(0, task)
	tr.TaskStarted(1, task)
	assert.Equal(t, 2, tr.Snapshot().ActiveHosts)

	tr.TaskFinished(0, task, nil, 1)
	tr.TaskFinished(1, task, errors.New("x"), 3)
	tr.AddBytes(2048)

	s := tr.Snapshot()
	assert.Equal(t, 0, s.ActiveHosts)
	assert.Equal(t, 1, s.CompletedHosts)
	assert.Equal(t, 1, s.FailedHosts)
	assert.Equal(t, 2, s.TotalRetries)
	assert.Equal(t, int64(2048), s.BytesTransferred)
}

func TestFinalDisplay(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker(2, &buf, true)
	start := tr.Snapshot().StartTime
	tr.now = func() time.Time { return start.Add(4 * time.Second) }

	tr.TaskFinished(0, target.Task{}, nil, 2)
	tr.AddBytes(3 * 1024 * 1024)
	tr.Stop()

	out := buf.String()
	assert.Contains(t, out, "Total Hosts: 2")
	assert.Contains(t, out, "Successful: 1 (50.0%)")
	assert.Contains(t, out, "Total Retries: 1")
	assert.Contains(t, out, "Data Transferred: 3.0 MB")
	assert.Contains(t, out, "Average Rate: 0.50 hosts/second")
}

func TestDisabledTrackerIsSilent(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker(1, &buf, false)
	tr.Start()
	tr.Stop()
	assert.Empty(t, buf.String())
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:                "0 B",
		1023:             "1023 B",
		1024:             "1.0 KB",
		1536:             "1.5 KB",
		10 * 1024 * 1024: "10.0 MB",
		5 << 30:          "5.0 GB",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatBytes(in))
	}
}
