package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-fleet/internal/executor"
	"ssh-fleet/internal/target"
)

func task(name string) target.Task {
	return target.Task{Name: name, Target: target.Target{Name: name, User: "root", Host: name + ".example.com", Port: 22}}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("json")
	require.NoError(t, err)
	assert.Equal(t, JSONMode, m)

	_, err = ParseMode("yaml")
	assert.Error(t, err)
}

func TestTextOutcomeLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(TextMode, &buf)

	p.SetDetail(0, []string{"first try"})
	p.SetDetail(0, []string{"up 3 days", "", "  ", "load 0.1"})
	p.TaskFinished(0, task("web1"), nil, 1)
	p.TaskFinished(1, task("db1"), errors.New("connection refused"), 2)

	out := buf.String()
	assert.Contains(t, out, "✅ web1 (root@web1.example.com:22) - Success\n   up 3 days\n   load 0.1\n")
	assert.NotContains(t, out, "first try")
	assert.Contains(t, out, "❌ db1 (root@db1.example.com:22) - Failed: connection refused")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

func TestJSONRecords(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(JSONMode, &buf)
	p.SetRun("run-1", "exec")
	p.SetDetail(3, []string{"ok"})

	p.Header("ignored")
	p.TaskFinished(3, task("web1"), nil, 1)
	p.TaskFinished(4, task("web2"), errors.New("boom"), 3)
	p.Summary(&executor.Summary{Total: 2, Succeeded: 1, Failed: []executor.Failure{{Index: 4}}, Duration: 1500 * time.Millisecond})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, Record{Type: "result", RunID: "run-1", Action: "exec", Server: "web1",
		Target: "root@web1.example.com:22", Success: true, Attempts: 1, Output: []string{"ok"}}, first)

	var second Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.False(t, second.Success)
	assert.Equal(t, "boom", second.Error)
	assert.Equal(t, 3, second.Attempts)

	var summary SummaryRecord
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &summary))
	assert.Equal(t, SummaryRecord{Type: "summary", RunID: "run-1", Action: "exec", Total: 2, Succeeded: 1, Failed: 1, DurationMs: 1500}, summary)
}

func TestListTasksAndServers(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(TextMode, &buf)
	p.ListTasks([]target.Task{task("a"), task("b")})
	assert.Contains(t, buf.String(), "🎯 Target Servers (2)")
	assert.Contains(t, buf.String(), " 2 - b - root@b.example.com:22")

	buf.Reset()
	ListServers(&buf, map[string]target.Target{
		"web": {User: "deploy", Host: "10.0.0.1", Port: 2222, Auth: target.AuthPrompt},
		"api": {User: "root", Host: "10.0.0.2", Port: 22, Auth: target.AuthKey},
	})
	out := buf.String()
	assert.Contains(t, out, "Configured Servers (2)")
	assert.Contains(t, out, "  web - deploy@10.0.0.1:2222 (🔐 Password)")
	assert.Less(t, strings.Index(out, "api"), strings.Index(out, "web"))

	buf.Reset()
	ListServers(&buf, nil)
	assert.Contains(t, buf.String(), "No servers configured")
}
