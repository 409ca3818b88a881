package action

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/executor"
	"ssh-fleet/internal/output"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/stats"
	"ssh-fleet/internal/system/systemtest"
	"ssh-fleet/internal/target"
	"ssh-fleet/internal/transfer"
)

type localRemote struct{ transfer.LocalFS }

func (localRemote) Close() error { return nil }

type fakeSession struct {
	*systemtest.Host
	closed bool
}

func (s *fakeSession) User() string                        { return "root" }
func (s *fakeSession) OpenTransfer() (ssh.RemoteFS, error) { return localRemote{}, nil }
func (s *fakeSession) Close() error                        { s.closed = true; return nil }
func (s *fakeSession) OpenInteractive(context.Context, string, ssh.TerminalSize) (ssh.Interactive, error) {
	return nil, fmt.Errorf("not supported")
}

// fakeConnector hands out one scripted host per server name
type fakeConnector struct {
	mu       sync.Mutex
	hosts    map[string]*systemtest.Host
	sessions []*fakeSession
	fail     map[string]error
}

func newConnector() *fakeConnector {
	return &fakeConnector{hosts: map[string]*systemtest.Host{}, fail: map[string]error{}}
}

func (c *fakeConnector) host(name string) *systemtest.Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hosts[name]
	if !ok {
		h = systemtest.New()
		c.hosts[name] = h
	}
	return h
}

func (c *fakeConnector) Connect(_ context.Context, t target.Target) (ssh.Session, error) {
	if err := c.fail[t.Name]; err != nil {
		return nil, err
	}
	s := &fakeSession{Host: c.host(t.Name)}
	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()
	return s, nil
}

func tasks(names ...string) []target.Task {
	out := make([]target.Task, len(names))
	for i, n := range names {
		out[i] = target.Task{Name: n, Target: target.Target{Name: n, User: "root", Host: n + ".example.com", Port: 22}}
	}
	return out
}

// run prepares and executes a through the worker pool, returning the
// printed outcome text
func run(t *testing.T, a Action, deps Deps, ts []target.Task) (string, *executor.Summary) {
	t.Helper()
	var buf bytes.Buffer
	deps.Printer = output.NewPrinter(output.TextMode, &buf)

	plan, err := Prepare(a, &buf)
	require.NoError(t, err)
	require.NotNil(t, plan)
	op, err := plan.Operation(deps, ts)
	require.NoError(t, err)

	summary, err := executor.Execute(context.Background(), executor.ExecutorConfig{Threads: 2}, nil, ts, op, deps.Printer)
	require.NoError(t, err)
	return buf.String(), summary
}

func TestPrepareValidation(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   string
	}{
		{"empty exec", &Exec{}, "command cannot be empty"},
		{"bad template", &Exec{Command: "echo {{end}}"}, "invalid command"},
		{"no firewall op", &Firewall{}, "no firewall action specified"},
		{"no fail2ban op", &Fail2ban{}, "no fail2ban action specified"},
		{"ban without jail", &Fail2ban{Ban: "1.2.3.4"}, "--jail is required"},
		{"upload without remote", &Transfer{Direction: transfer.Upload, Local: "a"}, "--remote is required for upload"},
		{"download without local", &Transfer{Direction: transfer.Download, Remote: "a"}, "--local is required for download"},
		{"missing script", &Script{Path: filepath.Join(t.TempDir(), "none.toml"), Actions: []string{"x"}}, ""},
		{"missing component dir", &Component{Dir: filepath.Join(t.TempDir(), "none"), List: true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Prepare(tt.action, &bytes.Buffer{})
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.True(t, errors.IsType(err, errors.SetupErrorType), "got %v", err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

const scriptFile = `
[info]
name = "maintenance"
desc = "Routine maintenance"

[script.uptime]
commands = ["uptime", "df -h"]
`

func TestScriptListStopsLocally(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.toml")
	require.NoError(t, os.WriteFile(path, []byte(scriptFile), 0o644))

	var buf bytes.Buffer
	plan, err := Prepare(&Script{Path: path, List: true}, &buf)
	require.NoError(t, err)
	assert.Nil(t, plan)
	assert.Contains(t, buf.String(), "• uptime - No description (sudo: false)")

	_, err = Prepare(&Script{Path: path, Actions: []string{"reboot"}}, &buf)
	assert.ErrorContains(t, err, "action 'reboot' not found")
}

func TestScriptRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.toml")
	require.NoError(t, os.WriteFile(path, []byte(scriptFile), 0o644))

	conn := newConnector()
	conn.host("b").On("df", "disk full", 1)

	out, summary := run(t, &Script{Path: path, Actions: []string{"uptime"}}, Deps{Connector: conn}, tasks("a", "b"))
	assert.Contains(t, out, "✅ a (root@a.example.com:22) - Success")
	assert.Contains(t, out, "❌ b (root@b.example.com:22) - Failed: command 'df -h' failed (exit code: 1) (after 1 attempt)")
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, []string{"uptime", "df -h"}, conn.host("a").Commands())
}

func TestExecRendersPerServer(t *testing.T) {
	conn := newConnector()
	conn.host("web").On("echo", "hello web\n\nbye", 0)
	conn.host("db").On("echo", "oops", 3)

	a := &Exec{Command: "echo {{.Name}}", Sudo: true}
	out, summary := run(t, a, Deps{Connector: conn}, tasks("db", "web"))

	assert.Equal(t, []string{"echo web"}, conn.host("web").Commands())
	assert.True(t, conn.host("web").Elevated(0))
	assert.Contains(t, out, "✅ web (root@web.example.com:22) - Success\n   hello web\n   bye\n")
	assert.Contains(t, out, "❌ db (root@db.example.com:22) - Failed: command 'echo db' failed (exit code: 3) (after 1 attempt)\n   oops\n")
	assert.Equal(t, 1, summary.Succeeded)

	for _, s := range conn.sessions {
		assert.True(t, s.closed)
	}
}

func TestExecHideOutput(t *testing.T) {
	conn := newConnector()
	conn.host("web").On("uptime", "up 3 days", 0)

	out, _ := run(t, &Exec{Command: "uptime", HideOutput: true}, Deps{Connector: conn}, tasks("web"))
	assert.NotContains(t, out, "up 3 days")
}

func TestShellModeIsNotAnOperation(t *testing.T) {
	plan, err := Prepare(&Exec{Command: "bash", Shell: true}, &bytes.Buffer{})
	require.NoError(t, err)
	_, err = plan.Operation(Deps{Connector: newConnector()}, tasks("a"))
	assert.Error(t, err)
}

func TestConnectionFailureIsPerTask(t *testing.T) {
	conn := newConnector()
	conn.fail["down"] = errors.NewConnectionError("failed to connect to down", fmt.Errorf("refused"))

	out, summary := run(t, &Exec{Command: "true"}, Deps{Connector: conn}, tasks("down", "up"))
	assert.Contains(t, out, "❌ down")
	assert.Contains(t, out, "✅ up")
	assert.Equal(t, 1, summary.Succeeded)
}

func TestFirewallStatusAndSave(t *testing.T) {
	conn := newConnector()
	conn.host("a").On("ufw status", "Status: active\n22/tcp ALLOW Anywhere", 0)

	out, _ := run(t, &Firewall{Status: true, Save: true}, Deps{Connector: conn}, tasks("a"))
	assert.Contains(t, out, "   Status: active\n   22/tcp ALLOW Anywhere\n")
	assert.True(t, conn.host("a").Ran("ufw reload"))
}

func TestFail2banJailStatus(t *testing.T) {
	conn := newConnector()
	conn.host("a").On("fail2ban-client status sshd", "Currently banned: 2", 0)

	out, _ := run(t, &Fail2ban{Jail: "sshd"}, Deps{Connector: conn}, tasks("a"))
	assert.Contains(t, out, "   Currently banned: 2")
}

func TestFail2banBan(t *testing.T) {
	conn := newConnector()
	conn.host("a").On("fail2ban-client status sshd | grep", "", 1)

	out, summary := run(t, &Fail2ban{Jail: "sshd", Ban: "203.0.113.9"}, Deps{Connector: conn}, tasks("a"))
	assert.True(t, conn.host("a").Ran("fail2ban-client set sshd banip 203.0.113.9"))
	assert.Contains(t, out, "IP 203.0.113.9 was not banned in jail sshd")
	assert.Len(t, summary.Failed, 1)
}

func TestUpload(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	src := filepath.Join(dir, "app.tar")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("x"), 1000), 0o644))

	tracker := stats.NewTracker(1, &bytes.Buffer{}, false)
	deps := Deps{Connector: newConnector(), Stats: tracker, Transfer: transfer.DefaultConfig()}
	a := &Transfer{Direction: transfer.Upload, Local: src, Remote: filepath.Join(dir, "remote.tar")}

	out, summary := run(t, a, deps, tasks("web"))
	require.False(t, summary.HasFailures(), out)
	assert.Contains(t, out, "📤 Uploaded Success 1000 Bytes on server 'web(root@web.example.com:22)'")
	assert.Equal(t, int64(1000), tracker.Snapshot().BytesTransferred)

	got, err := os.ReadFile(filepath.Join(dir, "remote.tar"))
	require.NoError(t, err)
	assert.Len(t, got, 1000)
}

func TestDownloadFromSeveralServersAddsNames(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	remote := filepath.Join(dir, "syslog.log")
	require.NoError(t, os.WriteFile(remote, []byte("log line\n"), 0o644))

	deps := Deps{Connector: newConnector(), Transfer: transfer.DefaultConfig()}
	a := &Transfer{Direction: transfer.Download, Remote: remote, Local: filepath.Join(dir, "out.log")}

	out, summary := run(t, a, deps, tasks("a", "b"))
	require.False(t, summary.HasFailures(), out)
	assert.FileExists(t, filepath.Join(dir, "out_a.log"))
	assert.FileExists(t, filepath.Join(dir, "out_b.log"))
	assert.Contains(t, out, "📥 Downloaded 9 Bytes on server 'a(root@a.example.com:22)'")
}

func TestTransferConflictFails(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	deps := Deps{Connector: newConnector(), Transfer: transfer.DefaultConfig()}
	out, summary := run(t, &Transfer{Direction: transfer.Upload, Local: src, Remote: dst}, deps, tasks("a"))
	assert.Len(t, summary.Failed, 1)
	assert.Contains(t, out, "❌ a")

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
}

const nginx = `
[info]
name = "nginx"
description = "HTTP server"

[service]
start = true

[install]
type = "package"
packages = ["nginx"]

[uninstall]
type = "package"
packages = ["nginx"]
`

func TestComponent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nginx.toml"), []byte(nginx), 0o644))

	var buf bytes.Buffer
	plan, err := Prepare(&Component{Dir: dir, List: true}, &buf)
	require.NoError(t, err)
	assert.Nil(t, plan)
	assert.Contains(t, buf.String(), "📦 nginx - HTTP server")

	_, err = Prepare(&Component{Dir: dir, Install: []string{"redis"}}, &buf)
	assert.ErrorContains(t, err, "supported component 'redis' not found")

	conn := newConnector()
	out, summary := run(t, &Component{Dir: dir, Install: []string{"nginx"}}, Deps{Connector: conn}, tasks("a"))
	require.False(t, summary.HasFailures(), out)
	assert.True(t, conn.host("a").Ran("DEBIAN_FRONTEND=noninteractive apt install -y"))
}
