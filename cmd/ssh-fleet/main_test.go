package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-fleet/internal/config"
)

const fleetTOML = `
[manage.server.web1]
host = "10.0.0.1"
username = "deploy"
keypath = "/keys/id_ed25519"
tags = ["web"]
properties = { env = "prod" }

[manage.server.db1]
host = "10.0.0.2"
port = 2222
username = "deploy"
use_agent = true
tags = ["db"]
properties = { env = "staging" }

[init]
new_username = "admin"
new_password = "s3cret"
packages = ["htop"]

[init.server.fresh1]
host = "10.0.1.1"
username = "root"
password = "root"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, 0, getExitCode(nil))
	assert.Equal(t, 1, getExitCode(&ExecutionError{Message: "1 of 2 tasks failed"}))
	assert.Equal(t, 1, getExitCode(fmt.Errorf("wrapped: %w", &ExecutionError{})))
	assert.Equal(t, 2, getExitCode(setupErrorf("bad flag")))
	assert.Equal(t, 2, getExitCode(fmt.Errorf("unexpected")))
}

func TestOverrideConfigWithFlags(t *testing.T) {
	flags := &globalFlags{}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&flags.threads, "threads", 0, "")
	cmd.Flags().UintVar(&flags.maxRetry, "max-retry", 0, "")
	cmd.Flags().DurationVar(&flags.opTimeout, "op-timeout", 0, "")
	cmd.Flags().StringVar(&flags.outputMode, "output", "text", "")
	cmd.Flags().BoolVar(&flags.strictHostKey, "strict-host-key", false, "")
	require.NoError(t, cmd.ParseFlags([]string{"--threads", "8", "--op-timeout", "5s", "--strict-host-key"}))

	cfg := &config.Config{Threads: 2, MaxRetry: 3, Output: "json"}
	overrideConfigWithFlags(cmd, cfg, flags)

	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 5*time.Second, cfg.OpTimeout)
	assert.True(t, cfg.StrictHostKey)
	// unchanged flags keep the loaded values
	assert.Equal(t, uint(3), cfg.MaxRetry)
	assert.Equal(t, "json", cfg.Output)
}

func TestJoinArgs(t *testing.T) {
	assert.Equal(t, "uptime", joinArgs([]string{" uptime "}))
	assert.Equal(t, "echo 'hello world'", joinArgs([]string{"echo", "hello world"}))
	assert.Equal(t, "", joinArgs(nil))
}

func TestList(t *testing.T) {
	fleet := writeFile(t, "fleet.toml", fleetTOML)

	out, err := execute(t, "list", "-c", fleet)
	require.NoError(t, err)
	assert.Contains(t, out, "web1 - deploy@10.0.0.1:22")
	assert.Contains(t, out, "db1 - deploy@10.0.0.2:2222")

	out, err = execute(t, "list", "-c", fleet, "--filter", "tag:web")
	require.NoError(t, err)
	assert.Contains(t, out, "web1")
	assert.NotContains(t, out, "db1")

	out, err = execute(t, "list", "-c", fleet, "--section", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "fresh1")
	assert.NotContains(t, out, "web1")
}

func TestListGroupBy(t *testing.T) {
	fleet := writeFile(t, "fleet.toml", fleetTOML)

	out, err := execute(t, "list", "-c", fleet, "--group-by", "env")
	require.NoError(t, err)
	assert.Contains(t, out, "Servers grouped by env (2 groups)")
	assert.Contains(t, out, "=== Group: prod (1 servers) ===")
	assert.Contains(t, out, "=== Group: staging (1 servers) ===")
}

func TestListErrors(t *testing.T) {
	fleet := writeFile(t, "fleet.toml", fleetTOML)

	_, err := execute(t, "list", "-c", fleet, "--section", "other")
	require.Error(t, err)
	assert.Equal(t, 2, getExitCode(err))

	_, err = execute(t, "list", "-c", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load fleet file")

	_, err = execute(t, "list", "-c", fleet, "--filter", "tag:nothing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no servers match filter 'tag:nothing'")
}

func TestListAdHocHostsWithoutFleetFile(t *testing.T) {
	out, err := execute(t, "list", "-c", filepath.Join(t.TempDir(), "missing.toml"),
		"--hosts", "ops@a.example.com,ops@b.example.com:2200")
	require.NoError(t, err)
	assert.Contains(t, out, "a.example.com")
	assert.Contains(t, out, "b.example.com:2200")
}

func TestManageListServers(t *testing.T) {
	fleet := writeFile(t, "fleet.toml", fleetTOML)

	out, err := execute(t, "manage", "-c", fleet, "--list-servers")
	require.NoError(t, err)
	assert.Contains(t, out, "Servers available for management")
	assert.Contains(t, out, "web1")
}

func TestManageServerSelection(t *testing.T) {
	fleet := writeFile(t, "fleet.toml", fleetTOML)

	_, err := execute(t, "manage", "-c", fleet, "-s", "nope", "exec", "--", "uptime")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server 'nope' not found in config")
	assert.Equal(t, 2, getExitCode(err))

	_, err = execute(t, "manage", "-c", fleet, "exec", "--", "uptime")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no servers specified")
}

func TestManageDryRun(t *testing.T) {
	fleet := writeFile(t, "fleet.toml", fleetTOML)

	out, err := execute(t, "manage", "-c", fleet, "--dry-run", "--all-servers", "exec", "--sudo", "--", "uptime")
	require.NoError(t, err)
	assert.Contains(t, out, "ssh-fleet Dry Run - Execution Plan")
	assert.Contains(t, out, `Action: exec "uptime" (sudo: true)`)
	assert.Contains(t, out, "Total Targets: 2")
	assert.Contains(t, out, "User: deploy, Host: 10.0.0.2, Port: 2222, Auth: agent")
}

func TestManageValidationHappensBeforeConnecting(t *testing.T) {
	fleet := writeFile(t, "fleet.toml", fleetTOML)

	_, err := execute(t, "manage", "-c", fleet, "--all-servers", "firewall")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no firewall action specified")

	_, err = execute(t, "manage", "-c", fleet, "--all-servers", "transfer", "--remote", "/tmp/x", "--local", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of --upload or --download")

	_, err = execute(t, "manage", "-c", fleet, "--all-servers", "fail2ban", "--ban", "1.2.3.4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--jail is required")
}

func TestScriptListRunsLocally(t *testing.T) {
	script := writeFile(t, "deploy.toml", `
[info]
name = "deploy"
desc = "Deploy the app"

[script.restart]
desc = "Restart services"
sudo = true
commands = ["systemctl restart app"]
`)

	// no fleet file is needed to list a script
	out, err := execute(t, "manage", "-c", filepath.Join(t.TempDir(), "missing.toml"), "script", "list", script)
	require.NoError(t, err)
	assert.Contains(t, out, "📋 Script: deploy")
	assert.Contains(t, out, "restart - Restart services (sudo: true)")
}

func TestInitDryRun(t *testing.T) {
	fleet := writeFile(t, "fleet.toml", fleetTOML)

	out, err := execute(t, "init", "-c", fleet, "--dry-run", "-s", "fresh1")
	require.NoError(t, err)
	assert.Contains(t, out, "Action: init")
	assert.Contains(t, out, "Creating user account")
	assert.Contains(t, out, "Reloading SSH daemon")
	assert.Contains(t, out, "fresh1")
}

func TestInitRequiresInitSection(t *testing.T) {
	fleet := writeFile(t, "fleet.toml", `
[manage.server.web1]
host = "10.0.0.1"
username = "deploy"
use_agent = true
`)

	_, err := execute(t, "init", "-c", fleet, "--all-servers")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no init section")
}
