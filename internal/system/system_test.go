package system_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/system"
	"ssh-fleet/internal/system/systemtest"
)

func TestInstallCommand(t *testing.T) {
	tests := []struct {
		family ssh.OSFamily
		prefix string
	}{
		{ssh.Debian, "DEBIAN_FRONTEND=noninteractive apt install -y"},
		{ssh.RedHat, "yum install -y"},
		{ssh.Arch, "pacman -S --noconfirm"},
	}
	for _, tt := range tests {
		t.Run(tt.family.String(), func(t *testing.T) {
			cmd, err := system.InstallCommand(tt.family, "curl", "git")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(cmd, tt.prefix), cmd)
			assert.True(t, strings.HasSuffix(cmd, "curl git"), cmd)
		})
	}

	_, err := system.InstallCommand(ssh.OSUnknown, "curl")
	assert.Error(t, err)
}

func TestUpdateCommandLogsToFile(t *testing.T) {
	cmd, err := system.UpdateCommand(ssh.RedHat)
	require.NoError(t, err)
	assert.Equal(t, "yum update -y > /tmp/update_system.log", cmd)
}

func TestServiceFallback(t *testing.T) {
	t.Run("systemctl succeeds", func(t *testing.T) {
		h := systemtest.New()
		res, err := system.Service(context.Background(), h, system.Restart, "sshd")
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitStatus)
		assert.Equal(t, []string{"systemctl restart sshd"}, h.Commands())
		assert.True(t, h.Elevated(0))
	})

	t.Run("falls back to service", func(t *testing.T) {
		h := systemtest.New().On("systemctl", "not found", 1)
		res, err := system.Service(context.Background(), h, system.Restart, "sshd")
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitStatus)
		assert.Equal(t, []string{"systemctl restart sshd", "service sshd restart"}, h.Commands())
	})

	t.Run("enable on redhat", func(t *testing.T) {
		h := systemtest.New().On("systemctl", "", 1)
		h.Family = ssh.RedHat
		_, err := system.Service(context.Background(), h, system.Enable, "fail2ban")
		require.NoError(t, err)
		assert.Equal(t, "chkconfig fail2ban on", h.Commands()[1])
	})

	t.Run("no fallback on arch", func(t *testing.T) {
		h := systemtest.New().On("systemctl", "", 3)
		h.Family = ssh.Arch
		res, err := system.Service(context.Background(), h, system.Enable, "ufw")
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitStatus)
		assert.Len(t, h.Commands(), 1)
	})

	t.Run("failed fallback keeps first result", func(t *testing.T) {
		h := systemtest.New().On("service", "", 2).On("systemctl", "first", 1)
		res, err := system.Service(context.Background(), h, system.Stop, "nginx")
		require.NoError(t, err)
		assert.Equal(t, "first", res.Output)
	})
}

func TestCreateFileEncodesContent(t *testing.T) {
	h := systemtest.New()
	content := "line 'one'\nline \"two\"\n"
	_, err := system.CreateFile(context.Background(), h, "/etc/motd", content, "644")
	require.NoError(t, err)

	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	assert.Equal(t, "echo '"+encoded+"' | base64 -d > /etc/motd && chmod 644 /etc/motd", h.Commands()[0])
}

func TestSucceeded(t *testing.T) {
	_, err := system.Succeeded(&ssh.CommandResult{Command: "ok"}, nil)
	assert.NoError(t, err)

	output := "a\nb\nc\nd\ne"
	res, err := system.Succeeded(&ssh.CommandResult{Command: "apt install x", ExitStatus: 100, Output: output}, nil)
	require.Error(t, err)
	assert.NotNil(t, res)
	assert.True(t, errors.IsType(err, errors.RemoteExitErrorType))
	assert.Contains(t, err.Error(), "apt install x")
	assert.Contains(t, err.Error(), "truncated 2 more lines")
	assert.NotContains(t, err.Error(), "d\ne")
}

func TestTruncateMessage(t *testing.T) {
	assert.Equal(t, "short", system.TruncateMessage("short", 3))
	assert.Equal(t, "1\n2\n... (truncated 1 more lines)", system.TruncateMessage("1\n2\n3", 2))
}
