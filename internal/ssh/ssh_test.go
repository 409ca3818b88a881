package ssh

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/target"
)

func TestClassifyOS(t *testing.T) {
	tests := []struct {
		output string
		want   OSFamily
	}{
		{"debian:ubuntu\n", Debian},
		{":debian", Debian},
		{":raspbian", Debian},
		{"ubuntu debian:pop", Debian},
		{"rhel centos fedora:rocky", RedHat},
		{"fedora:ol", RedHat},
		{":amzn", RedHat},
		{":fedora", RedHat},
		{"arch:endeavouros", Arch},
		{":manjaro", Arch},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			got, err := ClassifyOS(tt.output)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyOSUnsupported(t *testing.T) {
	_, err := ClassifyOS("suse:opensuse-leap")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.UnsupportedOSErrorType))
	assert.ErrorContains(t, err, "ID=opensuse-leap, ID_LIKE=suse")

	_, err = ClassifyOS("garbage")
	assert.ErrorContains(t, err, "failed to detect OS type")
}

func TestElevateCommand(t *testing.T) {
	assert.Equal(t, "apt update", ElevateCommand("root", "apt update"))
	assert.Equal(t, "sudo sh -c 'echo '\\''hi'\\'' > /tmp/x'", ElevateCommand("deploy", "echo 'hi' > /tmp/x"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), ExpandHome("~/.ssh/id_ed25519"))
	assert.Equal(t, "/etc/key", ExpandHome("/etc/key"))
}

func TestAuthMethodsPerMode(t *testing.T) {
	d := NewDialer(Options{})

	methods, _, err := d.getAuthMethods(target.Target{Auth: target.AuthPassword, Password: "pw"})
	require.NoError(t, err)
	assert.Len(t, methods, 2)

	_, _, err = d.getAuthMethods(target.Target{Auth: target.AuthPrompt})
	assert.True(t, errors.IsType(err, errors.SetupErrorType))

	_, _, err = d.getAuthMethods(target.Target{Auth: target.AuthKey, IdentityFile: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorContains(t, err, "failed to load private key")

	t.Setenv("SSH_AUTH_SOCK", "")
	_, _, err = d.getAuthMethods(target.Target{Auth: target.AuthAgent})
	assert.ErrorContains(t, err, "SSH_AUTH_SOCK")

	_, _, err = d.getAuthMethods(target.Target{})
	assert.ErrorContains(t, err, "no authentication method")
}

func TestStrictHostKeyRequiresFile(t *testing.T) {
	d := NewDialer(Options{StrictHostKey: true, KnownHosts: filepath.Join(t.TempDir(), "none")})
	_, err := d.getHostKeyCallback()
	assert.ErrorContains(t, err, "known_hosts")
}
