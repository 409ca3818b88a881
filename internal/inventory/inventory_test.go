package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-fleet/internal/target"
)

const sample = `
all:
  vars:
    ansible_user: deploy
  hosts:
    bastion:
      ansible_host: 203.0.113.10
      ansible_ssh_private_key_file: ~/.ssh/bastion
  children:
    web:
      vars:
        env: production
      hosts:
        web1:
          ansible_host: 10.0.0.11
        web2:
          ansible_host: 10.0.0.12
          ansible_port: 2222
          ansible_user: root
db:
  hosts:
    db1:
      ansible_host: 10.0.1.5
      ansible_password: hunter2
      role: primary
`

func writeInventory(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	servers, err := Load(writeInventory(t, "hosts.yaml", sample))
	require.NoError(t, err)
	require.Len(t, servers, 4)

	bastion := servers["bastion"]
	assert.Equal(t, "203.0.113.10", bastion.Host)
	assert.Equal(t, "deploy", bastion.User)
	assert.Equal(t, target.AuthKey, bastion.Auth)
	assert.Empty(t, bastion.Tags)

	web1 := servers["web1"]
	assert.Equal(t, "deploy", web1.User)
	assert.Equal(t, 22, web1.Port)
	assert.Equal(t, target.AuthAgent, web1.Auth)
	assert.Equal(t, []string{"web"}, web1.Tags)
	assert.Equal(t, "production", web1.Properties["env"])

	web2 := servers["web2"]
	assert.Equal(t, "root", web2.User)
	assert.Equal(t, 2222, web2.Port)

	db1 := servers["db1"]
	assert.Equal(t, "deploy", db1.User)
	assert.Equal(t, target.AuthPassword, db1.Auth)
	assert.Equal(t, "hunter2", db1.Password)
	assert.Equal(t, []string{"db"}, db1.Tags)
	assert.Equal(t, "primary", db1.Properties["role"])
	assert.NotContains(t, db1.Properties, "ansible_password")
}

func TestLoadJSON(t *testing.T) {
	content := `{"all": {"hosts": {"h1": {"ansible_host": "10.1.1.1", "ansible_user": "ops"}}}}`
	servers, err := Load(writeInventory(t, "hosts.json", content))
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", servers["h1"].Host)
	assert.Equal(t, "ops", servers["h1"].User)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeInventory(t, "hosts.ini", "[web]\nweb1"))
	assert.ErrorContains(t, err, "unsupported inventory file format")

	_, err = Load(writeInventory(t, "bad.yaml", "all:\n  hosts:\n    h1:\n      ansible_user: x\n      ansible_port: nope\n"))
	assert.ErrorContains(t, err, "invalid ansible_port")
}
