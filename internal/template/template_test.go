package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-fleet/internal/target"
)

var web = target.Target{
	Name:       "web-1",
	Host:       "web1.example.com",
	User:       "deploy",
	Port:       2222,
	Tags:       []string{"Web", "prod"},
	Properties: map[string]string{"service": "nginx"},
}

func TestRender(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"uptime", "uptime"},
		{"echo {{.Name}} {{.User}}@{{.Host}}:{{.Port}}", "echo web-1 deploy@web1.example.com:2222"},
		{"systemctl restart {{prop .Properties \"service\"}}", "systemctl restart nginx"},
		{"tail -n {{propDefault .Properties \"lines\" \"50\"}} log", "tail -n 50 log"},
		{"{{if hasTag .Tags \"web\"}}curl localhost{{else}}true{{end}}", "curl localhost"},
		{"{{if hasAllTags .Tags \"web\" \"staging\"}}a{{else}}b{{end}}", "b"},
		{"hostname {{hostShort .Host}}.{{upper (hostDomain .Host)}}", "hostname web1.EXAMPLE.COM"},
		{"echo {{title \"hello world\"}}", "echo Hello World"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			cmd, err := Compile(tt.command)
			require.NoError(t, err)
			got, err := cmd.Render(web)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	assert.Error(t, Validate("echo {{.Name"+"}}{{end}}"))
	assert.Error(t, Validate("echo {{nosuchfunc .Name}}"))
	assert.NoError(t, Validate("echo plain"))
}

func TestRenderUnknownField(t *testing.T) {
	cmd, err := Compile("echo {{.Missing}}")
	require.NoError(t, err)
	_, err = cmd.Render(web)
	assert.ErrorContains(t, err, "web-1")
}

func TestIsTemplate(t *testing.T) {
	assert.True(t, IsTemplate("echo {{.Host}}"))
	assert.False(t, IsTemplate("awk '{print $1}'"))
}
