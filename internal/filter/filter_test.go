package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-fleet/internal/target"
)

func servers() map[string]target.Target {
	return map[string]target.Target{
		"web-1": {Name: "web-1", Host: "web1.example.com", Tags: []string{"web", "prod"},
			Properties: map[string]string{"env": "production", "role": "frontend"}},
		"web-2": {Name: "web-2", Host: "web2.example.com", Tags: []string{"web", "staging"},
			Properties: map[string]string{"env": "staging"}},
		"db-1": {Name: "db-1", Host: "10.0.1.5", Tags: []string{"DB", "prod"},
			Properties: map[string]string{"env": "production"}},
	}
}

func names(m map[string]target.Target) []string {
	return target.Names(m)
}

func TestParseAndApply(t *testing.T) {
	tests := []struct {
		expr string
		want []string
	}{
		{"", []string{"db-1", "web-1", "web-2"}},
		{"tag:prod", []string{"db-1", "web-1"}},
		{"tag:db", []string{"db-1"}},
		{"tag:web,prod", []string{"web-1"}},
		{"!tag:staging", []string{"db-1", "web-1"}},
		{"property:env=PRODUCTION", []string{"db-1", "web-1"}},
		{"property:env~stag", []string{"web-2"}},
		{"property:env=~^prod", []string{"db-1", "web-1"}},
		{"host:*.example.com", []string{"web-1", "web-2"}},
		{"host:regex:^10\\.", []string{"db-1"}},
		{"name:web-*", []string{"web-1", "web-2"}},
		{"name:web-1,db-1", []string{"db-1", "web-1"}},
		{"tag:prod host:*.example.com", []string{"web-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			filters, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(Apply(servers(), filters...)))
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{"tag", "color:red", "property:env", "property:env=~(", "host:regex:["} {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

func TestHostPatternIsLiteralExceptStar(t *testing.T) {
	f, err := NewHostFilter("web1.example.com", false)
	require.NoError(t, err)
	assert.True(t, f.Match(target.Target{Host: "web1.example.com"}))
	assert.False(t, f.Match(target.Target{Host: "web1xexample.com"}))
}

func TestGroup(t *testing.T) {
	groups := Group(servers(), "env")
	assert.Equal(t, []string{"db-1", "web-1"}, groups["production"])
	assert.Equal(t, []string{"web-2"}, groups["staging"])

	groups = Group(servers(), "web")
	assert.Equal(t, []string{"web-1", "web-2"}, groups["web"])
	assert.Equal(t, []string{"db-1"}, groups[Untagged])
}

func TestString(t *testing.T) {
	filters, err := Parse("tag:web !tag:old name:a,b")
	require.NoError(t, err)
	assert.Equal(t, "tags: web", filters[0].String())
	assert.Equal(t, "!tags: old", filters[1].String())
	assert.Equal(t, "(name pattern: a OR name pattern: b)", filters[2].String())
}
