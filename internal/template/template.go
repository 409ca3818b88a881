// Package template renders per-server commands from text/template syntax.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ssh-fleet/internal/target"
)

// Context is the data available to a command template
type Context struct {
	Name       string            `json:"name"`
	Host       string            `json:"host"`
	User       string            `json:"user"`
	Port       int               `json:"port"`
	Tags       []string          `json:"tags"`
	Properties map[string]string `json:"properties"`
}

// NewContext builds the template data of one server
func NewContext(t target.Target) Context {
	props := t.Properties
	if props == nil {
		props = map[string]string{}
	}
	return Context{
		Name:       t.Name,
		Host:       t.Host,
		User:       t.User,
		Port:       t.Port,
		Tags:       t.Tags,
		Properties: props,
	}
}

// Command is a parsed command template
type Command struct {
	raw  string
	tmpl *template.Template
}

// Compile parses a command. Commands without template syntax render verbatim.
func Compile(command string) (*Command, error) {
	c := &Command{raw: command}
	if !IsTemplate(command) {
		return c, nil
	}
	tmpl, err := template.New("command").Option("missingkey=error").Funcs(funcs()).Parse(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command template: %w", err)
	}
	c.tmpl = tmpl
	return c, nil
}

// Render expands the command for one server
func (c *Command) Render(t target.Target) (string, error) {
	if c.tmpl == nil {
		return c.raw, nil
	}
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, NewContext(t)); err != nil {
		return "", fmt.Errorf("failed to render command for '%s': %w", t.Name, err)
	}
	return buf.String(), nil
}

// IsTemplate checks if a command string contains template syntax
func IsTemplate(command string) bool {
	return strings.Contains(command, "{{") && strings.Contains(command, "}}")
}

// Validate parses a template without executing it
func Validate(command string) error {
	_, err := Compile(command)
	return err
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"title":     cases.Title(language.English).String,
		"trim":      strings.TrimSpace,
		"replace":   strings.ReplaceAll,
		"contains":  strings.Contains,
		"hasPrefix": strings.HasPrefix,
		"hasSuffix": strings.HasSuffix,

		"hasTag": func(tags []string, tag string) bool {
			for _, t := range tags {
				if strings.EqualFold(t, tag) {
					return true
				}
			}
			return false
		},
		"hasAnyTag": func(tags []string, check ...string) bool {
			set := tagSet(tags)
			for _, c := range check {
				if set[strings.ToLower(c)] {
					return true
				}
			}
			return false
		},
		"hasAllTags": func(tags []string, check ...string) bool {
			set := tagSet(tags)
			for _, c := range check {
				if !set[strings.ToLower(c)] {
					return false
				}
			}
			return true
		},

		"prop": func(props map[string]string, key string) string {
			return props[key]
		},
		"propDefault": func(props map[string]string, key, def string) string {
			if v, ok := props[key]; ok {
				return v
			}
			return def
		},

		"hostShort": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[:idx]
			}
			return host
		},
		"hostDomain": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[idx+1:]
			}
			return ""
		},
	}
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[strings.ToLower(t)] = true
	}
	return set
}
