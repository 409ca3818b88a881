// Package inventory reads Ansible-style YAML inventories as a server source.
package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ssh-fleet/internal/target"
)

// Data is the top-level structure of an Ansible inventory
type Data struct {
	All    Group            `yaml:"all" json:"all"`
	Groups map[string]Group `yaml:",inline" json:"-"`
}

// Group is an inventory group
type Group struct {
	Hosts    map[string]Host  `yaml:"hosts" json:"hosts"`
	Children map[string]Group `yaml:"children" json:"children"`
	Vars     map[string]any   `yaml:"vars" json:"vars"`
}

// Host holds the variables of one inventory host
type Host map[string]any

// Load reads an inventory file. YAML is assumed unless the extension is .json.
func Load(path string) (map[string]target.Target, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var data Data
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var raw map[string]Group
		if err = json.Unmarshal(content, &raw); err == nil {
			data.All = raw["all"]
			delete(raw, "all")
			data.Groups = raw
		}
	case ".yml", ".yaml", "":
		err = yaml.Unmarshal(content, &data)
	default:
		return nil, fmt.Errorf("unsupported inventory file format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}

	return data.Targets()
}

// Targets flattens the inventory into servers keyed by inventory hostname.
// Variables are inherited from all, then each enclosing group, then the
// host itself. Group names become tags.
func (d *Data) Targets() (map[string]target.Target, error) {
	servers := make(map[string]target.Target)

	var walk func(name string, g Group, tags []string, vars map[string]any) error
	walk = func(name string, g Group, tags []string, vars map[string]any) error {
		vars = merge(vars, g.Vars)
		if name != "" {
			tags = append(append([]string(nil), tags...), name)
		}

		for _, hostname := range sortedKeys(g.Hosts) {
			t, err := convert(hostname, merge(vars, g.Hosts[hostname]), tags)
			if err != nil {
				return fmt.Errorf("host '%s': %w", hostname, err)
			}
			if existing, ok := servers[hostname]; ok {
				t.Tags = mergeTags(existing.Tags, t.Tags)
			}
			servers[hostname] = t
		}

		for _, child := range sortedKeys(g.Children) {
			if err := walk(child, g.Children[child], tags, vars); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk("", d.All, nil, nil); err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(d.Groups) {
		if err := walk(name, d.Groups[name], nil, d.All.Vars); err != nil {
			return nil, err
		}
	}
	return servers, nil
}

func convert(hostname string, vars map[string]any, tags []string) (target.Target, error) {
	t := target.Target{
		Name:       hostname,
		Host:       hostname,
		Port:       target.DefaultPort,
		Tags:       tags,
		Properties: make(map[string]string),
		Original:   hostname,
		Auth:       target.AuthAgent,
	}

	if v := str(vars, "ansible_host"); v != "" {
		t.Host = v
	}
	if v := str(vars, "ansible_port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return t, fmt.Errorf("invalid ansible_port %q", v)
		}
		t.Port = port
	}
	t.User = str(vars, "ansible_user")
	if t.User == "" {
		t.User = os.Getenv("USER")
	}
	if v := str(vars, "ansible_ssh_private_key_file"); v != "" {
		t.IdentityFile = v
		t.Auth = target.AuthKey
	} else if v := str(vars, "ansible_password"); v != "" {
		t.Password = v
		t.Auth = target.AuthPassword
	}

	for key, value := range vars {
		if !isBuiltin(key) {
			t.Properties[key] = fmt.Sprintf("%v", value)
		}
	}

	return t, target.ValidateTarget(t)
}

func str(vars map[string]any, key string) string {
	v, ok := vars[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func merge(base map[string]any, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string(nil), a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isBuiltin(key string) bool {
	switch key {
	case "ansible_host", "ansible_port", "ansible_user",
		"ansible_ssh_private_key_file", "ansible_password",
		"ansible_connection", "ansible_ssh_host", "ansible_ssh_port",
		"ansible_ssh_user", "ansible_ssh_pass", "ansible_sudo_pass",
		"ansible_become", "ansible_become_method", "ansible_become_user",
		"ansible_become_pass", "ansible_python_interpreter":
		return true
	}
	return false
}
