package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"ssh-fleet/internal/target"
)

// FleetConfig is the fleet file: servers plus provisioning recipes.
// Server names and sshd option keys are case sensitive, so the file is
// decoded directly instead of through viper.
type FleetConfig struct {
	Init   *InitConfig   `toml:"init" yaml:"init"`
	Manage *ManageConfig `toml:"manage" yaml:"manage"`
}

// ServerConfig describes one server in the fleet file
type ServerConfig struct {
	Host        string            `toml:"host" yaml:"host"`
	Port        int               `toml:"port" yaml:"port"`
	Username    string            `toml:"username" yaml:"username"`
	KeyPath     string            `toml:"keypath" yaml:"keypath"`
	Password    string            `toml:"password" yaml:"password"`
	UsePassword bool              `toml:"use_password" yaml:"use_password"`
	UseAgent    bool              `toml:"use_agent" yaml:"use_agent"`
	Tags        []string          `toml:"tags" yaml:"tags"`
	Properties  map[string]string `toml:"properties" yaml:"properties"`
}

// InitConfig drives server initialization
type InitConfig struct {
	Server      map[string]ServerConfig `toml:"server" yaml:"server"`
	NewUsername string                  `toml:"new_username" yaml:"new_username"`
	NewPassword string                  `toml:"new_password" yaml:"new_password"`
	Sshd        *SshdConfig             `toml:"sshd" yaml:"sshd"`
	Firewall    *FirewallConfig         `toml:"firewall" yaml:"firewall"`
	Fail2ban    *Fail2banConfig         `toml:"fail2ban" yaml:"fail2ban"`
	Packages    []string                `toml:"packages" yaml:"packages"`
	Commands    []string                `toml:"commands" yaml:"commands"`
}

// ManageConfig lists the servers available to manage commands
type ManageConfig struct {
	Server map[string]ServerConfig `toml:"server" yaml:"server"`
}

// SshdConfig is written to an sshd drop-in during init
type SshdConfig struct {
	NewPort   int               `toml:"new_port" yaml:"new_port"`
	PublicKey string            `toml:"public_key" yaml:"public_key"`
	Options   map[string]string `toml:"options" yaml:"options"`
}

// Port returns the configured sshd port, or the default
func (s *SshdConfig) Port() int {
	if s == nil || s.NewPort == 0 {
		return target.DefaultPort
	}
	return s.NewPort
}

// FirewallConfig lists ufw rules applied during init
type FirewallConfig struct {
	AllowPorts []string `toml:"allow_ports" yaml:"allow_ports"`
	DenyPorts  []string `toml:"deny_ports" yaml:"deny_ports"`
}

// Fail2banConfig configures fail2ban. Content, when set, replaces the jails.
type Fail2banConfig struct {
	Content string                `toml:"content" yaml:"content"`
	Backend string                `toml:"backend" yaml:"backend"`
	Jail    map[string]JailConfig `toml:"jail" yaml:"jail"`
}

// JailConfig is one fail2ban jail section
type JailConfig struct {
	Enabled  bool              `toml:"enabled" yaml:"enabled"`
	Port     string            `toml:"port" yaml:"port"`
	Filter   string            `toml:"filter" yaml:"filter"`
	MaxRetry int               `toml:"maxretry" yaml:"maxretry"`
	FindTime int               `toml:"findtime" yaml:"findtime"`
	BanTime  int               `toml:"bantime" yaml:"bantime"`
	LogPath  string            `toml:"logpath" yaml:"logpath"`
	IgnoreIP []string          `toml:"ignoreip" yaml:"ignoreip"`
	Options  map[string]string `toml:"options" yaml:"options"`
}

// LoadFleet reads a fleet file. YAML is used for .yaml and .yml, TOML otherwise.
func LoadFleet(path string) (*FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}
	return ParseFleet(data, filepath.Ext(path))
}

// ParseFleet decodes fleet file content in the format implied by ext
func ParseFleet(data []byte, ext string) (*FleetConfig, error) {
	var fleet FleetConfig

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fleet); err != nil {
			return nil, fmt.Errorf("failed to parse YAML fleet file: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), &fleet); err != nil {
			return nil, fmt.Errorf("failed to parse TOML fleet file: %w", err)
		}
	}

	if err := fleet.Validate(); err != nil {
		return nil, err
	}
	return &fleet, nil
}

// Validate checks server entries and init settings
func (f *FleetConfig) Validate() error {
	if f.Init != nil {
		if err := validateServers("init", f.Init.Server); err != nil {
			return err
		}
		if len(f.Init.Server) > 0 && f.Init.NewUsername == "" {
			return fmt.Errorf("init: new_username is required")
		}
		if f.Init.Sshd != nil && (f.Init.Sshd.NewPort < 0 || f.Init.Sshd.NewPort > 65535) {
			return fmt.Errorf("init.sshd: invalid new_port %d", f.Init.Sshd.NewPort)
		}
	}
	if f.Manage != nil {
		if err := validateServers("manage", f.Manage.Server); err != nil {
			return err
		}
	}
	return nil
}

func validateServers(section string, servers map[string]ServerConfig) error {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := servers[name].ToTarget(name); err != nil {
			return fmt.Errorf("%s.server.%s: %w", section, name, err)
		}
	}
	return nil
}

// ToTarget converts a server entry into a connection descriptor
func (s ServerConfig) ToTarget(name string) (target.Target, error) {
	if s.Host == "" {
		return target.Target{}, fmt.Errorf("host is required")
	}
	if s.Username == "" {
		return target.Target{}, fmt.Errorf("username is required")
	}

	auth, err := target.ResolveAuth(s.KeyPath, s.Password, s.UsePassword, s.UseAgent)
	if err != nil {
		return target.Target{}, err
	}

	port := s.Port
	if port == 0 {
		port = target.DefaultPort
	}
	if port < 1 || port > 65535 {
		return target.Target{}, fmt.Errorf("invalid port %d", port)
	}

	return target.Target{
		Name:         name,
		User:         s.Username,
		Host:         s.Host,
		Port:         port,
		Auth:         auth,
		IdentityFile: s.KeyPath,
		Password:     s.Password,
		Tags:         s.Tags,
		Properties:   s.Properties,
	}, nil
}

// Targets converts a server map into descriptors keyed by server name
func Targets(servers map[string]ServerConfig) (map[string]target.Target, error) {
	out := make(map[string]target.Target, len(servers))
	for name, s := range servers {
		t, err := s.ToTarget(name)
		if err != nil {
			return nil, fmt.Errorf("server '%s': %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}
