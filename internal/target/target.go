package target

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DefaultPort is used when a server does not declare one
const DefaultPort = 22

// AuthMethod selects how a connection authenticates. Exactly one is active
// per descriptor.
type AuthMethod int

const (
	AuthNone AuthMethod = iota
	AuthKey
	AuthPassword
	AuthPrompt
	AuthAgent
)

// String returns a short label for listings
func (a AuthMethod) String() string {
	switch a {
	case AuthKey:
		return "key"
	case AuthPassword:
		return "password"
	case AuthPrompt:
		return "prompt"
	case AuthAgent:
		return "agent"
	default:
		return "none"
	}
}

// Target is the connection descriptor of one server
type Target struct {
	Name         string            // User-facing server name
	User         string            // SSH username
	Host         string            // Hostname or IP address
	Port         int               // SSH port number
	Auth         AuthMethod        // Active authentication mode
	IdentityFile string            // Private key path for AuthKey
	Password     string            // Password for AuthPassword, filled at runtime for AuthPrompt
	Tags         []string          // Free-form labels used by filters
	Properties   map[string]string // Key/value metadata used by filters and templates
	Original     string            // Original specification string, if any
}

// Address returns host:port suitable for dialing
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String renders user@host:port. Credentials are never included.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Address())
}

// ResolveAuth picks the auth mode for a descriptor: explicit key path, else
// explicit password, else a runtime prompt when usePassword is set, else the
// ssh agent when useAgent is set.
func ResolveAuth(keyPath, password string, usePassword, useAgent bool) (AuthMethod, error) {
	switch {
	case keyPath != "":
		return AuthKey, nil
	case password != "":
		return AuthPassword, nil
	case usePassword:
		return AuthPrompt, nil
	case useAgent:
		return AuthAgent, nil
	default:
		return AuthNone, fmt.Errorf("no authentication method configured: set keypath, password, use_password or use_agent")
	}
}

// ParseHostSpec parses a single host specification in the format
// "user@host:port?key=path". Without a key the ssh agent is used.
func ParseHostSpec(spec string) (Target, error) {
	target := Target{
		Original: spec,
		Port:     DefaultPort,
		Auth:     AuthAgent,
	}

	if strings.TrimSpace(spec) == "" {
		return target, fmt.Errorf("empty host specification")
	}

	parts := strings.SplitN(spec, "?", 2)
	hostPart := parts[0]

	if len(parts) == 2 {
		values, err := url.ParseQuery(parts[1])
		if err != nil {
			return target, fmt.Errorf("invalid query parameters: %w", err)
		}
		if key := values.Get("key"); key != "" {
			target.IdentityFile = key
			target.Auth = AuthKey
		}
		if values.Get("password") == "prompt" && target.Auth != AuthKey {
			target.Auth = AuthPrompt
		}
	}

	userHost := hostPart
	if strings.Contains(hostPart, "@") {
		userHostParts := strings.SplitN(hostPart, "@", 2)
		target.User = userHostParts[0]
		userHost = userHostParts[1]
	}

	var host, portStr string
	if strings.HasPrefix(userHost, "[") {
		// IPv6 format: [::1]:2222
		closeBracket := strings.Index(userHost, "]")
		if closeBracket == -1 {
			return target, fmt.Errorf("invalid IPv6 address format: missing closing bracket")
		}
		host = userHost[1:closeBracket]
		if remainder := userHost[closeBracket+1:]; strings.HasPrefix(remainder, ":") {
			portStr = remainder[1:]
		}
	} else if strings.Contains(userHost, ":") {
		hostPortParts := strings.SplitN(userHost, ":", 2)
		host, portStr = hostPortParts[0], hostPortParts[1]
	} else {
		host = userHost
	}
	target.Host = host

	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return target, fmt.Errorf("invalid port number '%s': %w", portStr, err)
		}
		target.Port = port
	}

	if target.User == "" {
		if current := os.Getenv("USER"); current != "" {
			target.User = current
		}
	}
	target.Name = target.Host
	if target.Port != DefaultPort {
		target.Name = fmt.Sprintf("%s:%d", target.Host, target.Port)
	}

	if err := ValidateTarget(target); err != nil {
		return target, fmt.Errorf("validation failed: %w", err)
	}

	return target, nil
}

// ValidateTarget validates a descriptor for correctness
func ValidateTarget(target Target) error {
	if target.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if target.User == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if target.Port < 1 || target.Port > 65535 {
		return fmt.Errorf("port number %d out of valid range (1-65535)", target.Port)
	}
	switch target.Auth {
	case AuthKey:
		if target.IdentityFile == "" {
			return fmt.Errorf("key authentication requires a key path")
		}
	case AuthPassword:
		if target.Password == "" {
			return fmt.Errorf("password authentication requires a password")
		}
	case AuthPrompt, AuthAgent:
	default:
		return fmt.Errorf("no authentication method configured")
	}
	return nil
}

// ParseHosts parses comma-separated host specifications into a server map
func ParseHosts(input string) (map[string]Target, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty hosts input")
	}

	servers := make(map[string]Target)
	for i, spec := range strings.Split(input, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		target, err := ParseHostSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("error parsing host %d ('%s'): %w", i+1, spec, err)
		}
		servers[target.Name] = target
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("no valid hosts found in input")
	}
	return servers, nil
}

// ParseHostFile reads host specifications from a file (one per line)
func ParseHostFile(filename string) (map[string]Target, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open host file '%s': %w", filename, err)
	}
	defer file.Close()

	return parseFromReader(file)
}

func parseFromReader(reader io.Reader) (map[string]Target, error) {
	scanner := bufio.NewScanner(reader)
	servers := make(map[string]Target)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		target, err := ParseHostSpec(line)
		if err != nil {
			return nil, fmt.Errorf("error parsing line %d ('%s'): %w", lineNum, line, err)
		}
		servers[target.Name] = target
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading input: %w", err)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no valid hosts found in input")
	}
	return servers, nil
}

// Names returns the server names of a map in sorted order
func Names(servers map[string]Target) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
