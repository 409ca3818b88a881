// Package fail2ban installs and configures fail2ban jails.
package fail2ban

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ssh-fleet/internal/config"
	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/system"
)

const (
	ConfigFile     = "/etc/fail2ban/jail.d/ssh-fleet.conf"
	DefaultBackend = "systemd"
)

// Setup installs fail2ban if missing, sets its log backend and makes sure
// the service is enabled and running
func Setup(ctx context.Context, h system.Host, backend string) (*ssh.CommandResult, error) {
	check, err := h.Execute(ctx, "which fail2ban-client", true)
	if err != nil {
		return nil, err
	}
	if check.ExitStatus != 0 {
		if _, err := system.Succeeded(system.Install(ctx, h, "fail2ban")); err != nil {
			return nil, err
		}
	}

	if backend == "" {
		backend = DefaultBackend
	}
	result, err := h.Execute(ctx, fmt.Sprintf("sed -i 's/^backend = auto/backend = %s/' /etc/fail2ban/jail.conf", backend), true)
	if err != nil {
		return nil, err
	}
	if result.ExitStatus != 0 {
		return nil, fmt.Errorf("fail2ban set backend failed")
	}

	if _, err := system.Service(ctx, h, system.Enable, "fail2ban"); err != nil {
		return nil, err
	}

	status, err := system.Service(ctx, h, system.Status, "fail2ban")
	if err != nil {
		return nil, err
	}
	if status.ExitStatus != 0 {
		if _, err := system.Service(ctx, h, system.Start, "fail2ban"); err != nil {
			return nil, err
		}
	}
	return status, nil
}

// RenderJails produces the jail.d file for the given jails, sorted by name
func RenderJails(jails map[string]config.JailConfig) string {
	names := make([]string, 0, len(jails))
	for name := range jails {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		j := jails[name]
		fmt.Fprintf(&b, "[%s]\n", name)
		fmt.Fprintf(&b, "enabled = %t\n", j.Enabled)
		fmt.Fprintf(&b, "port = %s\n", j.Port)
		fmt.Fprintf(&b, "filter = %s\n", j.Filter)
		fmt.Fprintf(&b, "maxretry = %d\n", j.MaxRetry)
		fmt.Fprintf(&b, "findtime = %d\n", j.FindTime)
		fmt.Fprintf(&b, "bantime = %d\n", j.BanTime)
		if len(j.IgnoreIP) > 0 {
			fmt.Fprintf(&b, "ignoreip = %s\n", strings.Join(j.IgnoreIP, " "))
		}
		if j.LogPath != "" {
			fmt.Fprintf(&b, "logpath = %s\n", j.LogPath)
		}

		keys := make([]string, 0, len(j.Options))
		for k := range j.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s = %s\n", k, j.Options[k])
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// Configure writes the jail file from raw content, or from the jails when
// no content is given, verifies it and reloads fail2ban
func Configure(ctx context.Context, h system.Host, cfg *config.Fail2banConfig) error {
	var content string
	switch {
	case cfg == nil:
		return fmt.Errorf("no content or jail config provided")
	case cfg.Content != "":
		content = cfg.Content
	case len(cfg.Jail) > 0:
		content = RenderJails(cfg.Jail)
	default:
		return fmt.Errorf("no content or jail config provided")
	}

	if _, err := system.Succeeded(system.CreateFile(ctx, h, ConfigFile, content, "644")); err != nil {
		return err
	}

	written, err := h.Execute(ctx, "cat "+ConfigFile, true)
	if err != nil {
		return err
	}
	if !strings.Contains(written.Output, content) {
		return errors.NewVerificationError("fail2ban config verification failed")
	}

	result, err := Reload(ctx, h)
	if err != nil {
		return err
	}
	if result.ExitStatus != 0 {
		return fmt.Errorf("fail2ban reload failed")
	}
	return nil
}

// Reload re-reads the fail2ban configuration
func Reload(ctx context.Context, h system.Host) (*ssh.CommandResult, error) {
	return h.Execute(ctx, "fail2ban-client reload", true)
}

// Status returns the overall fail2ban status
func Status(ctx context.Context, h system.Host) (*ssh.CommandResult, error) {
	return h.Execute(ctx, "fail2ban-client status", true)
}

// JailStatus returns the status of one jail
func JailStatus(ctx context.Context, h system.Host, jail string) (*ssh.CommandResult, error) {
	return h.Execute(ctx, "fail2ban-client status "+jail, true)
}

// Ban bans ip in jail and verifies it is listed
func Ban(ctx context.Context, h system.Host, jail, ip string) error {
	if _, err := h.Execute(ctx, fmt.Sprintf("fail2ban-client set %s banip %s", jail, ip), true); err != nil {
		return err
	}
	listed, err := isListed(ctx, h, jail, ip)
	if err != nil {
		return err
	}
	if !listed {
		return errors.NewVerificationError(fmt.Sprintf("IP %s was not banned in jail %s", ip, jail))
	}
	return nil
}

// Unban lifts the ban on ip in jail and verifies it is gone
func Unban(ctx context.Context, h system.Host, jail, ip string) error {
	if _, err := h.Execute(ctx, fmt.Sprintf("fail2ban-client set %s unbanip %s", jail, ip), true); err != nil {
		return err
	}
	listed, err := isListed(ctx, h, jail, ip)
	if err != nil {
		return err
	}
	if listed {
		return errors.NewVerificationError(fmt.Sprintf("IP %s is still banned in jail %s", ip, jail))
	}
	return nil
}

func isListed(ctx context.Context, h system.Host, jail, ip string) (bool, error) {
	result, err := h.Execute(ctx, fmt.Sprintf("fail2ban-client status %s | grep %s", jail, ip), true)
	if err != nil {
		return false, err
	}
	return result.ExitStatus == 0, nil
}
