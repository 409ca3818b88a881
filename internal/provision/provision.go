// Package provision runs the fixed first-boot pipeline on one server:
// system update, baseline packages, admin user, sshd, fail2ban, custom
// commands, firewall and finally an sshd reload.
package provision

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"ssh-fleet/internal/config"
	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/fail2ban"
	"ssh-fleet/internal/firewall"
	"ssh-fleet/internal/system"
)

const SshdConfigFile = "/etc/ssh/sshd_config.d/ssh-fleet.conf"

// Step is one stage of the pipeline
type Step struct {
	Icon string
	Name string
	run  func(ctx context.Context, h system.Host) error
}

// StepFunc is called before each step starts
type StepFunc func(step Step)

// Provisioner holds the normalized init settings shared by every server
type Provisioner struct {
	username string
	password string
	sshd     *config.SshdConfig
	firewall *config.FirewallConfig
	fail2ban *config.Fail2banConfig
	packages []string
	commands []string
}

// New normalizes cfg. When a firewall is configured the SSH port is always
// allowed and never denied.
func New(cfg *config.InitConfig) *Provisioner {
	p := &Provisioner{
		username: cfg.NewUsername,
		password: cfg.NewPassword,
		sshd:     cfg.Sshd,
		fail2ban: cfg.Fail2ban,
		packages: cfg.Packages,
		commands: cfg.Commands,
	}

	if cfg.Firewall != nil {
		sshPort := fmt.Sprintf("%d/tcp", cfg.Sshd.Port())
		fw := &config.FirewallConfig{}
		for _, port := range cfg.Firewall.DenyPorts {
			if port != sshPort {
				fw.DenyPorts = append(fw.DenyPorts, port)
			}
		}
		fw.AllowPorts = append(fw.AllowPorts, cfg.Firewall.AllowPorts...)
		if !contains(fw.AllowPorts, sshPort) {
			fw.AllowPorts = append(fw.AllowPorts, sshPort)
		}
		p.firewall = fw
	}
	return p
}

// Firewall returns the normalized firewall settings, nil when disabled
func (p *Provisioner) Firewall() *config.FirewallConfig {
	return p.firewall
}

// Steps lists the stages that will run, in order
func (p *Provisioner) Steps() []Step {
	steps := []Step{
		{Icon: "📦", Name: "Updating system packages", run: p.updateSystem},
		{Icon: "📥", Name: "Installing required packages", run: p.installRequired},
		{Icon: "👤", Name: "Creating user account", run: p.createUser},
		{Icon: "🔐", Name: "Setting up sudo permissions", run: p.setupSudo},
	}
	if p.sshd != nil {
		steps = append(steps, Step{Icon: "🔑", Name: "Configuring SSH daemon", run: p.configureSshd})
	}
	if p.fail2ban != nil {
		steps = append(steps, Step{Icon: "🛡️", Name: "Setting up Fail2ban protection", run: p.setupFail2ban})
	}
	if len(p.commands) > 0 {
		steps = append(steps, Step{Icon: "⚡", Name: "Executing custom commands", run: p.runCommands})
	}
	if p.firewall != nil {
		steps = append(steps, Step{Icon: "🔥", Name: "Configuring firewall", run: p.setupFirewall})
	}
	return append(steps, Step{Icon: "🔄", Name: "Reloading SSH daemon", run: reloadSshd})
}

// Run executes every step in order on h. The first failing step aborts the
// rest. Steps are not retried here.
func (p *Provisioner) Run(ctx context.Context, h system.Host, report StepFunc) error {
	for _, step := range p.Steps() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if report != nil {
			report(step)
		}
		if err := step.run(ctx, h); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(step.Name), err)
		}
	}
	return nil
}

func (p *Provisioner) updateSystem(ctx context.Context, h system.Host) error {
	_, err := system.Succeeded(system.UpdateSystem(ctx, h))
	return err
}

// RequiredPackages is the baseline package set: sudo, plus ufw and fail2ban
// when configured, plus extra packages without duplicates
func (p *Provisioner) RequiredPackages() []string {
	packages := []string{"sudo"}
	if p.firewall != nil {
		packages = append(packages, "ufw")
	}
	if p.fail2ban != nil {
		packages = append(packages, "fail2ban")
	}
	for _, pkg := range p.packages {
		if !contains(packages, pkg) {
			packages = append(packages, pkg)
		}
	}
	return packages
}

func (p *Provisioner) installRequired(ctx context.Context, h system.Host) error {
	_, err := system.Succeeded(system.Install(ctx, h, p.RequiredPackages()...))
	return err
}

func (p *Provisioner) createUser(ctx context.Context, h system.Host) error {
	if _, err := h.Execute(ctx, "useradd -m "+p.username, true); err != nil {
		return err
	}

	result, err := h.Execute(ctx, "id "+p.username, true)
	if err != nil {
		return err
	}
	if result.ExitStatus != 0 {
		return errors.NewVerificationError(fmt.Sprintf("user verification failed (exit code: %d) - %s",
			result.ExitStatus, system.TruncateMessage(strings.TrimSpace(result.Output), 3)))
	}

	// base64 keeps the password out of the command line and the logs
	creds := base64.StdEncoding.EncodeToString([]byte(p.username + ":" + p.password))
	if _, err := h.Execute(ctx, fmt.Sprintf("echo '%s' | base64 -d | chpasswd", creds), true); err != nil {
		return err
	}

	result, err = h.Execute(ctx, "passwd -S "+p.username, true)
	if err != nil {
		return err
	}
	if !strings.Contains(result.Output, p.username+" P") {
		return errors.NewVerificationError("password verification failed: " + result.Output)
	}
	return nil
}

func (p *Provisioner) setupSudo(ctx context.Context, h system.Host) error {
	check, err := h.Execute(ctx, "which sudo", true)
	if err != nil {
		return err
	}
	if check.ExitStatus != 0 {
		if _, err := system.Succeeded(system.Install(ctx, h, "sudo")); err != nil {
			return err
		}
	}

	rule := p.username + " ALL=(ALL) NOPASSWD:ALL"
	if _, err := h.Execute(ctx, fmt.Sprintf("echo '%s' > /etc/sudoers.d/%s", rule, p.username), true); err != nil {
		return err
	}

	result, err := h.Execute(ctx, fmt.Sprintf("grep '%s' /etc/sudoers.d/%s", rule, p.username), true)
	if err != nil {
		return err
	}
	if result.ExitStatus != 0 {
		return errors.NewVerificationError(fmt.Sprintf("sudo configuration verification failed (exit code: %d) - %s",
			result.ExitStatus, system.TruncateMessage(strings.TrimSpace(result.Output), 3)))
	}
	return nil
}

// SshdContent renders the sshd drop-in: the port first, then options by key
func SshdContent(cfg *config.SshdConfig) string {
	var b strings.Builder
	if cfg.NewPort != 0 {
		fmt.Fprintf(&b, "Port %d\n", cfg.NewPort)
	}
	keys := make([]string, 0, len(cfg.Options))
	for k := range cfg.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s %s\n", k, cfg.Options[k])
	}
	return strings.TrimSpace(b.String())
}

func (p *Provisioner) configureSshd(ctx context.Context, h system.Host) error {
	if key := p.sshd.PublicKey; key != "" {
		sshDir := fmt.Sprintf("/home/%s/.ssh", p.username)
		authFile := sshDir + "/authorized_keys"

		if _, err := system.Succeeded(system.CreateDir(ctx, h, sshDir, "700")); err != nil {
			return err
		}
		if _, err := system.Succeeded(system.CreateFile(ctx, h, authFile, key, "600")); err != nil {
			return err
		}
		owner := p.username + ":" + p.username
		if _, err := h.Execute(ctx, fmt.Sprintf("chown %s %s && chown %s %s", owner, sshDir, owner, authFile), true); err != nil {
			return err
		}

		result, err := h.Execute(ctx, "cat "+authFile, true)
		if err != nil {
			return err
		}
		if !strings.Contains(result.Output, key) {
			return errors.NewVerificationError("public key verification failed: " + result.Output)
		}
	}

	content := SshdContent(p.sshd)
	if content == "" {
		return nil
	}
	if _, err := system.Succeeded(system.CreateFile(ctx, h, SshdConfigFile, content, "644")); err != nil {
		return err
	}
	result, err := h.Execute(ctx, "cat "+SshdConfigFile, true)
	if err != nil {
		return err
	}
	if !strings.Contains(result.Output, content) {
		return errors.NewVerificationError("SSH config verification failed: " + result.Output)
	}
	return nil
}

func (p *Provisioner) setupFail2ban(ctx context.Context, h system.Host) error {
	if _, err := fail2ban.Setup(ctx, h, p.fail2ban.Backend); err != nil {
		return err
	}
	return fail2ban.Configure(ctx, h, p.fail2ban)
}

func (p *Provisioner) runCommands(ctx context.Context, h system.Host) error {
	for _, cmd := range p.commands {
		if _, err := system.Succeeded(h.Execute(ctx, cmd, true)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) setupFirewall(ctx context.Context, h system.Host) error {
	if err := firewall.Setup(ctx, h); err != nil {
		return err
	}
	if err := firewall.Apply(ctx, h, firewall.Allow, p.firewall.AllowPorts); err != nil {
		return err
	}
	return firewall.Apply(ctx, h, firewall.Deny, p.firewall.DenyPorts)
}

func reloadSshd(ctx context.Context, h system.Host) error {
	result, err := h.Execute(ctx, "systemctl reload sshd", true)
	if err != nil {
		return err
	}
	if result.ExitStatus == 0 {
		return nil
	}
	result, err = h.Execute(ctx, "service ssh reload", true)
	if err != nil {
		return err
	}
	if result.ExitStatus != 0 {
		return fmt.Errorf("failed to reload sshd (exit code: %d) - %s",
			result.ExitStatus, system.TruncateMessage(strings.TrimSpace(result.Output), 3))
	}
	return nil
}

func contains(items []string, item string) bool {
	for _, i := range items {
		if i == item {
			return true
		}
	}
	return false
}
