package action

import (
	"context"
	"fmt"
	"strings"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/fail2ban"
	"ssh-fleet/internal/firewall"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/system"
	"ssh-fleet/internal/target"
	"ssh-fleet/internal/transfer"
)

type runFunc = func(ctx context.Context, index int, task target.Task, s ssh.Session) error

func detail(deps Deps, index int, text string) {
	if deps.Printer == nil || text == "" {
		return
	}
	deps.Printer.SetDetail(index, strings.Split(text, "\n"))
}

func (p *Plan) execRun(a *Exec, deps Deps) runFunc {
	return func(ctx context.Context, index int, task target.Task, s ssh.Session) error {
		command, err := p.command.Render(task.Target)
		if err != nil {
			return errors.NewSetupError("invalid command", err)
		}

		deps.Logger.Info("Executing command", "server", task.Name, "command", command)
		result, err := s.Execute(ctx, command, a.Sudo)
		if err != nil {
			return err
		}
		if !a.HideOutput {
			detail(deps, index, result.Output)
		}
		if result.ExitStatus != 0 {
			return errors.NewRemoteExitError(command, result.ExitStatus, "")
		}
		return nil
	}
}

func firewallRun(a *Firewall, deps Deps) runFunc {
	return func(ctx context.Context, index int, task target.Task, s ssh.Session) error {
		var err error
		switch {
		case a.Setup:
			deps.Logger.Info("Setting up firewall", "server", task.Name)
			err = firewall.Setup(ctx, s)
		case a.Status:
			var status string
			if status, err = firewall.Status(ctx, s); err == nil {
				detail(deps, index, status)
			}
		case len(a.Allow) > 0:
			deps.Logger.Info("Allowing ports", "server", task.Name, "ports", a.Allow)
			err = firewall.Apply(ctx, s, firewall.Allow, a.Allow)
		case len(a.Deny) > 0:
			deps.Logger.Info("Denying ports", "server", task.Name, "ports", a.Deny)
			err = firewall.Apply(ctx, s, firewall.Deny, a.Deny)
		case len(a.DeleteAllow) > 0:
			deps.Logger.Info("Deleting allowed ports", "server", task.Name, "ports", a.DeleteAllow)
			err = firewall.Delete(ctx, s, firewall.Allow, a.DeleteAllow)
		case len(a.DeleteDeny) > 0:
			deps.Logger.Info("Deleting denied ports", "server", task.Name, "ports", a.DeleteDeny)
			err = firewall.Delete(ctx, s, firewall.Deny, a.DeleteDeny)
		}
		if err != nil {
			return err
		}

		if a.Save {
			deps.Logger.Info("Saving firewall rules", "server", task.Name)
			return firewall.SaveRules(ctx, s)
		}
		return nil
	}
}

// One fail2ban operation runs per invocation: setup, configure, ban,
// unban, status, reload, checked in that order.
func fail2banRun(a *Fail2ban, deps Deps) runFunc {
	return func(ctx context.Context, index int, task target.Task, s ssh.Session) error {
		switch {
		case a.Setup:
			backend := a.Backend
			if backend == "" {
				backend = fail2ban.DefaultBackend
			}
			deps.Logger.Info("Setting up fail2ban", "server", task.Name, "backend", backend)
			_, err := fail2ban.Setup(ctx, s, backend)
			return err
		case a.Config != nil:
			deps.Logger.Info("Configuring fail2ban", "server", task.Name)
			return fail2ban.Configure(ctx, s, a.Config)
		case a.Ban != "":
			return fail2ban.Ban(ctx, s, a.Jail, a.Ban)
		case a.Unban != "":
			return fail2ban.Unban(ctx, s, a.Jail, a.Unban)
		case a.Status || a.Jail != "":
			var result *ssh.CommandResult
			var err error
			if a.Jail != "" {
				result, err = system.Succeeded(fail2ban.JailStatus(ctx, s, a.Jail))
			} else {
				result, err = system.Succeeded(fail2ban.Status(ctx, s))
			}
			if err != nil {
				return err
			}
			detail(deps, index, result.Output)
			return nil
		case a.Reload:
			_, err := system.Succeeded(fail2ban.Reload(ctx, s))
			return err
		}
		return nil
	}
}

func transferRun(a *Transfer, deps Deps, perServer bool) runFunc {
	return func(ctx context.Context, index int, task target.Task, s ssh.Session) error {
		remote, err := s.OpenTransfer()
		if err != nil {
			return errors.NewIOError("failed to open sftp session", err)
		}
		defer remote.Close()

		cfg := deps.Transfer
		cfg.Force = a.Force
		cfg.Resume = a.Resume
		cfg.Logger = deps.Logger.With("server", task.Name)
		engine := transfer.NewEngine(deps.Local, remote, cfg)

		var onProgress transfer.ProgressFunc
		if deps.Transfers != nil && !a.HideProgress {
			onProgress = deps.Transfers.Func(task.Name, displayName(a.Direction, a.Local, a.Remote), a.Direction)
		}

		var n int64
		var line string
		if a.Direction == transfer.Download {
			local := a.Local
			if perServer {
				local = transfer.AddServerName(local, task.Name)
			}
			deps.Logger.Info("Downloading", "server", task.Name, "remote", a.Remote, "local", local)
			n, err = engine.Transfer(ctx, transfer.Download, a.Remote, local, onProgress)
			line = fmt.Sprintf("📥 Downloaded %d Bytes on server '%s(%s)'", n, task.Name, task.Target)
		} else {
			deps.Logger.Info("Uploading", "server", task.Name, "local", a.Local, "remote", a.Remote)
			n, err = engine.Transfer(ctx, transfer.Upload, a.Local, a.Remote, onProgress)
			line = fmt.Sprintf("📤 Uploaded Success %d Bytes on server '%s(%s)'", n, task.Name, task.Target)
		}
		if deps.Stats != nil && n > 0 {
			deps.Stats.AddBytes(n)
		}
		if err != nil {
			return err
		}
		detail(deps, index, line)
		return nil
	}
}

func (p *Plan) componentRun(a *Component, deps Deps) runFunc {
	return func(ctx context.Context, _ int, task target.Task, s ssh.Session) error {
		if len(a.Install) > 0 {
			for _, name := range a.Install {
				deps.Logger.Info("Installing component", "server", task.Name, "component", name)
				if err := p.components.Install(ctx, s, name); err != nil {
					return fmt.Errorf("install %s: %w", name, err)
				}
			}
			return nil
		}
		for _, name := range a.Uninstall {
			deps.Logger.Info("Uninstalling component", "server", task.Name, "component", name)
			if err := p.components.Uninstall(ctx, s, name); err != nil {
				return fmt.Errorf("uninstall %s: %w", name, err)
			}
		}
		return nil
	}
}
