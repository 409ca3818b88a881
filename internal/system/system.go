// Package system builds and runs the package, service and file commands
// shared by provisioning, components and firewall management.
package system

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/ssh"
)

// Host is the part of a session these helpers need
type Host interface {
	OSFamily() ssh.OSFamily
	Execute(ctx context.Context, command string, elevate bool) (*ssh.CommandResult, error)
}

const aptOptions = `-o Dpkg::Options::="--force-confdef" -o Dpkg::Options::="--force-confold"`

// InstallCommand returns the package install command for a family
func InstallCommand(family ssh.OSFamily, packages ...string) (string, error) {
	list := strings.Join(packages, " ")
	switch family {
	case ssh.Debian:
		return "DEBIAN_FRONTEND=noninteractive apt install -y " + aptOptions + " " + list, nil
	case ssh.RedHat:
		return "yum install -y " + list, nil
	case ssh.Arch:
		return "pacman -S --noconfirm " + list, nil
	}
	return "", fmt.Errorf("no package manager for OS family %s", family)
}

// UninstallCommand returns the package removal command for a family
func UninstallCommand(family ssh.OSFamily, packages ...string) (string, error) {
	list := strings.Join(packages, " ")
	switch family {
	case ssh.Debian:
		return "apt remove -y " + list, nil
	case ssh.RedHat:
		return "yum remove -y " + list, nil
	case ssh.Arch:
		return "pacman -R --noconfirm " + list, nil
	}
	return "", fmt.Errorf("no package manager for OS family %s", family)
}

// UpdateCommand returns the full system upgrade command. Output goes to
// /tmp/update_system.log.
func UpdateCommand(family ssh.OSFamily) (string, error) {
	var cmd string
	switch family {
	case ssh.Debian:
		cmd = "DEBIAN_FRONTEND=noninteractive apt update && apt upgrade -y " + aptOptions
	case ssh.RedHat:
		cmd = "yum update -y"
	case ssh.Arch:
		cmd = "pacman -Syu --noconfirm"
	default:
		return "", fmt.Errorf("no package manager for OS family %s", family)
	}
	return cmd + " > /tmp/update_system.log", nil
}

// Install installs packages as root
func Install(ctx context.Context, h Host, packages ...string) (*ssh.CommandResult, error) {
	cmd, err := InstallCommand(h.OSFamily(), packages...)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, cmd, true)
}

// Uninstall removes packages as root
func Uninstall(ctx context.Context, h Host, packages ...string) (*ssh.CommandResult, error) {
	cmd, err := UninstallCommand(h.OSFamily(), packages...)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, cmd, true)
}

// UpdateSystem upgrades every installed package
func UpdateSystem(ctx context.Context, h Host) (*ssh.CommandResult, error) {
	cmd, err := UpdateCommand(h.OSFamily())
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, cmd, true)
}

// ServiceOp is a service manager operation
type ServiceOp string

const (
	Enable  ServiceOp = "enable"
	Disable ServiceOp = "disable"
	Start   ServiceOp = "start"
	Stop    ServiceOp = "stop"
	Restart ServiceOp = "restart"
	Reload  ServiceOp = "reload"
	Status  ServiceOp = "status"
)

// fallbackCommand is tried when systemctl fails. Empty means no fallback.
func fallbackCommand(family ssh.OSFamily, op ServiceOp, service string) string {
	switch op {
	case Enable:
		switch family {
		case ssh.Debian:
			return fmt.Sprintf("update-rc.d %s defaults", service)
		case ssh.RedHat:
			return fmt.Sprintf("chkconfig %s on", service)
		}
		return ""
	case Disable:
		switch family {
		case ssh.Debian:
			return fmt.Sprintf("update-rc.d -f %s remove", service)
		case ssh.RedHat:
			return fmt.Sprintf("chkconfig %s off", service)
		}
		return ""
	}
	return fmt.Sprintf("service %s %s", service, op)
}

// Service runs "systemctl <op> <service>" and falls back to the SysV
// equivalent when that fails. The fallback result is only returned when
// it succeeds.
func Service(ctx context.Context, h Host, op ServiceOp, service string) (*ssh.CommandResult, error) {
	result, err := h.Execute(ctx, fmt.Sprintf("systemctl %s %s", op, service), true)
	if err != nil || result.ExitStatus == 0 {
		return result, err
	}

	fallback := fallbackCommand(h.OSFamily(), op, service)
	if fallback == "" {
		return result, nil
	}
	next, err := h.Execute(ctx, fallback, true)
	if err != nil {
		return nil, err
	}
	if next.ExitStatus == 0 {
		return next, nil
	}
	return result, nil
}

// CreateFile writes content to path as root. mode is passed to chmod when set.
func CreateFile(ctx context.Context, h Host, path, content, mode string) (*ssh.CommandResult, error) {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	cmd := fmt.Sprintf("echo '%s' | base64 -d > %s", encoded, path)
	if mode != "" {
		cmd += fmt.Sprintf(" && chmod %s %s", mode, path)
	}
	return h.Execute(ctx, cmd, true)
}

// CreateDir creates path and its parents as root
func CreateDir(ctx context.Context, h Host, path, mode string) (*ssh.CommandResult, error) {
	cmd := "mkdir -p " + path
	if mode != "" {
		cmd += fmt.Sprintf(" && chmod %s %s", mode, path)
	}
	return h.Execute(ctx, cmd, true)
}

// TruncateMessage keeps the first maxLines lines of message
func TruncateMessage(message string, maxLines int) string {
	lines := strings.Split(message, "\n")
	if len(lines) <= maxLines {
		return message
	}
	return fmt.Sprintf("%s\n... (truncated %d more lines)",
		strings.Join(lines[:maxLines], "\n"), len(lines)-maxLines)
}

// Succeeded turns a non-zero exit into a RemoteExitError with the output
// cut to a few lines. It takes Execute's results directly.
func Succeeded(result *ssh.CommandResult, err error) (*ssh.CommandResult, error) {
	if err != nil {
		return nil, err
	}
	if result.ExitStatus != 0 {
		return result, errors.NewRemoteExitError(result.Command, result.ExitStatus, TruncateMessage(result.Output, 3))
	}
	return result, nil
}
