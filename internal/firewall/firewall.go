// Package firewall manages ufw rules and verifies every change by reading
// the rule table back.
package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/system"
)

// Rule is the ufw rule action
type Rule string

const (
	Allow Rule = "ALLOW"
	Deny  Rule = "DENY"
)

func (r Rule) verb() string {
	return strings.ToLower(string(r))
}

// Setup installs ufw if missing, enables it and checks it is active
func Setup(ctx context.Context, h system.Host) error {
	check, err := h.Execute(ctx, "which ufw", true)
	if err != nil {
		return err
	}
	if check.ExitStatus != 0 {
		if _, err := system.Succeeded(system.Install(ctx, h, "ufw")); err != nil {
			return err
		}
	}

	if _, err := h.Execute(ctx, "ufw --force enable", true); err != nil {
		return err
	}

	status, err := h.Execute(ctx, "ufw status", true)
	if err != nil {
		return err
	}
	if !strings.Contains(status.Output, "Status: active") {
		return errors.NewVerificationError("UFW is not active")
	}
	return nil
}

// Status returns the raw "ufw status" output
func Status(ctx context.Context, h system.Host) (string, error) {
	result, err := system.Succeeded(h.Execute(ctx, "ufw status", true))
	if err != nil {
		return "", fmt.Errorf("failed to get ufw status: %w", err)
	}
	return result.Output, nil
}

// ParseRules extracts the port specs of rules with the given action from
// "ufw status" output, e.g. "22/tcp   ALLOW   Anywhere" yields "22/tcp"
func ParseRules(output string, rule Rule) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, string(rule)) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		port := fields[0]
		if strings.Contains(port, "/") || isPort(port) {
			ports = append(ports, port)
		}
	}
	return ports
}

func isPort(s string) bool {
	n, err := strconv.ParseUint(s, 10, 16)
	return err == nil && n > 0
}

// List returns the port specs currently carrying rule
func List(ctx context.Context, h system.Host, rule Rule) ([]string, error) {
	output, err := Status(ctx, h)
	if err != nil {
		return nil, err
	}
	return ParseRules(output, rule), nil
}

// Apply adds rule for every port spec in one command, then verifies that
// each one is present
func Apply(ctx context.Context, h system.Host, rule Rule, ports []string) error {
	if len(ports) == 0 {
		return nil
	}

	if _, err := h.Execute(ctx, joinCommands("ufw "+rule.verb(), ports), true); err != nil {
		return err
	}

	existing, err := List(ctx, h, rule)
	if err != nil {
		return err
	}
	if missing := difference(ports, existing); len(missing) > 0 {
		return errors.NewVerificationError(fmt.Sprintf("ports %v were not %s successfully", missing, pastTense(rule)))
	}
	return nil
}

// Delete removes rule for every port spec, then verifies none remain
func Delete(ctx context.Context, h system.Host, rule Rule, ports []string) error {
	if len(ports) == 0 {
		return nil
	}

	if _, err := h.Execute(ctx, joinCommands("ufw delete "+rule.verb(), ports), true); err != nil {
		return err
	}

	existing, err := List(ctx, h, rule)
	if err != nil {
		return err
	}
	if remaining := intersection(ports, existing); len(remaining) > 0 {
		return errors.NewVerificationError(fmt.Sprintf("ports %v were not deleted successfully", remaining))
	}
	return nil
}

// SaveRules reloads ufw so the current rule set is persisted and active
func SaveRules(ctx context.Context, h system.Host) error {
	_, err := system.Succeeded(h.Execute(ctx, "ufw reload", true))
	return err
}

func joinCommands(prefix string, ports []string) string {
	cmds := make([]string, len(ports))
	for i, p := range ports {
		cmds[i] = prefix + " " + p
	}
	return strings.Join(cmds, "; ")
}

func difference(want, have []string) []string {
	set := toSet(have)
	var out []string
	for _, p := range want {
		if !set[p] {
			out = append(out, p)
		}
	}
	return out
}

func intersection(want, have []string) []string {
	set := toSet(have)
	var out []string
	for _, p := range want {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

func pastTense(rule Rule) string {
	if rule == Deny {
		return "denied"
	}
	return "allowed"
}
