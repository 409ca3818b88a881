package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ssh-fleet/internal/provision"
	"ssh-fleet/internal/target"
)

func newInitCmd(a *app) *cobra.Command {
	sf := &serverFlags{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "🚀 Initialize servers with the settings in the fleet file",
		Long: `Initialize servers: update packages, create the admin user, configure
sshd and fail2ban, run custom commands and set up the firewall.

Examples:
  ssh-fleet init --list-servers
  ssh-fleet init --server web1,web2
  ssh-fleet init --all-servers --threads 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd.Context(), sf)
		},
	}
	sf.register(cmd.Flags(), "Initialize")
	return cmd
}

func (a *app) runInit(parent context.Context, sf *serverFlags) error {
	fleet, err := a.loadFleet(nil)
	if err != nil {
		return err
	}
	if fleet.Init == nil {
		return setupErrorf("fleet file %s has no init section", a.fleetFile)
	}

	servers, err := a.servers(sf, fleet, initSection)
	if err != nil {
		return err
	}
	if sf.list {
		a.listServers("📋 Servers available for initialization:", servers)
		return nil
	}

	tasks, err := a.tasks(sf, servers, "initialize")
	if err != nil {
		return err
	}

	p := provision.New(fleet.Init)

	if a.cfg.DryRun {
		steps := make([]string, 0, len(p.Steps()))
		for _, s := range p.Steps() {
			steps = append(steps, s.Name)
		}
		return a.dryRun(a.out, "init", steps, tasks)
	}

	a.printer.Header("🚀 Server Initialization")
	a.printer.ListTasks(tasks)

	ctx, stop := a.signalContext(parent)
	defer stop()

	connector := a.dialer()
	op := func(ctx context.Context, _ int, task target.Task) error {
		session, err := connector.Connect(ctx, task.Target)
		if err != nil {
			a.logger.LogConnectionError(task.Target, err)
			return err
		}
		defer session.Close()

		return p.Run(ctx, session, func(step provision.Step) {
			a.printer.Println(fmt.Sprintf("%s [%s] %s...", step.Icon, task.Name, step.Name))
			a.logger.Info("Provisioning step", "server", task.Name, "step", step.Name)
		})
	}

	return a.runTasks(ctx, tasks, op, nil)
}
