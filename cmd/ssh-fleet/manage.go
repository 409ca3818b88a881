package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"ssh-fleet/internal/action"
	"ssh-fleet/internal/multishell"
	"ssh-fleet/internal/output"
	"ssh-fleet/internal/progress"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/target"
	"ssh-fleet/internal/transfer"
)

func newManageCmd(a *app) *cobra.Command {
	sf := &serverFlags{}

	cmd := &cobra.Command{
		Use:   "manage",
		Short: "⚙️  Manage servers: run commands, scripts, firewall, fail2ban, transfers and components",
		Long: `Manage servers listed in the manage section of the fleet file, or given
with --hosts, --hostfile or --inventory.

Examples:
  ssh-fleet manage --list-servers
  ssh-fleet manage -s web1 exec -- uptime
  ssh-fleet manage --filter 'tag:web !tag:staging' firewall --status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !sf.list {
				return cmd.Help()
			}
			return a.runManage(cmd.Context(), sf, nil)
		},
	}
	sf.register(cmd.PersistentFlags(), "Manage")

	cmd.AddCommand(
		newExecCmd(a, sf),
		newScriptCmd(a, sf),
		newFirewallCmd(a, sf),
		newFail2banCmd(a, sf),
		newTransferCmd(a, sf),
		newComponentCmd(a, sf),
	)
	return cmd
}

// runManage validates act locally, selects servers and runs it. A nil act
// only lists servers.
func (a *app) runManage(parent context.Context, sf *serverFlags, act action.Action) error {
	if sf.list || act == nil {
		fleet, err := a.loadFleet(sf)
		if err != nil {
			return err
		}
		servers, err := a.servers(sf, fleet, manageSection)
		if err != nil {
			return err
		}
		a.listServers("📋 Servers available for management:", servers)
		return nil
	}

	plan, err := action.Prepare(act, a.out)
	if err != nil {
		return setupErrorf("%v", err)
	}
	if plan == nil {
		return nil
	}

	fleet, err := a.loadFleet(sf)
	if err != nil {
		return err
	}
	servers, err := a.servers(sf, fleet, manageSection)
	if err != nil {
		return err
	}
	tasks, err := a.tasks(sf, servers, "manage")
	if err != nil {
		return err
	}

	if a.cfg.DryRun {
		return a.dryRun(a.out, describe(act), nil, tasks)
	}

	ctx, stop := a.signalContext(parent)
	defer stop()

	if exec, ok := act.(*action.Exec); ok && exec.Shell {
		return a.runShell(ctx, exec.Command, tasks)
	}

	a.printer.Header("⚙️  Server Management")
	a.printer.ListTasks(tasks)

	st := a.newStats(len(tasks))
	textUI := a.printer.Mode() == output.TextMode && !a.cfg.Quiet

	tcfg := transfer.DefaultConfig()
	tcfg.MaxRetry = a.cfg.MaxRetry
	tcfg.Logger = a.logger
	if a.cfg.ChunkSize > 0 {
		tcfg.ChunkSize = a.cfg.ChunkSize
	}
	if a.cfg.ProgressInterval > 0 {
		tcfg.ProgressInterval = a.cfg.ProgressInterval
	}

	op, err := plan.Operation(action.Deps{
		Connector: a.dialer(),
		Printer:   a.printer,
		Logger:    a.logger,
		Stats:     st,
		Transfers: progress.NewTransferBoard(a.errOut, textUI),
		Transfer:  tcfg,
	}, tasks)
	if err != nil {
		return setupErrorf("%v", err)
	}

	return a.runTasks(ctx, tasks, op, st)
}

// runShell attaches the terminal to one server, or multiplexes input to
// several
func (a *app) runShell(ctx context.Context, command string, tasks []target.Task) error {
	if len(tasks) == 1 {
		code, err := multishell.RunSingle(ctx, a.dialer(), tasks[0], command, os.Stdin, os.Stdout, a.logger)
		if err != nil {
			return &ExecutionError{Message: err.Error()}
		}
		if code != 0 {
			return &ExecutionError{Message: fmt.Sprintf("shell on %s exited with status %d", tasks[0].Name, code)}
		}
		return nil
	}

	fmt.Fprintf(a.out, "🖥️  Interactive shell on %d servers. Type 'exit' to quit, '/history [server]' to review output.\n", len(tasks))
	ms := multishell.New(a.dialer(), multishell.Config{
		Command:      command,
		Input:        os.Stdin,
		Output:       a.out,
		Size:         ssh.DefaultTerminalSize,
		DrainTimeout: a.cfg.ShellDrainTimeout,
		Logger:       a.logger,
	})
	if err := ms.Run(ctx, tasks); err != nil {
		return &ExecutionError{Message: err.Error()}
	}
	return nil
}

func describe(act action.Action) string {
	switch act := act.(type) {
	case *action.Exec:
		return fmt.Sprintf("exec %q (sudo: %t)", act.Command, act.Sudo)
	case *action.Script:
		return fmt.Sprintf("script %s [%s]", act.Path, strings.Join(act.Actions, ", "))
	case *action.Transfer:
		return fmt.Sprintf("%s local=%s remote=%s", act.Direction, act.Local, act.Remote)
	default:
		return act.Name()
	}
}

func newExecCmd(a *app, sf *serverFlags) *cobra.Command {
	act := &action.Exec{}

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command>",
		Short: "💻 Execute a command on servers",
		Long: `Execute a command on every selected server. The command may use Go
template syntax with the server's fields, e.g. {{.Name}}, {{.Host}} or
{{prop "env"}}.

With --shell the command is started on a pseudo-terminal instead: one
server gets the local terminal, several share broadcast input.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			act.Command = joinArgs(args)
			if act.Shell && act.Command == "" {
				act.Command = "bash"
			}
			return a.runManage(cmd.Context(), sf, act)
		},
	}
	cmd.Flags().BoolVar(&act.Sudo, "sudo", false, "Run the command with sudo")
	cmd.Flags().BoolVar(&act.HideOutput, "hide-output", false, "Hide command output")
	cmd.Flags().BoolVar(&act.Shell, "shell", false, "Start an interactive shell session")
	return cmd
}

// joinArgs rebuilds a command line. A single argument is taken verbatim.
func joinArgs(args []string) string {
	if len(args) == 1 {
		return strings.TrimSpace(args[0])
	}
	return shellquote.Join(args...)
}

func newScriptCmd(a *app, sf *serverFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "📜 Run actions from a script file",
	}

	var actions []string
	run := &cobra.Command{
		Use:   "run <script.toml>",
		Short: "Run named actions on servers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runManage(cmd.Context(), sf, &action.Script{Path: args[0], Actions: actions})
		},
	}
	run.Flags().StringSliceVar(&actions, "action", nil, "Actions to run in order (comma-separated)")
	_ = run.MarkFlagRequired("action")

	list := &cobra.Command{
		Use:   "list <script.toml>",
		Short: "List the actions of a script file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runManage(cmd.Context(), sf, &action.Script{Path: args[0], List: true})
		},
	}

	cmd.AddCommand(run, list)
	return cmd
}

func newFirewallCmd(a *app, sf *serverFlags) *cobra.Command {
	act := &action.Firewall{}

	cmd := &cobra.Command{
		Use:   "firewall",
		Short: "🔥 Manage the ufw firewall",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runManage(cmd.Context(), sf, act)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&act.Setup, "setup", false, "Install and enable ufw")
	f.BoolVar(&act.Status, "status", false, "Show firewall status")
	f.StringSliceVar(&act.Allow, "allow-port", nil, "Ports to allow, e.g. 80/tcp (comma-separated)")
	f.StringSliceVar(&act.Deny, "deny-port", nil, "Ports to deny (comma-separated)")
	f.StringSliceVar(&act.DeleteAllow, "delete-allow-port", nil, "Allow rules to delete (comma-separated)")
	f.StringSliceVar(&act.DeleteDeny, "delete-deny-port", nil, "Deny rules to delete (comma-separated)")
	f.BoolVar(&act.Save, "save", false, "Reload ufw so the rules persist")
	return cmd
}

func newFail2banCmd(a *app, sf *serverFlags) *cobra.Command {
	act := &action.Fail2ban{}
	var configure bool

	cmd := &cobra.Command{
		Use:   "fail2ban",
		Short: "🛡️  Manage fail2ban",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configure {
				fleet, err := a.loadFleet(nil)
				if err != nil {
					return err
				}
				if fleet.Init == nil || fleet.Init.Fail2ban == nil {
					return setupErrorf("fleet file %s has no init.fail2ban section", a.fleetFile)
				}
				act.Config = fleet.Init.Fail2ban
			}
			return a.runManage(cmd.Context(), sf, act)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&act.Setup, "setup", false, "Install and start fail2ban")
	f.StringVar(&act.Backend, "backend", "", "Backend for --setup (default systemd)")
	f.BoolVar(&configure, "configure", false, "Write the jails from the init.fail2ban section of the fleet file")
	f.BoolVar(&act.Status, "status", false, "Show fail2ban status")
	f.StringVar(&act.Jail, "jail", "", "Jail to show, or to ban and unban in")
	f.StringVar(&act.Ban, "ban", "", "IP address to ban")
	f.StringVar(&act.Unban, "unban", "", "IP address to unban")
	f.BoolVar(&act.Reload, "reload", false, "Reload fail2ban")
	return cmd
}

func newTransferCmd(a *app, sf *serverFlags) *cobra.Command {
	act := &action.Transfer{}
	var upload, download bool

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "📁 Upload or download files and directories over SFTP",
		Long: `Upload or download a file or directory. Existing destinations are
skipped when identical, resumed with --resume or overwritten with --force.
Downloads from several servers get the server name appended to the local
name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case upload == download:
				return setupErrorf("exactly one of --upload or --download is required")
			case download:
				act.Direction = transfer.Download
			default:
				act.Direction = transfer.Upload
			}
			return a.runManage(cmd.Context(), sf, act)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&upload, "upload", false, "Upload local to remote")
	f.BoolVar(&download, "download", false, "Download remote to local")
	f.StringVar(&act.Remote, "remote", "", "Remote path")
	f.StringVar(&act.Local, "local", "", "Local path")
	f.BoolVar(&act.Force, "force", false, "Overwrite existing files")
	f.BoolVar(&act.Resume, "resume", false, "Resume partial files")
	f.BoolVar(&act.HideProgress, "hide-progress", false, "Hide transfer progress")
	return cmd
}

func newComponentCmd(a *app, sf *serverFlags) *cobra.Command {
	act := &action.Component{}

	cmd := &cobra.Command{
		Use:   "component",
		Short: "🧩 Install or uninstall components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if act.Dir == "" {
				act.Dir = a.cfg.ComponentDir
			}
			return a.runManage(cmd.Context(), sf, act)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&act.Dir, "dir", "D", "", "Component directory (default from settings)")
	f.BoolVar(&act.List, "list", false, "List available components")
	f.StringSliceVar(&act.Install, "install", nil, "Components to install (comma-separated)")
	f.StringSliceVar(&act.Uninstall, "uninstall", nil, "Components to uninstall (comma-separated)")
	return cmd
}
