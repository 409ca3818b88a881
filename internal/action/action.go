// Package action holds the closed set of manage actions. Each action is
// validated locally by Prepare, then turned into a per-task executor
// operation.
package action

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"

	"ssh-fleet/internal/component"
	"ssh-fleet/internal/config"
	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/executor"
	"ssh-fleet/internal/logging"
	"ssh-fleet/internal/output"
	"ssh-fleet/internal/progress"
	"ssh-fleet/internal/script"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/stats"
	"ssh-fleet/internal/target"
	"ssh-fleet/internal/template"
	"ssh-fleet/internal/transfer"
)

// Action is one of *Exec, *Script, *Firewall, *Fail2ban, *Transfer or
// *Component.
type Action interface {
	Name() string
	action()
}

// Exec runs one command on every server
type Exec struct {
	Command    string
	Sudo       bool
	HideOutput bool
	Shell      bool
}

// Script runs named actions from a TOML script file, or lists them
type Script struct {
	Path    string
	List    bool
	Actions []string
}

// Firewall manages ufw. The first requested operation wins, in field
// order; Save reloads the rules after it.
type Firewall struct {
	Setup       bool
	Status      bool
	Allow       []string
	Deny        []string
	DeleteAllow []string
	DeleteDeny  []string
	Save        bool
}

// Fail2ban manages fail2ban. Config, when set, replaces the jail file.
type Fail2ban struct {
	Setup   bool
	Backend string
	Config  *config.Fail2banConfig
	Status  bool
	Jail    string
	Ban     string
	Unban   string
	Reload  bool
}

// Transfer uploads or downloads a file or directory
type Transfer struct {
	Direction    transfer.Direction
	Remote       string
	Local        string
	Force        bool
	Resume       bool
	HideProgress bool
}

// Component installs or uninstalls components described in a directory
type Component struct {
	Dir       string
	List      bool
	Install   []string
	Uninstall []string
}

func (*Exec) action()      {}
func (*Script) action()    {}
func (*Firewall) action()  {}
func (*Fail2ban) action()  {}
func (*Transfer) action()  {}
func (*Component) action() {}

func (*Exec) Name() string      { return "exec" }
func (*Script) Name() string    { return "script" }
func (*Firewall) Name() string  { return "firewall" }
func (*Fail2ban) Name() string  { return "fail2ban" }
func (*Transfer) Name() string  { return "transfer" }
func (*Component) Name() string { return "component" }

// Plan is a validated action together with what its local phase loaded
type Plan struct {
	Action Action

	command    *template.Command
	script     *script.Config
	components *component.Manager
}

// Prepare validates an action without touching any server. Listing
// actions print to w and return a nil plan: nothing is left to run.
func Prepare(a Action, w io.Writer) (*Plan, error) {
	p := &Plan{Action: a}

	switch a := a.(type) {
	case *Exec:
		if a.Command == "" {
			return nil, errors.NewSetupError("command cannot be empty", nil)
		}
		cmd, err := template.Compile(a.Command)
		if err != nil {
			return nil, errors.NewSetupError("invalid command", err)
		}
		p.command = cmd

	case *Script:
		cfg, err := script.Load(a.Path)
		if err != nil {
			return nil, err
		}
		if a.List {
			cfg.List(w)
			return nil, nil
		}
		if err := cfg.Check(a.Actions); err != nil {
			return nil, err
		}
		p.script = cfg

	case *Firewall:
		if !a.Setup && !a.Status && len(a.Allow) == 0 && len(a.Deny) == 0 &&
			len(a.DeleteAllow) == 0 && len(a.DeleteDeny) == 0 && !a.Save {
			return nil, errors.NewSetupError("no firewall action specified. Use --setup, --status, --allow-port, --deny-port, --delete-allow-port, --delete-deny-port or --save", nil)
		}

	case *Fail2ban:
		if !a.Setup && a.Config == nil && !a.Status && a.Jail == "" && a.Ban == "" && a.Unban == "" && !a.Reload {
			return nil, errors.NewSetupError("no fail2ban action specified. Use --setup, --configure, --status, --jail, --ban, --unban or --reload", nil)
		}
		if (a.Ban != "" || a.Unban != "") && a.Jail == "" {
			return nil, errors.NewSetupError("--jail is required for --ban and --unban", nil)
		}

	case *Transfer:
		verb := "upload"
		if a.Direction == transfer.Download {
			verb = "download"
		}
		if a.Remote == "" {
			return nil, errors.NewSetupError(fmt.Sprintf("--remote is required for %s", verb), nil)
		}
		if a.Local == "" {
			return nil, errors.NewSetupError(fmt.Sprintf("--local is required for %s", verb), nil)
		}

	case *Component:
		m, err := component.NewManager(a.Dir)
		if err != nil {
			return nil, err
		}
		switch {
		case a.List:
			m.List(w)
			return nil, nil
		case len(a.Install) > 0:
			err = m.Check(a.Install)
		case len(a.Uninstall) > 0:
			err = m.Check(a.Uninstall)
		default:
			err = errors.NewSetupError("no component action specified. Use --list, --install or --uninstall", nil)
		}
		if err != nil {
			return nil, err
		}
		p.components = m

	default:
		return nil, fmt.Errorf("unknown action %T", a)
	}

	return p, nil
}

// Deps are the shared values an operation needs. Stats and Transfers may
// be nil.
type Deps struct {
	Connector ssh.Connector
	Printer   *output.Printer
	Logger    *logging.Logger
	Stats     *stats.Tracker
	Transfers *progress.TransferBoard
	Transfer  transfer.Config
	Local     transfer.FS
}

// Operation builds the per-task operation. tasks is the full batch; a
// download from several servers gets per-server local names.
func (p *Plan) Operation(deps Deps, tasks []target.Task) (executor.Operation, error) {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Local == nil {
		deps.Local = transfer.LocalFS{}
	}

	var run runFunc
	switch a := p.Action.(type) {
	case *Exec:
		if a.Shell {
			return nil, fmt.Errorf("shell mode is interactive and does not run through the executor")
		}
		run = p.execRun(a, deps)
	case *Script:
		run = func(ctx context.Context, _ int, _ target.Task, s ssh.Session) error {
			return p.script.Run(ctx, s, a.Actions)
		}
	case *Firewall:
		run = firewallRun(a, deps)
	case *Fail2ban:
		run = fail2banRun(a, deps)
	case *Transfer:
		run = transferRun(a, deps, len(tasks) > 1)
	case *Component:
		run = p.componentRun(a, deps)
	default:
		return nil, fmt.Errorf("unknown action %T", a)
	}

	return func(ctx context.Context, index int, task target.Task) error {
		session, err := deps.Connector.Connect(ctx, task.Target)
		if err != nil {
			deps.Logger.LogConnectionError(task.Target, err)
			return err
		}
		defer session.Close()
		return run(ctx, index, task, session)
	}, nil
}

func displayName(dir transfer.Direction, local, remote string) string {
	if dir == transfer.Download {
		return path.Base(remote)
	}
	return filepath.Base(local)
}
