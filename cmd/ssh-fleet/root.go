package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ssh-fleet/internal/config"
	"ssh-fleet/internal/logging"
	"ssh-fleet/internal/output"
	"ssh-fleet/internal/ssh"
)

// globalFlags are shared by every command. Settings flags only override
// the loaded settings when set explicitly.
type globalFlags struct {
	fleetFile      string
	threads        int
	maxRetry       uint
	opTimeout      time.Duration
	connectTimeout time.Duration
	outputMode     string
	quiet          bool
	dryRun         bool
	logLevel       string
	logFormat      string
	showProgress   bool
	showStats      bool
	strictHostKey  bool
	knownHosts     string
}

// app is built once per invocation and passed to every command
type app struct {
	cfg       *config.Config
	fleetFile string
	fleet     *config.FleetConfig
	logger    *logging.Logger
	printer   *output.Printer
	runID     string
	out       io.Writer
	errOut    io.Writer
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	a := &app{}

	root := &cobra.Command{
		Use:   "ssh-fleet",
		Short: "🚀 SSH fleet management tool - initialize, manage and control multiple servers",
		Long: `ssh-fleet initializes and manages fleets of servers over SSH.

Every operation runs on a bounded worker pool with per-server retries, so one
unreachable server never stops the rest of the fleet.

Examples:
  # Initialize every server listed in config.yaml
  ssh-fleet init --all-servers

  # Run a command on two servers with sudo
  ssh-fleet manage -s web1,web2 exec --sudo -- systemctl restart nginx

  # Upload a file to all servers tagged web, resuming partial uploads
  ssh-fleet manage --filter tag:web transfer --upload --local app.tar --remote /opt/app.tar --resume

  # Open an interactive shell on every server
  ssh-fleet manage --all-servers exec --shell bash

Settings are read from settings.{yaml,toml} in ., ~/.config/ssh-fleet or
/etc/ssh-fleet, then from the environment:
  ` + strings.Join(config.GetEnvVarNames(), "\n  "),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.fleetFile, "config", "c", "config.yaml", "Fleet file with servers and init settings (YAML or TOML)")
	pf.IntVarP(&flags.threads, "threads", "t", 0, "Worker count, 0 uses one per CPU")
	pf.UintVar(&flags.maxRetry, "max-retry", 0, "Maximum retry attempts for failed operations")
	pf.DurationVar(&flags.opTimeout, "op-timeout", 0, "Deadline for each task attempt (0 for none)")
	pf.DurationVar(&flags.connectTimeout, "connect-timeout", 30*time.Second, "SSH connect and handshake timeout")
	pf.StringVar(&flags.outputMode, "output", "text", "Output format (text, json)")
	pf.BoolVar(&flags.quiet, "quiet", false, "Suppress non-error output")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Show the execution plan without connecting")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "text", "Log format (json, text)")
	pf.BoolVar(&flags.showProgress, "progress", false, "Show a task progress bar")
	pf.BoolVar(&flags.showStats, "stats", false, "Show live run statistics")
	pf.BoolVar(&flags.strictHostKey, "strict-host-key", false, "Reject hosts missing from known_hosts")
	pf.StringVar(&flags.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")

	root.AddCommand(newInitCmd(a), newManageCmd(a), newListCmd(a), newVersionCmd())
	return root
}

// load reads settings, applies explicit flags and builds the logger and printer
func (a *app) load(cmd *cobra.Command, flags *globalFlags) error {
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()
	a.fleetFile = flags.fleetFile

	manager := config.NewManager()
	cfg, err := manager.Load()
	if err != nil {
		return setupErrorf("failed to load configuration: %v", err)
	}
	overrideConfigWithFlags(cmd, cfg, flags)
	if err := manager.Validate(cfg); err != nil {
		return setupErrorf("configuration validation failed: %v", err)
	}
	a.cfg = cfg

	mode, err := output.ParseMode(cfg.Output)
	if err != nil {
		return setupErrorf("%v", err)
	}

	a.runID = uuid.NewString()
	a.logger = logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet, a.errOut).With("run_id", a.runID)
	a.printer = output.NewPrinter(mode, a.out)
	a.printer.SetRun(a.runID, cmd.Name())

	if vm, ok := manager.(*config.ViperManager); ok && vm.ConfigFileUsed() != "" {
		a.logger.LogConfigLoad(vm.ConfigFileUsed())
	}
	return nil
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config, flags *globalFlags) {
	changed := cmd.Flags().Changed
	if changed("threads") {
		cfg.Threads = flags.threads
	}
	if changed("max-retry") {
		cfg.MaxRetry = flags.maxRetry
	}
	if changed("op-timeout") {
		cfg.OpTimeout = flags.opTimeout
	}
	if changed("connect-timeout") {
		cfg.ConnectTimeout = flags.connectTimeout
	}
	if changed("output") {
		cfg.Output = flags.outputMode
	}
	if changed("quiet") {
		cfg.Quiet = flags.quiet
	}
	if changed("dry-run") {
		cfg.DryRun = flags.dryRun
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = flags.logFormat
	}
	if changed("progress") {
		cfg.ShowProgress = flags.showProgress
	}
	if changed("stats") {
		cfg.ShowStats = flags.showStats
	}
	if changed("strict-host-key") {
		cfg.StrictHostKey = flags.strictHostKey
	}
	if changed("known-hosts") {
		cfg.KnownHosts = flags.knownHosts
	}
}

func (a *app) dialer() *ssh.Dialer {
	return ssh.NewDialer(ssh.Options{
		ConnectTimeout: a.cfg.ConnectTimeout,
		StrictHostKey:  a.cfg.StrictHostKey,
		KnownHosts:     a.cfg.KnownHosts,
		Logger:         a.logger,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM
func (a *app) signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("Received shutdown signal, canceling operations", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
