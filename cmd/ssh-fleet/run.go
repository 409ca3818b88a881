package main

import (
	"context"
	"fmt"
	"io"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/executor"
	"ssh-fleet/internal/output"
	"ssh-fleet/internal/progress"
	"ssh-fleet/internal/stats"
	"ssh-fleet/internal/target"
)

// runTasks drives op over tasks on the worker pool and reports the outcome.
// A run with failed tasks returns an *ExecutionError.
func (a *app) runTasks(ctx context.Context, tasks []target.Task, op executor.Operation, st *stats.Tracker) error {
	observers := []executor.Observer{a.printer}

	var bar *progress.Tracker
	if a.cfg.ShowProgress && !a.cfg.Quiet && a.printer.Mode() == output.TextMode {
		bar = progress.NewTracker(len(tasks), a.errOut, true)
		observers = append(observers, bar)
	}
	if st == nil {
		st = a.newStats(len(tasks))
	}
	observers = append(observers, st)

	ecfg := executor.ExecutorConfig{
		Threads:   a.cfg.EffectiveThreads(),
		MaxRetry:  a.cfg.MaxRetry,
		OpTimeout: a.cfg.OpTimeout,
	}

	st.Start()
	summary, err := executor.Execute(ctx, ecfg, a.logger, tasks, op, observers...)
	if bar != nil {
		bar.Finish()
	}
	st.Stop()
	if err != nil {
		return setupErrorf("%v", err)
	}

	a.printer.Summary(summary)
	if !summary.HasFailures() {
		return nil
	}

	collector := errors.NewErrorCollector()
	for _, f := range summary.Failed {
		collector.Add(f.Err)
	}
	return &ExecutionError{
		Message: fmt.Sprintf("%d of %d tasks failed (%s)", len(summary.Failed), summary.Total, collector.Summary()),
	}
}

func (a *app) newStats(total int) *stats.Tracker {
	return stats.NewTracker(total, a.errOut, a.cfg.ShowStats && !a.cfg.Quiet)
}

// dryRun prints what a run would do without connecting anywhere
func (a *app) dryRun(w io.Writer, action string, steps []string, tasks []target.Task) error {
	workers := executor.Workers(a.cfg.EffectiveThreads(), len(tasks))

	fmt.Fprintln(w, "ssh-fleet Dry Run - Execution Plan")
	fmt.Fprintln(w, "==================================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Action: %s\n", action)
	fmt.Fprintf(w, "  Total Targets: %d\n", len(tasks))
	fmt.Fprintf(w, "  Workers: %d\n", workers)
	fmt.Fprintf(w, "  Max Retries: %d\n", a.cfg.MaxRetry)
	if a.cfg.OpTimeout > 0 {
		fmt.Fprintf(w, "  Attempt Timeout: %v\n", a.cfg.OpTimeout)
	} else {
		fmt.Fprintln(w, "  Attempt Timeout: unlimited")
	}
	fmt.Fprintf(w, "  Connect Timeout: %v\n", a.cfg.ConnectTimeout)
	fmt.Fprintf(w, "  Output Format: %s\n", a.cfg.Output)
	fmt.Fprintln(w)

	if len(steps) > 0 {
		fmt.Fprintln(w, "Steps per server:")
		for i, s := range steps {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Target Details:")
	for i, t := range tasks {
		fmt.Fprintf(w, "  %d. %s\n", i+1, t.Name)
		fmt.Fprintf(w, "     → User: %s, Host: %s, Port: %d, Auth: %s\n", t.Target.User, t.Target.Host, t.Target.Port, t.Target.Auth)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Note: This is a dry run. No SSH connections will be established.")
	fmt.Fprintln(w, "To execute for real, remove the --dry-run flag.")
	return nil
}
