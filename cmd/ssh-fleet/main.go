package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ssh-fleet/internal/errors"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		os.Exit(getExitCode(err))
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ssh-fleet %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
		},
	}
}

// ExecutionError represents one or more failed tasks (exit code 1)
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// SetupError represents an error during setup/configuration (exit code 2)
type SetupError struct {
	Message string
}

func (e *SetupError) Error() string {
	return e.Message
}

func setupErrorf(format string, args ...any) error {
	return &SetupError{Message: fmt.Sprintf(format, args...)}
}

// getExitCode determines the process exit code
// Returns:
//   - 0: Success (all tasks succeeded)
//   - 1: Execution failure (one or more tasks failed)
//   - 2: Setup error (invalid arguments, configuration issues, etc.)
func getExitCode(err error) int {
	if err == nil {
		return 0
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return 1
	}
	// Setup errors and anything unexpected
	return 2
}
