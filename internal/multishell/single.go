package multishell

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"ssh-fleet/internal/logging"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/target"
)

// RunSingle attaches the local terminal to one remote shell. When in is a
// terminal it is put in raw mode for the duration of the session.
func RunSingle(ctx context.Context, connector ssh.Connector, task target.Task, command string, in, out *os.File, logger *logging.Logger) (int, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	session, err := connector.Connect(ctx, task.Target)
	if err != nil {
		return -1, fmt.Errorf("failed to connect to %s: %w", task.Target, err)
	}
	defer session.Close()
	logger.LogShellEvent(task.Name, "connected", "target", task.Target.String())

	size := ssh.DefaultTerminalSize
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		if cols, rows, err := term.GetSize(int(out.Fd())); err == nil {
			size = ssh.TerminalSize{Cols: cols, Rows: rows}
		}
		state, err := term.MakeRaw(fd)
		if err != nil {
			return -1, fmt.Errorf("failed to enable terminal raw mode: %w", err)
		}
		defer term.Restore(fd, state)
	}

	shell, err := session.OpenInteractive(ctx, command, size)
	if err != nil {
		return -1, fmt.Errorf("interactive shell session failed: %w", err)
	}
	defer shell.Close()

	go func() {
		if _, err := io.Copy(shell, in); err == nil {
			_ = shell.CloseWrite()
		}
	}()

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = io.Copy(out, shell.Output())
	}()

	code, err := shell.Wait()
	<-copied
	if err != nil {
		return code, fmt.Errorf("interactive shell session failed: %w", err)
	}
	logger.LogShellEvent(task.Name, "closed", "exit_status", code)
	return code, nil
}
