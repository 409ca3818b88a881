package ssh

import (
	"context"
	"io"
	"time"

	"github.com/kballard/go-shellquote"

	"ssh-fleet/internal/target"
	"ssh-fleet/internal/transfer"
)

// CommandResult is the outcome of one remote command. Stdout and stderr
// are combined in Output, with one trailing newline removed.
type CommandResult struct {
	Command    string
	Output     string
	ExitStatus int
	Duration   time.Duration
}

// Success reports a zero exit status
func (r *CommandResult) Success() bool {
	return r.ExitStatus == 0
}

// TerminalSize is the pseudo-terminal geometry for interactive sessions
type TerminalSize struct {
	Cols int
	Rows int
}

// DefaultTerminalSize is used when the local terminal size is unknown
var DefaultTerminalSize = TerminalSize{Cols: 80, Rows: 24}

// RemoteFS is an SFTP sub-session usable by the transfer engine
type RemoteFS interface {
	transfer.FS
	io.Closer
}

// Interactive is a remote command attached to a pseudo-terminal
type Interactive interface {
	// Write sends input to the remote command
	Write(p []byte) (int, error)
	// CloseWrite signals end of input without closing the channel
	CloseWrite() error
	// Output returns the combined output stream. It reaches EOF after the
	// remote command exits.
	Output() io.Reader
	// Resize forwards a terminal size change
	Resize(size TerminalSize) error
	// Wait blocks until the remote command exits and returns its status
	Wait() (int, error)
	Close() error
}

// Session is one authenticated connection, owned by a single task
type Session interface {
	User() string
	OSFamily() OSFamily
	Execute(ctx context.Context, command string, elevate bool) (*CommandResult, error)
	OpenTransfer() (RemoteFS, error)
	OpenInteractive(ctx context.Context, command string, size TerminalSize) (Interactive, error)
	Close() error
}

// Connector opens sessions
type Connector interface {
	Connect(ctx context.Context, t target.Target) (Session, error)
}

// ElevateCommand wraps command for root execution. root runs it directly,
// everyone else through "sudo sh -c".
func ElevateCommand(user, command string) string {
	if user == "root" {
		return command
	}
	return "sudo sh -c " + shellquote.Join(command)
}
