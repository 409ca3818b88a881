package ssh

import (
	"context"
	"io"
	"os"

	"golang.org/x/crypto/ssh"

	"ssh-fleet/internal/errors"
)

// ptySession is an Interactive backed by an ssh.Session with a pty
type ptySession struct {
	session *ssh.Session
	stdin   io.WriteCloser
	output  *io.PipeReader
	outW    *io.PipeWriter
	done    chan struct{}
	status  int
	err     error
}

func startInteractive(ctx context.Context, conn *ssh.Client, command string, size TerminalSize) (Interactive, error) {
	session, err := conn.NewSession()
	if err != nil {
		return nil, errors.NewConnectionError("failed to create session", err)
	}

	if size.Cols <= 0 || size.Rows <= 0 {
		size = DefaultTerminalSize
	}
	term := os.Getenv("TERM")
	if term == "" {
		term = "xterm"
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, size.Rows, size.Cols, modes); err != nil {
		session.Close()
		return nil, errors.NewConnectionError("failed to request pty", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, errors.NewConnectionError("failed to open stdin", err)
	}

	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, errors.NewConnectionError("failed to start interactive command", err)
	}

	p := &ptySession{
		session: session,
		stdin:   stdin,
		output:  pr,
		outW:    pw,
		done:    make(chan struct{}),
	}
	go p.wait()
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()

	return p, nil
}

func (p *ptySession) wait() {
	defer close(p.done)

	err := p.session.Wait()
	switch e := err.(type) {
	case nil:
	case *ssh.ExitError:
		p.status = e.ExitStatus()
	default:
		p.status = -1
		p.err = err
	}
	// output readers see EOF once the command is gone
	p.outW.Close()
}

func (p *ptySession) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

func (p *ptySession) CloseWrite() error {
	return p.stdin.Close()
}

func (p *ptySession) Output() io.Reader {
	return p.output
}

func (p *ptySession) Resize(size TerminalSize) error {
	return p.session.WindowChange(size.Rows, size.Cols)
}

func (p *ptySession) Wait() (int, error) {
	<-p.done
	return p.status, p.err
}

func (p *ptySession) Close() error {
	return p.session.Close()
}
