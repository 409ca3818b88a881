package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/logging"
	"ssh-fleet/internal/target"
)

// Options configures how connections are made
type Options struct {
	ConnectTimeout time.Duration
	StrictHostKey  bool   // reject hosts missing from known_hosts
	KnownHosts     string // defaults to ~/.ssh/known_hosts
	Logger         *logging.Logger
}

// Dialer implements Connector using golang.org/x/crypto/ssh
type Dialer struct {
	opts Options
}

// NewDialer creates a Dialer
func NewDialer(opts Options) *Dialer {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Dialer{opts: opts}
}

// Client is a live connection to one host
type Client struct {
	conn     *ssh.Client
	target   target.Target
	osFamily OSFamily
	logger   *logging.Logger
	closers  []func() error
}

// Connect dials the target, authenticates and detects the remote OS family
func (d *Dialer) Connect(ctx context.Context, t target.Target) (Session, error) {
	startTime := time.Now()

	config, closers, err := d.buildSSHConfig(t)
	if err != nil {
		d.opts.Logger.LogConnectionError(t, err)
		return nil, err
	}
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	address := t.Address()
	dialer := &net.Dialer{Timeout: d.opts.ConnectTimeout}

	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		closeAll()
		err = errors.NewConnectionError(fmt.Sprintf("failed to connect to %s", address), err)
		d.opts.Logger.LogConnectionError(t, err)
		return nil, err
	}

	// the handshake is not context aware, so bound it with a deadline
	deadline := time.Now().Add(d.opts.ConnectTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = netConn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		closeAll()
		if strings.Contains(err.Error(), "unable to authenticate") {
			err = errors.NewAuthenticationError(fmt.Sprintf("SSH authentication failed for user: %s", t.User), err)
		} else {
			err = errors.NewConnectionError(fmt.Sprintf("SSH handshake failed for %s", address), err)
		}
		d.opts.Logger.LogConnectionError(t, err)
		return nil, err
	}
	_ = netConn.SetDeadline(time.Time{})

	client := &Client{
		conn:    ssh.NewClient(sshConn, chans, reqs),
		target:  t,
		logger:  d.opts.Logger,
		closers: closers,
	}

	family, err := client.detectOS(ctx)
	if err != nil {
		client.Close()
		d.opts.Logger.LogConnectionError(t, err)
		return nil, err
	}
	client.osFamily = family

	d.opts.Logger.LogConnection(t, time.Since(startTime), family.String())
	return client, nil
}

func (c *Client) detectOS(ctx context.Context) (OSFamily, error) {
	result, err := c.Execute(ctx, DetectScript, false)
	if err != nil {
		return OSUnknown, err
	}
	if result.ExitStatus != 0 {
		return OSUnknown, fmt.Errorf("failed to detect OS type from /etc/os-release")
	}
	return ClassifyOS(result.Output)
}

// User returns the login user
func (c *Client) User() string {
	return c.target.User
}

// OSFamily returns the family detected at connect time
func (c *Client) OSFamily() OSFamily {
	return c.osFamily
}

// Target returns the descriptor this client connected with
func (c *Client) Target() target.Target {
	return c.target
}

// lockedBuffer lets stdout and stderr share one buffer
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Execute runs command and waits for it. A non-zero exit status is a
// result, not an error. With elevate set the command runs as root.
func (c *Client) Execute(ctx context.Context, command string, elevate bool) (*CommandResult, error) {
	if c.conn == nil {
		return nil, errors.NewConnectionError("not connected to any host", nil)
	}
	requested := command
	if elevate {
		command = ElevateCommand(c.target.User, command)
	}

	startTime := time.Now()
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, errors.NewConnectionError("failed to create session", err)
	}
	defer session.Close()

	var output lockedBuffer
	session.Stdout = &output
	session.Stderr = &output

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	result := &CommandResult{Command: requested}
	select {
	case err := <-done:
		result.Duration = time.Since(startTime)
		result.Output = strings.TrimSuffix(output.String(), "\n")

		if err != nil {
			exitErr, ok := err.(*ssh.ExitError)
			if !ok {
				return nil, errors.NewConnectionError("SSH execution error", err)
			}
			result.ExitStatus = exitErr.ExitStatus()
		}
		c.logger.LogExecution(c.target, command, result.ExitStatus, result.Duration)
		return result, nil

	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = session.Signal(ssh.SIGKILL)
		}
		return nil, errors.NewTimeoutError("command execution interrupted", ctx.Err())
	}
}

// OpenTransfer starts an SFTP sub-session
func (c *Client) OpenTransfer() (RemoteFS, error) {
	if c.conn == nil {
		return nil, errors.NewConnectionError("not connected to any host", nil)
	}
	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return nil, errors.NewConnectionError("failed to start sftp subsystem", err)
	}
	return newSFTPFS(client), nil
}

// OpenInteractive starts command on a pseudo-terminal
func (c *Client) OpenInteractive(ctx context.Context, command string, size TerminalSize) (Interactive, error) {
	if c.conn == nil {
		return nil, errors.NewConnectionError("not connected to any host", nil)
	}
	return startInteractive(ctx, c.conn, command, size)
}

// Close terminates the connection
func (c *Client) Close() error {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("ssh connection close error", "error", err, "host", c.target.Host)
		}
		c.conn = nil
	}
	for _, closer := range c.closers {
		_ = closer()
	}
	c.closers = nil
	return nil
}

// buildSSHConfig creates the client configuration for the target's auth mode.
// The returned closers release resources such as the agent socket.
func (d *Dialer) buildSSHConfig(t target.Target) (*ssh.ClientConfig, []func() error, error) {
	hostKeyCallback, err := d.getHostKeyCallback()
	if err != nil {
		return nil, nil, err
	}

	authMethods, closers, err := d.getAuthMethods(t)
	if err != nil {
		return nil, nil, err
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.opts.ConnectTimeout,
	}, closers, nil
}

// getAuthMethods returns the single auth method selected for the target
func (d *Dialer) getAuthMethods(t target.Target) ([]ssh.AuthMethod, []func() error, error) {
	switch t.Auth {
	case target.AuthKey:
		keyAuth, err := getKeyAuth(t.IdentityFile)
		if err != nil {
			return nil, nil, errors.NewSetupError(fmt.Sprintf("failed to load private key from: %s", t.IdentityFile), err)
		}
		return []ssh.AuthMethod{keyAuth}, nil, nil

	case target.AuthPassword, target.AuthPrompt:
		if t.Password == "" {
			return nil, nil, errors.NewSetupError("password authentication selected but no password available", nil)
		}
		password := t.Password
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil, nil

	case target.AuthAgent:
		socket := os.Getenv("SSH_AUTH_SOCK")
		if socket == "" {
			return nil, nil, errors.NewSetupError("agent authentication selected but SSH_AUTH_SOCK is not set", nil)
		}
		agentConn, err := net.Dial("unix", socket)
		if err != nil {
			return nil, nil, errors.NewSetupError("failed to connect to ssh agent", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers)},
			[]func() error{agentConn.Close}, nil
	}

	return nil, nil, errors.NewSetupError("no authentication method provided (need password or private key)", nil)
}

// getKeyAuth returns public key authentication using the specified private key file
func getKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	keyBytes, err := os.ReadFile(ExpandHome(keyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// ExpandHome replaces a leading "~" with the user's home directory
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// getHostKeyCallback verifies against known_hosts in strict mode and
// accepts any key with a warning otherwise
func (d *Dialer) getHostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.opts.StrictHostKey {
		path := d.opts.KnownHosts
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, errors.NewSetupError("cannot locate known_hosts", err)
			}
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
		callback, err := knownhosts.New(ExpandHome(path))
		if err != nil {
			return nil, errors.NewSetupError(fmt.Sprintf("failed to load known_hosts file %s", path), err)
		}
		return callback, nil
	}

	logger := d.opts.Logger
	return func(hostname string, _ net.Addr, _ ssh.PublicKey) error {
		logger.LogConnectionWarning(hostname, "host key verification disabled")
		return nil
	}, nil
}
