// Package multishell fans one local terminal out to interactive shells on
// many servers and fans their output back in, line by line.
package multishell

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ssh-fleet/internal/logging"
	"ssh-fleet/internal/ssh"
	"ssh-fleet/internal/target"
)

const (
	inputBuffer         = 100
	DefaultDrainTimeout = 2 * time.Second
)

// palette mirrors the ANSI foreground colors red through cyan
var palette = []lipgloss.Color{"1", "2", "3", "4", "5", "6"}

// Config controls a multishell run
type Config struct {
	Command      string    // remote command, usually a login shell
	Input        io.Reader // operator input, read line by line
	Output       io.Writer // prefixed remote output and history
	Size         ssh.TerminalSize
	DrainTimeout time.Duration // wait for remote output after input ends
	Logger       *logging.Logger
}

// MultiShell owns the per-server input channels and the output history
type MultiShell struct {
	connector ssh.Connector
	cfg       Config
	history   *History
	renderer  *lipgloss.Renderer

	outMu  sync.Mutex
	shells map[string]chan []byte
	order  []string
	wg     sync.WaitGroup
}

// New creates a MultiShell
func New(connector ssh.Connector, cfg Config) *MultiShell {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &MultiShell{
		connector: connector,
		cfg:       cfg,
		history:   NewHistory(),
		renderer:  lipgloss.NewRenderer(cfg.Output),
		shells:    make(map[string]chan []byte),
	}
}

// History returns the output history collected so far
func (m *MultiShell) History() *History {
	return m.history
}

// Run opens one shell per task and broadcasts operator input until
// "exit" or end of input. A server that fails to connect is logged and
// skipped. Run returns after every session has finished.
func (m *MultiShell) Run(ctx context.Context, tasks []target.Task) error {
	for _, task := range tasks {
		in := make(chan []byte, inputBuffer)
		m.shells[task.Name] = in
		m.order = append(m.order, task.Name)

		m.wg.Add(1)
		go func(task target.Task) {
			defer m.wg.Done()
			m.serve(ctx, task, in)
		}(task)
	}

	err := m.readInput(ctx)

	for _, name := range m.order {
		close(m.shells[name])
	}
	m.wg.Wait()
	return err
}

func (m *MultiShell) readInput(ctx context.Context) error {
	reader := bufio.NewReader(m.cfg.Input)

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := reader.ReadString('\n')
		if input := strings.TrimSpace(line); input != "" {
			if input == "/history" || strings.HasPrefix(input, "/history ") {
				server := "--all"
				if fields := strings.Fields(input); len(fields) > 1 {
					server = fields[1]
				}
				m.outMu.Lock()
				m.history.Show(m.cfg.Output, server)
				m.outMu.Unlock()
			} else {
				m.broadcast([]byte(input + "\n"))
				if input == "exit" {
					return nil
				}
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("input error: %w", err)
		}
	}
}

// broadcast sends data to every shell in a stable order
func (m *MultiShell) broadcast(data []byte) {
	for _, name := range m.order {
		m.shells[name] <- data
	}
}

// serve runs one server's shell. The input channel is always drained so
// that broadcast never blocks on a failed server.
func (m *MultiShell) serve(ctx context.Context, task target.Task, in <-chan []byte) {
	defer func() {
		for range in {
		}
	}()

	logger := m.cfg.Logger
	session, err := m.connector.Connect(ctx, task.Target)
	if err != nil {
		logger.Error("failed to connect", "server", task.Name, "error", err.Error())
		m.printLine(task.Name, fmt.Sprintf("connection failed: %v", err))
		return
	}
	defer session.Close()
	logger.LogShellEvent(task.Name, "connected", "target", task.Target.String())

	shell, err := session.OpenInteractive(ctx, m.cfg.Command, m.cfg.Size)
	if err != nil {
		logger.Error("failed to open shell", "server", task.Name, "error", err.Error())
		m.printLine(task.Name, fmt.Sprintf("shell failed: %v", err))
		return
	}
	defer shell.Close()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		m.readOutput(task.Name, shell.Output())
	}()

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		code, err := shell.Wait()
		if err != nil {
			logger.LogShellEvent(task.Name, "closed", "error", err.Error())
			return
		}
		logger.LogShellEvent(task.Name, "closed", "exit_status", code)
	}()

	for data := range in {
		if _, err := shell.Write(data); err != nil {
			logger.Debug("shell input rejected", "server", task.Name, "error", err.Error())
			break
		}
	}
	_ = shell.CloseWrite()

	select {
	case <-exited:
	case <-time.After(m.cfg.DrainTimeout):
		_ = shell.Close()
		<-exited
	}
	<-readerDone
}

// readOutput splits the stream into lines, prints them prefixed and keeps
// them in the history. Empty lines are dropped.
func (m *MultiShell) readOutput(server string, r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			m.printLine(server, line)
			m.history.Append(server, line)
		}
		if err != nil {
			return
		}
	}
}

func (m *MultiShell) printLine(server, line string) {
	prefix := m.renderer.NewStyle().Foreground(ColorFor(server)).Render("[" + server + "]")

	m.outMu.Lock()
	defer m.outMu.Unlock()
	fmt.Fprintf(m.cfg.Output, "%s %s\n", prefix, line)
}

// ColorFor picks a palette color from the server name
func ColorFor(server string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(server))
	return palette[h.Sum32()%uint32(len(palette))]
}
