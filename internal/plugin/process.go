package plugin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	pkg "github.com/opentalon/autopilot/pkg/plugin"
)

// Process manages the lifecycle of a provider subprocess.
type Process struct {
	mu     sync.Mutex
	path   string
	args   []string
	cmd    *exec.Cmd
	hs     pkg.Handshake
	exited chan struct{}
	logger *slog.Logger
}

// NewProcess creates a process handle without starting it.
func NewProcess(logger *slog.Logger, binaryPath string, args ...string) *Process {
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{
		path:   binaryPath,
		args:   args,
		logger: logger,
	}
}

// Start launches the binary and reads its handshake line from stdout.
// The process is not tied to ctx: it keeps running after Start returns
// and is ended by Stop. ctx and timeout only bound the handshake.
func (p *Process) Start(ctx context.Context, timeout time.Duration) (pkg.Handshake, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.Command(p.path, p.args...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return pkg.Handshake{}, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return pkg.Handshake{}, fmt.Errorf("start %s: %w", p.path, err)
	}
	p.cmd = cmd
	p.exited = make(chan struct{})
	exited := p.exited

	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	hsLine := make(chan string, 1)
	hsErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		if scanner.Scan() {
			hsLine <- strings.TrimSpace(scanner.Text())
		} else if err := scanner.Err(); err != nil {
			hsErr <- fmt.Errorf("reading handshake: %w", err)
		} else {
			hsErr <- fmt.Errorf("provider closed stdout before handshake")
		}
		// Drain remaining stdout so the pipe doesn't block.
		_, _ = io.Copy(io.Discard, stdout)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-hsLine:
		hs, err := pkg.ParseHandshake(line)
		if err != nil {
			_ = cmd.Process.Kill()
			return pkg.Handshake{}, err
		}
		p.hs = hs
		return hs, nil
	case err := <-hsErr:
		_ = cmd.Process.Kill()
		return pkg.Handshake{}, err
	case <-timer.C:
		_ = cmd.Process.Kill()
		return pkg.Handshake{}, fmt.Errorf("handshake timeout after %s for %s", timeout, p.path)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return pkg.Handshake{}, fmt.Errorf("waiting for handshake from %s: %w", p.path, ctx.Err())
	case <-exited:
		return pkg.Handshake{}, fmt.Errorf("provider exited before handshake: %s", p.path)
	}
}

// Stop sends SIGINT and waits for the process to exit. If it doesn't
// exit within the grace period, it is killed.
func (p *Process) Stop(grace time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	exited := p.exited
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if !p.Running() {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		p.logger.Warn("provider interrupt failed, killing", "path", p.path, "error", err)
		return cmd.Process.Kill()
	}

	select {
	case <-exited:
		return nil
	case <-time.After(grace):
		p.logger.Warn("provider did not exit in time, killing", "path", p.path, "grace", grace)
		return cmd.Process.Kill()
	}
}

// Running reports whether the process is still alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited == nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ProcessTransport is a SocketTransport whose provider runs as a child
// process; closing the transport stops the process.
type ProcessTransport struct {
	*SocketTransport
	proc  *Process
	grace time.Duration
}

// Launch starts the binary, waits for its handshake and dials the
// socket it announced.
func Launch(ctx context.Context, logger *slog.Logger, handshakeTimeout, grace time.Duration, path string, args ...string) (*ProcessTransport, error) {
	proc := NewProcess(logger, path, args...)
	hs, err := proc.Start(ctx, handshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	sock, err := DialSocket(ctx, hs.Network, hs.Address)
	if err != nil {
		_ = proc.Stop(grace)
		return nil, err
	}
	return &ProcessTransport{SocketTransport: sock, proc: proc, grace: grace}, nil
}

// Broken also reports a provider process that has exited.
func (t *ProcessTransport) Broken() error {
	if err := t.SocketTransport.Broken(); err != nil {
		return err
	}
	if !t.proc.Running() {
		return fmt.Errorf("provider process %s exited", t.proc.path)
	}
	return nil
}

func (t *ProcessTransport) Close() error {
	err := t.SocketTransport.Close()
	if stopErr := t.proc.Stop(t.grace); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
