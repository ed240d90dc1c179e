package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrEmptyCommand is returned when a LaunchSpec carries no program.
var ErrEmptyCommand = errors.New("agent: empty command") //nolint:gochecknoglobals // sentinel error

const execWaitDelay = 5 * time.Second

// LaunchSpec describes a runtime process to start.
type LaunchSpec struct {
	// Args holds the program followed by its arguments.
	Args []string
	// Env holds extra KEY=VALUE entries.
	Env []string
	// Stderr receives the process stderr one line at a time. May be nil.
	Stderr func(line string)
}

// Process is a started runtime process with an open stdin and stdout.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the process exits. It must be called once, after
	// stdout has been drained or the process has been killed.
	Wait() error
	Kill() error
}

// Launcher starts runtime processes, locally or in a sandbox.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
	Close() error
}

// ExecLauncher runs processes on the host.
type ExecLauncher struct{}

func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

func (l *ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if len(spec.Args) == 0 || spec.Args[0] == "" {
		return nil, fmt.Errorf("agent.ExecLauncher.Launch: %w", ErrEmptyCommand)
	}

	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...) //nolint:gosec // G204: program and args come from server configuration
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.WaitDelay = execWaitDelay
	stderr := newLineWriter(spec.Stderr)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent.ExecLauncher.Launch: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent.ExecLauncher.Launch: stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agent.ExecLauncher.Launch: start %s: %w", spec.Args[0], err)
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (l *ExecLauncher) Close() error { return nil }

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr *lineWriter
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	p.stderr.Flush()
	if err != nil {
		return fmt.Errorf("agent.execProcess.Wait: %w", err)
	}
	return nil
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("agent.execProcess.Kill: %w", err)
	}
	return nil
}

// lineWriter splits written bytes into lines and hands each to fn.
type lineWriter struct {
	mu  sync.Mutex
	fn  func(string)
	buf bytes.Buffer
}

func newLineWriter(fn func(string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fn == nil {
		return len(p), nil
	}

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(idx+1), "\r\n"))
		if line != "" {
			w.fn(line)
		}
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fn == nil || w.buf.Len() == 0 {
		return
	}
	line := w.buf.String()
	w.buf.Reset()
	w.fn(line)
}
