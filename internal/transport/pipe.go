package transport

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/drslump/boohints/internal/errors"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading server output lines.
	maxScanTokenSize = 1024 * 1024 // 1MB
	// maxStderrTailSize caps the stderr tail kept for exit diagnostics.
	// Stderr lines are still logged individually past this limit.
	maxStderrTailSize = 64 * 1024 // 64KB

	// quitCommand is the literal line that asks the server to exit gracefully.
	quitCommand = "quit"

	// commandPrefix marks an out-of-band server command on stdout.
	commandPrefix = "#!"
	// diagnosticPrefix marks a free-form diagnostic line on stdout or stderr.
	diagnosticPrefix = "#"

	// defaultQuitGrace is how long to wait for an exit after the quit line.
	defaultQuitGrace = 500 * time.Millisecond
	// defaultTermGrace is how long to wait for an exit after terminate.
	defaultTermGrace = 2 * time.Second
)

// Config holds everything needed to spawn one hints server process.
type Config struct {
	// Bin is the server executable.
	Bin string

	// Args are the full process arguments, response-file extraction included.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env are extra environment variables appended to the inherited
	// environment. Nil inherits as-is.
	Env []string

	// Logger receives transport debug/warn/error records. Required.
	Logger *slog.Logger

	// QuitGrace bounds the wait for a graceful exit after the quit line.
	QuitGrace time.Duration

	// TermGrace bounds the wait for an exit after terminate, before kill.
	TermGrace time.Duration
}

// PipeTransport runs one hints server process and owns its pipes.
type PipeTransport struct {
	log *slog.Logger
	cfg Config

	mu          sync.Mutex // protects stdin writes and the flags below
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      io.ReadCloser
	stderr      io.ReadCloser
	closing     bool // Stop() has been called (intentional shutdown)
	stdinClosed bool

	responses chan map[string]any
	commands  chan string
	errs      chan error

	// stopping unblocks reader channel sends during shutdown so the
	// readers can drain to EOF even when nobody is consuming.
	stopping sync.Once
	stopped  chan struct{}

	waitDone chan struct{} // closed by the exit monitor after cmd.Wait()
	exitErr  error         // set before waitDone closes; nil on clean or intentional exit

	stderrMu   sync.Mutex
	stderrTail strings.Builder
}

// New creates a transport for one process generation. The process is not
// spawned until Start.
func New(cfg Config) *PipeTransport {
	if cfg.QuitGrace <= 0 {
		cfg.QuitGrace = defaultQuitGrace
	}

	if cfg.TermGrace <= 0 {
		cfg.TermGrace = defaultTermGrace
	}

	return &PipeTransport{
		log:       cfg.Logger.With("component", "pipe_transport"),
		cfg:       cfg,
		responses: make(chan map[string]any, 16),
		commands:  make(chan string, 4),
		errs:      make(chan error, 4),
		stopped:   make(chan struct{}),
		waitDone:  make(chan struct{}),
	}
}

// Start spawns the hints server process and begins reading its pipes.
//
// Returns a SpawnError when the process cannot be started. A transport
// starts at most once; restarting means a new transport.
func (t *PipeTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return fmt.Errorf("transport already started: %s", t.cfg.Bin)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.log.Debug("spawning hints server", "bin", t.cfg.Bin, "args", t.cfg.Args, "dir", t.cfg.Dir)

	//nolint:gosec // G204: spawning a caller-configured executable is the point
	cmd := exec.Command(t.cfg.Bin, t.cfg.Args...)
	cmd.Dir = t.cfg.Dir

	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.SpawnError{Bin: t.cfg.Bin, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	t.stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.SpawnError{Bin: t.cfg.Bin, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	t.stdout = stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errors.SpawnError{Bin: t.cfg.Bin, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	t.stderr = stderr

	if err := cmd.Start(); err != nil {
		return &errors.SpawnError{Bin: t.cfg.Bin, Err: fmt.Errorf("start process: %w", err)}
	}

	t.cmd = cmd
	t.log.Debug("hints server started", "pid", cmd.Process.Pid)

	stderrDone := make(chan struct{})

	go t.readStderr(stderrDone)
	go t.readStdout(stderrDone)

	return nil
}

// Responses delivers decoded query responses, one per stdout line.
func (t *PipeTransport) Responses() <-chan map[string]any { return t.responses }

// Commands delivers out-of-band server commands with the #! prefix stripped.
func (t *PipeTransport) Commands() <-chan string { return t.commands }

// Errors delivers non-fatal read failures, currently only LineDecodeError.
func (t *PipeTransport) Errors() <-chan error { return t.errs }

// Done is closed once the process has exited and both pipes are drained.
func (t *PipeTransport) Done() <-chan struct{} { return t.waitDone }

// ExitErr reports how the process died. Nil until Done is closed, and nil
// for a clean or intentionally stopped exit.
func (t *PipeTransport) ExitErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.exitErr
}

// Alive reports whether the process has been started and has not exited.
func (t *PipeTransport) Alive() bool {
	t.mu.Lock()
	started := t.cmd != nil
	t.mu.Unlock()

	if !started {
		return false
	}

	select {
	case <-t.waitDone:
		return false
	default:
		return true
	}
}

// readStdout scans stdout to EOF, classifying each line, then waits for the
// stderr reader and reaps the process. It is the sole caller of cmd.Wait.
func (t *PipeTransport) readStdout(stderrDone <-chan struct{}) {
	defer t.log.Debug("stdout reader stopped")

	scanner := bufio.NewScanner(t.stdout)
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, commandPrefix):
			cmd := strings.TrimSpace(strings.TrimPrefix(line, commandPrefix))
			t.log.Debug("server command", "command", cmd)
			t.deliverCommand(cmd)

		case strings.HasPrefix(line, diagnosticPrefix):
			t.log.Debug("server diagnostic", "line", strings.TrimPrefix(line, diagnosticPrefix))

		default:
			var msg map[string]any

			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				t.log.Debug("failed to decode response line", "error", err, "line", line)
				t.deliverError(&errors.LineDecodeError{Line: line, Err: err})

				continue
			}

			t.deliverResponse(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		t.log.Debug("stdout scanner error", "error", err)
	}

	// Stderr must be fully read before Wait reaps the process.
	<-stderrDone

	t.reap()
}

// readStderr logs each stderr line: #-prefixed lines are server-side
// warnings, everything else is an error. A capped tail is kept so abnormal
// exits can report what the server said last.
func (t *PipeTransport) readStderr(stderrDone chan<- struct{}) {
	defer close(stderrDone)

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, diagnosticPrefix) {
			t.log.Warn("server stderr", "line", strings.TrimPrefix(line, diagnosticPrefix))
		} else {
			t.log.Error("server stderr", "line", line)
		}

		t.stderrMu.Lock()

		if t.stderrTail.Len() < maxStderrTailSize {
			if t.stderrTail.Len() > 0 {
				t.stderrTail.WriteString("\n")
			}

			t.stderrTail.WriteString(line)
		}

		t.stderrMu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		t.log.Debug("stderr scanner error", "error", err)
	}
}

// reap waits for the process and records the exit result before signaling Done.
func (t *PipeTransport) reap() {
	err := t.cmd.Wait()

	t.mu.Lock()
	closing := t.closing

	if err != nil && !closing {
		exitCode := 0
		if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
			exitCode = exitErr.ExitCode()
		}

		t.stderrMu.Lock()
		tail := t.stderrTail.String()
		t.stderrMu.Unlock()

		t.exitErr = &errors.ProcessError{
			ExitCode: exitCode,
			Stderr:   tail,
			Err:      err,
		}
	}

	t.mu.Unlock()

	if err != nil && !closing {
		t.log.Warn("hints server exited abnormally", "error", err)
	} else {
		t.log.Debug("hints server exited")
	}

	close(t.waitDone)
}

// deliverResponse hands a response to the consumer, giving up once the
// transport is stopping so the reader can drain to EOF unattended.
func (t *PipeTransport) deliverResponse(msg map[string]any) {
	select {
	case t.responses <- msg:
	case <-t.stopped:
	}
}

func (t *PipeTransport) deliverCommand(cmd string) {
	select {
	case t.commands <- cmd:
	case <-t.stopped:
	}
}

func (t *PipeTransport) deliverError(err error) {
	select {
	case t.errs <- err:
	case <-t.stopped:
	}
}

// SendLine writes one request line to the server's stdin, appending the
// line terminator when missing. Safe for concurrent use; respects context
// cancellation even during a blocked write.
//
// If the context is cancelled mid-write, stdin is closed to unblock the
// write and subsequent calls return ErrStdinClosed.
func (t *PipeTransport) SendLine(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return errors.ErrTransportNotStarted
	}

	if t.stdinClosed {
		return errors.ErrStdinClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Ensure the line is terminated. Copy instead of append so the caller's
	// backing array is never mutated.
	if len(data) == 0 || data[len(data)-1] != '\n' {
		terminated := make([]byte, len(data)+1)
		copy(terminated, data)
		terminated[len(data)] = '\n'
		data = terminated
	}

	// Write in a goroutine so a blocked pipe cannot outlive the context.
	done := make(chan error, 1)

	go func() {
		_, err := t.stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write to stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		t.log.Debug("context cancelled during write, closing stdin")

		_ = t.stdin.Close()
		t.stdinClosed = true

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.log.Warn("write goroutine did not exit after stdin close")
		}

		return ctx.Err()
	}
}

// closeStdin signals EOF to the server. Safe to call more than once.
func (t *PipeTransport) closeStdin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin != nil && !t.stdinClosed {
		err := t.stdin.Close()
		t.stdinClosed = true

		return err
	}

	return nil
}

// Stop shuts the process down: quit line and stdin EOF first, terminate
// next, kill last. It returns once the process has been reaped. Safe to
// call multiple times and on a never-started transport.
func (t *PipeTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	alreadyClosing := t.closing
	t.closing = true
	cmd := t.cmd
	t.mu.Unlock()

	t.stopping.Do(func() { close(t.stopped) })

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if alreadyClosing {
		// Another Stop is driving the shutdown; wait for it.
		select {
		case <-t.waitDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.log.Debug("stopping hints server", "pid", cmd.Process.Pid)

	// Ask nicely: the server exits on a quit line or stdin EOF.
	quitCtx, cancel := context.WithTimeout(ctx, t.cfg.QuitGrace)
	_ = t.SendLine(quitCtx, []byte(quitCommand))

	cancel()

	_ = t.closeStdin()

	select {
	case <-t.waitDone:
		return nil
	case <-time.After(t.cfg.QuitGrace):
	case <-ctx.Done():
	}

	// Escalate to terminate. Unsupported on some platforms; fall through.
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.log.Debug("terminate failed", "error", err)
	}

	select {
	case <-t.waitDone:
		return nil
	case <-time.After(t.cfg.TermGrace):
	case <-ctx.Done():
	}

	t.log.Debug("force killing hints server", "pid", cmd.Process.Pid)

	if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill hints server (pid %d): %w", cmd.Process.Pid, err)
	}

	<-t.waitDone

	return nil
}
