package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Handle owns one spawned OS process. It is the only caller of Wait, so the
// exit status is collected exactly once and shared through Done.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}

	mu       sync.RWMutex
	exitCode int
	signal   string
	waitErr  error
	exitedAt time.Time
}

// Spawn starts cmd as the leader of a new process group and reaps it in the
// background. A spawn failure is returned as is and no handle exists.
func Spawn(cmd *exec.Cmd) (*Handle, error) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	h := &Handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code, sig := exitStatus(h.cmd.ProcessState, err)

	h.mu.Lock()
	h.exitCode = code
	h.signal = sig
	h.exitedAt = time.Now()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		h.waitErr = err
	}
	h.mu.Unlock()

	close(h.done)
}

// Pid returns the OS process id. It is also the process group id.
func (h *Handle) Pid() int { return h.pid }

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode returns the exit code, or -1 while running or when the process
// was terminated by a signal.
func (h *Handle) ExitCode() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitCode
}

// Signal returns the name of the terminating signal, if any.
func (h *Handle) Signal() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.signal
}

// Err returns a wait failure that is not an ordinary non-zero exit.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waitErr
}

// Duration returns the run time so far, or the total run time after exit.
func (h *Handle) Duration() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.exitedAt.IsZero() {
		return time.Since(h.startedAt)
	}
	return h.exitedAt.Sub(h.startedAt)
}

// exitStatus extracts the exit code and terminating signal name.
func exitStatus(state *os.ProcessState, err error) (int, string) {
	if state == nil {
		return exitCodeFromError(err), ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, unix.SignalName(ws.Signal())
	}
	return state.ExitCode(), ""
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
