// Package streamcli drives command line programs that stream newline
// delimited JSON records on stdout, such as coding agents in print mode.
package streamcli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/smazurov/agentexec/internal/logging"
	"github.com/smazurov/agentexec/internal/metrics"
	"github.com/smazurov/agentexec/internal/process"
	"golang.org/x/sys/unix"
)

// ErrTimeout is wrapped by the error yielded when a run exceeds the policy
// timeout.
var ErrTimeout = errors.New("streaming subprocess timed out")

const (
	defaultStderrLimit = 64 * 1024
	stderrSettle       = 200 * time.Millisecond
)

// ExitError is yielded when the subprocess ended unsuccessfully after its
// stream was read to the end.
type ExitError struct {
	Code   int
	Signal string
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("exit code %d", e.Code)
	if e.Signal != "" {
		msg = "terminated by " + e.Signal
	}
	if last := lastLine(e.Stderr); last != "" {
		msg += ": " + last
	}
	return msg
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// Options describes one run.
type Options struct {
	Path string
	Args []string
	Dir  string

	// Env is appended to the inherited environment.
	Env []string

	// Stdin feeds the subprocess, /dev/null when nil.
	Stdin io.Reader

	// Description and SessionID tag the registry entry.
	Description string
	SessionID   string
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Registry tracks every run and performs teardown (optional).
	Registry *process.Registry

	// Policy sets timeout, grace window and heartbeat. Zero selects
	// process.DetectPolicy().
	Policy process.Policy

	// SalvageTypes are record types yielded from a truncated final frame.
	// Defaults to DefaultSalvageTypes.
	SalvageTypes []string

	// Probe checks liveness during heartbeat. Defaults to signal 0.
	Probe func(pid int) error

	// StderrLimit bounds the stderr tail kept for ExitError.
	StderrLimit int

	// Logger for client operations. If nil, uses the streamcli module logger.
	Logger *slog.Logger
}

// Client runs streaming subprocesses. It is safe for concurrent use; every
// Run spawns its own process.
type Client struct {
	registry    *process.Registry
	killer      *process.TreeKiller
	policy      process.Policy
	salvage     []string
	probe       func(pid int) error
	stderrLimit int
	logger      *slog.Logger
}

// New creates a client.
func New(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("streamcli")
	}

	policy := opts.Policy
	if policy == (process.Policy{}) {
		policy = process.DetectPolicy()
	}

	c := &Client{
		registry:    opts.Registry,
		policy:      policy,
		salvage:     opts.SalvageTypes,
		probe:       opts.Probe,
		stderrLimit: opts.StderrLimit,
		logger:      logger,
	}
	if c.salvage == nil {
		c.salvage = DefaultSalvageTypes
	}
	if c.probe == nil {
		c.probe = func(pid int) error { return unix.Kill(pid, 0) }
	}
	if c.stderrLimit <= 0 {
		c.stderrLimit = defaultStderrLimit
	}
	if c.registry != nil {
		c.killer = c.registry.Killer()
	} else {
		c.killer = process.NewTreeKiller(nil, logger)
	}
	return c
}

// Policy returns the timing policy in effect.
func (c *Client) Policy() process.Policy {
	return c.policy
}

// Run returns a sequence of records. The subprocess starts when iteration
// begins and is torn down when iteration stops for any reason. Failures are
// yielded as the final element with a zero Record.
func (c *Client) Run(ctx context.Context, opts Options) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		c.run(ctx, opts, yield)
	}
}

// run holds one subprocess for the lifetime of an iteration.
type run struct {
	c       *Client
	h       *process.Handle
	id      string
	tracked bool
	stderr  *tailBuffer
	logger  *slog.Logger
}

func (c *Client) run(parent context.Context, opts Options, yield func(Record, error) bool) {
	ctx := parent
	if c.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.policy.Timeout)
		defer cancel()
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		yield(Record{}, fmt.Errorf("stdout pipe: %w", err))
		return
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		yield(Record{}, fmt.Errorf("stderr pipe: %w", err))
		return
	}

	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	h, err := process.Spawn(cmd)
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		yield(Record{}, err)
		return
	}

	r := &run{
		c:      c,
		h:      h,
		stderr: newTailBuffer(c.stderrLimit),
		logger: c.logger.With("pid", h.Pid(), "path", opts.Path),
	}
	if c.registry != nil {
		r.id, r.tracked = c.registry.Register(h, "", process.RegisterOptions{
			Description: describe(opts),
			SessionID:   opts.SessionID,
		})
	}
	r.logger.Debug("Streaming subprocess started")

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		_, _ = io.Copy(r.stderr, stderrR)
	}()

	stop := make(chan struct{})
	lines := make(chan string)
	readErr := make(chan error, 1)
	go readLines(stdoutR, lines, readErr, stop)

	if c.policy.HeartbeatInterval > 0 {
		go r.heartbeat(stop)
	}

	defer func() {
		close(stop)
		r.teardown()
		stdoutR.Close()
		select {
		case <-stderrDone:
		case <-time.After(stderrSettle):
		}
		stderrR.Close()
	}()

	dec := newFrameDecoder(c.salvage, r.logger)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				r.finish(ctx, parent, dec, readErr, stderrDone, yield)
				return
			}
			if rec, ok := dec.Feed(line); ok {
				metrics.IncStreamRecords("record")
				if !yield(rec, nil) {
					return
				}
			}
		case <-ctx.Done():
			yield(Record{}, r.contextError(ctx, parent))
			return
		}
	}
}

// finish runs after stdout reached EOF: salvage, then await the exit.
func (r *run) finish(
	ctx, parent context.Context,
	dec *frameDecoder,
	readErr <-chan error,
	stderrDone <-chan struct{},
	yield func(Record, error) bool,
) {
	if err := <-readErr; err != nil {
		yield(Record{}, fmt.Errorf("read stdout: %w", err))
		return
	}

	if rec, ok := dec.Finish(); ok {
		metrics.IncStreamRecords("salvaged")
		if !yield(rec, nil) {
			return
		}
	}

	select {
	case <-r.h.Done():
	case <-ctx.Done():
		yield(Record{}, r.contextError(ctx, parent))
		return
	}

	if r.h.ExitCode() == 0 && r.h.Signal() == "" {
		r.logger.Debug("Streaming subprocess finished", "duration", r.h.Duration())
		return
	}

	select {
	case <-stderrDone:
	case <-time.After(stderrSettle):
	}
	yield(Record{}, &ExitError{
		Code:   r.h.ExitCode(),
		Signal: r.h.Signal(),
		Stderr: r.stderr.String(),
	})
}

func (r *run) contextError(ctx, parent context.Context) error {
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("Streaming subprocess timed out", "timeout", r.c.policy.Timeout)
		return fmt.Errorf("%w after %v", ErrTimeout, r.c.policy.Timeout)
	}
	return ctx.Err()
}

// teardown stops whatever is left of the process tree: graceful first,
// forceful after the grace window, forceful right away without one.
func (r *run) teardown() {
	if r.h.Gone() {
		if r.tracked {
			r.c.registry.Unregister(r.id)
		}
		return
	}

	grace := r.c.policy.GraceWindow
	sig := process.Graceful
	if grace <= 0 {
		sig = process.Forceful
	}
	r.logger.Debug("Tearing down streaming subprocess", "signal", sig.String(), "grace", grace)

	ctx := context.Background()
	if r.tracked && r.c.registry.Has(r.id) {
		if err := r.c.registry.KillProcessWithin(ctx, r.id, sig, grace); err != nil {
			r.logger.Warn("Teardown incomplete", "error", err)
		}
		if r.h.Gone() {
			return
		}
	}
	if _, err := r.c.killer.Kill(ctx, r.h, sig, grace); err != nil {
		r.logger.Warn("Teardown incomplete", "error", err)
	}
	if r.tracked {
		r.c.registry.Unregister(r.id)
	}
}

// heartbeat probes liveness until the run ends. A failed probe is logged
// and counted once; the stream itself decides when the run is over.
func (r *run) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(r.c.policy.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-r.h.Done():
			return
		case <-ticker.C:
			if err := r.c.probe(r.h.Pid()); err != nil {
				metrics.IncHeartbeatFailures()
				r.logger.Warn("Streaming subprocess failed liveness probe", "error", err)
				return
			}
		}
	}
}

// readLines sends every stdout line, including a final unterminated one.
func readLines(r io.Reader, lines chan<- string, errc chan<- error, stop <-chan struct{}) {
	defer close(lines)
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			select {
			case lines <- line:
			case <-stop:
				errc <- nil
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				err = nil
			}
			errc <- err
			return
		}
	}
}

func describe(opts Options) string {
	if opts.Description != "" {
		return opts.Description
	}
	return strings.TrimSpace(opts.Path + " " + strings.Join(opts.Args, " "))
}
