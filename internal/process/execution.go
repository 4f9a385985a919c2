package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/agentexec/internal/events"
	"github.com/smazurov/agentexec/internal/metrics"
	"golang.org/x/time/rate"
)

// Execution errors.
var (
	ErrAlreadyStarted   = errors.New("execution already started")
	ErrAlreadyListening = errors.New("execution already has a listener")
	ErrAborted          = errors.New("execution aborted before start")
	ErrEmptyCommand     = errors.New("empty command")
)

const (
	defaultThrottleInterval = 500 * time.Millisecond
	defaultDrainTimeout     = time.Second
	listenerBuffer          = 64
	readChunkSize           = 32 * 1024
)

// EventKind identifies an execution notification.
type EventKind int

// Execution notifications, in delivery order for one command.
const (
	EventLine EventKind = iota + 1
	EventShellExecutionComplete
	EventCompleted
	EventContinue
)

func (k EventKind) String() string {
	switch k {
	case EventLine:
		return "line"
	case EventShellExecutionComplete:
		return "shell_execution_complete"
	case EventCompleted:
		return "completed"
	case EventContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// Event is delivered to the listener of an Execution.
type Event struct {
	Kind EventKind

	// Output holds the newly retrieved output for EventLine and the full
	// output for EventCompleted.
	Output string

	// ExitCode and Signal are set on EventShellExecutionComplete and
	// EventCompleted.
	ExitCode int
	Signal   string
}

// Result describes a finished command.
type Result struct {
	ExitCode  int           `json:"exit_code"`
	Signal    string        `json:"signal,omitempty"`
	Aborted   bool          `json:"aborted"`
	Duration  time.Duration `json:"duration"`
	Directory string        `json:"directory,omitempty"`
}

// Success reports a zero exit without abort.
func (r Result) Success() bool {
	return r.ExitCode == 0 && r.Signal == "" && !r.Aborted
}

func (r Result) outcome() string {
	switch {
	case r.Aborted:
		return "aborted"
	case r.Success():
		return "success"
	default:
		return "failure"
	}
}

// ExecutionOptions configures a new Execution.
type ExecutionOptions struct {
	// Terminal hosts the command (required).
	Terminal HostTerminal

	// Registry tracks the spawned process (optional).
	Registry *Registry

	// Resolver is used for direct kills when the process is not in a
	// registry. Ignored when Registry is set.
	Resolver TreeResolver

	// GraceWindow for direct kills. Defaults to the registry's window.
	GraceWindow time.Duration

	// ID is the registry id. Generated when empty.
	ID string

	// Env is appended to the inherited environment.
	Env []string

	// ThrottleInterval is the minimum spacing of EventLine. Default 500ms.
	ThrottleInterval time.Duration

	// DrainTimeout bounds how long output is awaited after the shell exited,
	// for commands that leave background children holding the pipe.
	DrainTimeout time.Duration

	// Publisher receives a CommandCompletedEvent (optional).
	Publisher Publisher

	// Logger for execution events. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Execution runs one command line in a HostTerminal. Output of stdout and
// stderr is merged in delivery order, buffered for polling and pushed to a
// single listener. Completion fires exactly once.
type Execution struct {
	id       string
	term     HostTerminal
	registry *Registry
	killer   *TreeKiller
	grace    time.Duration
	env      []string
	throttle time.Duration
	drain    time.Duration
	pub      Publisher
	logger   *slog.Logger

	buf  OutputBuffer
	wake chan struct{}
	done chan struct{}

	aborted  atomic.Bool
	killOnce sync.Once

	mu         sync.Mutex
	state      State
	command    string
	handle     *Handle
	registered bool
	listener chan Event
	result   Result
}

// NewExecution prepares an execution. Nothing runs until Start.
func NewExecution(opts ExecutionOptions) *Execution {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	e := &Execution{
		id:       id,
		term:     opts.Terminal,
		registry: opts.Registry,
		grace:    opts.GraceWindow,
		env:      opts.Env,
		throttle: opts.ThrottleInterval,
		drain:    opts.DrainTimeout,
		pub:      opts.Publisher,
		logger:   logger.With("execution_id", id, "terminal_id", opts.Terminal.ID()),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		state:    StateIdle,
	}

	if e.registry != nil {
		e.killer = e.registry.Killer()
		if e.grace <= 0 {
			e.grace = e.registry.GraceWindow()
		}
	} else {
		e.killer = NewTreeKiller(opts.Resolver, logger)
	}
	if e.grace <= 0 {
		e.grace = DefaultGraceWindow
	}
	if e.throttle <= 0 {
		e.throttle = defaultThrottleInterval
	}
	if e.drain <= 0 {
		e.drain = defaultDrainTimeout
	}
	return e
}

// ID returns the execution id, which is also its registry id.
func (e *Execution) ID() string { return e.id }

// Terminal returns the hosting terminal.
func (e *Execution) Terminal() HostTerminal { return e.term }

// Command returns the command line once started.
func (e *Execution) Command() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.command
}

// State returns the lifecycle state.
func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Listen returns the single notification channel. It is closed after
// EventContinue. The consumer must drain it until closed.
func (e *Execution) Listen() (<-chan Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listener != nil {
		return nil, ErrAlreadyListening
	}
	ch := make(chan Event, listenerBuffer)
	e.listener = ch
	if e.state == StateCompleted || e.state == StateError {
		close(ch)
	}
	return ch, nil
}

// Start spawns the command through the terminal's shell in the terminal's
// current directory. Spawn failures are returned and nothing is registered.
func (e *Execution) Start(command string) error {
	if strings.TrimSpace(command) == "" {
		return ErrEmptyCommand
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.command = command
	if e.aborted.Load() {
		e.mu.Unlock()
		e.finishWithoutProcess(StateCompleted, Result{ExitCode: -1, Aborted: true})
		return ErrAborted
	}
	e.state = StateRunning
	e.mu.Unlock()

	h, outR, cwdR, err := e.spawn(command)
	if err != nil {
		e.logger.Error("Failed to start command", "error", err, "command", command)
		e.finishWithoutProcess(StateError, Result{ExitCode: -1})
		return err
	}

	registered := false
	if e.registry != nil {
		_, registered = e.registry.Register(h, e.id, RegisterOptions{
			Description: command,
			SessionID:   e.term.SessionID(),
		})
		if !registered {
			e.logger.Warn("Registry refused execution id, aborts signal the tree directly")
		}
	}

	e.mu.Lock()
	e.handle = h
	e.registered = registered
	e.mu.Unlock()
	e.logger.Info("Command started", "pid", h.Pid(), "command", command)

	if e.aborted.Load() {
		e.killOnce.Do(func() { go e.kill(h) })
	}

	outDone := make(chan struct{})
	cwdCh := make(chan string, 1)
	flushCtx, stopFlush := context.WithCancel(context.Background())
	flushStopped := make(chan struct{})

	go e.copyOutput(outR, outDone)
	go readDirectoryReport(cwdR, cwdCh)
	go e.flushLoop(flushCtx, flushStopped)
	go e.supervise(h, outR, cwdR, outDone, cwdCh, stopFlush, flushStopped)

	return nil
}

// spawn starts `shell -c` with stdout and stderr sharing one pipe. The
// shell writes its final working directory to an extra descriptor.
func (e *Execution) spawn(command string) (*Handle, *os.File, *os.File, error) {
	dir, ok := e.term.CurrentDirectory()
	if !ok || dir == "" {
		dir = e.term.InitialDirectory()
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("output pipe: %w", err)
	}
	cwdR, cwdW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, nil, nil, fmt.Errorf("directory pipe: %w", err)
	}

	cmd := exec.Command(e.term.Shell(), "-c", wrapScript(command))
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), e.env...)
	cmd.Stdout = outW
	cmd.Stderr = outW
	cmd.ExtraFiles = []*os.File{cwdW}

	h, err := Spawn(cmd)
	outW.Close()
	cwdW.Close()
	if err != nil {
		outR.Close()
		cwdR.Close()
		return nil, nil, nil, err
	}
	return h, outR, cwdR, nil
}

// wrapScript runs command with descriptor 3 closed, so background children
// cannot hold it open, then reports the shell's directory on descriptor 3.
func wrapScript(command string) string {
	return "{\n" + command + "\n} 3>&-\n" +
		"__agentexec_status=$?\n" +
		"pwd >&3 2>/dev/null\n" +
		"exit $__agentexec_status\n"
}

func (e *Execution) copyOutput(r *os.File, done chan<- struct{}) {
	defer close(done)
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			_, _ = e.buf.Write(chunk[:n])
			select {
			case e.wake <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

func readDirectoryReport(r *os.File, out chan<- string) {
	var last string
	scanner := bufio.NewScanner(io.LimitReader(r, 64*1024))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	out <- last
}

// flushLoop pushes EventLine at most once per throttle interval. The first
// chunk goes out immediately.
func (e *Execution) flushLoop(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)
	limiter := rate.NewLimiter(rate.Every(e.throttle), 1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		e.emitLine()
	}
}

// emitLine sends newly completed lines without blocking. Output stays
// behind the cursor when the listener is not keeping up.
func (e *Execution) emitLine() {
	e.mu.Lock()
	ch := e.listener
	e.mu.Unlock()
	if ch == nil || len(ch) == cap(ch) {
		return
	}
	if out := e.buf.Unretrieved(); out != "" {
		ch <- Event{Kind: EventLine, Output: out}
	}
}

func (e *Execution) supervise(
	h *Handle,
	outR, cwdR *os.File,
	outDone <-chan struct{},
	cwdCh <-chan string,
	stopFlush context.CancelFunc,
	flushStopped <-chan struct{},
) {
	<-h.Done()

	drain := time.NewTimer(e.drain)
	defer drain.Stop()

	select {
	case <-outDone:
	case <-drain.C:
		e.logger.Debug("Output still open after exit, detaching", "pid", h.Pid())
		outR.Close()
		<-outDone
	}
	outR.Close()

	var cwd string
	select {
	case cwd = <-cwdCh:
	case <-time.After(e.drain):
	}
	cwdR.Close()

	stopFlush()
	<-flushStopped

	e.complete(h, cwd)
}

// complete delivers the completion sequence exactly once.
func (e *Execution) complete(h *Handle, cwd string) {
	e.buf.Seal()

	res := Result{
		ExitCode:  h.ExitCode(),
		Signal:    h.Signal(),
		Aborted:   e.aborted.Load(),
		Duration:  h.Duration(),
		Directory: cwd,
	}

	e.mu.Lock()
	ch := e.listener
	e.state = StateCompleted
	e.result = res
	command := e.command
	registered := e.registered
	e.mu.Unlock()

	if ch != nil {
		if out := e.buf.Unretrieved(); out != "" {
			ch <- Event{Kind: EventLine, Output: out}
		}
		ch <- Event{Kind: EventShellExecutionComplete, ExitCode: res.ExitCode, Signal: res.Signal}
	}

	if registered {
		e.registry.UnregisterHandle(e.id, h)
	}

	if ch != nil {
		ch <- Event{Kind: EventCompleted, Output: e.buf.String(), ExitCode: res.ExitCode, Signal: res.Signal}
		ch <- Event{Kind: EventContinue}
		close(ch)
	}

	if cwd != "" {
		e.term.SetCurrentDirectory(cwd)
	}

	metrics.ObserveExecution(res.outcome(), res.Duration)
	e.logger.Info("Command finished",
		"exit_code", res.ExitCode, "signal", res.Signal, "aborted", res.Aborted, "duration", res.Duration)
	if e.pub != nil {
		e.pub.Publish(events.CommandCompletedEvent{
			ExecutionID: e.id,
			TerminalID:  e.term.ID(),
			Command:     command,
			ExitCode:    res.ExitCode,
			Signal:      res.Signal,
			Aborted:     res.Aborted,
			DurationMs:  res.Duration.Milliseconds(),
			Timestamp:   now(),
		})
	}

	e.term.SetBusy(false)
	close(e.done)
}

// finishWithoutProcess settles an execution that never spawned.
func (e *Execution) finishWithoutProcess(state State, res Result) {
	e.mu.Lock()
	e.state = state
	e.result = res
	ch := e.listener
	e.mu.Unlock()

	if ch != nil {
		close(ch)
	}
	e.term.SetBusy(false)
	close(e.done)
}

// Abort terminates the command tree with graceful-then-forceful escalation.
// It returns immediately, may be called any number of times and is a no-op
// after completion.
func (e *Execution) Abort() {
	e.mu.Lock()
	if e.state == StateCompleted || e.state == StateError {
		e.mu.Unlock()
		return
	}
	e.aborted.Store(true)
	if e.state == StateRunning {
		e.state = StateStopping
	}
	h := e.handle
	e.mu.Unlock()

	if h != nil {
		e.killOnce.Do(func() { go e.kill(h) })
	}
}

// kill goes through the registry while this process is tracked there and
// signals the tree directly otherwise, which also covers background
// children still holding the output pipe after the shell exited.
func (e *Execution) kill(h *Handle) {
	ctx := context.Background()
	e.logger.Info("Aborting command", "pid", h.Pid())

	e.mu.Lock()
	registered := e.registered
	e.mu.Unlock()

	if registered && e.registry.Owns(e.id, h) {
		if err := e.registry.KillProcess(ctx, e.id, Graceful); err != nil {
			e.logger.Warn("Registry kill failed", "error", err)
		}
	}
	if treeGone(h) {
		return
	}
	if _, err := e.killer.Kill(ctx, h, Graceful, e.grace); err != nil {
		e.logger.Warn("Direct kill failed", "error", err)
	}
}

// Done is closed after the completion sequence finished and the terminal
// was released.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Wait blocks until completion and returns the result.
func (e *Execution) Wait() Result {
	<-e.done
	return e.Result()
}

// Result returns the result. It is the zero Result before completion.
func (e *Execution) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Run starts command and waits for it. Cancelling ctx aborts the command;
// the result is still returned together with ctx.Err().
func (e *Execution) Run(ctx context.Context, command string) (Result, error) {
	if err := e.Start(command); err != nil {
		return Result{}, err
	}
	select {
	case <-e.done:
		return e.Result(), nil
	case <-ctx.Done():
		e.Abort()
		<-e.done
		return e.Result(), ctx.Err()
	}
}

// UnretrievedOutput returns and consumes output up to the last newline.
func (e *Execution) UnretrievedOutput() string {
	return e.buf.Unretrieved()
}

// HasUnretrievedOutput reports whether output lies past the cursor.
func (e *Execution) HasUnretrievedOutput() bool {
	return e.buf.HasUnretrieved()
}

// Output returns everything the command wrote so far.
func (e *Execution) Output() string {
	return e.buf.String()
}
