package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/smazurov/agentexec/internal/metrics"
)

// Pool errors.
var (
	ErrPoolClosed       = errors.New("terminal pool closed")
	ErrPoolFull         = errors.New("terminal pool full")
	ErrTerminalNotFound = errors.New("terminal not found")
)

// Pool hands out host terminals for commands and runs executions in them.
type Pool interface {
	// Acquire reserves a terminal for workingDir. A terminal of the same
	// task whose current directory matches is preferred, then any idle
	// terminal in that directory, then a new one.
	Acquire(workingDir, taskID string) (HostTerminal, error)

	// Release returns a reserved terminal without running anything in it.
	Release(id string)

	// Run acquires a terminal and starts command in it.
	Run(workingDir, taskID, command string) (*Execution, error)

	// Execution returns the most recent execution with the given id.
	Execution(id string) (*Execution, bool)

	// Get returns the terminal with the given id.
	Get(id string) (HostTerminal, bool)

	// List returns a snapshot of every terminal.
	List() []TerminalInfo

	// Size returns the number of terminals.
	Size() int

	// Close aborts the terminal's running command and removes it.
	Close(id string) error

	// CloseAll aborts every running command, waits for completion and
	// empties the pool. The pool rejects further use.
	CloseAll(ctx context.Context) error
}

// terminalEntry tracks a terminal and its most recent execution.
type terminalEntry struct {
	term HostTerminal
	last *Execution
}

// pool implements the Pool interface.
type pool struct {
	opts    PoolOptions
	factory TerminalFactory
	logger  *slog.Logger

	mu         sync.Mutex
	terminals  []*terminalEntry
	executions map[string]*Execution
	closed     bool
	wg         sync.WaitGroup
}

// NewPool creates an empty terminal pool.
func NewPool(opts *PoolOptions) Pool {
	if opts == nil {
		opts = &PoolOptions{}
	}

	logger, ok := opts.Logger.(*slog.Logger)
	if !ok || logger == nil {
		logger = slog.Default()
	}

	factory := opts.Factory
	if factory == nil {
		shell := opts.Shell
		factory = func(id, taskID, dir string) HostTerminal {
			t := NewLocalTerminal(id, taskID, dir)
			t.SetShell(shell)
			return t
		}
	}

	return &pool{
		opts:       *opts,
		factory:    factory,
		logger:     logger,
		executions: make(map[string]*Execution),
	}
}

// Acquire reserves a terminal. The busy flag is set under the pool lock, so
// two concurrent callers never receive the same terminal.
func (p *pool) Acquire(workingDir, taskID string) (HostTerminal, error) {
	dir, err := filepath.Abs(workingDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", workingDir, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if entry := p.findIdle(dir, taskID); entry != nil {
		entry.term.SetBusy(true)
		p.updateMetrics()
		p.logger.Debug("Reusing terminal", "terminal_id", entry.term.ID(), "task_id", taskID, "dir", dir)
		return entry.term, nil
	}

	if p.opts.MaxTerminals > 0 && len(p.terminals) >= p.opts.MaxTerminals {
		return nil, ErrPoolFull
	}

	term := p.factory(uuid.NewString(), taskID, dir)
	term.SetBusy(true)
	p.terminals = append(p.terminals, &terminalEntry{term: term})
	p.updateMetrics()
	p.logger.Info("Terminal created", "terminal_id", term.ID(), "task_id", taskID, "dir", dir)
	return term, nil
}

// findIdle must be called with the lock held.
func (p *pool) findIdle(dir, taskID string) *terminalEntry {
	var fallback *terminalEntry
	for _, entry := range p.terminals {
		if entry.term.Busy() || terminalDirectory(entry.term) != dir {
			continue
		}
		if taskID != "" && entry.term.TaskID() == taskID {
			return entry
		}
		if fallback == nil {
			fallback = entry
		}
	}
	return fallback
}

// terminalDirectory prefers the live directory and falls back to the one
// the terminal was created in.
func terminalDirectory(t HostTerminal) string {
	if cwd, ok := t.CurrentDirectory(); ok && cwd != "" {
		return filepath.Clean(cwd)
	}
	return filepath.Clean(t.InitialDirectory())
}

// Release returns a reserved terminal without running anything in it.
func (p *pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry := p.find(id); entry != nil {
		entry.term.SetBusy(false)
		p.updateMetrics()
	}
}

// Run acquires a terminal and starts command in it.
func (p *pool) Run(workingDir, taskID, command string) (*Execution, error) {
	term, err := p.Acquire(workingDir, taskID)
	if err != nil {
		return nil, err
	}

	exec := NewExecution(ExecutionOptions{
		Terminal:         term,
		Registry:         p.opts.Registry,
		Env:              p.opts.Env,
		ThrottleInterval: p.opts.ThrottleInterval,
		DrainTimeout:     p.opts.DrainTimeout,
		Publisher:        p.opts.Publisher,
		Logger:           p.logger,
	})

	p.mu.Lock()
	if entry := p.find(term.ID()); entry != nil {
		if entry.last != nil {
			delete(p.executions, entry.last.ID())
		}
		entry.last = exec
	}
	p.executions[exec.ID()] = exec
	p.wg.Add(1)
	p.mu.Unlock()

	if err := exec.Start(command); err != nil {
		p.wg.Done()
		p.updateMetricsLocked()
		return nil, err
	}

	go func() {
		defer p.wg.Done()
		res := exec.Wait()
		p.updateMetricsLocked()
		if p.opts.OnComplete != nil {
			p.opts.OnComplete(exec, res)
		}
	}()
	return exec, nil
}

// Execution returns the most recent execution with the given id.
func (p *pool) Execution(id string) (*Execution, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	exec, ok := p.executions[id]
	return exec, ok
}

// Get returns the terminal with the given id.
func (p *pool) Get(id string) (HostTerminal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry := p.find(id); entry != nil {
		return entry.term, true
	}
	return nil, false
}

// List returns a snapshot of every terminal, oldest first.
func (p *pool) List() []TerminalInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make([]TerminalInfo, 0, len(p.terminals))
	for _, entry := range p.terminals {
		infos = append(infos, DescribeTerminal(entry.term))
	}
	return infos
}

// Size returns the number of terminals.
func (p *pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.terminals)
}

// Close aborts the terminal's running command and removes it.
func (p *pool) Close(id string) error {
	p.mu.Lock()
	entry := p.find(id)
	if entry == nil {
		p.mu.Unlock()
		return ErrTerminalNotFound
	}
	p.terminals = slices.DeleteFunc(p.terminals, func(e *terminalEntry) bool { return e == entry })
	if entry.last != nil {
		delete(p.executions, entry.last.ID())
	}
	p.updateMetrics()
	p.mu.Unlock()

	if entry.last != nil {
		entry.last.Abort()
	}
	p.logger.Info("Terminal closed", "terminal_id", id)
	return nil
}

// CloseAll aborts every running command and waits for completion or ctx.
func (p *pool) CloseAll(ctx context.Context) error {
	p.logger.Info("Closing all terminals")

	p.mu.Lock()
	p.closed = true
	running := make([]*Execution, 0, len(p.terminals))
	for _, entry := range p.terminals {
		if entry.last != nil {
			running = append(running, entry.last)
		}
	}
	p.mu.Unlock()

	for _, exec := range running {
		exec.Abort()
	}

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()

	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		err = ctx.Err()
		p.logger.Warn("Timeout waiting for executions to finish", "error", err)
	}

	p.mu.Lock()
	p.terminals = nil
	clear(p.executions)
	p.updateMetrics()
	p.mu.Unlock()

	p.logger.Info("All terminals closed")
	return err
}

// find must be called with the lock held.
func (p *pool) find(id string) *terminalEntry {
	for _, entry := range p.terminals {
		if entry.term.ID() == id {
			return entry
		}
	}
	return nil
}

// updateMetrics must be called with the lock held.
func (p *pool) updateMetrics() {
	busy := 0
	for _, entry := range p.terminals {
		if entry.term.Busy() {
			busy++
		}
	}
	metrics.SetPoolTerminals(busy, len(p.terminals)-busy)
}

func (p *pool) updateMetricsLocked() {
	p.mu.Lock()
	p.updateMetrics()
	p.mu.Unlock()
}
