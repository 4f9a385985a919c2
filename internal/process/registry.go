package process

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/agentexec/internal/events"
	"github.com/smazurov/agentexec/internal/metrics"
	concpool "github.com/sourcegraph/conc/pool"
)

// ErrRegistryClosed is returned by Attach after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Publisher receives registry notifications. *events.Bus satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

// SessionEvents delivers session lifecycle notifications. *events.Bus
// satisfies it.
type SessionEvents interface {
	OnSessionStarted(fn func(sessionID string)) func()
	OnSessionTerminated(fn func(sessionID string)) func()
}

// RegisterOptions describes a process being registered.
type RegisterOptions struct {
	Description string
	SessionID   string
}

// TrackedProcess is a registry entry.
type TrackedProcess struct {
	ID           string
	Handle       *Handle
	Description  string
	SessionID    string
	RegisteredAt time.Time
}

// Info returns a listing snapshot of the entry.
func (tp *TrackedProcess) Info() Info {
	return Info{
		ID:           tp.ID,
		PID:          tp.Handle.Pid(),
		Description:  tp.Description,
		SessionID:    tp.SessionID,
		RegisteredAt: tp.RegisteredAt,
		Running:      !tp.Handle.Exited(),
	}
}

// RegistryOptions configures a new Registry.
type RegistryOptions struct {
	// Resolver enumerates process trees. Defaults to DefaultTreeResolver.
	Resolver TreeResolver

	// GraceWindow before a graceful kill escalates. Defaults to DefaultGraceWindow.
	GraceWindow time.Duration

	// Publisher receives process notifications (optional).
	Publisher Publisher

	// Logger for registry operations. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Registry tracks spawned processes by id and kills them individually, per
// session, or all at once. Entries are removed exactly once: when the
// process exits on its own, when it is unregistered, or after a kill.
type Registry struct {
	killer    *TreeKiller
	grace     time.Duration
	publisher Publisher
	logger    *slog.Logger

	mu       sync.Mutex
	procs    map[string]*TrackedProcess
	sessions map[string]map[string]struct{}
	unsubs   []func()
	closed   bool
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := opts.GraceWindow
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Registry{
		killer:    NewTreeKiller(opts.Resolver, logger),
		grace:     grace,
		publisher: opts.Publisher,
		logger:    logger,
		procs:     make(map[string]*TrackedProcess),
		sessions:  make(map[string]map[string]struct{}),
	}
}

// Killer returns the tree killer used by the registry.
func (r *Registry) Killer() *TreeKiller {
	return r.killer
}

// GraceWindow returns the escalation delay used by KillProcess.
func (r *Registry) GraceWindow() time.Duration {
	return r.grace
}

// Register tracks h under id. An empty id is replaced by a generated one.
// Registering an id that is already tracked is a no-op and returns false.
// The entry is removed automatically once the process exits.
func (r *Registry) Register(h *Handle, id string, opts RegisterOptions) (string, bool) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("Register on closed registry", "process_id", id)
		return id, false
	}
	if _, exists := r.procs[id]; exists {
		r.mu.Unlock()
		r.logger.Debug("Process already registered", "process_id", id)
		return id, false
	}

	tp := &TrackedProcess{
		ID:           id,
		Handle:       h,
		Description:  opts.Description,
		SessionID:    opts.SessionID,
		RegisteredAt: time.Now(),
	}
	r.procs[id] = tp
	if tp.SessionID != "" {
		group, ok := r.sessions[tp.SessionID]
		if !ok {
			group = make(map[string]struct{})
			r.sessions[tp.SessionID] = group
		}
		group[id] = struct{}{}
	}
	count := len(r.procs)
	r.mu.Unlock()

	metrics.SetTrackedProcesses(count)
	r.logger.Debug("Process registered", "process_id", id, "pid", h.Pid(), "session_id", tp.SessionID)
	r.publish(events.ProcessRegisteredEvent{
		ProcessID:   id,
		PID:         h.Pid(),
		SessionID:   tp.SessionID,
		Description: tp.Description,
		Timestamp:   now(),
	})

	go func() {
		<-h.Done()
		if r.remove(id, tp) {
			r.logger.Debug("Process exited", "process_id", id, "exit_code", h.ExitCode(), "signal", h.Signal())
		}
	}()

	return id, true
}

// Unregister removes id and its session membership. It reports whether an
// entry was removed; unknown ids are ignored.
func (r *Registry) Unregister(id string) bool {
	return r.remove(id, nil)
}

// UnregisterHandle removes id only while it still tracks h, so a caller
// whose registration was refused cannot remove someone else's entry.
func (r *Registry) UnregisterHandle(id string, h *Handle) bool {
	r.mu.Lock()
	tp, ok := r.procs[id]
	r.mu.Unlock()
	if !ok || tp.Handle != h {
		return false
	}
	return r.remove(id, tp)
}

// Owns reports whether id is tracked for h.
func (r *Registry) Owns(id string, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tp, ok := r.procs[id]
	return ok && tp.Handle == h
}

// remove deletes id if it still maps to want (any entry when want is nil).
func (r *Registry) remove(id string, want *TrackedProcess) bool {
	r.mu.Lock()
	tp, ok := r.procs[id]
	if !ok || (want != nil && tp != want) {
		r.mu.Unlock()
		return false
	}
	delete(r.procs, id)
	if group, exists := r.sessions[tp.SessionID]; exists {
		delete(group, id)
		if len(group) == 0 {
			delete(r.sessions, tp.SessionID)
		}
	}
	count := len(r.procs)
	r.mu.Unlock()

	metrics.SetTrackedProcesses(count)
	r.publish(events.ProcessUnregisteredEvent{
		ProcessID: id,
		SessionID: tp.SessionID,
		Timestamp: now(),
	})
	return true
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (*TrackedProcess, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tp, ok := r.procs[id]
	return tp, ok
}

// Has reports whether id is tracked.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Count returns the number of tracked processes.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// List returns a snapshot of every entry, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.procs))
	for _, tp := range r.procs {
		infos = append(infos, tp.Info())
	}
	r.mu.Unlock()

	slices.SortFunc(infos, func(a, b Info) int {
		return a.RegisteredAt.Compare(b.RegisteredAt)
	})
	return infos
}

// SessionProcesses returns the ids tracked under sessionID.
func (r *Registry) SessionProcesses(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions[sessionID]))
	for id := range r.sessions[sessionID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// KillProcess signals the process tree of id and unregisters it. A graceful
// kill escalates after the registry grace window. Unknown ids are a no-op.
func (r *Registry) KillProcess(ctx context.Context, id string, sig Signal) error {
	return r.KillProcessWithin(ctx, id, sig, r.grace)
}

// KillProcessWithin is KillProcess with an explicit grace window.
func (r *Registry) KillProcessWithin(ctx context.Context, id string, sig Signal, grace time.Duration) error {
	tp, ok := r.Get(id)
	if !ok {
		return nil
	}
	defer r.Unregister(id)

	r.logger.Info("Killing process", "process_id", id, "pid", tp.Handle.Pid(), "signal", sig.String())
	escalated, err := r.killer.Kill(ctx, tp.Handle, sig, grace)

	r.publish(events.ProcessKilledEvent{
		ProcessID: id,
		Signal:    sig.String(),
		Escalated: escalated,
		Timestamp: now(),
	})
	return err
}

// KillSessionProcesses kills every process of sessionID concurrently. Each
// kill settles independently; failures are joined into the returned error.
func (r *Registry) KillSessionProcesses(ctx context.Context, sessionID string) error {
	ids := r.SessionProcesses(sessionID)
	if len(ids) == 0 {
		return nil
	}
	r.logger.Info("Killing session processes", "session_id", sessionID, "count", len(ids))
	return r.killAll(ctx, ids)
}

// KillAllProcesses kills every tracked process concurrently.
func (r *Registry) KillAllProcesses(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	r.logger.Info("Killing all processes", "count", len(ids))
	return r.killAll(ctx, ids)
}

func (r *Registry) killAll(ctx context.Context, ids []string) error {
	p := concpool.New().WithErrors()
	for _, id := range ids {
		p.Go(func() error {
			return r.KillProcess(ctx, id, Graceful)
		})
	}
	err := p.Wait()
	if err != nil {
		r.logger.Warn("Some processes failed to die cleanly", "error", err)
	}
	return err
}

// Attach subscribes to session notifications. Terminating a session kills
// its processes. The registry works without any attached source.
func (r *Registry) Attach(src SessionEvents) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}

	r.unsubs = append(r.unsubs,
		src.OnSessionStarted(func(sessionID string) {
			r.logger.Info("Session started", "session_id", sessionID)
		}),
		src.OnSessionTerminated(func(sessionID string) {
			r.mu.Lock()
			if r.closed {
				r.mu.Unlock()
				return
			}
			r.wg.Add(1)
			r.mu.Unlock()

			defer r.wg.Done()
			r.logger.Info("Session terminated", "session_id", sessionID)
			if err := r.KillSessionProcesses(context.Background(), sessionID); err != nil {
				r.logger.Warn("Session cleanup incomplete", "session_id", sessionID, "error", err)
			}
		}),
	)
	return nil
}

// Close detaches from session sources and kills every tracked process.
// Calling Close again is a no-op.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	err := r.KillAllProcesses(context.Background())
	r.wg.Wait()

	r.mu.Lock()
	clear(r.procs)
	clear(r.sessions)
	r.mu.Unlock()
	metrics.SetTrackedProcesses(0)

	return err
}

func (r *Registry) publish(ev events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(ev)
	}
}

func now() string {
	return time.Now().Format(time.RFC3339)
}
