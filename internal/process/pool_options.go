package process

import (
	"time"

	"github.com/smazurov/agentexec/internal/logging"
)

// TerminalFactory creates a terminal rooted at dir.
// This allows hosts other than a local shell (e.g., an editor's integrated terminal).
type TerminalFactory func(id, taskID, dir string) HostTerminal

// CompletionCallback is called after an execution finished and its terminal
// was released.
type CompletionCallback func(exec *Execution, res Result)

// PoolOptions configures a new Pool.
type PoolOptions struct {
	// Factory creates new terminals. Defaults to local shell terminals.
	Factory TerminalFactory

	// Shell overrides the interpreter of terminals created by the default factory.
	Shell string

	// Registry tracks every spawned command (optional).
	Registry *Registry

	// MaxTerminals caps the pool size. Zero means unlimited.
	MaxTerminals int

	// Env is appended to the environment of every command.
	Env []string

	// ThrottleInterval and DrainTimeout are passed to every Execution.
	ThrottleInterval time.Duration
	DrainTimeout     time.Duration

	// Publisher receives command completion notifications (optional).
	Publisher Publisher

	// OnComplete is called when an execution finished (optional).
	OnComplete CompletionCallback

	// Logger for pool operations. If nil, uses slog.Default().
	Logger logging.Logger
}
