package process

import "time"

// State represents the lifecycle state of an Execution.
type State string

// Execution states.
const (
	StateIdle      State = "idle"      // Created, not started
	StateRunning   State = "running"   // Process alive or output draining
	StateStopping  State = "stopping"  // Abort requested
	StateCompleted State = "completed" // Completion events delivered
	StateError     State = "error"     // Spawn failed
)

// Info describes a tracked process.
type Info struct {
	ID           string    `json:"id"`
	PID          int       `json:"pid"`
	Description  string    `json:"description,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	Running      bool      `json:"running"`
}
