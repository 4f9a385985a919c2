package events

// Event type constants for kelindar/event.
const (
	TypeSessionStarted uint32 = iota + 1
	TypeSessionTerminated
	TypeProcessRegistered
	TypeProcessUnregistered
	TypeProcessKilled
	TypeCommandCompleted
	TypeLogEntry
	TypeMetricsSummary
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStartedEvent is published when a higher-level agent session begins.
type SessionStartedEvent struct {
	SessionID string `json:"session_id" example:"sess-42" doc:"Session identifier"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStartedEvent.
func (e SessionStartedEvent) Type() uint32 { return TypeSessionStarted }

// SessionTerminatedEvent is published when a session ends. Processes
// tracked under the session are killed by an attached registry.
type SessionTerminatedEvent struct {
	SessionID string `json:"session_id" example:"sess-42" doc:"Session identifier"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionTerminatedEvent.
func (e SessionTerminatedEvent) Type() uint32 { return TypeSessionTerminated }

// ProcessRegisteredEvent is published when a process enters the registry.
type ProcessRegisteredEvent struct {
	ProcessID   string `json:"process_id" example:"0b6f0c8e-3c1a-4a57-9d43-9c3f1d1f6c11" doc:"Registry identifier"`
	PID         int    `json:"pid" example:"4242" doc:"OS process id"`
	SessionID   string `json:"session_id,omitempty" example:"sess-42" doc:"Owning session"`
	Description string `json:"description,omitempty" example:"npm test" doc:"Human readable description"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProcessRegisteredEvent.
func (e ProcessRegisteredEvent) Type() uint32 { return TypeProcessRegistered }

// ProcessUnregisteredEvent is published exactly once per registered process.
type ProcessUnregisteredEvent struct {
	ProcessID string `json:"process_id" doc:"Registry identifier"`
	SessionID string `json:"session_id,omitempty" doc:"Owning session"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProcessUnregisteredEvent.
func (e ProcessUnregisteredEvent) Type() uint32 { return TypeProcessUnregistered }

// ProcessKilledEvent is published after a kill request finished.
type ProcessKilledEvent struct {
	ProcessID string `json:"process_id" doc:"Registry identifier"`
	Signal    string `json:"signal" example:"SIGTERM" doc:"Signal requested"`
	Escalated bool   `json:"escalated" doc:"Whether a forceful signal followed the grace window"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProcessKilledEvent.
func (e ProcessKilledEvent) Type() uint32 { return TypeProcessKilled }

// CommandCompletedEvent is published when a shell execution finished.
type CommandCompletedEvent struct {
	ExecutionID string `json:"execution_id" doc:"Execution identifier"`
	TerminalID  string `json:"terminal_id" doc:"Host terminal the command ran in"`
	Command     string `json:"command" example:"go test ./..." doc:"Command line"`
	ExitCode    int    `json:"exit_code" example:"0" doc:"Exit code, -1 when terminated by a signal"`
	Signal      string `json:"signal,omitempty" example:"SIGTERM" doc:"Terminating signal"`
	Aborted     bool   `json:"aborted" doc:"Whether the command was aborted"`
	DurationMs  int64  `json:"duration_ms" example:"1520" doc:"Wall time in milliseconds"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CommandCompletedEvent.
func (e CommandCompletedEvent) Type() uint32 { return TypeCommandCompleted }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// MetricsSummaryEvent carries the process counters to the metrics stream.
type MetricsSummaryEvent struct {
	Tracked     int    `json:"tracked" example:"3" doc:"Processes in the registry"`
	Kills       string `json:"kills" example:"12" doc:"Signals sent to process trees"`
	Escalations string `json:"escalations" example:"1" doc:"Graceful kills that escalated"`
	Executions  string `json:"executions" example:"40" doc:"Finished shell executions"`
	Records     string `json:"records" example:"980" doc:"Decoded streaming records"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for MetricsSummaryEvent.
func (e MetricsSummaryEvent) Type() uint32 { return TypeMetricsSummary }
