package models

import (
	"time"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	Modified  bool   `json:"modified" example:"false" doc:"Built from a dirty work tree"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Process models
type ProcessData struct {
	ID           string    `json:"id" example:"0b6f0c8e-3c1a-4a57-9d43-9c3f1d1f6c11" doc:"Registry identifier"`
	PID          int       `json:"pid" example:"4242" doc:"OS process id"`
	Description  string    `json:"description,omitempty" example:"npm test" doc:"Human readable description"`
	SessionID    string    `json:"session_id,omitempty" example:"sess-42" doc:"Owning session"`
	RegisteredAt time.Time `json:"registered_at" doc:"When the process was registered"`
	Running      bool      `json:"running" example:"true" doc:"Whether the process has not exited yet"`
}

type ProcessListData struct {
	Processes []ProcessData `json:"processes" doc:"Tracked processes"`
	Count     int           `json:"count" example:"2" doc:"Number of tracked processes"`
}

type ProcessListResponse struct {
	Body ProcessListData
}

type ProcessIDInput struct {
	ID     string `path:"id" doc:"Registry identifier"`
	Signal string `query:"signal" example:"SIGTERM" doc:"Signal to send first: SIGTERM (default) or SIGKILL"`
}

type ProcessKillData struct {
	ID      string `json:"id" doc:"Registry identifier"`
	Signal  string `json:"signal" example:"SIGTERM" doc:"Signal requested"`
	Message string `json:"message" example:"Process killed" doc:"Status message"`
}

type ProcessKillResponse struct {
	Body ProcessKillData
}

// Session models
type SessionInput struct {
	ID string `path:"id" doc:"Session identifier"`
}

type SessionData struct {
	SessionID string `json:"session_id" example:"sess-42" doc:"Session identifier"`
	Action    string `json:"action" example:"terminate" doc:"Action performed"`
	Killed    int    `json:"killed" example:"2" doc:"Processes killed with the session"`
}

type SessionResponse struct {
	Body SessionData
}

// Terminal models
type TerminalData struct {
	ID               string    `json:"id" doc:"Terminal identifier"`
	TaskID           string    `json:"task_id,omitempty" example:"task-7" doc:"Owning task"`
	InitialDirectory string    `json:"initial_directory" example:"/srv/repo" doc:"Directory the terminal was created in"`
	CurrentDirectory string    `json:"current_directory" example:"/srv/repo/web" doc:"Directory the shell last reported"`
	Busy             bool      `json:"busy" doc:"Whether a command is running"`
	CreatedAt        time.Time `json:"created_at,omitempty" doc:"Creation time"`
}

type TerminalListData struct {
	Terminals []TerminalData `json:"terminals" doc:"Pooled terminals"`
	Count     int            `json:"count" example:"1" doc:"Number of terminals"`
}

type TerminalListResponse struct {
	Body TerminalListData
}

// Execution models
type ExecutionRequestData struct {
	Command    string `json:"command" minLength:"1" example:"go test ./..." doc:"Command line run by the terminal shell"`
	WorkingDir string `json:"working_dir" minLength:"1" example:"/srv/repo" doc:"Directory to run in"`
	TaskID     string `json:"task_id,omitempty" example:"task-7" doc:"Task used to prefer the same terminal"`
}

type ExecutionRequest struct {
	Body ExecutionRequestData
}

type ExecutionResultData struct {
	ExitCode   int    `json:"exit_code" example:"0" doc:"Exit code, -1 when terminated by a signal"`
	Signal     string `json:"signal,omitempty" example:"SIGTERM" doc:"Terminating signal"`
	Aborted    bool   `json:"aborted" doc:"Whether the command was aborted"`
	DurationMs int64  `json:"duration_ms" example:"1520" doc:"Wall time in milliseconds"`
	Directory  string `json:"directory,omitempty" example:"/srv/repo" doc:"Directory reported after the command"`
}

type ExecutionData struct {
	ID         string               `json:"id" doc:"Execution identifier"`
	TerminalID string               `json:"terminal_id" doc:"Terminal the command runs in"`
	Command    string               `json:"command" example:"go test ./..." doc:"Command line"`
	State      string               `json:"state" example:"running" enum:"idle,running,stopping,completed,error" doc:"Execution state"`
	Result     *ExecutionResultData `json:"result,omitempty" doc:"Result once the execution completed"`
}

type ExecutionResponse struct {
	Body ExecutionData
}

type ExecutionIDInput struct {
	ID string `path:"id" doc:"Execution identifier"`
}

type ExecutionOutputData struct {
	ExecutionData
	Output string `json:"output" doc:"Complete lines written since the previous poll"`
	More   bool   `json:"more" doc:"Whether output is pending behind the returned lines"`
}

type ExecutionOutputResponse struct {
	Body ExecutionOutputData
}

// Log models
type LogsInput struct {
	Module string `query:"module" doc:"Only entries of this module"`
	Level  string `query:"level" doc:"Minimum level: debug, info, warn or error"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" default:"200" doc:"Maximum number of entries, newest kept"`
}

type LogEntryData struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Sequence number in the log history"`
	Timestamp  time.Time      `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"registry" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

type LogsData struct {
	Entries []LogEntryData `json:"entries" doc:"Buffered log entries, oldest first"`
	Count   int            `json:"count" example:"20" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}
