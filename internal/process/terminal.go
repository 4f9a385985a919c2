package process

import (
	"path/filepath"
	"sync"
	"time"
)

// DefaultShell runs commands when a terminal does not name one.
const DefaultShell = "/bin/sh"

// HostTerminal is a reusable execution context that commands run inside.
type HostTerminal interface {
	ID() string
	TaskID() string
	InitialDirectory() string

	// CurrentDirectory returns the directory the shell last reported. The
	// bool is false when the host cannot report a live directory.
	CurrentDirectory() (string, bool)
	SetCurrentDirectory(dir string)

	Busy() bool
	SetBusy(busy bool)

	// Shell is the interpreter used for command lines.
	Shell() string

	// SessionID is the active session of the host, "" when there is none.
	SessionID() string
}

// TerminalInfo describes a terminal for listings.
type TerminalInfo struct {
	ID               string    `json:"id"`
	TaskID           string    `json:"task_id,omitempty"`
	InitialDirectory string    `json:"initial_directory"`
	CurrentDirectory string    `json:"current_directory"`
	Busy             bool      `json:"busy"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
}

// DescribeTerminal builds the listing view of t.
func DescribeTerminal(t HostTerminal) TerminalInfo {
	info := TerminalInfo{
		ID:               t.ID(),
		TaskID:           t.TaskID(),
		InitialDirectory: t.InitialDirectory(),
		Busy:             t.Busy(),
	}
	if cwd, ok := t.CurrentDirectory(); ok {
		info.CurrentDirectory = cwd
	} else {
		info.CurrentDirectory = t.InitialDirectory()
	}
	if lt, ok := t.(*LocalTerminal); ok {
		info.CreatedAt = lt.createdAt
	}
	return info
}

// LocalTerminal runs commands through a local shell. The shell reports its
// working directory after every command, so the current directory is live.
type LocalTerminal struct {
	id         string
	taskID     string
	initialDir string
	shell      string
	createdAt  time.Time

	mu        sync.RWMutex
	cwd       string
	busy      bool
	sessionID string
}

// NewLocalTerminal creates a terminal rooted at dir.
func NewLocalTerminal(id, taskID, dir string) *LocalTerminal {
	dir = filepath.Clean(dir)
	return &LocalTerminal{
		id:         id,
		taskID:     taskID,
		initialDir: dir,
		shell:      DefaultShell,
		createdAt:  time.Now(),
		cwd:        dir,
	}
}

// ID implements HostTerminal.
func (t *LocalTerminal) ID() string { return t.id }

// TaskID implements HostTerminal.
func (t *LocalTerminal) TaskID() string { return t.taskID }

// InitialDirectory implements HostTerminal.
func (t *LocalTerminal) InitialDirectory() string { return t.initialDir }

// Shell implements HostTerminal.
func (t *LocalTerminal) Shell() string { return t.shell }

// SetShell replaces the interpreter.
func (t *LocalTerminal) SetShell(shell string) {
	if shell != "" {
		t.shell = shell
	}
}

// CurrentDirectory implements HostTerminal.
func (t *LocalTerminal) CurrentDirectory() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cwd, true
}

// SetCurrentDirectory implements HostTerminal.
func (t *LocalTerminal) SetCurrentDirectory(dir string) {
	if dir == "" {
		return
	}
	t.mu.Lock()
	t.cwd = filepath.Clean(dir)
	t.mu.Unlock()
}

// Busy implements HostTerminal.
func (t *LocalTerminal) Busy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.busy
}

// SetBusy implements HostTerminal.
func (t *LocalTerminal) SetBusy(busy bool) {
	t.mu.Lock()
	t.busy = busy
	t.mu.Unlock()
}

// SessionID implements HostTerminal.
func (t *LocalTerminal) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// SetSessionID binds the terminal to a session.
func (t *LocalTerminal) SetSessionID(id string) {
	t.mu.Lock()
	t.sessionID = id
	t.mu.Unlock()
}
