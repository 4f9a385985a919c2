package process

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Signal is a termination request sent to a process tree.
type Signal int

const (
	// Graceful asks the process to exit. It may be ignored.
	Graceful Signal = iota
	// Forceful cannot be caught or ignored.
	Forceful
)

// Sys returns the OS signal for s.
func (s Signal) Sys() unix.Signal {
	if s == Forceful {
		return unix.SIGKILL
	}
	return unix.SIGTERM
}

func (s Signal) String() string {
	return unix.SignalName(s.Sys())
}

// ParseSignal maps "graceful"/"SIGTERM" and "forceful"/"SIGKILL" to a Signal.
func ParseSignal(name string) (Signal, error) {
	switch name {
	case "", "graceful", "term", "SIGTERM":
		return Graceful, nil
	case "forceful", "kill", "SIGKILL":
		return Forceful, nil
	default:
		return Graceful, fmt.Errorf("unknown signal %q", name)
	}
}

// sendSignal delivers sig to pid. A negative pid addresses a process group.
// Signaling a process that no longer exists is not an error.
func sendSignal(pid int, sig unix.Signal) error {
	if pid == 0 || pid == 1 || pid == -1 {
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	err := unix.Kill(pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal %s to %d: %w", unix.SignalName(sig), pid, err)
}

// alive reports whether pid (or group, when negative) can still be signaled.
func alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
