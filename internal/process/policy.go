package process

import (
	"os"
	"strings"
	"time"
)

// Policy holds the environment-dependent timing of long-running subprocesses.
type Policy struct {
	// Compat is set when running under a compatibility layer (WSL) where
	// subprocesses hang more often and signals are less reliable.
	Compat bool `json:"compat"`

	// Timeout bounds the total run time of a streaming subprocess.
	Timeout time.Duration `json:"timeout"`

	// GraceWindow is the wait between the graceful and forceful teardown
	// signals.
	GraceWindow time.Duration `json:"grace_window"`

	// HeartbeatInterval enables liveness probing when positive.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

// StandardPolicy is used on native hosts.
func StandardPolicy() Policy {
	return Policy{
		Timeout:     10 * time.Minute,
		GraceWindow: DefaultGraceWindow,
	}
}

// CompatPolicy is used under compatibility layers.
func CompatPolicy() Policy {
	return Policy{
		Compat:            true,
		Timeout:           3 * time.Minute,
		GraceWindow:       time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// DetectPolicy probes the environment once and returns the matching policy.
func DetectPolicy() Policy {
	if isCompatEnvironment(os.Getenv, "/proc/sys/kernel/osrelease") {
		return CompatPolicy()
	}
	return StandardPolicy()
}

func isCompatEnvironment(getenv func(string) string, osreleasePath string) bool {
	if getenv("WSL_DISTRO_NAME") != "" || getenv("WSL_INTEROP") != "" {
		return true
	}
	data, err := os.ReadFile(osreleasePath)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

// WithOverrides returns p with every non-zero field of o applied.
func (p Policy) WithOverrides(o Policy) Policy {
	if o.Timeout > 0 {
		p.Timeout = o.Timeout
	}
	if o.GraceWindow > 0 {
		p.GraceWindow = o.GraceWindow
	}
	if o.HeartbeatInterval > 0 {
		p.HeartbeatInterval = o.HeartbeatInterval
	}
	return p
}
