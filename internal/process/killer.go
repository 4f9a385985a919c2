package process

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smazurov/agentexec/internal/metrics"
	"golang.org/x/sys/unix"
)

const (
	// DefaultGraceWindow is how long a graceful kill waits before escalating.
	DefaultGraceWindow = 5 * time.Second

	// killTimeout bounds the wait for exit after a forceful signal.
	killTimeout = 5 * time.Second

	pollInterval = 25 * time.Millisecond
)

// TreeKiller signals a process, its descendants and its process group.
type TreeKiller struct {
	resolver TreeResolver
	logger   *slog.Logger
}

// NewTreeKiller creates a killer. A nil resolver selects DefaultTreeResolver.
func NewTreeKiller(resolver TreeResolver, logger *slog.Logger) *TreeKiller {
	if resolver == nil {
		resolver = DefaultTreeResolver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeKiller{resolver: resolver, logger: logger}
}

// Kill sends sig to the tree rooted at h. A graceful kill waits up to grace
// for the tree to disappear and then sends the forceful signal to the same
// pids plus any descendants spawned meanwhile. A grace of zero escalates
// immediately. Cancelling ctx cuts the grace window short.
//
// The returned bool reports whether escalation happened. Signaling processes
// that are already gone is not an error.
func (k *TreeKiller) Kill(ctx context.Context, h *Handle, sig Signal, grace time.Duration) (bool, error) {
	pids := k.descendants(h)
	err := k.signalTree(h, pids, sig.Sys())
	metrics.IncKills(sig.String())

	if sig == Forceful {
		k.awaitExit(h)
		return false, err
	}

	if k.waitGone(ctx, h, grace) {
		return false, err
	}

	metrics.IncEscalations()
	k.logger.Warn("Graceful shutdown timeout, forcing kill", "pid", h.Pid(), "grace", grace)

	pids = mergePids(pids, k.descendants(h))
	forceErr := k.signalTree(h, pids, Forceful.Sys())
	metrics.IncKills(Forceful.String())
	k.awaitExit(h)

	return true, errors.Join(err, forceErr)
}

// descendants resolves the live children of h. Once the root has been reaped
// its children are reparented and only the process group still reaches them.
func (k *TreeKiller) descendants(h *Handle) []int {
	if h.Exited() {
		return nil
	}
	pids, err := k.resolver.Descendants(h.Pid())
	if err != nil {
		k.logger.Debug("Failed to resolve process tree", "pid", h.Pid(), "error", err)
	}
	return pids
}

// signalTree signals the deepest descendants first, then the root, then the
// whole process group.
func (k *TreeKiller) signalTree(h *Handle, pids []int, sig unix.Signal) error {
	var errs []error
	for i := len(pids) - 1; i >= 0; i-- {
		if err := sendSignal(pids[i], sig); err != nil {
			errs = append(errs, err)
		}
	}
	if !h.Exited() {
		if err := sendSignal(h.Pid(), sig); err != nil {
			errs = append(errs, err)
		}
	}
	if groupSignalable(h) {
		if err := sendSignal(-h.Pid(), sig); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		k.logger.Warn("Failed to signal process tree", "pid", h.Pid(), "signal", unix.SignalName(sig), "error", err)
	}
	return err
}

// waitGone reports whether the tree disappeared within grace.
func (k *TreeKiller) waitGone(ctx context.Context, h *Handle, grace time.Duration) bool {
	if treeGone(h) {
		return true
	}
	if grace <= 0 {
		return false
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			return treeGone(h)
		case <-ctx.Done():
			return treeGone(h)
		case <-ticker.C:
			if treeGone(h) {
				return true
			}
		}
	}
}

func (k *TreeKiller) awaitExit(h *Handle) {
	select {
	case <-h.Done():
	case <-time.After(killTimeout):
		k.logger.Error("Process did not exit after kill signal", "pid", h.Pid())
	}
}

// treeGone reports whether the root was reaped and its group has no live
// members left.
// groupSignalable reports whether -pid still addresses the group of h. A pid
// stays reserved while a group uses it as id, so once the root was reaped a
// live process with that pid means the id was recycled.
func groupSignalable(h *Handle) bool {
	if !h.Exited() {
		return true
	}
	if alive(h.Pid()) {
		return false
	}
	return groupAlive(h.Pid())
}

func treeGone(h *Handle) bool {
	return h.Exited() && !groupAlive(h.Pid())
}

func mergePids(a, b []int) []int {
	seen := make(map[int]bool, len(a))
	for _, pid := range a {
		seen[pid] = true
	}
	for _, pid := range b {
		if !seen[pid] {
			a = append(a, pid)
			seen[pid] = true
		}
	}
	return a
}

// Gone reports whether the process was reaped and nothing of its group is
// left running.
func (h *Handle) Gone() bool {
	return treeGone(h)
}
