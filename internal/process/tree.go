package process

import (
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// TreeResolver enumerates the descendants of a process.
type TreeResolver interface {
	// Descendants returns every transitive child of pid, parents before
	// children. The root itself is not included.
	Descendants(pid int) ([]int, error)
}

// DefaultTreeResolver reads /proc when it is mounted and falls back to
// walking `pgrep -P` otherwise.
func DefaultTreeResolver() TreeResolver {
	if fs, err := procfs.NewDefaultFS(); err == nil {
		if _, statErr := fs.Stat(); statErr == nil {
			return &ProcfsResolver{fs: fs}
		}
	}
	return PgrepResolver{}
}

// ProcfsResolver builds the parent/child map from a single /proc scan.
type ProcfsResolver struct {
	fs procfs.FS
}

// NewProcfsResolver opens the procfs mount at mountPoint.
func NewProcfsResolver(mountPoint string) (*ProcfsResolver, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	return &ProcfsResolver{fs: fs}, nil
}

// Descendants implements TreeResolver.
func (r *ProcfsResolver) Descendants(pid int) ([]int, error) {
	procs, err := r.fs.AllProcs()
	if err != nil {
		return nil, err
	}

	children := make(map[int][]int)
	for _, p := range procs {
		stat, statErr := p.Stat()
		if statErr != nil {
			// Exited between listing and reading.
			continue
		}
		children[stat.PPID] = append(children[stat.PPID], stat.PID)
	}
	return walkTree(pid, func(parent int) ([]int, error) {
		return children[parent], nil
	})
}

// PgrepResolver shells out to pgrep once per tree level.
type PgrepResolver struct{}

// Descendants implements TreeResolver.
func (PgrepResolver) Descendants(pid int) ([]int, error) {
	return walkTree(pid, pgrepChildren)
}

func pgrepChildren(parent int) ([]int, error) {
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(parent)).Output()
	if err != nil {
		// pgrep exits 1 when nothing matched.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}

	var pids []int
	for _, field := range strings.Fields(string(out)) {
		if child, convErr := strconv.Atoi(field); convErr == nil {
			pids = append(pids, child)
		}
	}
	return pids, nil
}

// walkTree performs a breadth-first walk from root.
func walkTree(root int, childrenOf func(int) ([]int, error)) ([]int, error) {
	var result []int
	seen := map[int]bool{root: true}
	queue := []int{root}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		kids, err := childrenOf(parent)
		if err != nil {
			return result, err
		}
		for _, kid := range kids {
			if seen[kid] {
				continue
			}
			seen[kid] = true
			result = append(result, kid)
			queue = append(queue, kid)
		}
	}
	return result, nil
}

// groupAlive reports whether group pgid has a member that is not a zombie.
// Orphans reparented to an init that does not reap stay zombies forever.
func groupAlive(pgid int) bool {
	if !alive(-pgid) {
		return false
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return true
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return true
	}
	for _, p := range procs {
		stat, statErr := p.Stat()
		if statErr != nil {
			continue
		}
		if stat.PGRP == pgid && stat.State != "Z" && stat.State != "X" {
			return true
		}
	}
	return false
}
