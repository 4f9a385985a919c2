package process

import (
	"errors"
	"os/exec"
	"slices"
	"testing"
	"time"
)

func TestWalkTreeBreadthFirst(t *testing.T) {
	tree := map[int][]int{
		1: {2, 3},
		2: {4},
		3: {5, 2},
		4: {6},
	}
	got, err := walkTree(1, func(p int) ([]int, error) { return tree[p], nil })
	if err != nil {
		t.Fatalf("walkTree failed: %v", err)
	}
	want := []int{2, 3, 4, 5, 6}
	if !slices.Equal(got, want) {
		t.Errorf("walkTree = %v, want %v", got, want)
	}
}

func TestWalkTreeStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	got, err := walkTree(1, func(p int) ([]int, error) {
		if p == 2 {
			return nil, boom
		}
		return []int{2}, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !slices.Equal(got, []int{2}) {
		t.Errorf("expected partial result [2], got %v", got)
	}
}

func testResolverFindsChildren(t *testing.T, r TreeResolver) {
	t.Helper()
	h := spawnShell(t, "sleep 30 & sleep 30 & wait")

	eventually(t, 2*time.Second, func() bool {
		pids, err := r.Descendants(h.Pid())
		return err == nil && len(pids) >= 2
	}, "two children visible")
}

func TestProcfsResolver(t *testing.T) {
	r, err := NewProcfsResolver("/proc")
	if err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}
	testResolverFindsChildren(t, r)
}

func TestPgrepResolver(t *testing.T) {
	if _, err := exec.LookPath("pgrep"); err != nil {
		t.Skip("pgrep not installed")
	}
	testResolverFindsChildren(t, PgrepResolver{})
}

func TestResolverNoChildren(t *testing.T) {
	h := spawnShell(t, "exec sleep 30")
	time.Sleep(50 * time.Millisecond)

	pids, err := DefaultTreeResolver().Descendants(h.Pid())
	if err != nil {
		t.Fatalf("Descendants failed: %v", err)
	}
	if len(pids) != 0 {
		t.Errorf("expected no descendants, got %v", pids)
	}
}
