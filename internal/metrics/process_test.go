package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackedProcessesGauge(t *testing.T) {
	SetTrackedProcesses(3)
	if got := testutil.ToFloat64(trackedProcesses); got != 3 {
		t.Errorf("tracked_processes = %v, want 3", got)
	}
	if got := GetSummary().Tracked; got != 3 {
		t.Errorf("summary tracked = %d, want 3", got)
	}

	SetTrackedProcesses(0)
	if got := testutil.ToFloat64(trackedProcesses); got != 0 {
		t.Errorf("tracked_processes = %v, want 0", got)
	}
}

func TestKillCountersBySignal(t *testing.T) {
	before := testutil.ToFloat64(killsTotal.WithLabelValues("SIGTERM"))
	beforeSummary := GetSummary().Kills

	IncKills("SIGTERM")
	IncKills("SIGTERM")
	IncKills("SIGKILL")

	if got := testutil.ToFloat64(killsTotal.WithLabelValues("SIGTERM")) - before; got != 2 {
		t.Errorf("SIGTERM kills delta = %v, want 2", got)
	}
	if got := GetSummary().Kills - beforeSummary; got != 3 {
		t.Errorf("summary kills delta = %v, want 3", got)
	}
}

func TestObserveExecution(t *testing.T) {
	before := GetSummary().Executions
	ObserveExecution("success", 250*time.Millisecond)

	if got := testutil.CollectAndCount(executionDuration); got == 0 {
		t.Error("expected execution histogram series")
	}
	if got := GetSummary().Executions - before; got != 1 {
		t.Errorf("executions delta = %v, want 1", got)
	}
}

func TestPoolTerminals(t *testing.T) {
	SetPoolTerminals(2, 5)
	if got := testutil.ToFloat64(poolTerminals.WithLabelValues("busy")); got != 2 {
		t.Errorf("busy = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poolTerminals.WithLabelValues("idle")); got != 5 {
		t.Errorf("idle = %v, want 5", got)
	}
}
