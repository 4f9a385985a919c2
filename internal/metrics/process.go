// Package metrics provides Prometheus metrics for tracked processes, command
// executions and streaming CLI sessions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trackedProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentexec",
		Subsystem: "registry",
		Name:      "tracked_processes",
		Help:      "Number of processes currently tracked by the registry",
	})

	killsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentexec",
		Subsystem: "registry",
		Name:      "kills_total",
		Help:      "Signals delivered to tracked process trees",
	}, []string{"signal"})

	escalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentexec",
		Subsystem: "registry",
		Name:      "escalations_total",
		Help:      "Graceful kills that had to be escalated to a forceful signal",
	})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentexec",
		Subsystem: "execution",
		Name:      "duration_seconds",
		Help:      "Wall time of shell command executions",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"outcome"})

	poolTerminals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentexec",
		Subsystem: "pool",
		Name:      "terminals",
		Help:      "Host terminals in the pool by state",
	}, []string{"state"})

	streamRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentexec",
		Subsystem: "streamcli",
		Name:      "records_total",
		Help:      "Records decoded from streaming CLI output",
	}, []string{"kind"})

	streamHeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentexec",
		Subsystem: "streamcli",
		Name:      "heartbeat_failures_total",
		Help:      "Liveness probes that found the streaming process gone",
	})

	// Local cache for the API summary endpoint.
	summary   Summary
	summaryMu sync.RWMutex
)

// Summary holds counters mirrored from the Prometheus collectors.
type Summary struct {
	Tracked     int     `json:"tracked"`
	Kills       float64 `json:"kills"`
	Escalations float64 `json:"escalations"`
	Executions  float64 `json:"executions"`
	Records     float64 `json:"records"`
}

// SetTrackedProcesses records the current registry size.
func SetTrackedProcesses(n int) {
	trackedProcesses.Set(float64(n))
	updateSummary(func(s *Summary) { s.Tracked = n })
}

// IncKills counts a signal sent to a process tree.
func IncKills(signal string) {
	killsTotal.WithLabelValues(signal).Inc()
	updateSummary(func(s *Summary) { s.Kills++ })
}

// IncEscalations counts a graceful kill that timed out.
func IncEscalations() {
	escalationsTotal.Inc()
	updateSummary(func(s *Summary) { s.Escalations++ })
}

// ObserveExecution records a finished command execution.
// Outcome is one of "success", "failure" or "aborted".
func ObserveExecution(outcome string, d time.Duration) {
	executionDuration.WithLabelValues(outcome).Observe(d.Seconds())
	updateSummary(func(s *Summary) { s.Executions++ })
}

// SetPoolTerminals records pool occupancy.
func SetPoolTerminals(busy, idle int) {
	poolTerminals.WithLabelValues("busy").Set(float64(busy))
	poolTerminals.WithLabelValues("idle").Set(float64(idle))
}

// IncStreamRecords counts a decoded record. Kind is "record" or "salvaged".
func IncStreamRecords(kind string) {
	streamRecords.WithLabelValues(kind).Inc()
	updateSummary(func(s *Summary) { s.Records++ })
}

// IncHeartbeatFailures counts a failed liveness probe.
func IncHeartbeatFailures() {
	streamHeartbeatFailures.Inc()
}

// GetSummary returns a copy of the current counters.
func GetSummary() Summary {
	summaryMu.RLock()
	defer summaryMu.RUnlock()
	return summary
}

func updateSummary(update func(*Summary)) {
	summaryMu.Lock()
	defer summaryMu.Unlock()
	update(&summary)
}
