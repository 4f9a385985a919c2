package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/agentexec/internal/events"
	"github.com/smazurov/agentexec/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{
		events:    make([]events.Event, 0),
		published: make(chan struct{}, 100),
	}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Event, len(m.events))
	copy(result, m.events)
	return result
}

func TestSSEExporterPublishesSummary(t *testing.T) {
	metrics.SetTrackedProcesses(3)
	defer metrics.SetTrackedProcesses(0)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	exporter.Start(ctx)

	select {
	case <-mock.published:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for summary publish")
	}

	cancel()
	exporter.Stop()

	evts := mock.getEvents()
	if len(evts) == 0 {
		t.Fatal("expected at least one event")
	}
	summary, ok := evts[0].(events.MetricsSummaryEvent)
	if !ok {
		t.Fatalf("expected MetricsSummaryEvent, got %T", evts[0])
	}
	if summary.Tracked != 3 {
		t.Errorf("Tracked = %d, want 3", summary.Tracked)
	}
	if summary.Timestamp == "" {
		t.Error("expected timestamp")
	}
}

func TestSSEExporterSkipsUnchangedSummary(t *testing.T) {
	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	exporter.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	exporter.Stop()

	// Other tests in the package may move the counters, but an idle
	// process never produces one event per tick.
	if n := len(mock.getEvents()); n == 0 || n > 3 {
		t.Errorf("expected one summary for an idle process, got %d", n)
	}
}

func TestSSEExporterStopIdempotent(t *testing.T) {
	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	exporter.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	exporter.Stop()
	exporter.Stop()
	exporter.Stop()

	countAfterStop := len(mock.getEvents())
	metrics.IncEscalations()
	time.Sleep(30 * time.Millisecond)

	if got := len(mock.getEvents()); got != countAfterStop {
		t.Errorf("events published after stop: got %d, want %d", got, countAfterStop)
	}
}

func TestSSEExporterStopBeforeStart(t *testing.T) {
	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	// Stop before start should not panic
	exporter.Stop()

	exporter.Start(t.Context())
	time.Sleep(40 * time.Millisecond)
	exporter.Stop()

	if len(mock.getEvents()) == 0 {
		t.Error("expected events after Start(), got none")
	}
}

func TestGetEventTypes(t *testing.T) {
	types := GetEventTypes()
	if _, ok := types["metrics-summary"]; !ok {
		t.Error("expected metrics-summary event type")
	}
}
