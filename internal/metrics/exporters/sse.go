package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/agentexec/internal/events"
	"github.com/smazurov/agentexec/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter publishes the process counters on the event bus so the API
// can stream them. A summary is published only when it changed.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	last    metrics.Summary
	started bool
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
	}
}

// Start begins the export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = false
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the exporter and waits for the loop to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishSummary()
		}
	}
}

func (s *SSEExporter) publishSummary() {
	summary := metrics.GetSummary()
	if s.started && summary == s.last {
		return
	}
	s.last = summary
	s.started = true

	s.eventBus.Publish(SummaryEvent(summary))
}

// SummaryEvent converts a counter snapshot into its event form.
func SummaryEvent(summary metrics.Summary) events.MetricsSummaryEvent {
	return events.MetricsSummaryEvent{
		Tracked:     summary.Tracked,
		Kills:       formatCount(summary.Kills),
		Escalations: formatCount(summary.Escalations),
		Executions:  formatCount(summary.Executions),
		Records:     formatCount(summary.Records),
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

func formatCount(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64)
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"metrics-summary": events.MetricsSummaryEvent{},
	}
}
