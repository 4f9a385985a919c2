package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/agentexec/internal/events"
	"github.com/smazurov/agentexec/internal/metrics"
	"github.com/smazurov/agentexec/internal/metrics/exporters"
)

// registerMetricsRoutes registers the metrics summary stream.
func (s *Server) registerMetricsRoutes() {
	if s.eventBus == nil {
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Server-Sent Events Stream",
		Description: "Process counters, sent on connect and whenever they change",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, exporters.GetEventTypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)
		unsubscribe := events.SubscribeToChannel[events.MetricsSummaryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		if err := send.Data(exporters.SummaryEvent(metrics.GetSummary())); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
