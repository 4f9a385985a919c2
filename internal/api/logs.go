package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/agentexec/internal/api/models"
	"github.com/smazurov/agentexec/internal/events"
	"github.com/smazurov/agentexec/internal/logging"
)

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// filterLogs keeps entries of module at or above level, newest limit kept.
func filterLogs(entries []logging.LogEntry, module, level string, limit int) []models.LogEntryData {
	minRank := levelRank[level]
	out := make([]models.LogEntryData, 0, len(entries))
	for _, entry := range entries {
		if module != "" && entry.Module != module {
			continue
		}
		if levelRank[entry.Level] < minRank {
			continue
		}
		out = append(out, models.LogEntryData{
			Seq:        entry.Seq,
			Timestamp:  entry.Timestamp,
			Level:      entry.Level,
			Module:     entry.Module,
			Message:    entry.Message,
			Attributes: entry.Attributes,
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// registerLogRoutes registers the log buffer and log streaming routes.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Return buffered log entries, optionally filtered by module and minimum level",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(_ context.Context, input *models.LogsInput) (*models.LogsResponse, error) {
		if _, ok := levelRank[input.Level]; input.Level != "" && !ok {
			return nil, huma.Error400BadRequest("Unknown level " + input.Level)
		}

		var entries []logging.LogEntry
		if history := logging.GetHistory(); history != nil {
			entries = history.Entries()
		}
		data := filterLogs(entries, input.Module, input.Level, input.Limit)
		return &models.LogsResponse{
			Body: models.LogsData{Entries: data, Count: len(data)},
		}, nil
	})

	if s.eventBus == nil {
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends buffered logs first, then new entries.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing falls between the two; live
		// entries already covered by the replay are skipped by sequence.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		var replayed uint64
		if history := logging.GetHistory(); history != nil {
			for _, entry := range history.Entries() {
				if err := send.Data(logEvent(entry)); err != nil {
					return
				}
				replayed = entry.Seq
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if ev, ok := event.(events.LogEntryEvent); ok && ev.Seq <= replayed {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

func logEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}
