package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/agentexec/internal/events"
)

// connectedEvent is the first message of every event stream.
type connectedEvent struct {
	Message   string `json:"message" example:"SSE connection established" doc:"Status message"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// registerSSERoutes registers the process event stream.
func (s *Server) registerSSERoutes() {
	if s.eventBus == nil {
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of session, process and command events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":            connectedEvent{},
		"session-started":      events.SessionStartedEvent{},
		"session-terminated":   events.SessionTerminatedEvent{},
		"process-registered":   events.ProcessRegisteredEvent{},
		"process-unregistered": events.ProcessUnregisteredEvent{},
		"process-killed":       events.ProcessKilledEvent{},
		"command-completed":    events.CommandCompletedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 64)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionStartedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionTerminatedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProcessRegisteredEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProcessUnregisteredEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProcessKilledEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CommandCompletedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Sent once the subscriptions are in place.
		if err := send.Data(connectedEvent{
			Message:   "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
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
