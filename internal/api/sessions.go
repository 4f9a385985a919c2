package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/agentexec/internal/api/models"
	"github.com/smazurov/agentexec/internal/events"
)

// registerSessionRoutes registers session lifecycle notifications.
func (s *Server) registerSessionRoutes() {
	if s.eventBus == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/start",
		Summary:     "Start Session",
		Description: "Announce the start of an agent session",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *models.SessionInput) (*models.SessionResponse, error) {
		s.eventBus.Publish(events.SessionStartedEvent{
			SessionID: input.ID,
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return &models.SessionResponse{
			Body: models.SessionData{SessionID: input.ID, Action: "start"},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "terminate-session",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/terminate",
		Summary:     "Terminate Session",
		Description: "End an agent session and kill every process tracked under it",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *models.SessionInput) (*models.SessionResponse, error) {
		killed := 0
		if s.registry != nil {
			killed = len(s.registry.SessionProcesses(input.ID))
			if err := s.registry.KillSessionProcesses(ctx, input.ID); err != nil {
				return nil, huma.Error500InternalServerError("Failed to kill session processes", err)
			}
		}
		s.eventBus.Publish(events.SessionTerminatedEvent{
			SessionID: input.ID,
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return &models.SessionResponse{
			Body: models.SessionData{SessionID: input.ID, Action: "terminate", Killed: killed},
		}, nil
	})
}
