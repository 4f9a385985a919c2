package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/agentexec/internal/api/models"
	"github.com/smazurov/agentexec/internal/process"
)

func processToAPI(info process.Info) models.ProcessData {
	return models.ProcessData{
		ID:           info.ID,
		PID:          info.PID,
		Description:  info.Description,
		SessionID:    info.SessionID,
		RegisteredAt: info.RegisteredAt,
		Running:      info.Running,
	}
}

// registerProcessRoutes registers the registry routes.
func (s *Server) registerProcessRoutes() {
	if s.registry == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/api/processes",
		Summary:     "List Processes",
		Description: "List every process tracked by the registry",
		Tags:        []string{"processes"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.ProcessListResponse, error) {
		infos := s.registry.List()
		data := models.ProcessListData{
			Processes: make([]models.ProcessData, 0, len(infos)),
			Count:     len(infos),
		}
		for _, info := range infos {
			data.Processes = append(data.Processes, processToAPI(info))
		}
		return &models.ProcessListResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "kill-process",
		Method:      http.MethodDelete,
		Path:        "/api/processes/{id}",
		Summary:     "Kill Process",
		Description: "Kill the process tree of a tracked process. SIGTERM escalates to SIGKILL after the grace window.",
		Tags:        []string{"processes"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 500},
	}, func(ctx context.Context, input *models.ProcessIDInput) (*models.ProcessKillResponse, error) {
		sig := process.Graceful
		if input.Signal != "" {
			parsed, err := process.ParseSignal(input.Signal)
			if err != nil {
				return nil, huma.Error400BadRequest("Invalid signal", err)
			}
			sig = parsed
		}

		if !s.registry.Has(input.ID) {
			return nil, huma.Error404NotFound("Process not found")
		}
		if err := s.registry.KillProcess(ctx, input.ID, sig); err != nil {
			return nil, huma.Error500InternalServerError("Failed to kill process", err)
		}
		return &models.ProcessKillResponse{
			Body: models.ProcessKillData{
				ID:      input.ID,
				Signal:  sig.String(),
				Message: "Process killed",
			},
		}, nil
	})
}
