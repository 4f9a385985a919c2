package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/agentexec/internal/api/models"
	"github.com/smazurov/agentexec/internal/process"
)

func executionToAPI(exec *process.Execution) models.ExecutionData {
	data := models.ExecutionData{
		ID:         exec.ID(),
		TerminalID: exec.Terminal().ID(),
		Command:    exec.Command(),
		State:      string(exec.State()),
	}
	select {
	case <-exec.Done():
		res := exec.Result()
		data.Result = &models.ExecutionResultData{
			ExitCode:   res.ExitCode,
			Signal:     res.Signal,
			Aborted:    res.Aborted,
			DurationMs: res.Duration.Milliseconds(),
			Directory:  res.Directory,
		}
	default:
	}
	return data
}

func terminalToAPI(info process.TerminalInfo) models.TerminalData {
	return models.TerminalData{
		ID:               info.ID,
		TaskID:           info.TaskID,
		InitialDirectory: info.InitialDirectory,
		CurrentDirectory: info.CurrentDirectory,
		Busy:             info.Busy,
		CreatedAt:        info.CreatedAt,
	}
}

// registerExecutionRoutes registers the terminal pool routes.
func (s *Server) registerExecutionRoutes() {
	if s.pool == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "list-terminals",
		Method:      http.MethodGet,
		Path:        "/api/terminals",
		Summary:     "List Terminals",
		Description: "List the pooled host terminals with their current directories",
		Tags:        []string{"executions"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.TerminalListResponse, error) {
		infos := s.pool.List()
		data := models.TerminalListData{
			Terminals: make([]models.TerminalData, 0, len(infos)),
			Count:     len(infos),
		}
		for _, info := range infos {
			data.Terminals = append(data.Terminals, terminalToAPI(info))
		}
		return &models.TerminalListResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-execution",
		Method:        http.MethodPost,
		Path:          "/api/executions",
		Summary:       "Run Command",
		Description:   "Run a command in a pooled terminal. Output is retrieved by polling the output route.",
		Tags:          []string{"executions"},
		Security:      withAuth(),
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 500, 503},
	}, func(_ context.Context, input *models.ExecutionRequest) (*models.ExecutionResponse, error) {
		info, err := os.Stat(input.Body.WorkingDir)
		if err != nil || !info.IsDir() {
			return nil, huma.Error400BadRequest("Working directory does not exist")
		}

		exec, err := s.pool.Run(input.Body.WorkingDir, input.Body.TaskID, input.Body.Command)
		switch {
		case err == nil:
		case errors.Is(err, process.ErrPoolFull), errors.Is(err, process.ErrPoolClosed):
			return nil, huma.Error503ServiceUnavailable("No terminal available", err)
		case errors.Is(err, process.ErrEmptyCommand):
			return nil, huma.Error400BadRequest("Command is empty", err)
		default:
			return nil, huma.Error500InternalServerError("Failed to start command", err)
		}

		s.logger.Info("Execution created", "execution_id", exec.ID(), "terminal_id", exec.Terminal().ID())
		return &models.ExecutionResponse{Body: executionToAPI(exec)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-execution-output",
		Method:      http.MethodGet,
		Path:        "/api/executions/{id}/output",
		Summary:     "Poll Output",
		Description: "Return the complete output lines written since the previous poll",
		Tags:        []string{"executions"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.ExecutionIDInput) (*models.ExecutionOutputResponse, error) {
		exec, ok := s.pool.Execution(input.ID)
		if !ok {
			return nil, huma.Error404NotFound("Execution not found")
		}
		output := exec.UnretrievedOutput()
		return &models.ExecutionOutputResponse{
			Body: models.ExecutionOutputData{
				ExecutionData: executionToAPI(exec),
				Output:        output,
				More:          exec.HasUnretrievedOutput(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "abort-execution",
		Method:      http.MethodDelete,
		Path:        "/api/executions/{id}",
		Summary:     "Abort Execution",
		Description: "Abort a running command. Aborting a finished command has no effect.",
		Tags:        []string{"executions"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.ExecutionIDInput) (*models.ExecutionResponse, error) {
		exec, ok := s.pool.Execution(input.ID)
		if !ok {
			return nil, huma.Error404NotFound("Execution not found")
		}
		exec.Abort()
		return &models.ExecutionResponse{Body: executionToAPI(exec)}, nil
	})
}
