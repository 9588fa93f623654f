package service

import (
	"context"
	"fmt"

	"github.com/punchliner/api/internal/hub"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/orchestrator"
	"github.com/punchliner/api/internal/task"
)

// GenerationService exposes generation tasks over the API. Completed
// artifacts reach the cache through the manager's completion hook.
type GenerationService struct {
	manager      *task.Manager
	orchestrator *orchestrator.Orchestrator
	hub          *hub.Hub
}

func NewGenerationService(manager *task.Manager, orch *orchestrator.Orchestrator, h *hub.Hub) *GenerationService {
	return &GenerationService{
		manager:      manager,
		orchestrator: orch,
		hub:          h,
	}
}

// Start answers from the cache when possible and creates a task otherwise.
// Retry requests skip the cache lookup.
func (s *GenerationService) Start(ctx context.Context, req *model.GenerationStartRequest) (*model.GenerationStartResponse, error) {
	greq := model.NewGenerationRequest(req.Kind, req.Params())

	if !req.Retry {
		if entry, ok := s.orchestrator.Lookup(ctx, greq); ok {
			return &model.GenerationStartResponse{
				Status:      model.TaskStatusCompleted,
				Fingerprint: greq.Fingerprint,
				ResultURL:   entry.ArtifactURL,
				Cached:      true,
			}, nil
		}
	}

	state, err := s.manager.Create(greq)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return &model.GenerationStartResponse{
		TaskID:      state.TaskID,
		Status:      state.Status,
		Fingerprint: greq.Fingerprint,
	}, nil
}

// Get returns the current state of a task
func (s *GenerationService) Get(taskID string) (*model.TaskState, error) {
	state, err := s.manager.Snapshot(taskID)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Cancel stops a task
func (s *GenerationService) Cancel(taskID string) (*model.GenerationCancelResponse, error) {
	state, err := s.manager.Cancel(taskID)
	if err != nil {
		return nil, err
	}
	return &model.GenerationCancelResponse{
		Success: true,
		TaskID:  taskID,
		Status:  state.Status,
	}, nil
}

// Subscribe opens an event subscription for a known task
func (s *GenerationService) Subscribe(taskID string) (*hub.Client, error) {
	if _, err := s.manager.Snapshot(taskID); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(taskID), nil
}
