package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"formflow/internal/errorz"
	"formflow/internal/model"

	"github.com/oklog/ulid/v2"
)

type WorkspaceService struct {
	workspaces WorkspaceStore
}

func NewWorkspaceService(workspaces WorkspaceStore) *WorkspaceService {
	return &WorkspaceService{workspaces: workspaces}
}

// CreateWorkspace creates a new workspace
func (s *WorkspaceService) CreateWorkspace(ctx context.Context, name string) (*model.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", errorz.ErrInvalidInput)
	}

	ws, err := s.workspaces.CreateWorkspace(ctx, &model.Workspace{
		ID:        ulid.Make().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return ws, nil
}

// GetWorkspace returns a workspace the scope belongs to
func (s *WorkspaceService) GetWorkspace(ctx context.Context, scope Scope, id string) (*model.Workspace, error) {
	if scope.WorkspaceID != id {
		return nil, fmt.Errorf("workspace %s: %w", id, errorz.ErrForbidden)
	}
	ws, err := s.workspaces.GetWorkspace(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("workspace not found: %w", err)
	}
	return ws, nil
}
