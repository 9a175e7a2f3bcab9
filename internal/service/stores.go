package service

import (
	"context"
	"time"

	"formflow/internal/model"
)

// Scope is the caller's workspace context. It is passed to every editor
// operation; there is no process-wide "current workspace".
type Scope struct {
	WorkspaceID string
	UserID      string
}

// FormStore persists whole form documents.
// SaveForm must write only when the stored version equals readVersion, bump
// the version by one, and return errorz.ErrVersionConflict otherwise.
type FormStore interface {
	CreateForm(ctx context.Context, form *model.Form) (*model.Form, error)
	LoadForm(ctx context.Context, id string) (*model.Form, error)
	SaveForm(ctx context.Context, form *model.Form, readVersion int64) (*model.Form, error)
	ListForms(ctx context.Context, workspaceID string, status *model.FormStatus) ([]*model.Form, error)
	DeleteForm(ctx context.Context, id string) error
}

type WorkspaceStore interface {
	CreateWorkspace(ctx context.Context, ws *model.Workspace) (*model.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (*model.Workspace, error)
}

type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub *model.Submission) (*model.Submission, error)
	ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]*model.Submission, error)
}

// Store is everything the relational backends provide
type Store interface {
	FormStore
	WorkspaceStore
	SubmissionStore
}

// SessionStore keeps in-flight respondent sessions.
// PutSession writes only when the stored version equals s.Version (0 for a
// new session), then bumps s.Version; otherwise it returns
// errorz.ErrVersionConflict and leaves s unchanged.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
	PutSession(ctx context.Context, s *model.Session) error
}

type EventBus interface {
	PublishWorkspace(workspaceID string, event map[string]interface{}) error
	PublishForm(formID string, event map[string]interface{}) error
	PublishSession(sessionID string, event map[string]interface{}) error
}

// JobClient interface for scheduling background jobs
type JobClient interface {
	ScheduleSessionExpiry(sessionID string, expireAt time.Time) error
}
