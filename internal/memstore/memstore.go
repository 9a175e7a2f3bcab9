// Package memstore keeps forms, workspaces, submissions and sessions in
// process memory. Documents are stored as JSON so callers never share
// pointers with the store.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"formflow/internal/errorz"
	"formflow/internal/model"
)

type Store struct {
	mu          sync.RWMutex
	forms       map[string][]byte
	workspaces  map[string][]byte
	submissions []*model.Submission
}

func New() *Store {
	return &Store{
		forms:      make(map[string][]byte),
		workspaces: make(map[string][]byte),
	}
}

func (s *Store) CreateForm(ctx context.Context, form *model.Form) (*model.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[form.ID]; ok {
		return nil, fmt.Errorf("%w: form %s already exists", errorz.ErrInvalidInput, form.ID)
	}
	c := form.Clone()
	c.Version = 1
	return s.putForm(c)
}

func (s *Store) LoadForm(ctx context.Context, id string) (*model.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.forms[id]
	if !ok {
		return nil, fmt.Errorf("form %s: %w", id, errorz.ErrNotFound)
	}
	return decode[model.Form](b)
}

func (s *Store) SaveForm(ctx context.Context, form *model.Form, readVersion int64) (*model.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.forms[form.ID]
	if !ok {
		return nil, fmt.Errorf("form %s: %w", form.ID, errorz.ErrNotFound)
	}
	stored, err := decode[model.Form](b)
	if err != nil {
		return nil, err
	}
	if stored.Version != readVersion {
		return nil, fmt.Errorf("form %s: %w", form.ID, errorz.ErrVersionConflict)
	}
	c := form.Clone()
	c.Version = readVersion + 1
	return s.putForm(c)
}

func (s *Store) putForm(form *model.Form) (*model.Form, error) {
	b, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}
	s.forms[form.ID] = b
	return decode[model.Form](b)
}

// ListForms returns the workspace's forms, newest first
func (s *Store) ListForms(ctx context.Context, workspaceID string, status *model.FormStatus) ([]*model.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Form{}
	for _, b := range s.forms {
		f, err := decode[model.Form](b)
		if err != nil {
			return nil, err
		}
		if f.WorkspaceID != workspaceID || (status != nil && f.Status != *status) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteForm(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[id]; !ok {
		return fmt.Errorf("form %s: %w", id, errorz.ErrNotFound)
	}
	delete(s.forms, id)
	return nil
}

func (s *Store) CreateWorkspace(ctx context.Context, ws *model.Workspace) (*model.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(ws)
	if err != nil {
		return nil, err
	}
	s.workspaces[ws.ID] = b
	return decode[model.Workspace](b)
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, errorz.ErrNotFound)
	}
	return decode[model.Workspace](b)
}

func (s *Store) CreateSubmission(ctx context.Context, sub *model.Submission) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sub
	s.submissions = append(s.submissions, &c)
	return sub, nil
}

// ListSubmissions returns the form's submissions, oldest first
func (s *Store) ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]*model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Submission{}
	skipped := 0
	for _, sub := range s.submissions {
		if sub.FormID != formID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		c := *sub
		out = append(out, &c)
	}
	return out, nil
}

// Sessions is an in-memory SessionStore. Expiry is left to the job queue.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string][]byte)}
}

func (m *Sessions) GetSession(ctx context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, errorz.ErrNotFound)
	}
	return decode[model.Session](b)
}

func (m *Sessions) PutSession(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if b, ok := m.sessions[s.ID]; ok {
		stored, err := decode[model.Session](b)
		if err != nil {
			return err
		}
		current = stored.Version
	}
	if current != s.Version {
		return fmt.Errorf("session %s at version %d, write based on %d: %w", s.ID, current, s.Version, errorz.ErrVersionConflict)
	}

	next := *s
	next.Version++
	b, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	m.sessions[s.ID] = b
	s.Version = next.Version
	return nil
}

func decode[T any](b []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("failed to decode stored document: %w", err)
	}
	return &v, nil
}
