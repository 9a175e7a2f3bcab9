package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"formflow/internal/errorz"
	"formflow/internal/model"
)

// MockEventBus implements EventBus for testing
type MockEventBus struct {
	mu     sync.Mutex
	events []map[string]interface{}
}

func (m *MockEventBus) PublishWorkspace(workspaceID string, event map[string]interface{}) error {
	return m.record(event)
}

func (m *MockEventBus) PublishForm(formID string, event map[string]interface{}) error {
	return m.record(event)
}

func (m *MockEventBus) PublishSession(sessionID string, event map[string]interface{}) error {
	return m.record(event)
}

func (m *MockEventBus) record(event map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventBus) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i], _ = e["type"].(string)
	}
	return out
}

// memStore is an in-memory Store that round-trips documents through JSON
// like the real backends do.
type memStore struct {
	mu          sync.Mutex
	forms       map[string][]byte
	workspaces  map[string]*model.Workspace
	submissions []*model.Submission
	saveErr     error
}

func newMemStore() *memStore {
	return &memStore{
		forms:      make(map[string][]byte),
		workspaces: make(map[string]*model.Workspace),
	}
}

func (m *memStore) CreateForm(ctx context.Context, form *model.Form) (*model.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	form.Version = 1
	b, err := json.Marshal(form)
	if err != nil {
		return nil, err
	}
	m.forms[form.ID] = b
	return decodeForm(b)
}

func (m *memStore) LoadForm(ctx context.Context, id string) (*model.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.forms[id]
	if !ok {
		return nil, fmt.Errorf("form %s: %w", id, errorz.ErrNotFound)
	}
	return decodeForm(b)
}

func (m *memStore) SaveForm(ctx context.Context, form *model.Form, readVersion int64) (*model.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	b, ok := m.forms[form.ID]
	if !ok {
		return nil, fmt.Errorf("form %s: %w", form.ID, errorz.ErrNotFound)
	}
	stored, err := decodeForm(b)
	if err != nil {
		return nil, err
	}
	if stored.Version != readVersion {
		return nil, fmt.Errorf("form %s: %w", form.ID, errorz.ErrVersionConflict)
	}
	form.Version = readVersion + 1
	b, err = json.Marshal(form)
	if err != nil {
		return nil, err
	}
	m.forms[form.ID] = b
	return decodeForm(b)
}

func (m *memStore) ListForms(ctx context.Context, workspaceID string, status *model.FormStatus) ([]*model.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Form
	for _, b := range m.forms {
		f, err := decodeForm(b)
		if err != nil {
			return nil, err
		}
		if f.WorkspaceID != workspaceID || (status != nil && f.Status != *status) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *memStore) DeleteForm(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.forms[id]; !ok {
		return fmt.Errorf("form %s: %w", id, errorz.ErrNotFound)
	}
	delete(m.forms, id)
	return nil
}

func (m *memStore) CreateWorkspace(ctx context.Context, ws *model.Workspace) (*model.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[ws.ID] = ws
	return ws, nil
}

func (m *memStore) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, errorz.ErrNotFound)
	}
	return ws, nil
}

func (m *memStore) CreateSubmission(ctx context.Context, sub *model.Submission) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, sub)
	return sub, nil
}

func (m *memStore) ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Submission
	for _, s := range m.submissions {
		if s.FormID == formID {
			out = append(out, s)
		}
	}
	return out, nil
}

func decodeForm(b []byte) (*model.Form, error) {
	var f model.Form
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string][]byte)}
}

func (m *memSessions) GetSession(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, errorz.ErrNotFound)
	}
	var s model.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *memSessions) PutSession(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if b, ok := m.sessions[s.ID]; ok {
		var stored model.Session
		if err := json.Unmarshal(b, &stored); err != nil {
			return err
		}
		current = stored.Version
	}
	if current != s.Version {
		return fmt.Errorf("session %s: %w", s.ID, errorz.ErrVersionConflict)
	}
	next := *s
	next.Version++
	b, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	m.sessions[s.ID] = b
	s.Version = next.Version
	return nil
}

// lockstepSessions holds every GetSession caller until all of them have read,
// so concurrent answers all see the same session state.
type lockstepSessions struct {
	SessionStore
	reads *sync.WaitGroup
}

func (l *lockstepSessions) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := l.SessionStore.GetSession(ctx, id)
	l.reads.Done()
	l.reads.Wait()
	return sess, err
}

type fakeJobs struct {
	scheduled map[string]time.Time
}

func (f *fakeJobs) ScheduleSessionExpiry(sessionID string, expireAt time.Time) error {
	if f.scheduled == nil {
		f.scheduled = make(map[string]time.Time)
	}
	f.scheduled[sessionID] = expireAt
	return nil
}

type seqMinter struct{ n int }

func (m *seqMinter) NewID() string {
	m.n++
	return fmt.Sprintf("q%d", m.n)
}
