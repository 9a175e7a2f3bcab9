package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"formflow/internal/errorz"
	"formflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newForm(id, ws string, created time.Time) *model.Form {
	return &model.Form{
		ID:          id,
		WorkspaceID: ws,
		Name:        id,
		Status:      model.FormStatusDraft,
		Questions:   []model.Question{},
		FormSchema:  model.NewFormSchema(),
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestStore_FormVersioning(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateForm(ctx, newForm("f1", "ws", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = s.CreateForm(ctx, newForm("f1", "ws", time.Now()))
	assert.True(t, errors.Is(err, errorz.ErrInvalidInput))

	created.Name = "renamed"
	saved, err := s.SaveForm(ctx, created, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	_, err = s.SaveForm(ctx, created, 1)
	assert.True(t, errors.Is(err, errorz.ErrVersionConflict))

	loaded, err := s.LoadForm(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Name)

	// Returned documents are copies
	loaded.Name = "mutated"
	again, err := s.LoadForm(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", again.Name)

	require.NoError(t, s.DeleteForm(ctx, "f1"))
	_, err = s.LoadForm(ctx, "f1")
	assert.True(t, errors.Is(err, errorz.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteForm(ctx, "f1"), errorz.ErrNotFound))
}

func TestStore_ListForms(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.CreateForm(ctx, newForm("old", "ws", base))
	require.NoError(t, err)
	_, err = s.CreateForm(ctx, newForm("new", "ws", base.Add(time.Hour)))
	require.NoError(t, err)
	other := newForm("other", "ws2", base)
	other.Status = model.FormStatusPublished
	_, err = s.CreateForm(ctx, other)
	require.NoError(t, err)

	list, err := s.ListForms(ctx, "ws", nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)

	published := model.FormStatusPublished
	list, err = s.ListForms(ctx, "ws2", &published)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_Submissions(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_, err := s.CreateSubmission(ctx, &model.Submission{ID: id, FormID: "f", CreatedAt: time.Unix(int64(i), 0)})
		require.NoError(t, err)
	}
	_, err := s.CreateSubmission(ctx, &model.Submission{ID: "x", FormID: "g"})
	require.NoError(t, err)

	page, err := s.ListSubmissions(ctx, "f", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)
	assert.Equal(t, "c", page[1].ID)
}

func TestSessions(t *testing.T) {
	s := NewSessions()
	ctx := context.Background()

	_, err := s.GetSession(ctx, "missing")
	assert.True(t, errors.Is(err, errorz.ErrNotFound))

	sess := &model.Session{ID: "s1", FormID: "f", Status: model.SessionStatusInProgress, Answers: map[string]model.Value{"q": model.Scalar("a")}}
	require.NoError(t, s.PutSession(ctx, sess))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Answers["q"].String())
	assert.Equal(t, int64(1), got.Version)

	// A write based on a stale read is rejected
	got.Status = model.SessionStatusCompleted
	require.NoError(t, s.PutSession(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	sess.Status = model.SessionStatusAbandoned
	err = s.PutSession(ctx, sess)
	assert.True(t, errors.Is(err, errorz.ErrVersionConflict))
	assert.Equal(t, int64(1), sess.Version)

	again, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, again.Status)
}
