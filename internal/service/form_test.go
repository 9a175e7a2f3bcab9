package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"formflow/internal/errorz"
	"formflow/internal/graph"
	"formflow/internal/model"
	"formflow/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var editor = Scope{WorkspaceID: "ws1", UserID: "u1"}

func newFormService(t *testing.T) (*FormService, *memStore, *MockEventBus) {
	t.Helper()
	store := newMemStore()
	bus := &MockEventBus{}
	svc := NewFormService(store, bus, schema.NewCompilerWithCache(16), zap.NewNop())
	svc.SetIDMinter(&seqMinter{})
	return svc, store, bus
}

func textQ(title string) model.Question {
	return model.Question{Title: title, Details: model.TextDetails{SubType: model.TextSubTypeText}}
}

func TestFormService_CreateForm(t *testing.T) {
	svc, _, bus := newFormService(t)
	ctx := context.Background()

	form, err := svc.CreateForm(ctx, editor, CreateFormInput{
		Name:      "Onboarding",
		Questions: []model.Question{textQ("name"), textQ("email")},
	})
	require.NoError(t, err)

	assert.Equal(t, model.FormStatusDraft, form.Status)
	assert.Equal(t, int64(1), form.Version)
	assert.Equal(t, "ws1", form.WorkspaceID)
	require.Len(t, form.Questions, 2)
	assert.Equal(t, "q1", form.Questions[0].ID)
	assert.Equal(t, []string{"q1", "q2"}, form.FormSchema.Required)
	assert.Equal(t, []string{"form.created"}, bus.types())

	_, err = svc.CreateForm(ctx, editor, CreateFormInput{})
	assert.True(t, errors.Is(err, errorz.ErrInvalidInput))
	_, err = svc.CreateForm(ctx, Scope{}, CreateFormInput{Name: "x"})
	assert.True(t, errors.Is(err, errorz.ErrInvalidInput))
}

func TestFormService_CreateFormRemapsInitialBranchTargets(t *testing.T) {
	svc, _, _ := newFormService(t)
	svc.SetIDMinter(graph.UUIDMinter{})
	ctx := context.Background()

	always := func(to string) model.Logic {
		return model.Logic{Condition: model.ConditionAlways, Value: model.Scalar(""), SkipTo: to}
	}
	a := textQ("a")
	a.ID = "a"
	a.Logic = []model.Logic{always("c")}
	b := textQ("b")
	b.ID = "b"
	b.Logic = []model.Logic{always(model.EndTarget)}
	c := textQ("c")
	c.ID = "c"

	form, err := svc.CreateForm(ctx, editor, CreateFormInput{
		Name:      "Branching",
		Questions: []model.Question{a, b, c},
	})
	require.NoError(t, err)
	require.Len(t, form.Questions, 3)

	assert.Empty(t, graph.Integrity(form))
	assert.NotEqual(t, "c", form.Questions[2].ID)
	require.Len(t, form.Questions[0].Logic, 1)
	assert.Equal(t, form.Questions[2].ID, form.Questions[0].Logic[0].SkipTo)
	assert.Equal(t, form.Questions[0].ID, form.Questions[0].Logic[0].QuestionID)
	assert.Equal(t, model.EndTarget, form.Questions[1].Logic[0].SkipTo)

	loaded, err := svc.GetForm(ctx, editor, form.ID)
	require.NoError(t, err)
	assert.Empty(t, graph.Integrity(loaded))
}

func TestFormService_ScopeIsEnforced(t *testing.T) {
	svc, _, _ := newFormService(t)
	ctx := context.Background()

	form, err := svc.CreateForm(ctx, editor, CreateFormInput{Name: "F"})
	require.NoError(t, err)

	other := Scope{WorkspaceID: "ws2"}
	_, err = svc.GetForm(ctx, other, form.ID)
	assert.True(t, errors.Is(err, errorz.ErrForbidden))
	_, _, err = svc.AddQuestion(ctx, other, form.ID, 0, graph.AddQuestionInput{Question: textQ("x")})
	assert.True(t, errors.Is(err, errorz.ErrForbidden))
	assert.True(t, errors.Is(svc.DeleteForm(ctx, other, form.ID), errorz.ErrForbidden))

	list, err := svc.ListForms(ctx, other, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFormService_VersionConflict(t *testing.T) {
	svc, _, _ := newFormService(t)
	ctx := context.Background()

	form, err := svc.CreateForm(ctx, editor, CreateFormInput{Name: "F"})
	require.NoError(t, err)

	updated, _, err := svc.AddQuestion(ctx, editor, form.ID, form.Version, graph.AddQuestionInput{Question: textQ("a")})
	require.NoError(t, err)
	assert.Equal(t, form.Version+1, updated.Version)

	// A second editor still holding version 1 is rejected
	_, _, err = svc.AddQuestion(ctx, editor, form.ID, form.Version, graph.AddQuestionInput{Question: textQ("b")})
	assert.True(t, errors.Is(err, errorz.ErrVersionConflict))

	// Version 0 skips the check
	_, _, err = svc.AddQuestion(ctx, editor, form.ID, 0, graph.AddQuestionInput{Question: textQ("b")})
	require.NoError(t, err)
}

func TestFormService_ConcurrentWriterDetectedOnSave(t *testing.T) {
	svc, store, _ := newFormService(t)
	ctx := context.Background()

	form, err := svc.CreateForm(ctx, editor, CreateFormInput{Name: "F"})
	require.NoError(t, err)

	store.saveErr = errorz.ErrVersionConflict
	_, _, err = svc.AddQuestion(ctx, editor, form.ID, 0, graph.AddQuestionInput{Question: textQ("a")})
	assert.True(t, errors.Is(err, errorz.ErrVersionConflict))

	store.saveErr = errors.New("disk full")
	_, _, err = svc.AddQuestion(ctx, editor, form.ID, 0, graph.AddQuestionInput{Question: textQ("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save form")
}

func TestFormService_RejectedMutationIsNotPersisted(t *testing.T) {
	svc, store, bus := newFormService(t)
	ctx := context.Background()

	form, err := svc.CreateForm(ctx, editor, CreateFormInput{Name: "F", Questions: []model.Question{textQ("a")}})
	require.NoError(t, err)

	_, err = svc.DeleteQuestion(ctx, editor, form.ID, 0, "missing")
	assert.True(t, errors.Is(err, errorz.ErrNotFound))

	stored, err := store.LoadForm(ctx, form.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, []string{"form.created"}, bus.types())
}

func TestFormService_EditorWorkflow(t *testing.T) {
	svc, _, bus := newFormService(t)
	ctx := context.Background()

	form, err := svc.CreateForm(ctx, editor, CreateFormInput{Name: "Survey", Questions: []model.Question{textQ("intro")}})
	require.NoError(t, err)

	form, sel, err := svc.AddQuestion(ctx, editor, form.ID, form.Version, graph.AddQuestionInput{
		TargetIndex: 1,
		Question: model.Question{Title: "like it?", Details: model.SelectDetails{
			SubType: model.SelectSubTypeSingle,
			Options: []model.Option{{Label: "Yes"}, {Label: "No"}},
		}},
	})
	require.NoError(t, err)

	form, thanks, err := svc.AddQuestion(ctx, editor, form.ID, form.Version, graph.AddQuestionInput{
		TargetIndex: 2,
		Question:    model.Question{Title: "thanks", Details: model.CTADetails{ButtonText: "Done", ActionType: model.CTAActionEndScreen}},
	})
	require.NoError(t, err)

	rules, err := json.Marshal([]model.Logic{{Condition: model.ConditionIs, Value: model.Scalar("No"), SkipTo: thanks.ID}})
	require.NoError(t, err)
	form, edited, err := svc.EditQuestion(ctx, editor, form.ID, form.Version, sel.ID, map[string]json.RawMessage{"logic": rules})
	require.NoError(t, err)
	assert.Equal(t, sel.ID, edited.Logic[0].QuestionID)

	form, dup, err := svc.DuplicateQuestion(ctx, editor, form.ID, form.Version, sel.ID)
	require.NoError(t, err)
	assert.Equal(t, "like it? (copy)", dup.Title)
	assert.Len(t, form.Questions, 4)

	form, moved, err := svc.ReorderQuestions(ctx, editor, form.ID, form.Version, []string{form.Questions[0].ID, dup.ID, sel.ID, thanks.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dup.ID, sel.ID}, moved)

	form, err = svc.DeleteQuestion(ctx, editor, form.ID, form.Version, thanks.ID)
	require.NoError(t, err)

	dangling, err := svc.Integrity(ctx, editor, form.ID)
	require.NoError(t, err)
	assert.Len(t, dangling, 2)

	flow, err := svc.Flow(ctx, editor, form.ID)
	require.NoError(t, err)
	assert.Len(t, flow.Nodes, 4)

	form, err = svc.Publish(ctx, editor, form.ID, form.Version)
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusPublished, form.Status)

	form, err = svc.Unpublish(ctx, editor, form.ID, form.Version)
	require.NoError(t, err)
	assert.Equal(t, model.FormStatusDraft, form.Status)

	published := model.FormStatusPublished
	list, err := svc.ListForms(ctx, editor, &published)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, svc.DeleteForm(ctx, editor, form.ID))
	_, err = svc.GetForm(ctx, editor, form.ID)
	assert.True(t, errors.Is(err, errorz.ErrNotFound))

	assert.Contains(t, bus.types(), "form.published")
	assert.Contains(t, bus.types(), "form.unpublished")
	assert.Contains(t, bus.types(), "form.deleted")
}
