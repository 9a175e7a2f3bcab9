package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"formflow/internal/errorz"
	"formflow/internal/graph"
	"formflow/internal/metrics"
	"formflow/internal/model"
	"formflow/internal/schema"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// FormService runs the graph transformations as scoped read-modify-write
// units: load, check scope and version, transform a copy, save once.
type FormService struct {
	forms      FormStore
	bus        EventBus
	schemaComp *schema.Compiler
	ids        graph.IDMinter
	log        *zap.Logger
	now        func() time.Time
}

func NewFormService(forms FormStore, bus EventBus, schemaComp *schema.Compiler, log *zap.Logger) *FormService {
	return &FormService{
		forms:      forms,
		bus:        bus,
		schemaComp: schemaComp,
		ids:        graph.UUIDMinter{},
		log:        log,
		now:        time.Now,
	}
}

// SetIDMinter replaces the question id generator
func (s *FormService) SetIDMinter(ids graph.IDMinter) {
	s.ids = ids
}

type CreateFormInput struct {
	Name      string           `json:"name"`
	Questions []model.Question `json:"questions,omitempty"`
}

func (s *FormService) CreateForm(ctx context.Context, scope Scope, input CreateFormInput) (*model.Form, error) {
	if scope.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace is required", errorz.ErrInvalidInput)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", errorz.ErrInvalidInput)
	}

	now := s.now().UTC()
	form := &model.Form{
		ID:          ulid.Make().String(),
		WorkspaceID: scope.WorkspaceID,
		Name:        input.Name,
		Status:      model.FormStatusDraft,
		Questions:   []model.Question{},
		FormSchema:  model.NewFormSchema(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	minted := make(map[string]string, len(input.Questions))
	for _, q := range input.Questions {
		added, err := graph.AddQuestion(form, graph.AddQuestionInput{
			TargetIndex: len(form.Questions),
			Question:    q,
		}, s.ids)
		if err != nil {
			return nil, err
		}
		if q.ID != "" {
			minted[q.ID] = added.ID
		}
	}
	graph.RemapTargets(form, minted)

	created, err := s.forms.CreateForm(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}

	_ = s.bus.PublishWorkspace(scope.WorkspaceID, map[string]interface{}{
		"type":   "form.created",
		"formId": created.ID,
	})
	metrics.FormMutations.WithLabelValues("create", "ok").Inc()

	return created, nil
}

// GetForm loads a form the scope may see
func (s *FormService) GetForm(ctx context.Context, scope Scope, id string) (*model.Form, error) {
	form, err := s.forms.LoadForm(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load form: %w", err)
	}
	if form.WorkspaceID != scope.WorkspaceID {
		return nil, fmt.Errorf("form %s: %w", id, errorz.ErrForbidden)
	}
	return form, nil
}

func (s *FormService) ListForms(ctx context.Context, scope Scope, status *model.FormStatus) ([]*model.Form, error) {
	forms, err := s.forms.ListForms(ctx, scope.WorkspaceID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	return forms, nil
}

func (s *FormService) DeleteForm(ctx context.Context, scope Scope, id string) error {
	if _, err := s.GetForm(ctx, scope, id); err != nil {
		return err
	}
	if err := s.forms.DeleteForm(ctx, id); err != nil {
		return fmt.Errorf("failed to delete form: %w", err)
	}

	event := map[string]interface{}{
		"type":   "form.deleted",
		"formId": id,
	}
	_ = s.bus.PublishForm(id, event)
	_ = s.bus.PublishWorkspace(scope.WorkspaceID, event)
	metrics.FormMutations.WithLabelValues("delete", "ok").Inc()
	return nil
}

// Publish makes the form available to respondents. The derived schema is
// compiled first so a broken schema never reaches a respondent.
func (s *FormService) Publish(ctx context.Context, scope Scope, id string, expectedVersion int64) (*model.Form, error) {
	return s.mutate(ctx, scope, id, expectedVersion, "publish", "form.published", func(form *model.Form) error {
		if s.schemaComp != nil {
			doc, err := schema.ToMap(form.FormSchema)
			if err != nil {
				return fmt.Errorf("failed to encode schema: %w", err)
			}
			if err := s.schemaComp.Prepare(ctx, doc); err != nil {
				return fmt.Errorf("%w: %v", errorz.ErrInvalidInput, err)
			}
		}
		form.Status = model.FormStatusPublished
		return nil
	})
}

func (s *FormService) Unpublish(ctx context.Context, scope Scope, id string, expectedVersion int64) (*model.Form, error) {
	return s.mutate(ctx, scope, id, expectedVersion, "unpublish", "form.unpublished", func(form *model.Form) error {
		form.Status = model.FormStatusDraft
		return nil
	})
}

func (s *FormService) AddQuestion(ctx context.Context, scope Scope, formID string, expectedVersion int64, input graph.AddQuestionInput) (*model.Form, model.Question, error) {
	var added model.Question
	form, err := s.mutate(ctx, scope, formID, expectedVersion, "add_question", "form.updated", func(form *model.Form) error {
		q, err := graph.AddQuestion(form, input, s.ids)
		added = q
		return err
	})
	return form, added, err
}

func (s *FormService) EditQuestion(ctx context.Context, scope Scope, formID string, expectedVersion int64, questionID string, patch map[string]json.RawMessage) (*model.Form, model.Question, error) {
	var edited model.Question
	form, err := s.mutate(ctx, scope, formID, expectedVersion, "edit_question", "form.updated", func(form *model.Form) error {
		q, err := graph.EditQuestion(form, questionID, patch, s.ids)
		edited = q
		return err
	})
	return form, edited, err
}

func (s *FormService) DeleteQuestion(ctx context.Context, scope Scope, formID string, expectedVersion int64, questionID string) (*model.Form, error) {
	return s.mutate(ctx, scope, formID, expectedVersion, "delete_question", "form.updated", func(form *model.Form) error {
		return graph.DeleteQuestion(form, questionID)
	})
}

func (s *FormService) DuplicateQuestion(ctx context.Context, scope Scope, formID string, expectedVersion int64, questionID string) (*model.Form, model.Question, error) {
	var dup model.Question
	form, err := s.mutate(ctx, scope, formID, expectedVersion, "duplicate_question", "form.updated", func(form *model.Form) error {
		q, err := graph.DuplicateQuestion(form, questionID, s.ids)
		dup = q
		return err
	})
	return form, dup, err
}

func (s *FormService) ReorderQuestions(ctx context.Context, scope Scope, formID string, expectedVersion int64, orderedIDs []string) (*model.Form, []string, error) {
	var moved []string
	form, err := s.mutate(ctx, scope, formID, expectedVersion, "reorder_questions", "form.updated", func(form *model.Form) error {
		m, err := graph.ReorderQuestions(form, orderedIDs)
		moved = m
		return err
	})
	return form, moved, err
}

// Flow returns the node/edge view of a form
func (s *FormService) Flow(ctx context.Context, scope Scope, formID string) (graph.Flow, error) {
	form, err := s.GetForm(ctx, scope, formID)
	if err != nil {
		return graph.Flow{}, err
	}
	return graph.BuildFlow(form.Questions), nil
}

// Integrity reports branch rules pointing at questions that no longer exist
func (s *FormService) Integrity(ctx context.Context, scope Scope, formID string) ([]graph.DanglingRule, error) {
	form, err := s.GetForm(ctx, scope, formID)
	if err != nil {
		return nil, err
	}
	return graph.Integrity(form), nil
}

func (s *FormService) mutate(ctx context.Context, scope Scope, formID string, expectedVersion int64, op, eventType string, fn func(*model.Form) error) (*model.Form, error) {
	current, err := s.GetForm(ctx, scope, formID)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		metrics.FormMutations.WithLabelValues(op, "conflict").Inc()
		return nil, fmt.Errorf("form %s is at version %d, not %d: %w",
			formID, current.Version, expectedVersion, errorz.ErrVersionConflict)
	}

	work := current.Clone()
	if err := fn(work); err != nil {
		metrics.FormMutations.WithLabelValues(op, "rejected").Inc()
		return nil, err
	}
	work.UpdatedAt = s.now().UTC()

	saved, err := s.forms.SaveForm(ctx, work, current.Version)
	if err != nil {
		if errors.Is(err, errorz.ErrVersionConflict) {
			metrics.FormMutations.WithLabelValues(op, "conflict").Inc()
			return nil, err
		}
		metrics.FormMutations.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("failed to save form: %w", err)
	}
	metrics.FormMutations.WithLabelValues(op, "ok").Inc()

	event := map[string]interface{}{
		"type":    eventType,
		"formId":  saved.ID,
		"op":      op,
		"version": saved.Version,
	}
	_ = s.bus.PublishForm(saved.ID, event)
	_ = s.bus.PublishWorkspace(saved.WorkspaceID, event)

	s.log.Debug("Form updated",
		zap.String("form_id", saved.ID),
		zap.String("op", op),
		zap.Int64("version", saved.Version),
		zap.String("user_id", scope.UserID),
	)
	return saved, nil
}
