package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formflow/internal/errorz"
	"formflow/internal/logic"
	"formflow/internal/metrics"
	"formflow/internal/model"
	"formflow/internal/schema"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const DefaultSessionTTL = 24 * time.Hour

// SessionService walks respondents through a form, one answer at a time
type SessionService struct {
	forms       FormStore
	sessions    SessionStore
	submissions SubmissionStore
	schemaComp  *schema.Compiler
	bus         EventBus
	jobClient   JobClient
	ttl         time.Duration
	log         *zap.Logger
	now         func() time.Time
}

func NewSessionService(forms FormStore, sessions SessionStore, submissions SubmissionStore, schemaComp *schema.Compiler, bus EventBus, log *zap.Logger) *SessionService {
	return &SessionService{
		forms:       forms,
		sessions:    sessions,
		submissions: submissions,
		schemaComp:  schemaComp,
		bus:         bus,
		jobClient:   nil, // Will be set if job client is available
		ttl:         DefaultSessionTTL,
		log:         log,
		now:         time.Now,
	}
}

// SetJobClient sets the job client for scheduling background jobs
func (s *SessionService) SetJobClient(client JobClient) {
	s.jobClient = client
}

// SetTTL sets how long an unfinished session lives
func (s *SessionService) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

type StartSessionInput struct {
	FormID  string
	Preview bool
	// Scope is only consulted for previews, which may run on drafts.
	Scope Scope
}

func (s *SessionService) Start(ctx context.Context, input StartSessionInput) (*model.Session, error) {
	form, err := s.forms.LoadForm(ctx, input.FormID)
	if err != nil {
		return nil, fmt.Errorf("failed to load form: %w", err)
	}
	if input.Preview {
		if form.WorkspaceID != input.Scope.WorkspaceID {
			return nil, fmt.Errorf("form %s: %w", form.ID, errorz.ErrForbidden)
		}
	} else if form.Status != model.FormStatusPublished {
		return nil, fmt.Errorf("form %s is not published: %w", form.ID, errorz.ErrNotFound)
	}

	now := s.now().UTC()
	sess := &model.Session{
		ID:          ulid.Make().String(),
		FormID:      form.ID,
		FormVersion: form.Version,
		Status:      model.SessionStatusInProgress,
		Preview:     input.Preview,
		Answers:     map[string]model.Value{},
		History:     []string{},
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if len(form.Questions) > 0 {
		sess.CurrentQuestionID = form.Questions[0].ID
	}

	if err := s.sessions.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	metrics.Sessions.WithLabelValues("started").Inc()

	_ = s.bus.PublishForm(form.ID, map[string]interface{}{
		"type":      "session.started",
		"sessionId": sess.ID,
		"preview":   sess.Preview,
	})

	if s.jobClient != nil {
		if err := s.jobClient.ScheduleSessionExpiry(sess.ID, now.Add(s.ttl)); err != nil {
			s.log.Warn("Failed to schedule session expiry", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	if len(form.Questions) == 0 {
		return s.complete(ctx, form, sess)
	}
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// Answer records the answer to the current question and moves the session to
// the question the form's branch rules select.
func (s *SessionService) Answer(ctx context.Context, sessionID, questionID string, answer model.Value) (*model.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusInProgress {
		return nil, fmt.Errorf("session %s is %s: %w", sess.ID, sess.Status, errorz.ErrSessionClosed)
	}
	if questionID != sess.CurrentQuestionID {
		return nil, fmt.Errorf("%w: question %s is not the current question", errorz.ErrInvalidInput, questionID)
	}

	form, err := s.forms.LoadForm(ctx, sess.FormID)
	if err != nil {
		return nil, fmt.Errorf("failed to load form: %w", err)
	}
	idx := form.QuestionIndex(sess.CurrentQuestionID)
	if idx < 0 {
		return nil, fmt.Errorf("question %s was removed from form %s: %w", questionID, form.ID, errorz.ErrVersionConflict)
	}
	q := form.Questions[idx]

	if err := s.validateAnswer(ctx, form, q, answer); err != nil {
		return nil, err
	}

	if q.Type() != model.QuestionTypeCTA {
		sess.Answers[q.ID] = answer.Clone()
	}
	sess.History = append(sess.History, q.ID)
	sess.UpdatedAt = s.now().UTC()

	if cta, ok := q.Details.(model.CTADetails); ok {
		switch cta.ActionType {
		case model.CTAActionEndScreen:
			metrics.LogicEvaluations.WithLabelValues("end").Inc()
			return s.complete(ctx, form, sess)
		case model.CTAActionURLRedirect:
			sess.RedirectURL = cta.RedirectURL
			metrics.LogicEvaluations.WithLabelValues("end").Inc()
			return s.complete(ctx, form, sess)
		}
	}

	outcome := "fallback"
	if _, ok := logic.EvaluateLogic(q, answer); ok {
		outcome = "rule"
	}
	next, more := logic.NextQuestionIndex(idx, q, answer, form.Questions)
	if !more {
		metrics.LogicEvaluations.WithLabelValues("end").Inc()
		return s.complete(ctx, form, sess)
	}
	metrics.LogicEvaluations.WithLabelValues(outcome).Inc()

	sess.CurrentIndex = next
	sess.CurrentQuestionID = form.Questions[next].ID
	if err := s.sessions.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	_ = s.bus.PublishSession(sess.ID, map[string]interface{}{
		"type":       "session.advanced",
		"sessionId":  sess.ID,
		"questionId": sess.CurrentQuestionID,
	})
	return sess, nil
}

// validateAnswer checks the answer's shape against the question type, then
// against the question's property in the form schema.
func (s *SessionService) validateAnswer(ctx context.Context, form *model.Form, q model.Question, answer model.Value) error {
	checked := answer
	switch d := q.Details.(type) {
	case model.TextDetails:
		if answer.IsList() {
			return fmt.Errorf("%w: question %s expects a single value", errorz.ErrInvalidInput, q.ID)
		}
	case model.SelectDetails:
		if !answer.IsList() {
			return fmt.Errorf("%w: question %s expects a list of options", errorz.ErrInvalidInput, q.ID)
		}
		if d.SubType == model.SelectSubTypeSingle {
			items := answer.Items()
			switch len(items) {
			case 0:
				checked = model.Scalar("")
			case 1:
				checked = model.Scalar(items[0])
			default:
				return fmt.Errorf("%w: question %s accepts one option", errorz.ErrInvalidInput, q.ID)
			}
		}
	default:
		return nil
	}

	if answer.IsEmpty() && !q.IsRequired() {
		return nil
	}
	if s.schemaComp == nil {
		return nil
	}
	if err := s.schemaComp.ValidateAnswer(ctx, form.FormSchema, q.ID, checked); err != nil {
		return fmt.Errorf("answer to %s rejected: %w", q.ID, err)
	}
	return nil
}

func (s *SessionService) complete(ctx context.Context, form *model.Form, sess *model.Session) (*model.Session, error) {
	sess.Status = model.SessionStatusCompleted
	sess.CurrentQuestionID = ""
	sess.CurrentIndex = len(form.Questions)

	// The session write is the gate: of two concurrent completions only one
	// gets past it, so at most one submission is recorded.
	if err := s.sessions.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	if !sess.Preview && s.submissions != nil {
		if _, err := s.submissions.CreateSubmission(ctx, &model.Submission{
			ID:        ulid.Make().String(),
			FormID:    form.ID,
			SessionID: sess.ID,
			Answers:   sess.Answers,
			CreatedAt: s.now().UTC(),
		}); err != nil {
			s.log.Error("Completed session has no submission",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to store submission: %w", err)
		}
	}
	metrics.Sessions.WithLabelValues("completed").Inc()

	event := map[string]interface{}{
		"type":      "session.completed",
		"sessionId": sess.ID,
		"formId":    form.ID,
	}
	if sess.RedirectURL != "" {
		event["redirectUrl"] = sess.RedirectURL
	}
	_ = s.bus.PublishSession(sess.ID, event)
	_ = s.bus.PublishForm(form.ID, event)

	s.log.Info("Session completed",
		zap.String("session_id", sess.ID),
		zap.String("form_id", form.ID),
		zap.Int("answers", len(sess.Answers)),
	)
	return sess, nil
}

// Progress derives how far the respondent is along the form
func (s *SessionService) Progress(ctx context.Context, sessionID string) (logic.ProgressInfo, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return logic.ProgressInfo{}, err
	}
	form, err := s.forms.LoadForm(ctx, sess.FormID)
	if err != nil {
		return logic.ProgressInfo{}, fmt.Errorf("failed to load form: %w", err)
	}

	idx := form.QuestionIndex(sess.CurrentQuestionID)
	if idx < 0 {
		idx = sess.CurrentIndex
	}
	return logic.Progress(form.Questions, idx, len(sess.History), sess.Status == model.SessionStatusCompleted), nil
}

func (s *SessionService) Abandon(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusInProgress {
		return nil, fmt.Errorf("session %s is %s: %w", sess.ID, sess.Status, errorz.ErrSessionClosed)
	}
	return s.abandon(ctx, sess)
}

// Expire abandons a session that is still running. Finished or evicted
// sessions are left alone.
func (s *SessionService) Expire(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errorz.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess.Status != model.SessionStatusInProgress {
		return nil
	}
	_, err = s.abandon(ctx, sess)
	return err
}

func (s *SessionService) abandon(ctx context.Context, sess *model.Session) (*model.Session, error) {
	sess.Status = model.SessionStatusAbandoned
	sess.UpdatedAt = s.now().UTC()
	if err := s.sessions.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	metrics.Sessions.WithLabelValues("abandoned").Inc()

	_ = s.bus.PublishSession(sess.ID, map[string]interface{}{
		"type":      "session.abandoned",
		"sessionId": sess.ID,
	})
	return sess, nil
}

// ListSubmissions pages through the completed answers of a form the scope owns
func (s *SessionService) ListSubmissions(ctx context.Context, scope Scope, formID string, limit, offset int) ([]*model.Submission, error) {
	form, err := s.forms.LoadForm(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("failed to load form: %w", err)
	}
	if form.WorkspaceID != scope.WorkspaceID {
		return nil, fmt.Errorf("form %s: %w", formID, errorz.ErrForbidden)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	subs, err := s.submissions.ListSubmissions(ctx, formID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}
