package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"formflow/internal/errorz"
	"formflow/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries wraps database queries
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

const formColumns = `id, workspace_id, name, status, questions, form_schema, version, created_at, updated_at`

// Workspace queries

func (q *Queries) CreateWorkspace(ctx context.Context, ws *model.Workspace) (*model.Workspace, error) {
	var out model.Workspace
	err := q.Pool.QueryRow(ctx,
		"INSERT INTO workspaces (id, name, created_at) VALUES ($1, $2, $3) RETURNING id, name, created_at",
		ws.ID, ws.Name, ws.CreatedAt,
	).Scan(&out.ID, &out.Name, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert workspace: %w", err)
	}
	return &out, nil
}

func (q *Queries) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	var out model.Workspace
	err := q.Pool.QueryRow(ctx,
		"SELECT id, name, created_at FROM workspaces WHERE id = $1",
		id,
	).Scan(&out.ID, &out.Name, &out.CreatedAt)
	if err != nil {
		return nil, notFound("workspace", id, err)
	}
	return &out, nil
}

// Form queries

func (q *Queries) CreateForm(ctx context.Context, form *model.Form) (*model.Form, error) {
	questions, schema, err := encodeForm(form)
	if err != nil {
		return nil, err
	}
	row := q.Pool.QueryRow(ctx,
		`INSERT INTO forms (id, workspace_id, name, status, questions, form_schema, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
		RETURNING `+formColumns,
		form.ID, form.WorkspaceID, form.Name, string(form.Status), questions, schema, form.CreatedAt, form.UpdatedAt,
	)
	out, err := scanForm(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert form: %w", err)
	}
	return out, nil
}

func (q *Queries) LoadForm(ctx context.Context, id string) (*model.Form, error) {
	row := q.Pool.QueryRow(ctx, "SELECT "+formColumns+" FROM forms WHERE id = $1", id)
	out, err := scanForm(row)
	if err != nil {
		return nil, notFound("form", id, err)
	}
	return out, nil
}

// SaveForm writes the whole document if the stored version still equals readVersion
func (q *Queries) SaveForm(ctx context.Context, form *model.Form, readVersion int64) (*model.Form, error) {
	questions, schema, err := encodeForm(form)
	if err != nil {
		return nil, err
	}
	row := q.Pool.QueryRow(ctx,
		`UPDATE forms
		SET name = $3, status = $4, questions = $5, form_schema = $6, version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2
		RETURNING `+formColumns,
		form.ID, readVersion, form.Name, string(form.Status), questions, schema, form.UpdatedAt,
	)
	out, err := scanForm(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update form: %w", err)
	}

	var exists bool
	if err := q.Pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM forms WHERE id = $1)", form.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check form: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("form %s: %w", form.ID, errorz.ErrNotFound)
	}
	return nil, fmt.Errorf("form %s changed since version %d: %w", form.ID, readVersion, errorz.ErrVersionConflict)
}

func (q *Queries) ListForms(ctx context.Context, workspaceID string, status *model.FormStatus) ([]*model.Form, error) {
	query := "SELECT " + formColumns + " FROM forms WHERE workspace_id = $1"
	args := []interface{}{workspaceID}
	if status != nil {
		query += " AND status = $2"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := q.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	defer rows.Close()

	forms := []*model.Form{}
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan form: %w", err)
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

func (q *Queries) DeleteForm(ctx context.Context, id string) error {
	tag, err := q.Pool.Exec(ctx, "DELETE FROM forms WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete form: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("form %s: %w", id, errorz.ErrNotFound)
	}
	return nil
}

// Submission queries

func (q *Queries) CreateSubmission(ctx context.Context, sub *model.Submission) (*model.Submission, error) {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answers: %w", err)
	}
	_, err = q.Pool.Exec(ctx,
		"INSERT INTO submissions (id, form_id, session_id, answers, created_at) VALUES ($1, $2, $3, $4, $5)",
		sub.ID, sub.FormID, sub.SessionID, answers, sub.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert submission: %w", err)
	}
	return sub, nil
}

func (q *Queries) ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]*model.Submission, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT id, form_id, session_id, answers, created_at FROM submissions
		WHERE form_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		formID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	subs := []*model.Submission{}
	for rows.Next() {
		var s model.Submission
		var answers []byte
		if err := rows.Scan(&s.ID, &s.FormID, &s.SessionID, &answers, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		if err := json.Unmarshal(answers, &s.Answers); err != nil {
			return nil, fmt.Errorf("failed to decode answers: %w", err)
		}
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

func encodeForm(form *model.Form) ([]byte, []byte, error) {
	questions := form.Questions
	if questions == nil {
		questions = []model.Question{}
	}
	qb, err := json.Marshal(questions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode questions: %w", err)
	}
	sb, err := json.Marshal(form.FormSchema)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode form schema: %w", err)
	}
	return qb, sb, nil
}

func scanForm(row pgx.Row) (*model.Form, error) {
	var f model.Form
	var questions, schema []byte
	var status string
	if err := row.Scan(&f.ID, &f.WorkspaceID, &f.Name, &status, &questions, &schema, &f.Version, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Status = model.FormStatus(status)
	if err := json.Unmarshal(questions, &f.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}
	if err := json.Unmarshal(schema, &f.FormSchema); err != nil {
		return nil, fmt.Errorf("failed to decode form schema: %w", err)
	}
	return &f, nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, errorz.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", kind, err)
}
