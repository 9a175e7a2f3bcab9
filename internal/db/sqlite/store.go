// Package sqlite is the single-file relational backend for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"formflow/internal/db"
	"formflow/internal/errorz"
	"formflow/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// DriverName is the database/sql driver registered by modernc.org/sqlite
const DriverName = "sqlite"

// DSN turns a file path into a connection string with foreign keys on
func DSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Open opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sql.Open(DriverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.Migrate(ctx, sqlDB, "sqlite3"); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &Store{db: sqlDB}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const formColumns = `id, workspace_id, name, status, questions, form_schema, version, created_at, updated_at`

func (s *Store) CreateWorkspace(ctx context.Context, ws *model.Workspace) (*model.Workspace, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?)`,
		ws.ID, ws.Name, ws.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert workspace: %w", err)
	}
	return s.GetWorkspace(ctx, ws.ID)
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM workspaces WHERE id = ?`, id,
	).Scan(&ws.ID, &ws.Name, &ws.CreatedAt)
	if err != nil {
		return nil, notFound("workspace", id, err)
	}
	return &ws, nil
}

func (s *Store) CreateForm(ctx context.Context, form *model.Form) (*model.Form, error) {
	questions, schema, err := encode(form)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO forms (`+formColumns+`) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		form.ID, form.WorkspaceID, form.Name, string(form.Status), questions, schema,
		form.CreatedAt.UTC(), form.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert form: %w", err)
	}
	return s.LoadForm(ctx, form.ID)
}

func (s *Store) LoadForm(ctx context.Context, id string) (*model.Form, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE id = ?`, id)
	f, err := scanForm(row)
	if err != nil {
		return nil, notFound("form", id, err)
	}
	return f, nil
}

// SaveForm writes the whole document if the stored version still equals readVersion
func (s *Store) SaveForm(ctx context.Context, form *model.Form, readVersion int64) (*model.Form, error) {
	questions, schema, err := encode(form)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE forms
		SET name = ?, status = ?, questions = ?, form_schema = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		form.Name, string(form.Status), questions, schema, form.UpdatedAt.UTC(), form.ID, readVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update form: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update form: %w", err)
	}
	if n == 0 {
		if _, err := s.LoadForm(ctx, form.ID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("form %s changed since version %d: %w", form.ID, readVersion, errorz.ErrVersionConflict)
	}
	return s.LoadForm(ctx, form.ID)
}

func (s *Store) ListForms(ctx context.Context, workspaceID string, status *model.FormStatus) ([]*model.Form, error) {
	query := `SELECT ` + formColumns + ` FROM forms WHERE workspace_id = ?`
	args := []interface{}{workspaceID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *Store) DeleteForm(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM forms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("form %s: %w", id, errorz.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateSubmission(ctx context.Context, sub *model.Submission) (*model.Submission, error) {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, form_id, session_id, answers, created_at) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.FormID, sub.SessionID, string(answers), sub.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert submission: %w", err)
	}
	return sub, nil
}

func (s *Store) ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]*model.Submission, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, form_id, session_id, answers, created_at FROM submissions
		WHERE form_id = ? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		formID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	subs := []*model.Submission{}
	for rows.Next() {
		var sub model.Submission
		var answers string
		if err := rows.Scan(&sub.ID, &sub.FormID, &sub.SessionID, &answers, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
			return nil, fmt.Errorf("failed to decode answers: %w", err)
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanForm(row scanner) (*model.Form, error) {
	var f model.Form
	var status, questions, schema string
	if err := row.Scan(&f.ID, &f.WorkspaceID, &f.Name, &status, &questions, &schema, &f.Version, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Status = model.FormStatus(status)
	if err := json.Unmarshal([]byte(questions), &f.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}
	if err := json.Unmarshal([]byte(schema), &f.FormSchema); err != nil {
		return nil, fmt.Errorf("failed to decode form schema: %w", err)
	}
	return &f, nil
}

func encode(form *model.Form) (string, string, error) {
	questions := form.Questions
	if questions == nil {
		questions = []model.Question{}
	}
	qb, err := json.Marshal(questions)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode questions: %w", err)
	}
	sb, err := json.Marshal(form.FormSchema)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode form schema: %w", err)
	}
	return string(qb), string(sb), nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, errorz.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", kind, err)
}
