package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for workflows, steps and runs.
type Store struct {
	db *sql.DB
}

// NewStore creates a workflow store on a shared handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateWorkflow creates a workflow and its steps in one transaction.
func (s *Store) CreateWorkflow(ctx context.Context, name string, steps []Step) (*Workflow, error) {
	w := &Workflow{ID: uuid.New(), Name: name, CreatedAt: time.Now()}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO newsletter_workflows (id, name, created_at) VALUES ($1, $2, $3)`,
		w.ID, w.Name, w.CreatedAt); err != nil {
		return nil, err
	}
	for i, step := range steps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO newsletter_workflow_steps (id, workflow_id, step_order, step_type, params)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), w.ID, step.StepOrder, step.Type, step.Params); err != nil {
			return nil, fmt.Errorf("insert step %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	w := &Workflow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM newsletter_workflows WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Steps returns a workflow's steps ordered by step_order.
func (s *Store) Steps(ctx context.Context, workflowID uuid.UUID) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, step_order, step_type, params
		FROM newsletter_workflow_steps WHERE workflow_id = $1
		ORDER BY step_order ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.StepOrder, &st.Type, &st.Params); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// EnsureRun returns the run row for a workflow/contact pair, creating it on
// first trigger. The unique constraint keeps one row per pair.
func (s *Store) EnsureRun(ctx context.Context, workflowID, contactID uuid.UUID) (*Run, error) {
	r := &Run{}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO newsletter_workflow_runs (id, workflow_id, contact_id, status, current_step, started_at)
		VALUES ($1, $2, $3, 'running', 0, NOW())
		ON CONFLICT (workflow_id, contact_id) DO UPDATE SET status = 'running'
		RETURNING id, workflow_id, contact_id, status, current_step, COALESCE(error,''), started_at, completed_at`,
		uuid.New(), workflowID, contactID).
		Scan(&r.ID, &r.WorkflowID, &r.ContactID, &r.Status, &r.CurrentStep, &r.Error, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure run: %w", err)
	}
	return r, nil
}

// Checkpoint persists the index of the next step to execute.
func (s *Store) Checkpoint(ctx context.Context, runID uuid.UUID, nextStep int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_workflow_runs SET current_step = $1 WHERE id = $2`,
		nextStep, runID)
	return err
}

// FinishRun closes a run as completed or failed.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_workflow_runs SET status = $1, error = $2, completed_at = NOW()
		WHERE id = $3`, status, errMsg, runID)
	return err
}

// ListRuns returns runs for a workflow, newest first.
func (s *Store) ListRuns(ctx context.Context, workflowID uuid.UUID, limit int) ([]*Run, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, contact_id, status, current_step, COALESCE(error,''), started_at, completed_at
		FROM newsletter_workflow_runs WHERE workflow_id = $1
		ORDER BY started_at DESC LIMIT $2`, workflowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.ContactID, &r.Status, &r.CurrentStep,
			&r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
