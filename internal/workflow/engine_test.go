package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/newsletter-platform/internal/newsletter"
)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, to)
	return "msg-" + to, nil
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *fakeSender) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sender := &fakeSender{}
	engine := NewEngine(NewStore(db), newsletter.NewStore(db), newsletter.NewTemplateService(), sender)
	return engine, mock, sender
}

func expectWorkflowRow(mock sqlmock.Sqlmock, id uuid.UUID, name string) {
	mock.ExpectQuery(`SELECT id, name, created_at FROM newsletter_workflows`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}).
			AddRow(id, name, time.Now()))
}

func expectContactRow(mock sqlmock.Sqlmock, id uuid.UUID, email string) {
	now := time.Now()
	mock.ExpectQuery(`FROM newsletter_contacts WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "name", "status", "plan", "origin",
			"metadata", "subscribed_at", "unsubscribed_at", "created_at", "updated_at",
		}).AddRow(id, email, "Jamie", "subscribed", "", "", []byte("{}"), now, nil, now, now))
}

func expectRunRow(mock sqlmock.Sqlmock, workflowID, contactID uuid.UUID, currentStep int) uuid.UUID {
	runID := uuid.New()
	mock.ExpectQuery(`INSERT INTO newsletter_workflow_runs`).
		WithArgs(sqlmock.AnyArg(), workflowID, contactID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workflow_id", "contact_id", "status", "current_step", "error", "started_at", "completed_at",
		}).AddRow(runID, workflowID, contactID, RunRunning, currentStep, "", time.Now(), nil))
	return runID
}

func TestTriggerExecutesStepsInOrder(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	workflowID := uuid.New()
	contactID := uuid.New()

	expectWorkflowRow(mock, workflowID, "onboarding")
	expectContactRow(mock, contactID, "user@example.com")

	// Rows arrive out of order; step_order decides execution order.
	mock.ExpectQuery(`SELECT id, workflow_id, step_order, step_type, params`).
		WithArgs(workflowID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "workflow_id", "step_order", "step_type", "params"}).
			AddRow(uuid.New(), workflowID, 2, StepSetField, []byte(`{"field":"second","value":"b"}`)).
			AddRow(uuid.New(), workflowID, 1, StepSetField, []byte(`{"field":"first","value":"a"}`)))

	runID := expectRunRow(mock, workflowID, contactID, 0)

	mock.ExpectExec(`UPDATE newsletter_contacts`).
		WithArgs("first", "a", contactID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE newsletter_workflow_runs SET current_step`).
		WithArgs(1, runID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectContactRow(mock, contactID, "user@example.com")

	mock.ExpectExec(`UPDATE newsletter_contacts`).
		WithArgs("second", "b", contactID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE newsletter_workflow_runs SET current_step`).
		WithArgs(2, runID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectContactRow(mock, contactID, "user@example.com")

	mock.ExpectExec(`UPDATE newsletter_workflow_runs SET status`).
		WithArgs(RunCompleted, "", runID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := engine.Trigger(context.Background(), workflowID, contactID, nil)
	require.NoError(t, err)

	require.Len(t, report.Steps, 2)
	assert.True(t, report.Steps[0].OK)
	assert.True(t, report.Steps[1].OK)
	assert.Equal(t, RunCompleted, report.Run.Status)
	assert.Equal(t, 2, report.Run.CurrentStep)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerFailedStepCheckpoints(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	workflowID := uuid.New()
	contactID := uuid.New()

	expectWorkflowRow(mock, workflowID, "broken")
	expectContactRow(mock, contactID, "user@example.com")

	mock.ExpectQuery(`SELECT id, workflow_id, step_order, step_type, params`).
		WithArgs(workflowID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "workflow_id", "step_order", "step_type", "params"}).
			AddRow(uuid.New(), workflowID, 1, "explode", []byte(`{}`)))

	runID := expectRunRow(mock, workflowID, contactID, 0)

	// Checkpoint stays on the failed step so a retry resumes there.
	mock.ExpectExec(`UPDATE newsletter_workflow_runs SET current_step`).
		WithArgs(0, runID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE newsletter_workflow_runs SET status`).
		WithArgs(RunFailed, sqlmock.AnyArg(), runID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := engine.Trigger(context.Background(), workflowID, contactID, nil)
	require.NoError(t, err)

	require.Len(t, report.Steps, 1)
	assert.False(t, report.Steps[0].OK)
	assert.Contains(t, report.Steps[0].Error, "unknown step type")
	assert.Equal(t, RunFailed, report.Run.Status)
	assert.Equal(t, 0, report.Run.CurrentStep)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerUnknownWorkflow(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	mock.ExpectQuery(`SELECT id, name, created_at FROM newsletter_workflows`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}))

	_, err := engine.Trigger(context.Background(), uuid.New(), uuid.New(), nil)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestTriggerFailsWhenContactVanishesMidRun(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	workflowID := uuid.New()
	contactID := uuid.New()

	expectWorkflowRow(mock, workflowID, "onboarding")
	expectContactRow(mock, contactID, "user@example.com")

	mock.ExpectQuery(`SELECT id, workflow_id, step_order, step_type, params`).
		WithArgs(workflowID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "workflow_id", "step_order", "step_type", "params"}).
			AddRow(uuid.New(), workflowID, 1, StepSetField, []byte(`{"field":"first","value":"a"}`)).
			AddRow(uuid.New(), workflowID, 2, StepSetField, []byte(`{"field":"second","value":"b"}`)))

	runID := expectRunRow(mock, workflowID, contactID, 0)

	mock.ExpectExec(`UPDATE newsletter_contacts`).
		WithArgs("first", "a", contactID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE newsletter_workflow_runs SET current_step`).
		WithArgs(1, runID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The contact row is gone when reloaded between steps.
	mock.ExpectQuery(`FROM newsletter_contacts WHERE id`).
		WithArgs(contactID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectExec(`UPDATE newsletter_workflow_runs SET status`).
		WithArgs(RunFailed, "contact no longer exists", runID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := engine.Trigger(context.Background(), workflowID, contactID, nil)
	require.NoError(t, err)

	require.Len(t, report.Steps, 1)
	assert.True(t, report.Steps[0].OK)
	assert.Equal(t, RunFailed, report.Run.Status)
	assert.Equal(t, "contact no longer exists", report.Run.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerSendEmailSkipsUnsubscribed(t *testing.T) {
	engine, mock, sender := newTestEngine(t)
	workflowID := uuid.New()
	contactID := uuid.New()

	expectWorkflowRow(mock, workflowID, "winback")

	now := time.Now()
	mock.ExpectQuery(`FROM newsletter_contacts WHERE id`).
		WithArgs(contactID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "name", "status", "plan", "origin",
			"metadata", "subscribed_at", "unsubscribed_at", "created_at", "updated_at",
		}).AddRow(contactID, "gone@example.com", "", "unsubscribed", "", "", []byte("{}"), now, now, now, now))

	mock.ExpectQuery(`SELECT id, workflow_id, step_order, step_type, params`).
		WithArgs(workflowID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "workflow_id", "step_order", "step_type", "params"}).
			AddRow(uuid.New(), workflowID, 1, StepSendEmail, []byte(`{"subject":"Hi","template":"Hello"}`)))

	runID := expectRunRow(mock, workflowID, contactID, 0)

	mock.ExpectExec(`UPDATE newsletter_workflow_runs SET current_step`).
		WithArgs(1, runID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectContactRow(mock, contactID, "gone@example.com")
	mock.ExpectExec(`UPDATE newsletter_workflow_runs SET status`).
		WithArgs(RunCompleted, "", runID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := engine.Trigger(context.Background(), workflowID, contactID, nil)
	require.NoError(t, err)

	require.Len(t, report.Steps, 1)
	assert.True(t, report.Steps[0].OK)
	assert.Empty(t, sender.sent)
}
