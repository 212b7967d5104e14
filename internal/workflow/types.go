// Package workflow executes multi-step contact automations synchronously,
// checkpointing progress per contact so interrupted runs resume where they
// stopped.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignite/newsletter-platform/internal/newsletter"
)

// Step type constants.
const (
	StepSendEmail   = "send_email"
	StepAddGroup    = "add_group"
	StepRemoveGroup = "remove_group"
	StepSetField    = "set_field"
)

// Run status constants.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Workflow is a named, ordered sequence of steps.
type Workflow struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Step is one action in a workflow. Execution order follows StepOrder, not
// insertion order.
type Step struct {
	ID         uuid.UUID       `json:"id"`
	WorkflowID uuid.UUID       `json:"workflow_id"`
	StepOrder  int             `json:"step_order"`
	Type       string          `json:"step_type"`
	Params     newsletter.JSON `json:"params"`
}

// Run is the per-contact execution record. CurrentStep is the index of the
// next step to execute, so a failed run resumes at the step that broke.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	WorkflowID  uuid.UUID  `json:"workflow_id"`
	ContactID   uuid.UUID  `json:"contact_id"`
	Status      string     `json:"status"`
	CurrentStep int        `json:"current_step"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// StepResult reports the outcome of one executed step in a trigger response.
type StepResult struct {
	Index int    `json:"index"`
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// RunReport is the synchronous trigger response: the run row plus what each
// step did this invocation.
type RunReport struct {
	Run   *Run         `json:"run"`
	Steps []StepResult `json:"steps"`
}
