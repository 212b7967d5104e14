package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ignite/newsletter-platform/internal/newsletter"
	"github.com/ignite/newsletter-platform/internal/pkg/logger"
)

// Caller mistakes, as opposed to upstream failures. Handlers check these
// to pick a response status.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrContactNotFound  = errors.New("contact not found")
)

// Engine executes workflows against a single contact. Execution is
// synchronous and sequential; a step failure stops the run with the
// checkpoint pointing at the failed step.
type Engine struct {
	store     *Store
	contacts  *newsletter.Store
	templates *newsletter.TemplateService
	sender    newsletter.Sender
}

// NewEngine wires the workflow engine.
func NewEngine(store *Store, contacts *newsletter.Store, templates *newsletter.TemplateService, sender newsletter.Sender) *Engine {
	return &Engine{store: store, contacts: contacts, templates: templates, sender: sender}
}

// Trigger runs a workflow for one contact. Without startIndex the run resumes
// from its persisted checkpoint; with it, execution starts at that step
// regardless of prior progress.
func (e *Engine) Trigger(ctx context.Context, workflowID, contactID uuid.UUID, startIndex *int) (*RunReport, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	contact, err := e.contacts.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, fmt.Errorf("%w: %s", ErrContactNotFound, contactID)
	}

	steps, err := e.store.Steps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	// Execution order must follow step_order even if rows arrive unsorted.
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })

	run, err := e.store.EnsureRun(ctx, workflowID, contactID)
	if err != nil {
		return nil, err
	}

	start := run.CurrentStep
	if startIndex != nil {
		start = *startIndex
	}
	if start < 0 {
		start = 0
	}

	report := &RunReport{Run: run, Steps: []StepResult{}}
	logger.Info("workflow run", "workflow", w.Name, "contact", contactID, "from_step", start, "steps", len(steps))

	for i := start; i < len(steps); i++ {
		step := steps[i]
		result := StepResult{Index: i, Type: step.Type, OK: true}

		if err := e.executeStep(ctx, step, contact); err != nil {
			result.OK = false
			result.Error = err.Error()
			report.Steps = append(report.Steps, result)

			run.CurrentStep = i
			run.Status = RunFailed
			run.Error = err.Error()
			if cpErr := e.store.Checkpoint(ctx, run.ID, i); cpErr != nil {
				logger.Error("workflow checkpoint failed", "run", run.ID, "error", cpErr)
			}
			if finErr := e.store.FinishRun(ctx, run.ID, RunFailed, err.Error()); finErr != nil {
				logger.Error("workflow finish failed", "run", run.ID, "error", finErr)
			}
			return report, nil
		}

		report.Steps = append(report.Steps, result)
		run.CurrentStep = i + 1
		if err := e.store.Checkpoint(ctx, run.ID, i+1); err != nil {
			return report, fmt.Errorf("checkpoint step %d: %w", i, err)
		}

		// Steps can mutate the contact; later steps see the updated row.
		contact, err = e.contacts.GetContact(ctx, contactID)
		if err != nil {
			return report, err
		}
		if contact == nil {
			run.Status = RunFailed
			run.Error = "contact no longer exists"
			if finErr := e.store.FinishRun(ctx, run.ID, RunFailed, run.Error); finErr != nil {
				logger.Error("workflow finish failed", "run", run.ID, "error", finErr)
			}
			return report, nil
		}
	}

	run.Status = RunCompleted
	run.Error = ""
	if err := e.store.FinishRun(ctx, run.ID, RunCompleted, ""); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) executeStep(ctx context.Context, step Step, contact *newsletter.Contact) error {
	switch step.Type {
	case StepSendEmail:
		return e.stepSendEmail(ctx, step, contact)
	case StepAddGroup:
		gid, err := paramUUID(step.Params, "group_id")
		if err != nil {
			return err
		}
		return e.contacts.AssignContactToGroups(ctx, contact.ID, []uuid.UUID{gid})
	case StepRemoveGroup:
		gid, err := paramUUID(step.Params, "group_id")
		if err != nil {
			return err
		}
		return e.contacts.RemoveContactFromGroups(ctx, contact.ID, []uuid.UUID{gid})
	case StepSetField:
		field := paramString(step.Params, "field")
		if field == "" {
			return fmt.Errorf("set_field step missing field param")
		}
		return e.contacts.SetContactField(ctx, contact.ID, field, paramString(step.Params, "value"))
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

func (e *Engine) stepSendEmail(ctx context.Context, step Step, contact *newsletter.Contact) error {
	subjectTpl := paramString(step.Params, "subject")
	bodyTpl := paramString(step.Params, "template")
	if subjectTpl == "" || bodyTpl == "" {
		return fmt.Errorf("send_email step missing subject or template param")
	}
	if contact.Status != newsletter.ContactSubscribed {
		// Unsubscribed contacts still move through the rest of the workflow.
		logger.Info("send_email skipped for unsubscribed contact", "contact", contact.ID)
		return nil
	}

	vars := newsletter.ContactVars(contact)
	subject, err := e.templates.Render(subjectTpl, vars)
	if err != nil {
		return err
	}
	body, err := e.templates.Render(bodyTpl, vars)
	if err != nil {
		return err
	}
	_, err = e.sender.Send(ctx, contact.Email, subject, body)
	return err
}

func paramString(params newsletter.JSON, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func paramUUID(params newsletter.JSON, key string) (uuid.UUID, error) {
	raw := paramString(params, key)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("step missing %s param", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return id, nil
}
