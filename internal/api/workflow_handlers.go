package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/newsletter-platform/internal/pkg/httputil"
	"github.com/ignite/newsletter-platform/internal/workflow"
)

// POST /admin/newsletter/workflows
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string          `json:"name"`
		Steps []workflow.Step `json:"steps"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if len(req.Steps) == 0 {
		httputil.BadRequest(w, "steps is required")
		return
	}
	for i := range req.Steps {
		if req.Steps[i].StepOrder == 0 {
			req.Steps[i].StepOrder = i + 1
		}
	}

	wf, err := s.wfStore.CreateWorkflow(r.Context(), req.Name, req.Steps)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"workflow": wf})
}

// POST /admin/newsletter/workflows/trigger
func (s *Server) handleTriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID uuid.UUID `json:"workflow_id"`
		ContactID  uuid.UUID `json:"contact_id"`
		StartIndex *int      `json:"start_index"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.WorkflowID == uuid.Nil || req.ContactID == uuid.Nil {
		httputil.BadRequest(w, "workflow_id and contact_id are required")
		return
	}

	report, err := s.workflows.Trigger(r.Context(), req.WorkflowID, req.ContactID, req.StartIndex)
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound), errors.Is(err, workflow.ErrContactNotFound):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"report": report})
}

// GET /admin/newsletter/workflows/{id}/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p := ParsePagination(r, 50, 200)

	runs, err := s.wfStore.ListRuns(r.Context(), workflowID, p.Limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if runs == nil {
		runs = []*workflow.Run{}
	}
	httputil.OK(w, map[string]any{"runs": runs})
}
