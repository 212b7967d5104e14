package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/newsletter-platform/internal/newsletter"
	"github.com/ignite/newsletter-platform/internal/pkg/httputil"
)

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httputil.BadRequest(w, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// POST /admin/newsletter/contacts
func (s *Server) handleEnsureContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		newsletter.ContactAttrs
		GroupIDs []uuid.UUID `json:"group_ids"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	contact, err := s.store.EnsureContactByEmail(r.Context(), req.Email, req.ContactAttrs)
	switch {
	case errors.Is(err, newsletter.ErrInvalidEmail):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}
	if len(req.GroupIDs) > 0 {
		if err := s.store.AssignContactToGroups(r.Context(), contact.ID, req.GroupIDs); err != nil {
			httputil.InternalError(w, err)
			return
		}
	}
	httputil.OK(w, map[string]any{"contact": contact})
}

// POST /admin/newsletter/contacts/bulk
func (s *Server) handleBulkContacts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactIDs []uuid.UUID `json:"contact_ids"`
		Action     string      `json:"action"`
		GroupID    *uuid.UUID  `json:"group_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.ContactIDs) == 0 {
		httputil.BadRequest(w, "contact_ids is required")
		return
	}

	results, err := s.store.BulkAction(r.Context(), req.ContactIDs, req.Action, req.GroupID)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]any{"results": results})
}

// POST /admin/newsletter/contacts/sync
func (s *Server) handleSyncContacts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Users   []newsletter.SyncUser `json:"users"`
		GroupID *uuid.UUID            `json:"group_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.Users) == 0 {
		httputil.BadRequest(w, "users is required")
		return
	}

	imported, failures, err := s.store.SyncContacts(r.Context(), req.Users, req.GroupID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"imported": imported, "failures": failures})
}

// POST /admin/newsletter/contacts/{id}/fields
func (s *Server) handleSetContactField(w http.ResponseWriter, r *http.Request) {
	contactID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Field == "" {
		httputil.BadRequest(w, "field is required")
		return
	}

	if err := s.store.SetContactField(r.Context(), contactID, req.Field, req.Value); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, nil)
}

// GET /admin/newsletter/contacts/{id}/flags
func (s *Server) handleGetContactFlags(w http.ResponseWriter, r *http.Request) {
	contactID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if s.kv == nil {
		httputil.OK(w, map[string]any{"flags": map[string]string{}})
		return
	}
	flags, err := s.kv.GetFlags(r.Context(), contactID.String())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"flags": flags})
}

// POST /admin/newsletter/contacts/{id}/flags
func (s *Server) handleSetContactFlag(w http.ResponseWriter, r *http.Request) {
	contactID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Flag  string `json:"flag"`
		Value string `json:"value"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Flag == "" {
		httputil.BadRequest(w, "flag is required")
		return
	}
	if s.kv == nil {
		httputil.Fail(w, http.StatusServiceUnavailable, "flag store disabled")
		return
	}
	if err := s.kv.SetFlag(r.Context(), contactID.String(), req.Flag, req.Value); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, nil)
}

// DELETE /admin/newsletter/contacts/{id}/flags/{flag}
func (s *Server) handleDeleteContactFlag(w http.ResponseWriter, r *http.Request) {
	contactID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if s.kv == nil {
		httputil.Fail(w, http.StatusServiceUnavailable, "flag store disabled")
		return
	}
	if err := s.kv.DeleteFlag(r.Context(), contactID.String(), chi.URLParam(r, "flag")); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, nil)
}

// POST /admin/newsletter/groups
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}

	group, err := s.store.CreateGroup(r.Context(), req.Name)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"group": group})
}

// GET /admin/newsletter/groups/{id}/members
func (s *Server) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p := ParsePagination(r, newsletter.RecipientDefaultLimit, newsletter.RecipientMaxLimit)

	members, err := s.store.GroupMembers(r.Context(), groupID, p.Limit, p.Offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if members == nil {
		members = []*newsletter.Contact{}
	}
	httputil.OK(w, map[string]any{"members": members, "limit": p.Limit, "offset": p.Offset})
}

// POST /admin/newsletter/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string     `json:"name"`
		Subject  string     `json:"subject"`
		Template string     `json:"template"`
		GroupID  *uuid.UUID `json:"group_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Subject == "" || req.Template == "" {
		httputil.BadRequest(w, "name, subject and template are required")
		return
	}

	campaign := &newsletter.Campaign{
		Name:     req.Name,
		Subject:  req.Subject,
		Template: req.Template,
		GroupID:  req.GroupID,
	}
	if err := s.store.CreateCampaign(r.Context(), campaign); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaign": campaign})
}

// POST /admin/newsletter/campaigns/{id}/send
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := s.campaigns.SendCampaign(r.Context(), campaignID)
	switch {
	case errors.Is(err, newsletter.ErrCampaignNotFound), errors.Is(err, newsletter.ErrCampaignAlreadySent):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"job": job})
}

// GET /admin/newsletter/campaigns/{id}/recipients
func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p := ParsePagination(r, newsletter.RecipientDefaultLimit, newsletter.RecipientMaxLimit)

	recipients, total, err := s.store.ListRecipients(r.Context(), campaignID, p.Limit, p.Offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if recipients == nil {
		recipients = []*newsletter.RecipientSummary{}
	}
	httputil.OK(w, map[string]any{
		"recipients": recipients,
		"total":      total,
		"limit":      p.Limit,
		"offset":     p.Offset,
	})
}

// GET /admin/newsletter/campaigns/{id}/events
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	events, err := s.store.ListEvents(r.Context(), campaignID, 100)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if events == nil {
		events = []*newsletter.Event{}
	}
	httputil.OK(w, map[string]any{"events": events})
}

// GET /admin/newsletter/analytics
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	overview, err := s.store.AnalyticsOverview(r.Context(), time.Now())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	payload := map[string]any{"analytics": overview}
	if s.kv != nil {
		if today, err := s.kv.TodayCounts(r.Context(), "opens", "clicks"); err == nil {
			payload["today"] = today
		}
	}
	httputil.OK(w, payload)
}

// GET /admin/newsletter/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 200)
	jobs, err := s.store.ListJobs(r.Context(), r.URL.Query().Get("status"), p.Limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*newsletter.Job{}
	}
	httputil.OK(w, map[string]any{"jobs": jobs})
}
