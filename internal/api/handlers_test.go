package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/newsletter-platform/internal/auth"
	"github.com/ignite/newsletter-platform/internal/config"
	"github.com/ignite/newsletter-platform/internal/newsletter"
	"github.com/ignite/newsletter-platform/internal/workflow"
)

func newTestServer(t *testing.T, authEnabled bool) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Config{}
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.CookieName = "admin_session"

	store := newsletter.NewStore(db)
	templates := newsletter.NewTemplateService()
	tracking := newsletter.NewTrackingService(store, nil, "https://app.example.com", "https://www.example.com")
	campaigns := newsletter.NewCampaignSender(store, templates, tracking, nil)
	wfStore := workflow.NewStore(db)
	engine := workflow.NewEngine(wfStore, store, templates, nil)
	authManager := auth.NewManager(cfg.Auth, "https://app.example.com")

	return NewServer(cfg, store, tracking, campaigns, engine, wfStore, nil, authManager), mock
}

func TestTrackOpenAlwaysServesPixel(t *testing.T) {
	s, _ := newTestServer(t, false)

	// Garbage ids: no bookkeeping, but still a pixel with caching disabled.
	req := httptest.NewRequest(http.MethodGet, "/newsletter/track/open?c=nope&r=also-nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, newsletter.PixelGIF, rec.Body.Bytes())
}

func TestTrackClickFallsBackToDefault(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet,
		"/newsletter/track/click?c=bad&r=bad&u=javascript%3Aalert(1)", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://www.example.com", rec.Header().Get("Location"))
}

func TestAdminAPIRequiresSession(t *testing.T) {
	s, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/admin/newsletter/jobs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"unauthorized"}`, rec.Body.String())
}

func TestBulkContactsValidation(t *testing.T) {
	s, _ := newTestServer(t, false)

	body := strings.NewReader(`{"contact_ids":[],"action":"unsubscribe"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter/contacts/bulk", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "contact_ids is required")
}

func TestBulkContactsBadJSON(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter/contacts/bulk", strings.NewReader(`{nope`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestCreateCampaignValidation(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter/campaigns",
		strings.NewReader(`{"name":"August update"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobsEnvelope(t *testing.T) {
	s, mock := newTestServer(t, false)

	mock.ExpectQuery(`SELECT id, campaign_id, status, scheduled_at`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "status", "scheduled_at", "started_at", "completed_at", "recipient_count", "error",
		}))

	req := httptest.NewRequest(http.MethodGet, "/admin/newsletter/jobs?status=completed", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"jobs":[]}`, rec.Body.String())
}

func TestCreateContactInvalidEmail(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter/contacts",
		strings.NewReader(`{"email":"not-an-email"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid email")
}

func TestCreateContactUpstreamFailure(t *testing.T) {
	s, mock := newTestServer(t, false)

	mock.ExpectQuery(`INSERT INTO newsletter_contacts`).
		WillReturnError(errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter/contacts",
		strings.NewReader(`{"email":"user@example.com"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestSendCampaignAlreadySent(t *testing.T) {
	s, mock := newTestServer(t, false)
	campaignID := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	mock.ExpectQuery(`FROM newsletter_campaigns WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "subject", "template", "group_id", "status", "created_at", "updated_at",
		}).AddRow(campaignID, "August update", "Hi", "<p>Hi</p>", nil, newsletter.CampaignSent, time.Now(), time.Now()))

	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter/campaigns/"+campaignID+"/send", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already sent")
}

func TestSendCampaignUpstreamFailure(t *testing.T) {
	s, mock := newTestServer(t, false)

	mock.ExpectQuery(`FROM newsletter_campaigns WHERE id`).
		WillReturnError(errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodPost,
		"/admin/newsletter/campaigns/6ba7b810-9dad-11d1-80b4-00c04fd430c8/send", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestTriggerWorkflowUnknownWorkflow(t *testing.T) {
	s, mock := newTestServer(t, false)

	mock.ExpectQuery(`SELECT id, name, created_at FROM newsletter_workflows`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}))

	body := strings.NewReader(`{
		"workflow_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"contact_id":"6ba7b811-9dad-11d1-80b4-00c04fd430c8"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter/workflows/trigger", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "workflow not found")
}

func TestTriggerWorkflowUpstreamFailure(t *testing.T) {
	s, mock := newTestServer(t, false)

	mock.ExpectQuery(`SELECT id, name, created_at FROM newsletter_workflows`).
		WillReturnError(errors.New("connection refused"))

	body := strings.NewReader(`{
		"workflow_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"contact_id":"6ba7b811-9dad-11d1-80b4-00c04fd430c8"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter/workflows/trigger", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestContactFlagsWithoutRedis(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet,
		"/admin/newsletter/contacts/6ba7b810-9dad-11d1-80b4-00c04fd430c8/flags", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"flags":{}}`, rec.Body.String())
}
