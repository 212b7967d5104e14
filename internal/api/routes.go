package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/newsletter-platform/internal/pkg/httputil"
)

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	// Public endpoints: tracking fetches come from mail clients and delivery
	// webhooks come from AWS. Neither carries an admin session.
	r.Get("/newsletter/track/open", s.handleTrackOpen)
	r.Get("/newsletter/track/click", s.handleTrackClick)
	r.Post("/webhooks/ses", s.handleSESWebhook)

	if s.auth != nil {
		r.Get("/auth/login", s.auth.HandleLogin)
		r.Get("/auth/callback", s.auth.HandleCallback)
		r.Get("/auth/logout", s.auth.HandleLogout)
		r.Get("/auth/user", s.auth.HandleUser)
	}

	r.Route("/admin/newsletter", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.RequireAdmin)
		}

		r.Post("/contacts", s.handleEnsureContact)
		r.Post("/contacts/bulk", s.handleBulkContacts)
		r.Post("/contacts/sync", s.handleSyncContacts)
		r.Post("/contacts/{id}/fields", s.handleSetContactField)
		r.Get("/contacts/{id}/flags", s.handleGetContactFlags)
		r.Post("/contacts/{id}/flags", s.handleSetContactFlag)
		r.Delete("/contacts/{id}/flags/{flag}", s.handleDeleteContactFlag)

		r.Post("/groups", s.handleCreateGroup)
		r.Get("/groups/{id}/members", s.handleGroupMembers)

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Post("/campaigns/{id}/send", s.handleSendCampaign)
		r.Get("/campaigns/{id}/recipients", s.handleListRecipients)
		r.Get("/campaigns/{id}/events", s.handleListEvents)

		r.Get("/analytics", s.handleAnalytics)

		r.Post("/workflows", s.handleCreateWorkflow)
		r.Post("/workflows/trigger", s.handleTriggerWorkflow)
		r.Get("/workflows/{id}/runs", s.handleListRuns)

		r.Get("/jobs", s.handleListJobs)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		httputil.Fail(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	httputil.OK(w, map[string]any{"status": "healthy"})
}
