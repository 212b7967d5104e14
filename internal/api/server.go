// Package api exposes the admin HTTP surface and the public tracking
// endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/newsletter-platform/internal/auth"
	"github.com/ignite/newsletter-platform/internal/config"
	"github.com/ignite/newsletter-platform/internal/kvstore"
	"github.com/ignite/newsletter-platform/internal/newsletter"
	"github.com/ignite/newsletter-platform/internal/workflow"
)

// Server is the HTTP server with its wired services.
type Server struct {
	cfg       config.Config
	store     *newsletter.Store
	tracking  *newsletter.TrackingService
	campaigns *newsletter.CampaignSender
	workflows *workflow.Engine
	wfStore   *workflow.Store
	kv        *kvstore.Client
	auth      *auth.Manager
	router    *chi.Mux
	server    *http.Server
}

// NewServer wires handlers and routes. kv may be nil when Redis is disabled.
func NewServer(
	cfg config.Config,
	store *newsletter.Store,
	tracking *newsletter.TrackingService,
	campaigns *newsletter.CampaignSender,
	workflows *workflow.Engine,
	wfStore *workflow.Store,
	kv *kvstore.Client,
	authManager *auth.Manager,
) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		tracking:  tracking,
		campaigns: campaigns,
		workflows: workflows,
		wfStore:   wfStore,
		kv:        kv,
		auth:      authManager,
	}
	s.router = s.setupRoutes()
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		// Campaign sends run inside the request, so writes get a long leash.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}
