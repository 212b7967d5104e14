// Command tracking runs only the public pixel and redirect endpoints. It can
// be scaled and exposed separately from the admin server, which is useful
// when tracking traffic dwarfs admin traffic.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ignite/newsletter-platform/internal/config"
	"github.com/ignite/newsletter-platform/internal/kvstore"
	"github.com/ignite/newsletter-platform/internal/newsletter"
	"github.com/ignite/newsletter-platform/internal/pkg/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("config load failed", "path", configPath, "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	var counters newsletter.DayCounter
	if cfg.Redis.Enabled {
		kv, err := kvstore.New(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn("redis unavailable, counters disabled", "error", err)
		} else {
			defer kv.Close()
			counters = kv
		}
	}

	store := newsletter.NewStore(db)
	tracking := newsletter.NewTrackingService(store, counters,
		cfg.Newsletter.TrackingBaseURL, cfg.Newsletter.DefaultRedirectURL)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/newsletter/track/open", func(w http.ResponseWriter, req *http.Request) {
		campaignID, err1 := uuid.Parse(req.URL.Query().Get("c"))
		recipientID, err2 := uuid.Parse(req.URL.Query().Get("r"))
		if err1 == nil && err2 == nil {
			tracking.MarkOpened(req.Context(), campaignID, recipientID)
		}
		newsletter.WritePixel(w)
	})
	r.Get("/newsletter/track/click", func(w http.ResponseWriter, req *http.Request) {
		destination := tracking.ResolveRedirect(req.URL.Query().Get("u"))
		campaignID, err1 := uuid.Parse(req.URL.Query().Get("c"))
		recipientID, err2 := uuid.Parse(req.URL.Query().Get("r"))
		if err1 == nil && err2 == nil {
			tracking.MarkClicked(req.Context(), campaignID, recipientID, destination)
		}
		http.Redirect(w, req, destination, http.StatusFound)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("tracking server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("tracking server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
