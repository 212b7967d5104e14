// Command server runs the full newsletter platform: admin API, tracking
// endpoints and delivery webhooks in one process.
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

	_ "github.com/lib/pq"

	"github.com/ignite/newsletter-platform/internal/api"
	"github.com/ignite/newsletter-platform/internal/auth"
	"github.com/ignite/newsletter-platform/internal/config"
	"github.com/ignite/newsletter-platform/internal/kvstore"
	"github.com/ignite/newsletter-platform/internal/mailer"
	"github.com/ignite/newsletter-platform/internal/newsletter"
	"github.com/ignite/newsletter-platform/internal/pkg/logger"
	"github.com/ignite/newsletter-platform/internal/workflow"
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

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var kv *kvstore.Client
	if cfg.Redis.Enabled {
		kv, err = kvstore.New(ctx, cfg.Redis.URL)
		if err != nil {
			// Counters and flags degrade gracefully; boot anyway.
			logger.Warn("redis unavailable, counters disabled", "error", err)
			kv = nil
		} else {
			defer kv.Close()
		}
	}

	var sender newsletter.Sender
	if cfg.SES.Enabled {
		sesClient, err := mailer.New(ctx, cfg.SES)
		if err != nil {
			logger.Error("ses client init failed", "error", err)
			os.Exit(1)
		}
		sender = sesClient
	} else {
		logger.Warn("ses disabled, sends will be logged only")
		sender = logSender{}
	}

	store := newsletter.NewStore(db)
	templates := newsletter.NewTemplateService()

	var counters newsletter.DayCounter
	if kv != nil {
		counters = kv
	}
	tracking := newsletter.NewTrackingService(store, counters,
		cfg.Newsletter.TrackingBaseURL, cfg.Newsletter.DefaultRedirectURL)
	campaigns := newsletter.NewCampaignSender(store, templates, tracking, sender)

	wfStore := workflow.NewStore(db)
	engine := workflow.NewEngine(wfStore, store, templates, sender)

	authManager := auth.NewManager(cfg.Auth, cfg.Newsletter.TrackingBaseURL)
	authManager.StartSessionCleanup(ctx)

	server := api.NewServer(*cfg, store, tracking, campaigns, engine, wfStore, kv, authManager)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// logSender stands in for SES when sending is disabled in config.
type logSender struct{}

func (logSender) Send(_ context.Context, to, subject, _ string) (string, error) {
	logger.Info("send skipped (ses disabled)", "to", to, "subject", subject)
	return "dry-run", nil
}
