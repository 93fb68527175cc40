package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	sentrygo "github.com/getsentry/sentry-go"

	"github.com/waveroom/backend/internal/config"
	"github.com/waveroom/backend/internal/database"
	"github.com/waveroom/backend/internal/db"
	"github.com/waveroom/backend/internal/logging"
	"github.com/waveroom/backend/internal/room"
	"github.com/waveroom/backend/internal/router"
	"github.com/waveroom/backend/internal/sentry"
)

func main() {
	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	// Load configuration
	cfg := config.Load()

	// Initialize Sentry if configured
	if cfg.SentryDSN != "" {
		err := sentrygo.Init(sentrygo.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			BeforeSend:       sentry.ScrubEvent,
			BeforeSendTransaction: sentry.ScrubTransaction,
			TracesSampleRate: 0.1,
		})
		if err != nil {
			slog.Error("failed to initialize sentry", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer sentrygo.Flush(2 * time.Second)
	}

	// Initialize database
	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(sqlDB); err != nil {
		slog.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize queries
	queries := db.New(sqlDB)

	// Live sync core. When a room closes (host gone past the grace period,
	// or explicit host close) the registry row goes with it.
	hub := room.NewHub(room.Options{
		SendQueueSize:   cfg.SendQueueSize,
		HostGracePeriod: cfg.HostGracePeriod,
		PingInterval:    cfg.PingInterval,
		PongTimeout:     cfg.PongTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		OnRoomClosed: func(roomID, reason string) {
			slog.Info("room closed",
				slog.String("room_id", roomID),
				slog.String("reason", reason))
			if _, err := queries.DeleteRoom(context.Background(), roomID); err != nil {
				slog.Error("failed to delete closed room",
					slog.String("room_id", roomID),
					slog.String("error", err.Error()))
			}
		},
	})

	// Create router
	r := router.New(cfg, queries, hub)

	// Start server
	addr := ":" + cfg.Port
	slog.Info("starting server", slog.String("addr", addr))

	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
