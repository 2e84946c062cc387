// Package main is the entry point for the calendar reminder bot server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/api"
	"github.com/calendar-bot/backend/internal/api/handlers"
	"github.com/calendar-bot/backend/internal/calendar"
	"github.com/calendar-bot/backend/internal/config"
	"github.com/calendar-bot/backend/internal/logging"
	"github.com/calendar-bot/backend/internal/messaging"
	"github.com/calendar-bot/backend/internal/metrics"
	"github.com/calendar-bot/backend/internal/reminder"
	"github.com/calendar-bot/backend/internal/storage"
	"github.com/calendar-bot/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	envFile := flag.String("env", ".env", "Optional .env file with CALBOT_* overrides")
	addr := flag.String("addr", "", "HTTP server address (overrides the config file)")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		target := *addr
		if target == "" {
			target = config.DefaultConfig().Listen
		}
		if err := runHealthCheck(target); err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	// Allow overriding version via environment (e.g., injected by container build/runtime)
	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.WithField("version", version).Info("Starting calendar reminder bot")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
	logger.Info("Server stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	// Initialize database
	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize repositories
	calendarRepo := storage.NewCalendarRepository(db)
	eventRepo := storage.NewEventRepository(db)
	reminderRepo := storage.NewReminderRepository(db)
	directoryRepo := storage.NewDirectoryRepository(db)

	m := metrics.New()

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger.WithField("component", "websocket"))
	go hub.Run(ctx)
	broadcaster := websocket.NewEventBroadcaster(hub, logger)

	sender, err := messaging.New(cfg.Messaging, cfg.Sync.HTTPTimeout())
	if err != nil {
		return fmt.Errorf("creating %s sender: %w", cfg.Messaging.Backend, err)
	}

	// Reminder pipeline
	identities := reminder.NewIdentityCache()
	if err := identities.Refresh(ctx, directoryRepo); err != nil {
		logger.WithError(err).Warn("Failed to load identity mappings")
	} else {
		logger.WithField("identities", identities.Len()).Info("Loaded identity mappings")
	}
	dispatcher := reminder.NewDispatcher(sender, identities, directoryRepo, m, broadcaster,
		logger.WithField("component", "dispatch"))
	reminderScheduler := reminder.NewScheduler(eventRepo, dispatcher, logger.WithField("component", "reminders"),
		reminder.SchedulerOptions{
			MaxSleep: cfg.Reminders.MaxSleep(),
			Metrics:  m,
			Notifier: broadcaster,
		})
	if err := reminderScheduler.Recompute(ctx); err != nil {
		logger.WithError(err).Warn("Failed to build initial reminder queue")
	}

	reminderDone := make(chan struct{})
	go func() {
		defer close(reminderDone)
		if err := reminderScheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Reminder scheduler exited")
		}
	}()

	// Calendar pipeline
	syncService := calendar.NewSyncService(
		calendarRepo,
		eventRepo,
		reminderRepo,
		calendar.NewFeedClient(cfg.Sync.HTTPTimeout()),
		reminderScheduler,
		logger.WithField("component", "sync"),
		calendar.SyncOptions{
			Window:   calendar.Window{Past: cfg.Sync.WindowPast(), Future: cfg.Sync.WindowFuture()},
			Lookback: cfg.Sync.Lookback(),
			Matcher:  calendar.SummaryOrganizerMatcher{},
			Metrics:  m,
		},
	)
	calendarScheduler := calendar.NewScheduler(
		syncService,
		calendarRepo,
		broadcaster,
		logger.WithField("component", "scheduler"),
		cfg.Sync.DefaultIntervalMinutes,
	)
	if err := calendarScheduler.AddPeriodic("identity-refresh", cfg.Reminders.IdentityRefresh(), func(ctx context.Context) error {
		if err := identities.Refresh(ctx, directoryRepo); err != nil {
			return err
		}
		logger.WithField("identities", identities.Len()).Debug("Refreshed identity mappings")
		return nil
	}); err != nil {
		return err
	}
	if err := calendarScheduler.Start(ctx); err != nil {
		logger.WithError(err).Warn("Failed to start calendar scheduler")
	}

	// Initialize HTTP router
	router := api.NewRouter(api.Deps{
		DB:        db,
		Calendars: calendarRepo,
		Reminders: reminderRepo,
		Hub:       hub,
		Upgrade:   handlers.WebSocketUpgrade(hub, logger.WithField("component", "websocket")),
		Scheduler: calendarScheduler,
		Queue:     reminderScheduler,
		Metrics:   m.Handler(),
		Logger:    logger.WithField("component", "http"),
	})

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Listen).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stop()
		calendarScheduler.Stop()
		<-reminderDone
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutting down server...")
	calendarScheduler.Stop()
	<-reminderDone

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
