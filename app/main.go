package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-relay/app/admin"
	"github.com/lysyi3m/rss-relay/app/api"
	"github.com/lysyi3m/rss-relay/app/cfg"
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/pipeline"
	"github.com/lysyi3m/rss-relay/app/rewrite"
	"github.com/lysyi3m/rss-relay/app/tasks"
	"github.com/lysyi3m/rss-relay/app/telegram"
)

func main() {
	appCfg, err := cfg.Load(os.Args[1:])
	if err != nil {
		var configErr *cfg.ConfigError
		if errors.As(err, &configErr) {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", configErr)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	setupLogger()

	slog.Info("Starting RSS Relay", "version", appCfg.Version, "dry_run", appCfg.DryRun, "force", appCfg.Force)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	newsRepo := database.NewNewsRepository(db)

	seedFeeds(feedRepo)

	httpClient := &http.Client{}
	fetcher := feed.NewFetcher(httpClient, feed.NewParser(), appCfg.UserAgent)

	var botClient *telegram.Client
	var notifier pipeline.Notifier = telegram.LogNotifier{}
	if !appCfg.DryRun {
		// own client: requests carry a timeout above the long-poll window
		botClient = telegram.NewClient(appCfg.BotToken, nil)
		notifier = telegram.NewNotifier(botClient, appCfg.BotTarget, appCfg.BotAdmin)
	}

	var rewriter pipeline.Rewriter = rewrite.Passthrough{}
	if appCfg.RewriteEnabled() {
		rewriter = rewrite.NewChatRewriter(appCfg.RewriteEndpoint, appCfg.RewriteAPIKey, appCfg.RewriteModels, nil)
		slog.Info("Summary rewriting enabled", "models", appCfg.RewriteModels, "language", appCfg.RewriteLanguage)
	}

	relay := pipeline.New(feedRepo, newsRepo, fetcher, feed.NewNormalizer(), notifier, rewriter, pipeline.Options{
		MaxArticles:  appCfg.NewsCount,
		MaxAge:       appCfg.GetMaxAge(),
		FetchTimeout: appCfg.GetFetchTimeout(),
		FetchWorkers: appCfg.FetchWorkers,
		Language:     appCfg.RewriteLanguage,
		DryRun:       appCfg.DryRun,
	})

	if appCfg.Force {
		slog.Info("Starting forced execution")
		if _, err := relay.Run(context.Background()); err != nil {
			slog.Error("Forced run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	service := admin.NewService(
		feedRepo,
		newsRepo,
		feed.NewValidator(fetcher, appCfg.GetFetchTimeout()),
		feed.NewDiscoverer(httpClient, appCfg.UserAgent, appCfg.GetFetchTimeout()),
		relay,
		appCfg.RetentionDays,
	)

	scheduler := tasks.NewScheduler(relay, service, tasks.Options{
		RunInterval:   appCfg.GetRunInterval(),
		RetentionDays: appCfg.RetentionDays,
		IsActive:      appCfg.IsActiveHour,
	})
	slog.Info("Starting scheduler", "interval", appCfg.GetRunInterval(), "active_from", appCfg.ActiveFrom, "active_until", appCfg.ActiveUntil)
	scheduler.Start()
	defer scheduler.Stop()

	if botClient != nil {
		listener := telegram.NewListener(botClient, admin.NewCommands(service), appCfg.BotAdmin)
		listener.Start()
		defer listener.Stop()
	}

	serverErrChan := make(chan error, 1)
	var httpServer *http.Server

	if appCfg.Port != "0" {
		httpServer = &http.Server{
			Addr:         ":" + appCfg.Port,
			Handler:      api.NewServer(api.NewHandler(service, relay, scheduler), appCfg.APIAccessKey),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		go func() {
			slog.Info("Starting HTTP server", "port", appCfg.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}
}

func setupLogger() {
	level := slog.LevelInfo
	if cfg.Get().Debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// seedFeeds fills an empty registry from the configured feeds file
func seedFeeds(feedRepo *database.FeedRepository) {
	path := cfg.Get().FeedsFile

	urls, err := feed.LoadSeedList(path)
	if err != nil {
		slog.Warn("Failed to load seed feeds", "path", path, "error", err)
		return
	}
	if len(urls) == 0 {
		return
	}

	inserted, err := feedRepo.SeedFeeds(context.Background(), urls)
	if err != nil {
		slog.Warn("Failed to seed feeds", "error", err)
		return
	}
	if inserted > 0 {
		slog.Info("Seeded empty registry", "path", path, "feeds", inserted)
	}
}
