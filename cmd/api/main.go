package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"streamlens/internal/config"
	transporthttp "streamlens/internal/http"
	"streamlens/internal/platform/database"
	"streamlens/internal/platform/logging"
	"streamlens/internal/platform/migrate"
	"streamlens/internal/provider"
	"streamlens/internal/session"
	"streamlens/internal/stats"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)

	providerClient := provider.NewHTTPClient(cfg.InsecureSkipTLSVerify)
	if cfg.InsecureSkipTLSVerify {
		logger.Warn("TLS certificate verification disabled for provider calls")
	}

	providers, err := buildProviders(ctx, cfg, providerClient, logger)
	if err != nil {
		logger.Error("failed to initialize providers", "error", err)
		os.Exit(1)
	}

	store, cleanup, err := buildSessionStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize session store", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	statsSvc := stats.NewService(providerClient, cfg.Twitch.ClientID)
	oauthHandler := transporthttp.NewOAuthHandler(providers, store, cfg.BaseURL, logger)
	statsHandler := transporthttp.NewStatsHandler(statsSvc, providers, store, logger)
	router := transporthttp.NewRouter(cfg, oauthHandler, statsHandler, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("StreamLens API listening", "addr", srv.Addr, "store", cfg.DataStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildProviders(ctx context.Context, cfg config.Config, client *http.Client, logger *slog.Logger) (map[string]provider.Provider, error) {
	providers := make(map[string]provider.Provider)

	if cfg.Twitch.Configured() {
		providers[provider.TwitchName] = provider.NewTwitch(
			cfg.Twitch.ClientID,
			cfg.Twitch.ClientSecret,
			cfg.RedirectURL(provider.TwitchName),
			client,
		)
	} else {
		logger.Warn("twitch credentials not configured; twitch connect disabled")
	}

	if cfg.YouTube.Configured() {
		youtube, err := provider.NewYouTube(
			ctx,
			cfg.YouTube.ClientID,
			cfg.YouTube.ClientSecret,
			cfg.RedirectURL(provider.YouTubeName),
			client,
		)
		if err != nil {
			return nil, err
		}
		providers[provider.YouTubeName] = youtube
	} else {
		logger.Warn("youtube credentials not configured; youtube connect disabled")
	}

	return providers, nil
}

func buildSessionStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Store, func(), error) {
	if cfg.UseCookieStore() {
		logger.Info("using cookie session store")
		return session.NewCookieStore(cfg.Environment), nil, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	if err := migrate.Apply(ctx, db, logger); err != nil {
		cleanup()
		return nil, nil, err
	}

	store := session.NewPostgresStore(db, cfg.Environment)
	go cleanupExpiredSessions(ctx, store, logger)

	logger.Info("using postgres session store")
	return store, cleanup, nil
}

func cleanupExpiredSessions(ctx context.Context, store *session.PostgresStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("removed expired sessions", "count", n)
			}
		}
	}
}
