// Package main starts the cardsync HTTP server: configuration, logging,
// database, upstream scraping, services and routes.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/cardsync/internal/config"
	"github.com/atinyakov/cardsync/internal/db"
	"github.com/atinyakov/cardsync/internal/fetch"
	"github.com/atinyakov/cardsync/internal/logger"
	"github.com/atinyakov/cardsync/internal/parser"
	"github.com/atinyakov/cardsync/internal/profile"
	"github.com/atinyakov/cardsync/internal/repository"
	"github.com/atinyakov/cardsync/internal/server/handler/http"
	"github.com/atinyakov/cardsync/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	if err := log.Init(cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Log.Sync() }()
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgresDB, err := db.InitPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	repo := repository.NewPostgresRepository(postgresDB)
	profiles := profile.New(cfg.Profile.Path, zapLogger)

	fetcher := fetch.New(fetch.Config{
		RetryLimit:     cfg.Parsing.RetryLimit,
		BaseDelay:      cfg.Parsing.BaseDelay,
		RequestTimeout: cfg.Parsing.RequestTimeout,
	}, fetch.WithCredentials(profiles), fetch.WithLogger(zapLogger))

	scraper := parser.New(fetcher, parser.URLs{
		BaseURL:         cfg.Upstream.BaseURL,
		UserMarketsPath: cfg.Upstream.UserMarketsPath,
		UserCardsPath:   cfg.Upstream.UserCardsPath,
		CardsLoadPath:   cfg.Upstream.CardsLoadPath,
	}, parser.WithLogger(zapLogger), parser.WithPageSize(cfg.Parsing.CardsPerPage))

	cardService := service.NewCardService(repo, scraper, zapLogger)
	statusService := service.NewStatusService(repo, scraper, cardService, zapLogger, cfg.Status.PageSize)

	router := http.NewRouter(http.Handlers{
		Auth:   &http.AuthHandler{Profiles: profiles, Log: zapLogger},
		Status: &http.StatusHandler{Status: statusService, Log: zapLogger},
		Cards:  &http.CardsHandler{Cards: cardService, Log: zapLogger},
		Health: &http.HealthHandler{DB: postgresDB, Log: zapLogger},
		Tokens: profiles,
	}, http.RouterOptions{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	}, zapLogger)

	server := &nethttp.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	zapLogger.Info("starting HTTP server", zap.String("addr", cfg.Server.Address))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}
