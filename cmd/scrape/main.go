// Command scrape collects one user's cards from upstream without touching
// the database and prints them as JSON. With -category it only probes the
// user's public status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/atinyakov/cardsync/internal/config"
	"github.com/atinyakov/cardsync/internal/fetch"
	"github.com/atinyakov/cardsync/internal/logger"
	"github.com/atinyakov/cardsync/internal/parser"
	"github.com/atinyakov/cardsync/internal/profile"
	"go.uber.org/zap"
)

var (
	version   string
	buildDate string
)

func main() {
	var (
		userID      string
		dumpDir     string
		profilePath string
		category    bool
		showVer     bool
	)

	flag.StringVar(&userID, "user", "", "upstream user id")
	flag.StringVar(&dumpDir, "dump", "", "directory to write raw and parsed pages to")
	flag.StringVar(&profilePath, "profile", "", "session profile file (defaults to the configured one)")
	flag.BoolVar(&category, "category", false, "only probe the user's category")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("cardsync scrape\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}
	if userID == "" {
		fmt.Fprintln(os.Stderr, "usage: scrape -user ID [-dump DIR] [-category]")
		os.Exit(2)
	}

	cfg, err := config.Load(nil, config.WithoutDatabase())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if profilePath == "" {
		profilePath = cfg.Profile.Path
	}

	log := logger.New()
	if err := log.Init(cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Log.Sync() }()
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fetcher := fetch.New(fetch.Config{
		RetryLimit:     cfg.Parsing.RetryLimit,
		BaseDelay:      cfg.Parsing.BaseDelay,
		RequestTimeout: cfg.Parsing.RequestTimeout,
	}, fetch.WithCredentials(profile.New(profilePath, zapLogger)), fetch.WithLogger(zapLogger))

	opts := []parser.Option{parser.WithLogger(zapLogger), parser.WithPageSize(cfg.Parsing.CardsPerPage)}
	if dumpDir != "" {
		d := &pageDumper{dir: dumpDir, log: zapLogger}
		opts = append(opts, parser.WithPageHook(d.hook))
	}
	scraper := parser.New(fetcher, parser.URLs{
		BaseURL:         cfg.Upstream.BaseURL,
		UserMarketsPath: cfg.Upstream.UserMarketsPath,
		UserCardsPath:   cfg.Upstream.UserCardsPath,
		CardsLoadPath:   cfg.Upstream.CardsLoadPath,
	}, opts...)

	var out any
	if category {
		c := scraper.FetchUserCategory(ctx, userID)
		out = map[string]any{"user_id": userID, "status": c.Status()}
	} else {
		cards, err := scraper.CollectCards(ctx, userID)
		if err != nil {
			zapLogger.Fatal("collect cards", zap.String("user_id", userID), zap.Error(err))
		}
		out = cards
	}

	if err := printJSON(os.Stdout, out); err != nil {
		zapLogger.Fatal("print result", zap.Error(err))
	}
}
