// Package main provides the console backend entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freyalabs/console/internal/config"
	"github.com/freyalabs/console/internal/metrics"
	"github.com/freyalabs/console/internal/prompts"
	"github.com/freyalabs/console/internal/realtime"
	"github.com/freyalabs/console/internal/server"
	"github.com/freyalabs/console/internal/server/sse"
	"github.com/freyalabs/console/internal/sessions"
	"github.com/freyalabs/console/internal/store"
	"github.com/freyalabs/console/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.freya-console)")
	port := flag.Int("port", 0, "HTTP port (overrides settings)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	cfg.HTTPPort = config.GetHTTPPort()
	cfg.TokenURL = config.GetTokenURL()
	if *port > 0 {
		cfg.HTTPPort = *port
	}

	promptsPath := config.PromptsPath()
	sessionsPath := config.SessionsPath()
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		promptsPath = filepath.Join(*dataDir, "prompts.json")
		sessionsPath = filepath.Join(*dataDir, "sessions.json")
		if err := os.MkdirAll(*dataDir, 0o750); err != nil {
			log.Fatal().Err(err).Msg("Failed to create data directory")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down console")
		cancel()
	}()

	st := store.New(store.Options{
		PromptsPath:  promptsPath,
		SessionsPath: sessionsPath,
		SeedFile:     cfg.SeedFile,
	})
	st.Load()

	promptRepo := prompts.NewRepository(st)
	sessionRepo := sessions.NewRepository(st)
	aggregator := metrics.NewAggregator(sessionRepo)
	broadcaster := sse.NewBroadcaster()

	tokenSvc := realtime.NewHTTPTokenService(cfg.TokenURL)
	controller := realtime.NewController(sessionRepo, tokenSvc,
		func() realtime.Transport { return realtime.NewWSTransport() },
		realtime.WithPublisher(broadcaster))

	// Rewrite the storage files if something deletes them out from
	// under us, so the durable copy always mirrors memory.
	w, err := watcher.New([]string{promptsPath, sessionsPath}, func(path string) {
		log.Warn().Str("path", path).Msg("Storage file removed, rewriting")
		st.Save()
	})
	if err != nil {
		log.Warn().Err(err).Msg("File watcher unavailable")
	} else if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start file watcher")
	} else {
		defer w.Stop()
	}

	svc := server.New(server.Deps{
		Version:     Version,
		Config:      cfg,
		Store:       st,
		Prompts:     promptRepo,
		Sessions:    sessionRepo,
		Aggregator:  aggregator,
		Controller:  controller,
		Broadcaster: broadcaster,
	})

	log.Info().Str("version", Version).Str("dataDir", cfg.DataDir).Msg("Starting console")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Console exited with error")
	}
}
