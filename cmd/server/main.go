package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/imagerelay/imagerelay/internal/config"
	"github.com/imagerelay/imagerelay/internal/fetch"
	httphandler "github.com/imagerelay/imagerelay/internal/http"
	"github.com/imagerelay/imagerelay/internal/imageproc"
	"github.com/imagerelay/imagerelay/internal/proxy"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg := config.Load()
	logger.Info().Msg("starting imagerelay server")

	// Validate required config
	if cfg.DefaultQuality < 1 || cfg.DefaultQuality > 100 {
		logger.Fatal().Msgf("DEFAULT_QUALITY must be between 1 and 100, got %d", cfg.DefaultQuality)
	}
	if _, ok := imageproc.ParseFormat(cfg.DefaultFormat); !ok {
		logger.Fatal().Msgf("DEFAULT_FORMAT must be one of jpeg, png, webp, avif, got %q", cfg.DefaultFormat)
	}
	if cfg.MaxWidth < 1 || cfg.MaxHeight < 1 {
		logger.Fatal().Msg("MAX_WIDTH and MAX_HEIGHT must be positive")
	}
	if cfg.MaxFileSize < 1 {
		logger.Fatal().Msg("MAX_FILE_SIZE must be positive")
	}

	// Initialize transform engine
	var engine imageproc.Engine
	switch cfg.Engine {
	case "vips":
		engine = imageproc.NewVipsEngine()
	case "simple":
		engine = imageproc.NewSimpleEngine()
		logger.Warn().Msg("using pure-Go engine; webp and avif output are unavailable")
	default:
		logger.Fatal().Msgf("ENGINE must be vips or simple, got %q", cfg.Engine)
	}

	// Initialize guarded fetcher
	fetcher := fetch.New(
		cfg.FetchTimeout,
		cfg.MaxFileSize,
		cfg.AllowedDomains,
		cfg.BlockedDomains,
		cfg.AllowPrivateNet,
	)
	if cfg.AllowPrivateNet {
		logger.Warn().Msg("private network fetches are enabled")
	}

	// Initialize pipeline service and handler
	service := proxy.NewService(cfg, engine, fetcher, logger)
	handler := proxy.NewHandler(service, cfg, logger)

	// Initialize HTTP server
	server := httphandler.NewServer(cfg, logger, handler)

	httpServer := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        server.Routes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("port", cfg.Port).Str("engine", cfg.Engine).Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited")
}
