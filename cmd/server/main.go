package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wasm-sandbox/internal/api"
	"wasm-sandbox/internal/compiler"
	"wasm-sandbox/internal/config"
	"wasm-sandbox/internal/monitor"
	"wasm-sandbox/internal/runtime"
	"wasm-sandbox/internal/sandbox"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("invalid config")
		}
	}

	metrics := monitor.NewMetrics()

	// Select the execution backend once at startup. A misconfigured or
	// absent backend is not fatal: health/metrics stay up and executions
	// fail fast as unavailable.
	backend, err := sandbox.NewBackend(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("no execution backend available (executions will fail)")
		backend = nil
	} else if backend == nil {
		log.Warn().Msg("runtime.backend is none (executions will fail)")
	}

	var comp compiler.Compiler
	if cfg.Compiler.URL != "" {
		comp = compiler.NewHTTPCompiler(cfg.Compiler.URL, cfg.Compiler.APIKey, cfg.Compiler.Timeout.Std())
	} else {
		log.Warn().Msg("compiler.url not configured (executions will fail)")
	}

	controller := runtime.NewController(cfg, comp, backend, metrics)
	server := api.NewServer(cfg, controller, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		if backend != nil {
			if err := backend.Close(); err != nil {
				log.Error().Err(err).Msg("backend close error")
			}
		}
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("backend", string(cfg.Runtime.Backend)).
		Bool("backend_available", backend != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
