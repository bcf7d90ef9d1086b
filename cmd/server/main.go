// Platform server - runs the voice-note capture pipeline and serves the
// websocket event sink.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hushnote/platform/internal/audio"
	"github.com/hushnote/platform/internal/config"
	"github.com/hushnote/platform/internal/events"
	"github.com/hushnote/platform/internal/metrics"
	"github.com/hushnote/platform/internal/server"
	"github.com/hushnote/platform/internal/session"
	"github.com/hushnote/platform/internal/transcribe"
	"github.com/hushnote/platform/internal/vad"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	capt, err := audio.NewCapturer(
		cfg.Audio.DeviceRate, cfg.Audio.Channels,
		cfg.Audio.FramesPerBuffer, cfg.Audio.QueueDepth,
		cfg.Audio.DeviceHint,
	)
	if err != nil {
		slog.Error("failed to initialize capture", "error", err)
		os.Exit(1)
	}

	client, err := transcribe.NewClient(transcribe.ClientConfig{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		FastModel:     cfg.Transcription.FastModel,
		RefinedModel:  cfg.Transcription.RefinedModel,
		Language:      cfg.Transcription.Language,
		Timeout:       cfg.Transcription.TimeoutDuration(),
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		slog.Error("failed to build transcription client", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	met := metrics.New(nil)

	provider := &vad.EnergyProvider{
		FullScale: cfg.VAD.EnergyFullScale,
		Smoothing: float32(cfg.VAD.EnergySmoothing),
	}

	ctrl, err := session.New(cfg, bus, met, capt, provider, client)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionDone := make(chan error, 1)
	go func() { sessionDone <- ctrl.Run(ctx) }()

	var httpServer *http.Server
	if cfg.Server.Enabled {
		httpServer = &http.Server{
			Addr:        cfg.Server.Addr,
			Handler:     server.New(ctrl, bus, nil).Handler(),
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("platform server starting", "http", cfg.Server.Addr, "session", ctrl.Dir())
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
		slog.Info("shutting down...")
		cancel()
		if err := <-sessionDone; err != nil {
			slog.Error("session error", "error", err)
			exitCode = 1
		}
	case err := <-sessionDone:
		// Fatal pipeline fault: device lost, model load failed, or a
		// protocol violation.
		if err != nil {
			slog.Error("session aborted", "error", err)
			exitCode = 1
		}
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
	}

	bus.Close()
	slog.Info("shutdown complete")
	os.Exit(exitCode)
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
