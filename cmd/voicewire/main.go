package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/httpapi"
	"github.com/voicewire/voicewire/internal/observability"
	"github.com/voicewire/voicewire/internal/reports"
	"github.com/voicewire/voicewire/internal/synth"
	"github.com/voicewire/voicewire/internal/voices"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if _, ok := voices.Lookup(cfg.DefaultVoiceID); !ok {
		log.Fatalf("unknown DEFAULT_VOICE_ID: %q", cfg.DefaultVoiceID)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewLatencyWindow(cfg.LatencyWindowSize)

	ctx := context.Background()
	store, err := reports.NewStore(ctx, cfg.DatabaseURL, cfg.ReportHistoryLimit)
	if err != nil {
		log.Fatalf("report store init failed: %v", err)
	}
	defer store.Close()
	log.Printf("report store: %s", store.Mode())

	var synthesizer synth.Synthesizer
	if cfg.SynthCommand != "" {
		synthesizer, err = synth.NewExecSynth(cfg.SynthCommand, cfg.SynthChunkBytes)
		if err != nil {
			log.Fatalf("synth command init failed: %v", err)
		}
		log.Printf("synthesizer: exec (%s)", cfg.SynthCommand)
	} else {
		synthesizer = synth.NewMockSynth(cfg.SynthChunkBytes)
		log.Printf("synthesizer: mock (SYNTH_COMMAND not set)")
	}

	api := httpapi.New(cfg, synthesizer, store, metrics, window)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
