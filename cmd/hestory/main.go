package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ddoriboo/hestorygem/internal/backend"
	"github.com/ddoriboo/hestorygem/internal/config"
	"github.com/ddoriboo/hestorygem/internal/httpapi"
	"github.com/ddoriboo/hestorygem/internal/observability"
	"github.com/ddoriboo/hestorygem/internal/speech"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	api := backend.New(cfg.BackendBaseURL, cfg.BackendToken, cfg.BackendTimeout)

	var (
		recognizer  speech.RecognizerProvider
		synthesizer speech.SynthesizerProvider
	)

	speechMode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if speechMode == "" {
		speechMode = "auto"
	}

	tryRemote := func() bool {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return false
		}
		p := speech.NewRemoteProvider(speech.RemoteConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			STTModelID:   cfg.ElevenLabsSTTModel,
			TTSVoiceID:   cfg.ElevenLabsTTSVoice,
			TTSModelID:   cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
		recognizer = p
		synthesizer = p
		log.Printf("speech provider: elevenlabs realtime")
		return true
	}

	switch speechMode {
	case "remote":
		if !tryRemote() {
			log.Fatalf("SPEECH_PROVIDER=remote but ELEVENLABS_API_KEY is not set")
		}
	case "mock":
		p := speech.NewMockProvider()
		p.SetAutoFinish(true)
		recognizer = p
		synthesizer = p
		log.Printf("speech provider: mock")
	case "auto":
		if tryRemote() {
			break
		}
		// Without a key the interview still runs text-only; speech stays
		// unavailable and the UI degrades to typed input.
		log.Printf("speech provider: none (no elevenlabs key, text-only interviews)")
	default:
		log.Fatalf("invalid SPEECH_PROVIDER: %q (expected auto|remote|mock)", cfg.SpeechProvider)
	}

	srv := httpapi.New(cfg, api, recognizer, synthesizer, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv.Router(),
	}

	go func() {
		log.Printf("interview gateway listening on %s (backend %s)", cfg.BindAddr, cfg.BackendBaseURL)
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
