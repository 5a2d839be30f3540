package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the interview gateway service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	BackendBaseURL string
	BackendToken   string
	BackendTimeout time.Duration

	SpeechProvider string
	SpeechLanguage string

	SpeechRate   float64
	SpeechPitch  float64
	SpeechVolume float64

	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsSTTModel        string
	ElevenLabsTTSOutputFormat string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "hestory"),
		AllowAnyOrigin:      false,
		BackendBaseURL:      envOrDefault("HESTORY_BACKEND_URL", "http://localhost:8000"),
		BackendToken:        stringsTrimSpace("HESTORY_BACKEND_TOKEN"),
		SpeechProvider:      envOrDefault("SPEECH_PROVIDER", "auto"),
		SpeechLanguage:      envOrDefault("SPEECH_LANGUAGE", "ko-KR"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		// Default to a warm female premade voice suited to the interviewer persona.
		ElevenLabsTTSVoice: envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel: envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel: envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2_realtime"),
		// Prefer low-latency PCM for realtime playback.
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),
		ElevenLabsAPIKey:          stringsTrimSpace("ELEVENLABS_API_KEY"),
		ShutdownTimeout:           15 * time.Second,
		// Interview turns wait on an LLM round trip; keep this generous.
		BackendTimeout: 60 * time.Second,
		// Slightly slowed delivery reads better for elderly interviewees.
		SpeechRate:   0.9,
		SpeechPitch:  1.0,
		SpeechVolume: 1.0,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendTimeout, err = durationFromEnv("HESTORY_BACKEND_TIMEOUT", cfg.BackendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.SpeechRate, err = floatFromEnv("SPEECH_RATE", cfg.SpeechRate)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechPitch, err = floatFromEnv("SPEECH_PITCH", cfg.SpeechPitch)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechVolume, err = floatFromEnv("SPEECH_VOLUME", cfg.SpeechVolume)
	if err != nil {
		return Config{}, err
	}

	if cfg.BackendBaseURL == "" {
		return Config{}, fmt.Errorf("HESTORY_BACKEND_URL must not be empty")
	}
	if cfg.BackendTimeout < time.Second {
		return Config{}, fmt.Errorf("HESTORY_BACKEND_TIMEOUT must be at least 1s")
	}
	switch cfg.SpeechProvider {
	case "auto", "remote", "mock":
	default:
		return Config{}, fmt.Errorf("SPEECH_PROVIDER must be one of auto, remote, mock")
	}
	if cfg.SpeechRate <= 0 || cfg.SpeechRate > 2 {
		return Config{}, fmt.Errorf("SPEECH_RATE must be in (0, 2]")
	}
	if cfg.SpeechPitch <= 0 || cfg.SpeechPitch > 2 {
		return Config{}, fmt.Errorf("SPEECH_PITCH must be in (0, 2]")
	}
	if cfg.SpeechVolume < 0 || cfg.SpeechVolume > 1 {
		return Config{}, fmt.Errorf("SPEECH_VOLUME must be in [0, 1]")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
