package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ddoriboo/hestorygem/internal/reliability"
)

// RemoteConfig configures the realtime websocket speech backend used when the
// gateway owns the audio path instead of the browser.
type RemoteConfig struct {
	APIKey       string
	WSBaseURL    string
	STTModelID   string
	TTSVoiceID   string
	TTSModelID   string
	OutputFormat string
}

// RemoteProvider implements both capture and synthesis over realtime
// websocket channels.
type RemoteProvider struct {
	cfg RemoteConfig
}

func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v2_realtime"
	}
	if strings.TrimSpace(cfg.TTSModelID) == "" {
		cfg.TTSModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	return &RemoteProvider{cfg: cfg}
}

func (p *RemoteProvider) StartCapture(ctx context.Context, lang string) (RecognizerSession, <-chan TranscriptEvent, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.STTModelID)
	q.Set("language_code", normalizeLang(lang))
	q.Set("commit_strategy", "vad")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial capture websocket: %w", err)
	}

	events := make(chan TranscriptEvent, 256)
	s := &remoteCapture{conn: conn, events: events}
	go s.readLoop()
	return s, events, nil
}

func (p *RemoteProvider) Speak(ctx context.Context, lang, text string, settings SynthSettings) (Utterance, error) {
	if strings.TrimSpace(p.cfg.TTSVoiceID) == "" {
		return nil, fmt.Errorf("tts voice id is required")
	}

	rate := settings.Rate
	if rate <= 0 {
		rate = DefaultSettings.Rate
	}
	if rate < 0.7 {
		rate = 0.7
	} else if rate > 1.2 {
		rate = 1.2
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") +
		"/v1/text-to-speech/" + url.PathEscape(p.cfg.TTSVoiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.TTSModelID)
	q.Set("output_format", p.cfg.OutputFormat)
	q.Set("language_code", normalizeLang(lang))
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial synthesis websocket: %w", err)
	}

	utt := &remoteUtterance{conn: conn, events: make(chan SynthEvent, 512)}
	go utt.readLoop()

	// One utterance per connection: prime, send the full text, close input.
	if err := utt.writeJSON(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"speed": rate,
		},
	}); err != nil {
		_ = utt.Stop()
		return nil, err
	}
	if err := utt.writeJSON(map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		_ = utt.Stop()
		return nil, err
	}
	if err := utt.writeJSON(map[string]any{"text": ""}); err != nil {
		_ = utt.Stop()
		return nil, err
	}
	return utt, nil
}

type remoteCapture struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	events    chan TranscriptEvent
}

func (s *remoteCapture) readLoop() {
	defer s.safeClose()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// Stream close is surfaced to the adapter as end-of-capture by the
			// channel closing in safeClose.
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		messageType := asString(raw["message_type"])
		switch messageType {
		case "partial_transcript":
			s.emit(TranscriptEvent{Type: TranscriptInterim, Text: asString(raw["text"]), Timestamp: time.Now().UnixMilli()})
		case "committed_transcript", "committed_transcript_with_timestamps":
			s.emit(TranscriptEvent{Type: TranscriptFinal, Text: asString(raw["text"]), Timestamp: time.Now().UnixMilli()})
		case "session_started", "", "input_audio_chunk":
			// control traffic
		default:
			s.emit(TranscriptEvent{
				Type:      TranscriptError,
				Code:      messageType,
				Detail:    asString(raw["error"]),
				Timestamp: time.Now().UnixMilli(),
			})
			if !reliability.IsRetryableRealtimeCode(messageType) {
				return
			}
		}
	}
}

func (s *remoteCapture) emit(evt TranscriptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- evt:
	default:
		// Consumer stalled; dropping a transcript beats blocking Close.
	}
}

func (s *remoteCapture) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return retErr
}

func (s *remoteCapture) safeClose() {
	_ = s.Close()
}

type remoteUtterance struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	events    chan SynthEvent
}

func (u *remoteUtterance) Events() <-chan SynthEvent { return u.events }

func (u *remoteUtterance) Stop() error {
	var retErr error
	u.closeOnce.Do(func() {
		retErr = u.conn.Close()
		u.mu.Lock()
		u.closed = true
		close(u.events)
		u.mu.Unlock()
	})
	return retErr
}

func (u *remoteUtterance) emit(evt SynthEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	select {
	case u.events <- evt:
	default:
		// Consumer stalled; dropping an audio chunk beats blocking Stop.
	}
}

func (u *remoteUtterance) writeJSON(payload map[string]any) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	return u.conn.WriteJSON(payload)
}

func (u *remoteUtterance) readLoop() {
	defer func() { _ = u.Stop() }()
	for {
		_, data, err := u.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if audio := asString(raw["audio"]); audio != "" {
			u.emit(SynthEvent{Type: SynthAudio, AudioBase64: audio, Format: "base64_audio"})
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			u.emit(SynthEvent{Type: SynthDone})
			return
		}
		if errMsg := asString(raw["error"]); errMsg != "" {
			u.emit(SynthEvent{Type: SynthError, Code: asString(raw["message_type"]), Detail: errMsg})
			return
		}
	}
}

func normalizeLang(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "ko"
	}
	if i := strings.IndexByte(lang, '-'); i > 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
