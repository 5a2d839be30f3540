// Package httpapi exposes the interview gateway over HTTP: health and
// metrics endpoints, thin proxies over the Hestory backend REST API, and the
// websocket endpoint that hosts one interview controller per connection.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ddoriboo/hestorygem/internal/backend"
	"github.com/ddoriboo/hestorygem/internal/config"
	"github.com/ddoriboo/hestorygem/internal/interview"
	"github.com/ddoriboo/hestorygem/internal/observability"
	"github.com/ddoriboo/hestorygem/internal/protocol"
	"github.com/ddoriboo/hestorygem/internal/speech"
)

// Backend is the full backend surface the gateway consumes: the interview
// controller's slice plus the read endpoints proxied straight through to the
// browser. *backend.Client satisfies it.
type Backend interface {
	interview.Backend
	ListSessions(ctx context.Context) (backend.SessionList, error)
	UpdateSession(ctx context.Context, sessionID int64, isCompleted bool) (backend.Session, error)
	GetSessionProgress(ctx context.Context, sessionID int64) (backend.SessionProgress, error)
	GetSessionFlowStatus(ctx context.Context, sessionID int64) (backend.FlowStatus, error)
	GenerateAutobiography(ctx context.Context, format string) (backend.Autobiography, error)
	GetAutobiographyStatus(ctx context.Context) (backend.AutobiographyStatus, error)
	GetAutobiographyPreview(ctx context.Context, sessionNumbers []int) (backend.Autobiography, error)
	Health(ctx context.Context) error
}

type Server struct {
	cfg         config.Config
	api         Backend
	recognizer  speech.RecognizerProvider
	synthesizer speech.SynthesizerProvider
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, api Backend, recognizer speech.RecognizerProvider, synthesizer speech.SynthesizerProvider, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		api:         api,
		recognizer:  recognizer,
		synthesizer: synthesizer,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive the user's mic
				// session if the gateway is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/complete", s.handleCompleteSession)
	r.Get("/v1/sessions/{id}/progress", s.handleSessionProgress)
	r.Get("/v1/sessions/{id}/flow-status", s.handleSessionFlowStatus)

	r.Post("/v1/autobiography/generate", s.handleGenerateAutobiography)
	r.Get("/v1/autobiography/status", s.handleAutobiographyStatus)
	r.Post("/v1/autobiography/preview", s.handleAutobiographyPreview)

	r.Get("/v1/interview/ws", s.handleInterviewWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"speech_provider": s.cfg.SpeechProvider,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.api.Health(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "backend_unreachable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.api.ListSessions(r.Context())
	if err != nil {
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	sess, err := s.api.GetSession(r.Context(), id)
	if err != nil {
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	sess, err := s.api.UpdateSession(r.Context(), id, true)
	if err != nil {
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	progress, err := s.api.GetSessionProgress(r.Context(), id)
	if err != nil {
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

func (s *Server) handleSessionFlowStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	status, err := s.api.GetSessionFlowStatus(r.Context(), id)
	if err != nil {
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleGenerateAutobiography(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Format string `json:"format"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Format) == "" {
		req.Format = "text"
	}
	book, err := s.api.GenerateAutobiography(r.Context(), req.Format)
	if err != nil {
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, book)
}

func (s *Server) handleAutobiographyStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.api.GetAutobiographyStatus(r.Context())
	if err != nil {
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleAutobiographyPreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionNumbers []int `json:"session_numbers"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	book, err := s.api.GetAutobiographyPreview(r.Context(), req.SessionNumbers)
	if err != nil {
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, book)
}

func (s *Server) handleInterviewWS(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if raw == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sessionID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sessionID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a positive integer")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.countWS("inbound", "ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	ctrl := interview.New(interview.Config{
		SessionID: sessionID,
		Lang:      s.cfg.SpeechLanguage,
		Synth: speech.SynthSettings{
			Rate:   s.cfg.SpeechRate,
			Pitch:  s.cfg.SpeechPitch,
			Volume: s.cfg.SpeechVolume,
		},
	}, s.api, s.recognizer, s.synthesizer, s.metrics, outbound)
	defer ctrl.Close()

	// Hydrate before commands flow; a failed load already queued the banner.
	_ = ctrl.Load(ctx)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.runInterview(ctx, ctrl, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.countWS("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queueOutbound(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.countWS("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.countWS("inbound", "ws_disconnected")
}

// runInterview translates client commands into controller calls. Command
// errors that carry no banner of their own are surfaced as gateway events.
func (s *Server) runInterview(ctx context.Context, ctrl *interview.Controller, sessionID int64, inbound <-chan any, outbound chan<- any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case protocol.ClientStart:
				_ = ctrl.Start(ctx)
			case protocol.ClientStop:
				ctrl.Stop()
			case protocol.ClientSendText:
				if err := ctrl.SendText(ctx, m.Text); err != nil {
					s.reportCommandError(outbound, sessionID, err)
				}
			case protocol.ClientVoiceToggle:
				if err := ctrl.ToggleVoiceInput(ctx); err != nil && !errors.Is(err, speech.ErrUnsupported) {
					s.reportCommandError(outbound, sessionID, err)
				}
			case protocol.ClientStopSpeaking:
				ctrl.StopSpeaking()
			}
		}
	}
}

func (s *Server) reportCommandError(outbound chan<- any, sessionID int64, err error) {
	code := "command_failed"
	switch {
	case errors.Is(err, interview.ErrDispatchBusy):
		code = "dispatch_busy"
	case errors.Is(err, interview.ErrNotActive):
		code = "not_active"
	case errors.Is(err, interview.ErrClosed):
		code = "closed"
	}
	s.queueOutbound(outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "gateway",
		Retryable: errors.Is(err, interview.ErrDispatchBusy),
		Detail:    err.Error(),
	})
}

func (s *Server) queueOutbound(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		// Keep websocket writes single-threaded; drop if the queue is full.
		s.countWS("outbound", "drop_full")
	}
}

func (s *Server) countWS(direction, kind string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, kind).Inc()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondBackendError maps upstream failures onto the proxy response,
// preserving the backend status code when one is known.
func respondBackendError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		respondError(w, apiErr.Status, "backend_error", apiErr.Detail)
		return
	}
	respondError(w, http.StatusBadGateway, "backend_unreachable", err.Error())
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a positive integer")
		return 0, false
	}
	return id, true
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientStart:
		return m.Type, true
	case protocol.ClientStop:
		return m.Type, true
	case protocol.ClientSendText:
		return m.Type, true
	case protocol.ClientVoiceToggle:
		return m.Type, true
	case protocol.ClientStopSpeaking:
		return m.Type, true
	case protocol.LifecycleState:
		return m.Type, true
	case protocol.ConversationSnapshot:
		return m.Type, true
	case protocol.TurnPending:
		return m.Type, true
	case protocol.TurnResolved:
		return m.Type, true
	case protocol.TurnRolledBack:
		return m.Type, true
	case protocol.TranscriptInterim:
		return m.Type, true
	case protocol.RecordingState:
		return m.Type, true
	case protocol.SpeakingState:
		return m.Type, true
	case protocol.CapabilityState:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
