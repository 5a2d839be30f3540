// Package interview hosts the conversation controller for one interview
// screen: it wires speech capture into the dispatch pipeline, reconciles the
// optimistic conversation log against backend replies, and speaks AI replies
// through the output adapter.
package interview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ddoriboo/hestorygem/internal/backend"
	"github.com/ddoriboo/hestorygem/internal/conversation"
	"github.com/ddoriboo/hestorygem/internal/observability"
	"github.com/ddoriboo/hestorygem/internal/protocol"
	"github.com/ddoriboo/hestorygem/internal/speech"
)

// Backend is the slice of the Hestory REST contract the controller consumes.
// *backend.Client satisfies it; tests substitute fakes.
type Backend interface {
	GetSession(ctx context.Context, sessionID int64) (backend.Session, error)
	GetSessionConversations(ctx context.Context, sessionID int64) (backend.ConversationList, error)
	InitializeSessionFlow(ctx context.Context, sessionID int64) (backend.FlowInit, error)
	CreateInterviewTurn(ctx context.Context, sessionID int64, message, conversationType string) (backend.InterviewResult, error)
}

// Phase is the interview lifecycle state. Completion is a backend concept
// surfaced on the list screen, not tracked here.
type Phase string

const (
	PhaseDormant Phase = "dormant"
	PhaseActive  Phase = "active"
)

type Config struct {
	SessionID int64
	Lang      string
	Synth     speech.SynthSettings
}

// Snapshot is the screen-level view of controller state.
type Snapshot struct {
	Phase          Phase               `json:"phase"`
	Turns          []conversation.Turn `json:"turns"`
	LiveTranscript string              `json:"live_transcript"`
	Recording      bool                `json:"recording"`
	Speaking       bool                `json:"speaking"`
	SpeechInput    bool                `json:"speech_input"`
	SpeechOutput   bool                `json:"speech_output"`
	Banner         *Banner             `json:"banner,omitempty"`
	Session        backend.Session     `json:"session"`
}

// Controller orchestrates one live interview conversation.
type Controller struct {
	sessionID int64
	lang      string
	api       Backend
	log       *conversation.Log
	input     *speech.Input
	output    *speech.Output
	metrics   *observability.Metrics
	outbound  chan<- any

	mu          sync.Mutex
	phase       Phase
	epoch       int64
	dispatching bool
	live        string
	banner      *Banner
	session     backend.Session
	closed      bool
}

// New builds a controller for a single interview screen. outbound may be nil
// when no UI bridge is attached (tests drive the controller directly and
// observe Snapshot).
func New(cfg Config, api Backend, recognizer speech.RecognizerProvider, synthesizer speech.SynthesizerProvider, metrics *observability.Metrics, outbound chan<- any) *Controller {
	lang := cfg.Lang
	if lang == "" {
		lang = "ko-KR"
	}
	c := &Controller{
		sessionID: cfg.SessionID,
		lang:      lang,
		api:       api,
		log:       conversation.NewLog(),
		metrics:   metrics,
		outbound:  outbound,
		phase:     PhaseDormant,
	}
	c.input = speech.NewInput(recognizer, cfg.Lang, speech.InputHooks{
		Interim: c.onInterim,
		Commit:  c.onVoiceCommit,
		Stopped: c.onCaptureStopped,
	})
	c.output = speech.NewOutput(synthesizer, cfg.Lang, cfg.Synth, speech.OutputHooks{
		State: c.onSpeakingState,
		Error: c.onSynthError,
	})
	return c
}

// Load hydrates session metadata and conversation history from the backend.
// Called once when the screen mounts, before Start.
func (c *Controller) Load(ctx context.Context) error {
	sess, err := c.api.GetSession(ctx, c.sessionID)
	if err != nil {
		c.countBackendError("get_session")
		c.setBanner(FailSessionLoad, err)
		return err
	}
	list, err := c.api.GetSessionConversations(ctx, c.sessionID)
	if err != nil {
		c.countBackendError("get_conversations")
		c.setBanner(FailSessionLoad, err)
		return err
	}

	turns := make([]conversation.Turn, 0, len(list.Conversations))
	for _, rec := range list.Conversations {
		turns = append(turns, conversation.Turn{
			RemoteID:    rec.ID,
			UserMessage: rec.UserMessage,
			AIResponse:  rec.AIResponse,
			Kind:        kindOf(rec.ConversationType),
			CreatedAt:   rec.CreatedAt,
		})
	}
	c.log.Hydrate(turns)

	c.mu.Lock()
	c.session = sess
	c.banner = nil
	c.mu.Unlock()

	c.emit(protocol.CapabilityState{
		Type:           protocol.TypeCapabilityState,
		SessionID:      c.sessionID,
		SpeechInput:    c.input.Supported(),
		SpeechOutput:   c.output.Available(),
		SpeechLanguage: c.lang,
	})
	c.emit(protocol.ConversationSnapshot{
		Type:      protocol.TypeConversationSnapshot,
		SessionID: c.sessionID,
		Turns:     c.log.Turns(),
	})
	return nil
}

// Start transitions Dormant -> Active. For a session with no prior turns it
// performs the one-time flow initialization: fetch the opening message,
// insert it as the first turn, and speak it. A failed initialization rolls
// the lifecycle back to Dormant.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase == PhaseActive {
		// Re-entrant start is a no-op; initialization never replays.
		c.mu.Unlock()
		return nil
	}
	c.phase = PhaseActive
	c.banner = nil
	epoch := c.epoch
	c.mu.Unlock()

	c.count("interview_started")
	if c.metrics != nil {
		c.metrics.ActiveInterviews.Inc()
	}
	c.emitLifecycle(PhaseActive)

	if c.log.Len() > 0 {
		return nil
	}

	init, err := c.api.InitializeSessionFlow(ctx, c.sessionID)
	if err != nil {
		c.countBackendError("initialize_flow")
		c.mu.Lock()
		c.phase = PhaseDormant
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.ActiveInterviews.Dec()
		}
		c.setBanner(FailInitialization, err)
		c.emitLifecycle(PhaseDormant)
		return err
	}

	turn := c.log.AppendOpening(init.OpeningMessage)
	c.emit(protocol.TurnResolved{Type: protocol.TypeTurnResolved, SessionID: c.sessionID, Turn: turn})
	if c.stillRelevant(epoch) {
		c.output.Speak(ctx, init.OpeningMessage)
	}
	return nil
}

// Stop transitions to Dormant and releases both speech devices. Idempotent
// and safe from any state. An outstanding dispatch is not cancelled; its
// resolution still reconciles the log but produces no Active-only effects.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasActive := c.phase == PhaseActive
	c.phase = PhaseDormant
	c.epoch++
	c.live = ""
	c.mu.Unlock()

	c.input.Stop()
	c.output.Cancel()

	if wasActive {
		c.count("interview_stopped")
		if c.metrics != nil {
			c.metrics.ActiveInterviews.Dec()
		}
		c.emitLifecycle(PhaseDormant)
	}
	c.emit(protocol.RecordingState{Type: protocol.TypeRecordingState, SessionID: c.sessionID})
	c.emit(protocol.TranscriptInterim{Type: protocol.TypeTranscriptInterim, SessionID: c.sessionID})
}

// Close tears the screen down. Device release is guaranteed on every exit
// path; the ws handler defers this.
func (c *Controller) Close() {
	c.Stop()
	c.mu.Lock()
	c.closed = true
	c.epoch++
	c.mu.Unlock()
}

// SendText dispatches a typed user message.
func (c *Controller) SendText(ctx context.Context, text string) error {
	return c.dispatch(ctx, text, conversation.KindText)
}

// ToggleVoiceInput starts capture when idle and stops it when recording.
func (c *Controller) ToggleVoiceInput(ctx context.Context) error {
	if !c.input.Supported() {
		c.setBanner(FailCaptureUnavailable, speech.ErrUnsupported)
		return speech.ErrUnsupported
	}
	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.mu.Unlock()

	if c.input.Capturing() {
		c.input.Stop()
		c.mu.Lock()
		c.live = ""
		c.mu.Unlock()
		c.countSpeech("capture_stopped")
		c.emit(protocol.RecordingState{Type: protocol.TypeRecordingState, SessionID: c.sessionID})
		c.emit(protocol.TranscriptInterim{Type: protocol.TypeTranscriptInterim, SessionID: c.sessionID})
		return nil
	}

	if err := c.input.Start(ctx); err != nil {
		c.setBanner(FailCaptureError, err)
		return err
	}
	c.countSpeech("capture_started")
	c.emit(protocol.RecordingState{Type: protocol.TypeRecordingState, SessionID: c.sessionID, Recording: true})
	return nil
}

// StopSpeaking cancels current playback immediately.
func (c *Controller) StopSpeaking() {
	c.output.Cancel()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		Phase:          c.phase,
		LiveTranscript: c.live,
		Banner:         c.banner,
		Session:        c.session,
	}
	c.mu.Unlock()
	snap.Turns = c.log.Turns()
	snap.Recording = c.input.Capturing()
	snap.Speaking = c.output.Speaking()
	snap.SpeechInput = c.input.Supported()
	snap.SpeechOutput = c.output.Available()
	return snap
}

// dispatch runs the optimistic-insert / reconcile-or-rollback pipeline.
// Single-flight: a second call while one is outstanding returns
// ErrDispatchBusy without side effects.
func (c *Controller) dispatch(ctx context.Context, text string, kind conversation.Kind) error {
	text = strings.TrimSpace(text)
	if text == "" {
		// Blank input: no store mutation, no network call.
		c.countDispatch("rejected_blank")
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if c.dispatching {
		c.mu.Unlock()
		c.countDispatch("rejected_busy")
		return ErrDispatchBusy
	}
	c.dispatching = true
	epoch := c.epoch
	c.mu.Unlock()

	turn, err := c.log.AppendPending(text, kind)
	if err != nil {
		c.mu.Lock()
		c.dispatching = false
		c.mu.Unlock()
		c.countDispatch("rejected_busy")
		return ErrDispatchBusy
	}
	c.emit(protocol.TurnPending{Type: protocol.TypeTurnPending, SessionID: c.sessionID, Turn: turn})

	// The turn id travels explicitly through both completion paths, so the
	// failure handler never depends on state captured before the call.
	go c.completeDispatch(ctx, turn.ID, kind, text, epoch)
	return nil
}

func (c *Controller) completeDispatch(ctx context.Context, turnID string, kind conversation.Kind, text string, epoch int64) {
	start := time.Now()
	res, err := c.api.CreateInterviewTurn(ctx, c.sessionID, text, string(kind))
	if c.metrics != nil {
		c.metrics.ObserveDispatchLatency(time.Since(start))
	}

	c.mu.Lock()
	c.dispatching = false
	c.mu.Unlock()

	if err != nil {
		// Remove the optimistic turn entirely; the user's text is not
		// requeued, they resend explicitly.
		_ = c.log.Rollback(turnID)
		c.countBackendError("create_turn")
		c.countDispatch("rolled_back")
		c.setBanner(FailDispatch, err)
		c.emit(protocol.TurnRolledBack{Type: protocol.TypeTurnRolledBack, SessionID: c.sessionID, TurnID: turnID})
		return
	}

	resolved, rerr := c.log.Resolve(turnID, res.ConversationID, res.AIResponse)
	if rerr != nil {
		// The log was replaced underneath an in-flight dispatch (screen
		// rehydrated); nothing further to reconcile.
		c.countDispatch("orphaned")
		return
	}
	c.countDispatch("resolved")
	c.emit(protocol.TurnResolved{Type: protocol.TypeTurnResolved, SessionID: c.sessionID, Turn: resolved})

	// A reply landing after Stop still reconciled the log above, but must
	// not resurrect Active-only behavior such as playback.
	if c.stillRelevant(epoch) {
		c.output.Speak(ctx, res.AIResponse)
	}
}

func (c *Controller) stillRelevant(epoch int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.phase == PhaseActive && c.epoch == epoch
}

func (c *Controller) onInterim(text string) {
	c.mu.Lock()
	c.live = text
	c.mu.Unlock()
	c.emit(protocol.TranscriptInterim{Type: protocol.TypeTranscriptInterim, SessionID: c.sessionID, Text: text})
}

func (c *Controller) onVoiceCommit(text string) {
	// Committed speech that raced a stop or an outstanding dispatch is
	// dropped; the transcript display already cleared and the user repeats.
	_ = c.dispatch(context.Background(), text, conversation.KindVoice)
}

func (c *Controller) onCaptureStopped(code, detail string) {
	c.mu.Lock()
	c.live = ""
	c.mu.Unlock()
	c.emit(protocol.RecordingState{Type: protocol.TypeRecordingState, SessionID: c.sessionID})
	c.emit(protocol.TranscriptInterim{Type: protocol.TypeTranscriptInterim, SessionID: c.sessionID})
	if code != "" {
		c.countSpeech("capture_error")
		c.setBanner(FailCaptureError, errors.New(code+": "+detail))
		return
	}
	c.countSpeech("capture_ended")
}

func (c *Controller) onSpeakingState(speaking bool) {
	if speaking {
		c.countSpeech("speak_started")
	} else {
		c.countSpeech("speak_finished")
	}
	c.emit(protocol.SpeakingState{Type: protocol.TypeSpeakingState, SessionID: c.sessionID, Speaking: speaking})
}

func (c *Controller) onSynthError(code, detail string) {
	// Synthesis failures degrade silently to a text-only turn.
	c.countSpeech("synthesis_error")
}

func (c *Controller) setBanner(kind string, cause error) {
	b := &Banner{Kind: kind, Message: bannerText[kind]}
	var apiErr *backend.APIError
	if errors.As(cause, &apiErr) {
		b.Detail = apiErr.Detail
		b.Retryable = apiErr.Retryable()
	} else if cause != nil {
		b.Detail = cause.Error()
	}
	c.mu.Lock()
	c.banner = b
	c.mu.Unlock()
	c.emit(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.sessionID,
		Code:      kind,
		Source:    sourceOf(kind),
		Retryable: b.Retryable,
		Detail:    b.Detail,
		Message:   b.Message,
	})
}

func (c *Controller) emitLifecycle(p Phase) {
	c.emit(protocol.LifecycleState{Type: protocol.TypeLifecycleState, SessionID: c.sessionID, State: string(p)})
}

func (c *Controller) emit(msg any) {
	if c.outbound == nil {
		return
	}
	select {
	case c.outbound <- msg:
	default:
		// Keep websocket writes single-threaded; drop if the outbound queue
		// is saturated. Snapshot requests recover any missed state.
		if c.metrics != nil {
			c.metrics.WSMessages.WithLabelValues("outbound", "drop_full").Inc()
		}
	}
}

func (c *Controller) count(event string) {
	if c.metrics != nil {
		c.metrics.InterviewEvents.WithLabelValues(event).Inc()
	}
}

func (c *Controller) countDispatch(outcome string) {
	if c.metrics != nil {
		c.metrics.DispatchOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (c *Controller) countSpeech(event string) {
	if c.metrics != nil {
		c.metrics.SpeechEvents.WithLabelValues(event).Inc()
	}
}

func (c *Controller) countBackendError(op string) {
	if c.metrics != nil {
		c.metrics.BackendErrors.WithLabelValues(op).Inc()
	}
}

func sourceOf(kind string) string {
	switch kind {
	case FailCaptureUnavailable, FailCaptureError:
		return "speech"
	default:
		return "backend"
	}
}

func kindOf(conversationType string) conversation.Kind {
	switch conversationType {
	case "audio", "live_audio", "voice":
		return conversation.KindVoice
	default:
		return conversation.KindText
	}
}
