package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ddoriboo/hestorygem/internal/backend"
	"github.com/ddoriboo/hestorygem/internal/conversation"
	"github.com/ddoriboo/hestorygem/internal/speech"
)

type fakeBackend struct {
	mu        sync.Mutex
	session   backend.Session
	history   []backend.ConversationRecord
	opening   string
	reply     string
	initErr   error
	turnErr   error
	gate      chan struct{}
	initCalls int
	turnCalls int
	lastType  string
	lastMsg   string
}

func (f *fakeBackend) GetSession(_ context.Context, _ int64) (backend.Session, error) {
	return f.session, nil
}

func (f *fakeBackend) GetSessionConversations(_ context.Context, _ int64) (backend.ConversationList, error) {
	return backend.ConversationList{Conversations: f.history, Total: len(f.history)}, nil
}

func (f *fakeBackend) InitializeSessionFlow(_ context.Context, sessionID int64) (backend.FlowInit, error) {
	f.mu.Lock()
	f.initCalls++
	err := f.initErr
	f.mu.Unlock()
	if err != nil {
		return backend.FlowInit{}, err
	}
	return backend.FlowInit{SessionID: sessionID, OpeningMessage: f.opening}, nil
}

func (f *fakeBackend) CreateInterviewTurn(_ context.Context, _ int64, message, conversationType string) (backend.InterviewResult, error) {
	f.mu.Lock()
	f.turnCalls++
	f.lastMsg = message
	f.lastType = conversationType
	gate := f.gate
	err := f.turnErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return backend.InterviewResult{}, err
	}
	return backend.InterviewResult{ConversationID: 77, AIResponse: f.reply}, nil
}

func (f *fakeBackend) turnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turnCalls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func historyRecord(id int64, user, ai string) backend.ConversationRecord {
	return backend.ConversationRecord{
		ID:               id,
		SessionID:        1,
		ConversationType: "text",
		UserMessage:      user,
		AIResponse:       ai,
		CreatedAt:        time.Now(),
	}
}

func newTestController(api Backend, provider *speech.MockProvider) *Controller {
	var rec speech.RecognizerProvider
	var syn speech.SynthesizerProvider
	if provider != nil {
		rec = provider
		syn = provider
	}
	return New(Config{SessionID: 1}, api, rec, syn, nil, nil)
}

func TestStartInitializesEmptySessionOnce(t *testing.T) {
	api := &fakeBackend{opening: "안녕하세요, 오늘은 어린 시절 이야기를 들려주세요."}
	provider := speech.NewMockProvider()
	c := newTestController(api, provider)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if api.initCalls != 1 {
		t.Fatalf("initCalls = %d, want 1", api.initCalls)
	}
	snap := c.Snapshot()
	if snap.Phase != PhaseActive {
		t.Fatalf("phase = %q, want %q", snap.Phase, PhaseActive)
	}
	if len(snap.Turns) != 1 || snap.Turns[0].AIResponse != api.opening {
		t.Fatalf("turns = %+v, want single opening turn", snap.Turns)
	}
	if got := provider.Spoken(); len(got) != 1 || got[0] != api.opening {
		t.Fatalf("spoken = %v, want opening message", got)
	}
}

func TestStartSkipsInitializationWithHistory(t *testing.T) {
	api := &fakeBackend{
		history: []backend.ConversationRecord{historyRecord(5, "", "첫 번째 질문입니다.")},
	}
	c := newTestController(api, speech.NewMockProvider())

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if api.initCalls != 0 {
		t.Fatalf("initCalls = %d, want 0", api.initCalls)
	}
}

func TestStartInitFailureReturnsToDormant(t *testing.T) {
	api := &fakeBackend{initErr: errors.New("flow service down")}
	c := newTestController(api, speech.NewMockProvider())

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("start succeeded, want error")
	}
	snap := c.Snapshot()
	if snap.Phase != PhaseDormant {
		t.Fatalf("phase = %q, want %q", snap.Phase, PhaseDormant)
	}
	if len(snap.Turns) != 0 {
		t.Fatalf("turns = %d, want 0", len(snap.Turns))
	}
	if snap.Banner == nil || snap.Banner.Kind != FailInitialization {
		t.Fatalf("banner = %+v, want kind %q", snap.Banner, FailInitialization)
	}

	// A later start retries initialization from scratch.
	api.mu.Lock()
	api.initErr = nil
	api.opening = "다시 시작합니다."
	api.mu.Unlock()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("retry start: %v", err)
	}
	if api.initCalls != 2 {
		t.Fatalf("initCalls = %d, want 2", api.initCalls)
	}
}

func TestSendTextResolvesOptimisticTurn(t *testing.T) {
	api := &fakeBackend{
		history: []backend.ConversationRecord{historyRecord(5, "", "어릴 때 살던 동네는 어디였나요?")},
		reply:   "더 말씀해 주세요.",
	}
	provider := speech.NewMockProvider()
	c := newTestController(api, provider)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := c.SendText(context.Background(), "부산 영도에서 자랐어요."); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "turn resolution", func() bool {
		turns := c.Snapshot().Turns
		return len(turns) == 2 && !turns[1].Pending
	})
	turn := c.Snapshot().Turns[1]
	if turn.UserMessage != "부산 영도에서 자랐어요." {
		t.Fatalf("user message = %q", turn.UserMessage)
	}
	if turn.AIResponse != "더 말씀해 주세요." || turn.RemoteID != 77 {
		t.Fatalf("resolved turn = %+v", turn)
	}
	if turn.Kind != conversation.KindText {
		t.Fatalf("kind = %q, want %q", turn.Kind, conversation.KindText)
	}
	waitFor(t, "reply playback", func() bool {
		spoken := provider.Spoken()
		return len(spoken) == 1 && spoken[0] == "더 말씀해 주세요."
	})
}

func TestSendTextSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeBackend{
		history: []backend.ConversationRecord{historyRecord(5, "", "질문입니다.")},
		reply:   "계속해 주세요.",
		gate:    gate,
	}
	c := newTestController(api, speech.NewMockProvider())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := c.SendText(context.Background(), "첫 번째 메시지"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.SendText(context.Background(), "두 번째 메시지"); !errors.Is(err, ErrDispatchBusy) {
		t.Fatalf("second send err = %v, want ErrDispatchBusy", err)
	}

	if got := len(c.Snapshot().Turns); got != 2 {
		t.Fatalf("turns while in flight = %d, want 2", got)
	}
	close(gate)

	waitFor(t, "turn resolution", func() bool {
		turns := c.Snapshot().Turns
		return len(turns) == 2 && !turns[1].Pending
	})
	if got := api.turnCount(); got != 1 {
		t.Fatalf("backend calls = %d, want 1", got)
	}
	if c.Snapshot().Turns[1].UserMessage != "첫 번째 메시지" {
		t.Fatalf("resolved message = %q, want first message", c.Snapshot().Turns[1].UserMessage)
	}
}

func TestSendTextFailureRollsBack(t *testing.T) {
	api := &fakeBackend{
		history: []backend.ConversationRecord{historyRecord(5, "", "질문입니다.")},
		turnErr: &backend.APIError{Status: 503, Detail: "overloaded"},
	}
	c := newTestController(api, speech.NewMockProvider())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := c.Snapshot().Turns

	if err := c.SendText(context.Background(), "사라질 메시지"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "rollback", func() bool {
		snap := c.Snapshot()
		return snap.Banner != nil && len(snap.Turns) == len(before)
	})

	snap := c.Snapshot()
	for i, turn := range snap.Turns {
		if turn != before[i] {
			t.Fatalf("turn %d changed across rollback: %+v != %+v", i, turn, before[i])
		}
	}
	if snap.Banner.Kind != FailDispatch {
		t.Fatalf("banner kind = %q, want %q", snap.Banner.Kind, FailDispatch)
	}
	if snap.Banner.Message != "메시지 전송에 실패했습니다." {
		t.Fatalf("banner message = %q", snap.Banner.Message)
	}
	if !snap.Banner.Retryable {
		t.Fatal("503 should be retryable")
	}

	// The pipeline is free again after rollback.
	api.mu.Lock()
	api.turnErr = nil
	api.reply = "괜찮습니다, 다시 말씀해 주세요."
	api.mu.Unlock()
	if err := c.SendText(context.Background(), "다시 보냅니다"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	waitFor(t, "resend resolution", func() bool {
		turns := c.Snapshot().Turns
		return len(turns) == len(before)+1 && !turns[len(turns)-1].Pending
	})
}

func TestSendTextBlankIsNoOp(t *testing.T) {
	api := &fakeBackend{opening: "시작 질문"}
	c := newTestController(api, speech.NewMockProvider())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := len(c.Snapshot().Turns)

	if err := c.SendText(context.Background(), "   \n\t "); err != nil {
		t.Fatalf("blank send: %v", err)
	}
	if got := api.turnCount(); got != 0 {
		t.Fatalf("backend calls = %d, want 0", got)
	}
	if got := len(c.Snapshot().Turns); got != before {
		t.Fatalf("turns = %d, want %d", got, before)
	}
}

func TestSendTextRequiresActive(t *testing.T) {
	c := newTestController(&fakeBackend{}, speech.NewMockProvider())
	if err := c.SendText(context.Background(), "아직 시작 전"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}

func TestStopSuppressesLateReplyPlayback(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeBackend{
		history: []backend.ConversationRecord{historyRecord(5, "", "질문입니다.")},
		reply:   "늦게 도착한 답변",
		gate:    gate,
	}
	provider := speech.NewMockProvider()
	c := newTestController(api, provider)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.SendText(context.Background(), "메시지"); err != nil {
		t.Fatalf("send: %v", err)
	}

	c.Stop()
	c.Stop() // idempotent
	close(gate)

	// The reply still reconciles the conversation record.
	waitFor(t, "late resolution", func() bool {
		turns := c.Snapshot().Turns
		return len(turns) == 2 && !turns[1].Pending
	})
	if got := c.Snapshot().Phase; got != PhaseDormant {
		t.Fatalf("phase = %q, want %q", got, PhaseDormant)
	}
	if spoken := provider.Spoken(); len(spoken) != 0 {
		t.Fatalf("spoken after stop = %v, want none", spoken)
	}
}

func TestVoiceCommitDispatchesVoiceTurn(t *testing.T) {
	api := &fakeBackend{
		history: []backend.ConversationRecord{historyRecord(5, "", "질문입니다.")},
		reply:   "네, 계속해 주세요.",
	}
	provider := speech.NewMockProvider()
	c := newTestController(api, provider)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.ToggleVoiceInput(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !c.Snapshot().Recording {
		t.Fatal("not recording after toggle")
	}

	capture := provider.LastCapture()
	capture.EmitInterim("어릴 때")
	capture.EmitFinal("어릴 때 바닷가 근처에 살았어요")

	waitFor(t, "voice turn resolution", func() bool {
		turns := c.Snapshot().Turns
		return len(turns) == 2 && !turns[1].Pending
	})
	turn := c.Snapshot().Turns[1]
	if turn.Kind != conversation.KindVoice {
		t.Fatalf("kind = %q, want %q", turn.Kind, conversation.KindVoice)
	}
	if turn.UserMessage != "어릴 때 바닷가 근처에 살았어요" {
		t.Fatalf("user message = %q", turn.UserMessage)
	}

	// Second toggle stops capture and clears the live transcript.
	if err := c.ToggleVoiceInput(context.Background()); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	snap := c.Snapshot()
	if snap.Recording || snap.LiveTranscript != "" {
		t.Fatalf("recording=%v live=%q after toggle off", snap.Recording, snap.LiveTranscript)
	}
}

func TestToggleVoiceWithoutRecognizer(t *testing.T) {
	api := &fakeBackend{opening: "시작"}
	c := newTestController(api, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := c.ToggleVoiceInput(context.Background())
	if !errors.Is(err, speech.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	snap := c.Snapshot()
	if snap.Banner == nil || snap.Banner.Kind != FailCaptureUnavailable {
		t.Fatalf("banner = %+v, want kind %q", snap.Banner, FailCaptureUnavailable)
	}
	if snap.SpeechInput {
		t.Fatal("speech input should report unsupported")
	}
}

func TestCaptureErrorSurfacesBanner(t *testing.T) {
	api := &fakeBackend{
		history: []backend.ConversationRecord{historyRecord(5, "", "질문입니다.")},
	}
	provider := speech.NewMockProvider()
	c := newTestController(api, provider)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.ToggleVoiceInput(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	provider.LastCapture().EmitError("not-allowed", "microphone permission denied")

	waitFor(t, "capture error banner", func() bool {
		snap := c.Snapshot()
		return !snap.Recording && snap.Banner != nil
	})
	snap := c.Snapshot()
	if snap.Banner.Kind != FailCaptureError {
		t.Fatalf("banner kind = %q, want %q", snap.Banner.Kind, FailCaptureError)
	}
	// The interview itself keeps running; typed input still works.
	if snap.Phase != PhaseActive {
		t.Fatalf("phase = %q, want %q", snap.Phase, PhaseActive)
	}
}

func TestStopSpeakingCancelsPlayback(t *testing.T) {
	api := &fakeBackend{opening: "긴 시작 멘트입니다."}
	provider := speech.NewMockProvider()
	c := newTestController(api, provider)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "playback start", func() bool { return c.Snapshot().Speaking })

	c.StopSpeaking()
	waitFor(t, "playback cancel", func() bool { return !c.Snapshot().Speaking })
	if provider.StopCount() != 1 {
		t.Fatalf("stop count = %d, want 1", provider.StopCount())
	}
}

func TestCloseReleasesDevices(t *testing.T) {
	api := &fakeBackend{opening: "시작"}
	provider := speech.NewMockProvider()
	c := newTestController(api, provider)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.ToggleVoiceInput(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	c.Close()

	snap := c.Snapshot()
	if snap.Recording || snap.Speaking || snap.Phase != PhaseDormant {
		t.Fatalf("snapshot after close = %+v", snap)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close err = %v, want ErrClosed", err)
	}
	if err := c.SendText(context.Background(), "닫힌 뒤"); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close err = %v, want ErrClosed", err)
	}
}
