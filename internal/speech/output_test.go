package speech

import (
	"context"
	"testing"
	"time"
)

func TestSpeakCancelsPreviousUtterance(t *testing.T) {
	provider := NewMockProvider()
	out := NewOutput(provider, "ko-KR", DefaultSettings, OutputHooks{})

	out.Speak(context.Background(), "첫 번째 응답")
	out.Speak(context.Background(), "두 번째 응답")

	spoken := provider.Spoken()
	if len(spoken) != 2 {
		t.Fatalf("speak calls = %d, want 2", len(spoken))
	}
	// Last-speak-wins: the first utterance must have been stopped before the
	// second was audible.
	if provider.StopCount() < len(spoken)-1 {
		t.Fatalf("cancel count = %d, want >= %d", provider.StopCount(), len(spoken)-1)
	}
	if !out.Speaking() {
		t.Fatalf("Speaking() = false while second utterance in flight")
	}
}

func TestSpeakEmptyTextIsNoOp(t *testing.T) {
	provider := NewMockProvider()
	out := NewOutput(provider, "ko-KR", DefaultSettings, OutputHooks{})

	out.Speak(context.Background(), "")
	out.Speak(context.Background(), "   ")
	if got := len(provider.Spoken()); got != 0 {
		t.Fatalf("speak calls = %d, want 0", got)
	}
}

func TestCancelSafeWhenIdle(t *testing.T) {
	provider := NewMockProvider()
	out := NewOutput(provider, "ko-KR", DefaultSettings, OutputHooks{})

	out.Cancel()
	out.Cancel()
	if out.Speaking() {
		t.Fatalf("Speaking() = true after Cancel on idle adapter")
	}
}

func TestOutputUnavailableDegradesSilently(t *testing.T) {
	out := NewOutput(nil, "ko-KR", DefaultSettings, OutputHooks{})
	if out.Available() {
		t.Fatalf("Available() = true without provider")
	}
	out.Speak(context.Background(), "들리지 않는 말")
	out.Cancel()
}

func TestOutputFinishClearsSpeaking(t *testing.T) {
	provider := NewMockProvider()
	states := make(chan bool, 8)
	out := NewOutput(provider, "ko-KR", DefaultSettings, OutputHooks{
		State: func(speaking bool) { states <- speaking },
	})

	out.Speak(context.Background(), "안녕하세요")
	if got := <-states; !got {
		t.Fatalf("first state = %v, want speaking", got)
	}
	provider.LastUtterance().Finish()

	select {
	case got := <-states:
		if got {
			t.Fatalf("state after finish = %v, want idle", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for idle state")
	}
	if out.Speaking() {
		t.Fatalf("Speaking() = true after utterance finished")
	}
}
