package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnsupported is returned by Start when no recognition capability exists.
var ErrUnsupported = errors.New("speech recognition unsupported")

// InputHooks receive capture events on the adapter's reader goroutine.
// Interim text is for live display only; Commit fires exactly once per
// non-empty finalized utterance. Stopped fires whenever capture leaves the
// recording state, from any cause, so UI toggles never stick.
type InputHooks struct {
	Interim func(text string)
	Commit  func(text string)
	Stopped func(code, detail string)
}

// Input wraps a RecognizerProvider as the interview's speech input adapter.
type Input struct {
	provider RecognizerProvider
	lang     string
	hooks    InputHooks

	mu        sync.Mutex
	session   RecognizerSession
	gen       int64
	capturing bool
}

func NewInput(provider RecognizerProvider, lang string, hooks InputHooks) *Input {
	if strings.TrimSpace(lang) == "" {
		lang = "ko-KR"
	}
	return &Input{provider: provider, lang: lang, hooks: hooks}
}

// Supported reports whether a recognition capability is present.
func (in *Input) Supported() bool { return in.provider != nil }

// Start begins capture. It is a no-op while already capturing.
func (in *Input) Start(ctx context.Context) error {
	if in.provider == nil {
		return ErrUnsupported
	}

	in.mu.Lock()
	if in.capturing {
		in.mu.Unlock()
		return nil
	}
	in.gen++
	gen := in.gen
	in.mu.Unlock()

	session, events, err := in.provider.StartCapture(ctx, in.lang)
	if err != nil {
		return err
	}

	in.mu.Lock()
	if in.gen != gen {
		// Lost a race with Stop/Start; discard this capture.
		in.mu.Unlock()
		_ = session.Close()
		return nil
	}
	in.session = session
	in.capturing = true
	in.mu.Unlock()

	go in.readLoop(gen, events)
	return nil
}

// Stop ends capture. Idempotent and safe from any state.
func (in *Input) Stop() {
	in.mu.Lock()
	session := in.session
	in.session = nil
	in.capturing = false
	in.gen++
	in.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
}

func (in *Input) Capturing() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.capturing
}

func (in *Input) readLoop(gen int64, events <-chan TranscriptEvent) {
	for evt := range events {
		if !in.currentGen(gen) {
			return
		}
		switch evt.Type {
		case TranscriptInterim:
			if in.hooks.Interim != nil {
				in.hooks.Interim(evt.Text)
			}
		case TranscriptFinal:
			text := strings.TrimSpace(evt.Text)
			if text == "" {
				continue
			}
			if in.hooks.Interim != nil {
				in.hooks.Interim("")
			}
			if in.hooks.Commit != nil {
				in.hooks.Commit(text)
			}
		case TranscriptError:
			in.markStopped(gen, evt.Code, evt.Detail)
			return
		case TranscriptEnd:
			in.markStopped(gen, "", "")
			return
		}
	}
	// Provider closed the stream without a terminal event.
	in.markStopped(gen, "", "")
}

func (in *Input) currentGen(gen int64) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.gen == gen
}

func (in *Input) markStopped(gen int64, code, detail string) {
	in.mu.Lock()
	if in.gen != gen {
		in.mu.Unlock()
		return
	}
	session := in.session
	in.session = nil
	in.capturing = false
	in.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	if in.hooks.Stopped != nil {
		in.hooks.Stopped(code, detail)
	}
}
