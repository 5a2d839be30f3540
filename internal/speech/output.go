package speech

import (
	"context"
	"strings"
	"sync"
)

// DefaultSettings is the reference playback tuning: slightly slower than the
// synthesis default so older listeners can follow comfortably.
var DefaultSettings = SynthSettings{Rate: 0.9, Pitch: 1.0, Volume: 1.0}

// OutputHooks observe playback state transitions and swallowed provider
// failures. Synthesis never raises to the caller.
type OutputHooks struct {
	State func(speaking bool)
	Error func(code, detail string)
}

// Output wraps a SynthesizerProvider as the interview's speech output
// adapter. Speak always cancels the in-flight utterance first, so at most one
// utterance is audible at a time.
type Output struct {
	provider SynthesizerProvider
	lang     string
	settings SynthSettings
	hooks    OutputHooks

	mu       sync.Mutex
	current  Utterance
	gen      int64
	speaking bool
}

func NewOutput(provider SynthesizerProvider, lang string, settings SynthSettings, hooks OutputHooks) *Output {
	if strings.TrimSpace(lang) == "" {
		lang = "ko-KR"
	}
	if settings == (SynthSettings{}) {
		settings = DefaultSettings
	}
	return &Output{provider: provider, lang: lang, settings: settings, hooks: hooks}
}

// Available reports whether a synthesis capability is present, so the UI can
// hide playback controls when there is none.
func (o *Output) Available() bool { return o.provider != nil }

// Speak cancels any in-flight utterance and speaks text. Empty text is a
// no-op. Provider failures are swallowed and reported through hooks only.
func (o *Output) Speak(ctx context.Context, text string) {
	if o.provider == nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	o.Cancel()

	utt, err := o.provider.Speak(ctx, o.lang, text, o.settings)
	if err != nil {
		if o.hooks.Error != nil {
			o.hooks.Error("synthesis_start_failed", err.Error())
		}
		return
	}

	o.mu.Lock()
	o.gen++
	gen := o.gen
	o.current = utt
	o.speaking = true
	o.mu.Unlock()
	if o.hooks.State != nil {
		o.hooks.State(true)
	}

	go o.drain(gen, utt)
}

// Cancel stops current playback immediately. Safe to call when idle and from
// any state, any number of times.
func (o *Output) Cancel() {
	o.mu.Lock()
	utt := o.current
	wasSpeaking := o.speaking
	o.current = nil
	o.speaking = false
	o.gen++
	o.mu.Unlock()

	if utt != nil {
		_ = utt.Stop()
	}
	if wasSpeaking && o.hooks.State != nil {
		o.hooks.State(false)
	}
}

func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

func (o *Output) drain(gen int64, utt Utterance) {
	for evt := range utt.Events() {
		switch evt.Type {
		case SynthDone:
			o.finish(gen)
			return
		case SynthError:
			if o.hooks.Error != nil {
				o.hooks.Error(evt.Code, evt.Detail)
			}
			o.finish(gen)
			return
		}
	}
	o.finish(gen)
}

func (o *Output) finish(gen int64) {
	o.mu.Lock()
	if o.gen != gen {
		// Superseded by a newer Speak or an explicit Cancel.
		o.mu.Unlock()
		return
	}
	o.current = nil
	o.speaking = false
	o.mu.Unlock()
	if o.hooks.State != nil {
		o.hooks.State(false)
	}
}
