package speech

import "context"

type TranscriptEventType string

const (
	TranscriptInterim TranscriptEventType = "interim"
	TranscriptFinal   TranscriptEventType = "final"
	TranscriptError   TranscriptEventType = "error"
	TranscriptEnd     TranscriptEventType = "end"
)

type TranscriptEvent struct {
	Type       TranscriptEventType
	Text       string
	Confidence float64
	Code       string
	Detail     string
	Timestamp  int64
}

// RecognizerSession is one live capture. Closing it ends the event stream.
type RecognizerSession interface {
	Close() error
}

// RecognizerProvider starts a lazy, restartable stream of transcript events
// for the given locale.
type RecognizerProvider interface {
	StartCapture(ctx context.Context, lang string) (RecognizerSession, <-chan TranscriptEvent, error)
}

type SynthEventType string

const (
	SynthAudio SynthEventType = "audio"
	SynthDone  SynthEventType = "done"
	SynthError SynthEventType = "error"
)

type SynthEvent struct {
	Type        SynthEventType
	AudioBase64 string
	Format      string
	Code        string
	Detail      string
}

type SynthSettings struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

// Utterance is one in-flight synthesis. Stop is safe to call at any point.
type Utterance interface {
	Events() <-chan SynthEvent
	Stop() error
}

type SynthesizerProvider interface {
	Speak(ctx context.Context, lang, text string, settings SynthSettings) (Utterance, error)
}
