package speech

import (
	"context"
	"sync"
)

// MockProvider is an in-process speech backend for local development and
// tests. Captures echo nothing on their own; test code and the dev console
// feed transcript events through the session handle.
type MockProvider struct {
	mu         sync.Mutex
	captures   []*MockCapture
	utterances []*mockUtterance
	spoken     []string
	stops      int
	autoFinish bool
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

// SetAutoFinish makes utterances complete immediately after Speak. Used by
// the dev/mock deployment mode; tests keep manual control.
func (p *MockProvider) SetAutoFinish(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoFinish = v
}

func (p *MockProvider) StartCapture(_ context.Context, _ string) (RecognizerSession, <-chan TranscriptEvent, error) {
	events := make(chan TranscriptEvent, 64)
	c := &MockCapture{events: events}
	p.mu.Lock()
	p.captures = append(p.captures, c)
	p.mu.Unlock()
	return c, events, nil
}

func (p *MockProvider) Speak(_ context.Context, _, text string, _ SynthSettings) (Utterance, error) {
	u := &mockUtterance{provider: p, events: make(chan SynthEvent, 4)}
	p.mu.Lock()
	p.spoken = append(p.spoken, text)
	p.utterances = append(p.utterances, u)
	auto := p.autoFinish
	p.mu.Unlock()
	if auto {
		u.Finish()
	}
	return u, nil
}

// LastUtterance returns the most recently started utterance.
func (p *MockProvider) LastUtterance() interface{ Finish() } {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.utterances) == 0 {
		return nil
	}
	return p.utterances[len(p.utterances)-1]
}

// LastCapture returns the most recently started capture session.
func (p *MockProvider) LastCapture() *MockCapture {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.captures) == 0 {
		return nil
	}
	return p.captures[len(p.captures)-1]
}

// Spoken returns every text passed to Speak, in order.
func (p *MockProvider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.spoken))
	copy(out, p.spoken)
	return out
}

// StopCount returns how many utterances were stopped before finishing.
func (p *MockProvider) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

type MockCapture struct {
	mu     sync.Mutex
	events chan TranscriptEvent
	closed bool
}

func (c *MockCapture) EmitInterim(text string) {
	c.emit(TranscriptEvent{Type: TranscriptInterim, Text: text, Confidence: 0.5})
}

func (c *MockCapture) EmitFinal(text string) {
	c.emit(TranscriptEvent{Type: TranscriptFinal, Text: text, Confidence: 0.9})
}

func (c *MockCapture) EmitError(code, detail string) {
	c.emit(TranscriptEvent{Type: TranscriptError, Code: code, Detail: detail})
}

func (c *MockCapture) End() {
	c.emit(TranscriptEvent{Type: TranscriptEnd})
}

func (c *MockCapture) emit(evt TranscriptEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- evt
}

func (c *MockCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}

type mockUtterance struct {
	provider *MockProvider
	once     sync.Once
	events   chan SynthEvent
	stopped  bool
	mu       sync.Mutex
}

func (u *mockUtterance) Events() <-chan SynthEvent { return u.events }

// Finish completes playback normally. Tests call this to simulate the
// synthesizer reaching the end of the utterance.
func (u *mockUtterance) Finish() {
	u.once.Do(func() {
		u.events <- SynthEvent{Type: SynthDone}
		close(u.events)
	})
}

func (u *mockUtterance) Stop() error {
	u.mu.Lock()
	already := u.stopped
	u.stopped = true
	u.mu.Unlock()
	if already {
		return nil
	}
	u.provider.mu.Lock()
	u.provider.stops++
	u.provider.mu.Unlock()
	u.once.Do(func() {
		close(u.events)
	})
	return nil
}
