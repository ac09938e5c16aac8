package stt

import (
	"context"
	"sync"
)

// Mock is a mock transcription provider for testing.
type Mock struct {
	// TranscribeFunc is called by Transcribe if set.
	TranscribeFunc func(ctx context.Context, audio []byte, sampleRate int) (string, error)

	// HealthFunc is called by Health if set.
	HealthFunc func(ctx context.Context) error

	// Text is returned by Transcribe when TranscribeFunc is nil.
	Text string

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a call to the mock.
type MockCall struct {
	Method     string
	AudioLen   int
	SampleRate int
}

// NewMock creates a mock that returns the given text for every
// transcription.
func NewMock(text string) *Mock {
	return &Mock{Text: text}
}

// Transcribe returns the configured text or calls TranscribeFunc.
func (m *Mock) Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error) {
	m.record(MockCall{Method: "Transcribe", AudioLen: len(audio), SampleRate: sampleRate})
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio, sampleRate)
	}
	return m.Text, nil
}

// Health calls HealthFunc or returns nil.
func (m *Mock) Health(ctx context.Context) error {
	m.record(MockCall{Method: "Health"})
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close records the call and returns nil.
func (m *Mock) Close() error {
	m.record(MockCall{Method: "Close"})
	return nil
}

func (m *Mock) record(call MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of calls to a method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.calls {
		if call.Method == method {
			count++
		}
	}
	return count
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Verify interface compliance
var _ Provider = (*Mock)(nil)
