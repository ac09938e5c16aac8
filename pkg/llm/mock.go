package llm

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// StreamFunc is called when Stream is invoked.
	StreamFunc func(ctx context.Context, req *Request) (Stream, error)

	// CompleteFunc is called when Complete is invoked.
	CompleteFunc func(ctx context.Context, req *Request) (string, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock provider that streams the given fragments
// followed by a terminal chunk.
func NewMock(fragments ...string) *Mock {
	return &Mock{
		StreamFunc: func(ctx context.Context, req *Request) (Stream, error) {
			chunks := make([]*Chunk, 0, len(fragments)+1)
			for _, f := range fragments {
				chunks = append(chunks, &Chunk{Delta: f})
			}
			chunks = append(chunks, &Chunk{FinishReason: "stop", Done: true})
			return NewScriptedStream(chunks...), nil
		},
		CompleteFunc: func(ctx context.Context, req *Request) (string, error) {
			return "", nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, req *Request) (Stream, error) {
	m.record("Stream")
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return NewScriptedStream(&Chunk{Done: true}), nil
}

// Complete calls CompleteFunc and records the call.
func (m *Mock) Complete(ctx context.Context, req *Request) (string, error) {
	m.record("Complete")
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", nil
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns all recorded invocations.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns how many times a method was invoked.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
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

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}

// ScriptedStream replays a fixed chunk sequence. Useful in tests.
type ScriptedStream struct {
	mu     sync.Mutex
	chunks []*Chunk
	err    error
	closed bool
}

// NewScriptedStream creates a stream that yields the given chunks in order.
func NewScriptedStream(chunks ...*Chunk) *ScriptedStream {
	return &ScriptedStream{chunks: chunks}
}

// NewFailingStream creates a stream that yields the given chunks then errors.
func NewFailingStream(err error, chunks ...*Chunk) *ScriptedStream {
	return &ScriptedStream{chunks: chunks, err: err}
}

// Recv returns the next scripted chunk.
func (s *ScriptedStream) Recv() (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return &Chunk{Done: true}, nil
	}

	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

// Close marks the stream closed.
func (s *ScriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
