package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/auralab/go-aural/pkg/llm"
	"github.com/auralab/go-aural/pkg/memory"
	"github.com/auralab/go-aural/pkg/protocol"
	"github.com/auralab/go-aural/pkg/stt"
	"github.com/auralab/go-aural/pkg/tools"
	"github.com/auralab/go-aural/pkg/tts"
)

// fakeSender records outbound traffic and exposes it on channels so
// tests can wait for specific events.
type fakeSender struct {
	mu       sync.Mutex
	messages []*protocol.Message
	frames   []protocol.AudioFrame
	msgCh    chan *protocol.Message
	frameCh  chan protocol.AudioFrame
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		msgCh:   make(chan *protocol.Message, 256),
		frameCh: make(chan protocol.AudioFrame, 256),
	}
}

func (f *fakeSender) SendMessage(msg *protocol.Message) error {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	f.msgCh <- msg
	return nil
}

func (f *fakeSender) SendAudio(frame protocol.AudioFrame) error {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
	f.frameCh <- frame
	return nil
}

func (f *fakeSender) waitMessage(t *testing.T, msgType protocol.MessageType) *protocol.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-f.msgCh:
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s message", msgType)
			return nil
		}
	}
}

func (f *fakeSender) waitFrame(t *testing.T) protocol.AudioFrame {
	t.Helper()
	select {
	case frame := <-f.frameCh:
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for audio frame")
		return protocol.AudioFrame{}
	}
}

func (f *fakeSender) messagesOfType(msgType protocol.MessageType) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Message
	for _, msg := range f.messages {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeSender) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func startJSON(t *testing.T) []byte {
	t.Helper()
	msg, err := protocol.NewStartMessage(16000)
	if err != nil {
		t.Fatal(err)
	}
	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func stopJSON(t *testing.T, discard bool) []byte {
	t.Helper()
	msg, err := protocol.NewStopMessage(discard)
	if err != nil {
		t.Fatal(err)
	}
	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func framedAudio(seq uint32, size int) []byte {
	frame := protocol.AudioFrame{Sequence: seq, Payload: make([]byte, size)}
	return frame.Encode()
}

func newTestSession(t *testing.T, sender Sender, sttMock stt.Provider, llmMock llm.Provider) *Session {
	t.Helper()
	s := New(sender, Config{
		STT:       sttMock,
		LLM:       llmMock,
		TTS:       tts.NewMock(),
		ChunkSize: 1024,
	})
	t.Cleanup(s.Close)
	return s
}

func runUtterance(t *testing.T, s *Session) {
	t.Helper()
	if err := s.HandleText(startJSON(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.HandleBinary(framedAudio(0, 3200)); err != nil {
		t.Fatalf("audio: %v", err)
	}
	if err := s.HandleText(stopJSON(t, false)); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSessionFullTurn(t *testing.T) {
	sender := newFakeSender()
	llmMock := llm.NewMock("Sure, I can help. ", "What do you need?")
	s := newTestSession(t, sender, stt.NewMock("can you help me"), llmMock)

	runUtterance(t, s)

	transcript := sender.waitMessage(t, protocol.TypeTranscript)
	td, err := transcript.GetTranscriptData()
	if err != nil || td.Text != "can you help me" {
		t.Errorf("transcript = (%+v, %v)", td, err)
	}

	eot := sender.waitMessage(t, protocol.TypeEndOfTurn)
	ed, err := eot.GetEndOfTurnData()
	if err != nil {
		t.Fatalf("end-of-turn data: %v", err)
	}
	if ed.Cancelled {
		t.Error("turn reported cancelled")
	}
	if ed.Sentences != 2 {
		t.Errorf("Sentences = %d, want 2", ed.Sentences)
	}

	texts := sender.messagesOfType(protocol.TypeAssistantText)
	if len(texts) != 2 {
		t.Fatalf("got %d assistant-text messages, want 2", len(texts))
	}
	first, _ := texts[0].GetAssistantTextData()
	if first.Text != "Sure, I can help." || first.Sentence != 0 {
		t.Errorf("first sentence = %+v", first)
	}
	second, _ := texts[1].GetAssistantTextData()
	if second.Text != "What do you need?" || second.Sentence != 1 {
		t.Errorf("second sentence = %+v", second)
	}

	if sender.frameCount() == 0 {
		t.Error("no audio frames emitted")
	}
	if llmMock.CallCount("Stream") != 1 {
		t.Errorf("LLM streamed %d times, want 1", llmMock.CallCount("Stream"))
	}
}

func TestSessionEmptyTranscriptShortCircuits(t *testing.T) {
	sender := newFakeSender()
	llmMock := llm.NewMock("should never run")
	s := newTestSession(t, sender, stt.NewMock(""), llmMock)

	runUtterance(t, s)

	eot := sender.waitMessage(t, protocol.TypeEndOfTurn)
	ed, _ := eot.GetEndOfTurnData()
	if ed.Sentences != 0 || ed.Cancelled {
		t.Errorf("end-of-turn = %+v, want zero sentences, not cancelled", ed)
	}
	if llmMock.CallCount("Stream") != 0 {
		t.Error("generation started for an empty transcript")
	}
	if sender.frameCount() != 0 {
		t.Error("audio emitted for an empty transcript")
	}
	if msgs := sender.messagesOfType(protocol.TypeTranscript); len(msgs) != 0 {
		t.Errorf("got %d transcript messages for an empty transcript, want none", len(msgs))
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestSessionRejectsUnframedAudio(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, sender, stt.NewMock("hello"), llm.NewMock())

	if err := s.HandleText(startJSON(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleBinary(make([]byte, 3200)); err == nil {
		t.Error("raw PCM without a frame header accepted")
	}
	if err := s.HandleBinary([]byte{1, 2, 3}); err == nil {
		t.Error("short binary payload accepted")
	}

	// A properly framed chunk still lands in the capture buffer.
	if err := s.HandleBinary(framedAudio(0, 320)); err != nil {
		t.Fatalf("framed audio rejected: %v", err)
	}
}

func TestSessionBargeInWhileTranscribing(t *testing.T) {
	sender := newFakeSender()
	entered := make(chan struct{})
	gate := make(chan struct{})
	sttMock := &stt.Mock{
		TranscribeFunc: func(ctx context.Context, audio []byte, sampleRate int) (string, error) {
			close(entered)
			<-gate
			return "stale words", nil
		},
	}
	llmMock := llm.NewMock("should never run")
	s := newTestSession(t, sender, sttMock, llmMock)

	if err := s.HandleText(startJSON(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleBinary(framedAudio(0, 3200)); err != nil {
		t.Fatal(err)
	}

	finalized := make(chan struct{})
	go func() {
		defer close(finalized)
		s.HandleText(stopJSON(t, false))
	}()
	<-entered

	// The client starts a new utterance while the old one is still in
	// the transcriber. The old result must not hijack the session.
	if err := s.HandleText(startJSON(t)); err != nil {
		t.Fatal(err)
	}
	close(gate)
	<-finalized

	if got := llmMock.CallCount("Stream"); got != 0 {
		t.Errorf("stale transcript started generation %d times", got)
	}
	if msgs := sender.messagesOfType(protocol.TypeTranscript); len(msgs) != 0 {
		t.Errorf("stale transcript announced in %d messages, want none", len(msgs))
	}
	if s.State() != StateListening {
		t.Errorf("state = %s, want listening for the new capture", s.State())
	}
}

// failingAudioSender delivers control messages but refuses audio, the
// shape of a connection whose outbound queue has been torn down.
type failingAudioSender struct {
	*fakeSender
}

func (f *failingAudioSender) SendAudio(frame protocol.AudioFrame) error {
	return errors.New("connection closed")
}

func TestSessionAudioSendFailureEndsTurn(t *testing.T) {
	sender := &failingAudioSender{fakeSender: newFakeSender()}
	llmMock := llm.NewMock("First sentence. ", "Second sentence. ", "Third sentence. ")
	s := newTestSession(t, sender, stt.NewMock("talk to me"), llmMock)

	runUtterance(t, s)

	eot := sender.waitMessage(t, protocol.TypeEndOfTurn)
	ed, err := eot.GetEndOfTurnData()
	if err != nil {
		t.Fatalf("end-of-turn data: %v", err)
	}
	if ed.Cancelled {
		t.Error("emit failure reported as a cancelled turn")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s after emit failure, want idle", s.State())
	}
}

func TestSessionDiscard(t *testing.T) {
	sender := newFakeSender()
	llmMock := llm.NewMock("should never run")
	s := newTestSession(t, sender, stt.NewMock("transcribed anyway"), llmMock)

	if err := s.HandleText(startJSON(t)); err != nil {
		t.Fatal(err)
	}
	s.HandleBinary(framedAudio(0, 3200))
	if err := s.HandleText(stopJSON(t, true)); err != nil {
		t.Fatal(err)
	}

	if s.State() != StateIdle {
		t.Errorf("state = %s after discard, want idle", s.State())
	}
	if llmMock.CallCount("Stream") != 0 {
		t.Error("generation ran after discard")
	}
}

// gateStream emits one sentence, then blocks until released. It lets
// the test observe audio flowing while generation is still open.
type gateStream struct {
	sent    bool
	release chan struct{}
}

func (g *gateStream) Recv() (*llm.Chunk, error) {
	if !g.sent {
		g.sent = true
		return &llm.Chunk{Delta: "Here is the first sentence. "}, nil
	}
	<-g.release
	return &llm.Chunk{Done: true}, nil
}

func (g *gateStream) Close() error { return nil }

func TestSessionAudioBeforeGenerationCompletes(t *testing.T) {
	sender := newFakeSender()
	gate := &gateStream{release: make(chan struct{})}
	llmMock := &llm.Mock{
		StreamFunc: func(ctx context.Context, req *llm.Request) (llm.Stream, error) {
			return gate, nil
		},
	}
	s := newTestSession(t, sender, stt.NewMock("talk to me"), llmMock)

	runUtterance(t, s)

	// Audio for the first sentence must arrive while the generation
	// stream is still blocked on the gate.
	frame := sender.waitFrame(t)
	if len(frame.Payload) == 0 {
		t.Error("empty first frame")
	}
	if frame.Sentence != 0 {
		t.Errorf("first frame Sentence = %d, want 0", frame.Sentence)
	}

	close(gate.release)
	sender.waitMessage(t, protocol.TypeEndOfTurn)
}

// slowAudioStream yields frames with a delay, keeping the session in
// the speaking state long enough to interrupt it.
type slowAudioStream struct {
	chunks int
}

func (s *slowAudioStream) Read() ([]byte, error) {
	if s.chunks == 0 {
		return nil, nil
	}
	s.chunks--
	time.Sleep(20 * time.Millisecond)
	return make([]byte, 1024), nil
}

func (s *slowAudioStream) Close() error { return nil }

func (s *slowAudioStream) Format() tts.AudioFormat {
	return tts.AudioFormat{Encoding: tts.EncodingPCM24, SampleRate: 24000, Channels: 1, BitDepth: 16}
}

func TestSessionBargeIn(t *testing.T) {
	sender := newFakeSender()
	ttsMock := &tts.Mock{
		StreamFunc: func(ctx context.Context, text string) (tts.AudioStream, error) {
			return &slowAudioStream{chunks: 100}, nil
		},
	}
	s := New(sender, Config{
		STT:       stt.NewMock("tell me a story"),
		LLM:       llm.NewMock("Once upon a time. ", "There was a long story. "),
		TTS:       ttsMock,
		ChunkSize: 1024,
	})
	t.Cleanup(s.Close)

	runUtterance(t, s)

	// Wait until audio is flowing, then interrupt with a new start.
	sender.waitFrame(t)
	if err := s.HandleText(startJSON(t)); err != nil {
		t.Fatalf("barge-in start: %v", err)
	}

	eot := sender.waitMessage(t, protocol.TypeEndOfTurn)
	ed, _ := eot.GetEndOfTurnData()
	if !ed.Cancelled {
		t.Error("interrupted turn not reported as cancelled")
	}
	if s.State() != StateListening {
		t.Errorf("state = %s after barge-in, want listening", s.State())
	}
}

func TestSessionGenerationError(t *testing.T) {
	sender := newFakeSender()
	llmMock := &llm.Mock{
		StreamFunc: func(ctx context.Context, req *llm.Request) (llm.Stream, error) {
			return llm.NewFailingStream(errors.New("backend exploded"),
				&llm.Chunk{Delta: "Partial answer. "}), nil
		},
	}
	s := newTestSession(t, sender, stt.NewMock("hello"), llmMock)

	runUtterance(t, s)

	errMsg := sender.waitMessage(t, protocol.TypeError)
	ed, err := errMsg.GetErrorData()
	if err != nil {
		t.Fatalf("error data: %v", err)
	}
	if ed.Code != "generation_failed" || ed.Fatal {
		t.Errorf("error = %+v, want recoverable generation_failed", ed)
	}

	sender.waitMessage(t, protocol.TypeEndOfTurn)
	if s.State() != StateIdle {
		t.Errorf("state = %s after recoverable error, want idle", s.State())
	}
}

func TestSessionRejectsUnknownToolCall(t *testing.T) {
	sender := newFakeSender()
	registry := tools.NewRegistry(nil)
	executed := false
	registry.Register(tools.Tool{
		Name: "open_url",
		Handler: func(map[string]interface{}) (string, error) {
			executed = true
			return "ok", nil
		},
	})

	llmMock := &llm.Mock{
		StreamFunc: func(ctx context.Context, req *llm.Request) (llm.Stream, error) {
			return llm.NewScriptedStream(
				&llm.Chunk{ToolCall: &llm.ToolCall{Name: "delete_everything", Arguments: "{}"}},
				&llm.Chunk{Delta: "I cannot do that. "},
				&llm.Chunk{Done: true},
			), nil
		},
	}

	s := New(sender, Config{
		STT:       stt.NewMock("wipe my disk"),
		LLM:       llmMock,
		TTS:       tts.NewMock(),
		Tools:     registry,
		ChunkSize: 1024,
	})
	t.Cleanup(s.Close)

	runUtterance(t, s)

	notice := sender.waitMessage(t, protocol.TypeToolNotice)
	nd, _ := notice.GetToolNoticeData()
	if nd.Name != "delete_everything" || !nd.Rejected {
		t.Errorf("tool notice = %+v, want rejected delete_everything", nd)
	}
	if executed {
		t.Error("a registered tool ran for an unregistered name")
	}
	sender.waitMessage(t, protocol.TypeEndOfTurn)
}

func TestSessionToolDispatchAndNotice(t *testing.T) {
	sender := newFakeSender()
	registry := tools.NewRegistry(nil)
	dispatched := 0
	registry.Register(tools.Tool{
		Name: "open_url",
		Handler: func(args map[string]interface{}) (string, error) {
			dispatched++
			return "opened", nil
		},
	})

	llmMock := &llm.Mock{
		StreamFunc: func(ctx context.Context, req *llm.Request) (llm.Stream, error) {
			if len(req.Tools) == 0 {
				t.Error("tool schema not passed to generation request")
			}
			return llm.NewScriptedStream(
				&llm.Chunk{ToolCall: &llm.ToolCall{Name: "open_url", Arguments: `{"url":"https://example.com"}`}},
				&llm.Chunk{Delta: "Opening it now. "},
				&llm.Chunk{Done: true},
			), nil
		},
	}

	s := New(sender, Config{
		STT:       stt.NewMock("open example.com"),
		LLM:       llmMock,
		TTS:       tts.NewMock(),
		Tools:     registry,
		ChunkSize: 1024,
	})
	t.Cleanup(s.Close)

	runUtterance(t, s)

	notice := sender.waitMessage(t, protocol.TypeToolNotice)
	nd, _ := notice.GetToolNoticeData()
	if nd.Name != "open_url" || nd.Rejected {
		t.Errorf("tool notice = %+v, want accepted open_url", nd)
	}
	sender.waitMessage(t, protocol.TypeEndOfTurn)
	if dispatched != 1 {
		t.Errorf("tool dispatched %d times, want exactly once", dispatched)
	}
}

func TestSessionObserverRunsAfterTurn(t *testing.T) {
	store, err := memory.NewJSONStore(t.TempDir() + "/memory.json")
	if err != nil {
		t.Fatal(err)
	}

	observed := make(chan struct{})
	observer := &llm.Mock{
		CompleteFunc: func(ctx context.Context, req *llm.Request) (string, error) {
			defer close(observed)
			return `{"new_fact": "The user likes stories."}`, nil
		},
	}

	sender := newFakeSender()
	s := New(sender, Config{
		STT:         stt.NewMock("i love stories"),
		LLM:         llm.NewMock("Me too. "),
		ObserverLLM: observer,
		TTS:         tts.NewMock(),
		Store:       store,
		ChunkSize:   1024,
	})
	t.Cleanup(s.Close)

	runUtterance(t, s)
	sender.waitMessage(t, protocol.TypeEndOfTurn)

	select {
	case <-observed:
	case <-time.After(5 * time.Second):
		t.Fatal("observer never ran")
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.Count() != 1 {
		t.Errorf("store has %d facts after observation, want 1", store.Count())
	}
}

func TestSessionMalformedMessage(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, sender, stt.NewMock(""), llm.NewMock())

	if err := s.HandleText([]byte("{not json")); err == nil {
		t.Error("malformed JSON accepted")
	}
	if err := s.HandleText([]byte(`{"type":"no-such-type","ts":1,"data":{}}`)); err == nil {
		t.Error("unknown message type accepted")
	}
}

func TestSessionPromptIncludesFacts(t *testing.T) {
	store, err := memory.NewJSONStore(t.TempDir() + "/memory.json")
	if err != nil {
		t.Fatal(err)
	}
	fact := memory.Fact{Text: "The user's name is Dana.", CreatedAt: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)}
	if err := store.Append(fact); err != nil {
		t.Fatal(err)
	}

	var gotSystem string
	llmMock := &llm.Mock{
		StreamFunc: func(ctx context.Context, req *llm.Request) (llm.Stream, error) {
			for _, msg := range req.Messages {
				if msg.Role == llm.RoleSystem {
					gotSystem = msg.Content
				}
			}
			return llm.NewScriptedStream(&llm.Chunk{Delta: "Hi Dana. "}, &llm.Chunk{Done: true}), nil
		},
	}

	sender := newFakeSender()
	s := New(sender, Config{
		STT:       stt.NewMock("hi"),
		LLM:       llmMock,
		TTS:       tts.NewMock(),
		Store:     store,
		ChunkSize: 1024,
	})
	t.Cleanup(s.Close)

	runUtterance(t, s)
	sender.waitMessage(t, protocol.TypeEndOfTurn)

	want := "- [2026-03-14] The user's name is Dana."
	if gotSystem == "" {
		t.Fatal("no system message in generation request")
	}
	if !strings.Contains(gotSystem, want) {
		t.Errorf("system prompt missing dated fact %q:\n%s", want, gotSystem)
	}
}
