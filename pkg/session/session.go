// Package session orchestrates one voice conversation over a single
// connection: capturing an utterance, transcribing it, streaming a
// generated reply sentence-by-sentence into synthesized audio, and
// observing completed turns for long-term memory.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auralab/go-aural/pkg/llm"
	"github.com/auralab/go-aural/pkg/memory"
	"github.com/auralab/go-aural/pkg/protocol"
	"github.com/auralab/go-aural/pkg/stt"
	"github.com/auralab/go-aural/pkg/synth"
	"github.com/auralab/go-aural/pkg/tools"
	"github.com/auralab/go-aural/pkg/tts"
)

// State is the session lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateGenerating
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Sender delivers outbound traffic to the client. Implementations must
// be safe for concurrent use; the transport serializes actual writes.
type Sender interface {
	SendMessage(msg *protocol.Message) error
	SendAudio(frame protocol.AudioFrame) error
}

// Config wires the pipeline stages into a session.
type Config struct {
	// STT transcribes captured utterances.
	STT stt.Provider

	// LLM generates replies.
	LLM llm.Provider

	// ObserverLLM extracts memory facts. Defaults to LLM.
	ObserverLLM llm.Provider

	// TTS synthesizes reply sentences.
	TTS tts.Provider

	// Store persists long-term facts. Optional.
	Store memory.Store

	// Tools is the white-listed tool registry. Optional.
	Tools *tools.Registry

	// InputSampleRate of inbound PCM16 audio. Defaults to 16000.
	InputSampleRate int

	// SilenceTimeout finalizes a turn after this much quiet.
	// Defaults to 1200ms.
	SilenceTimeout time.Duration

	// ChunkSize is the outbound audio frame payload size.
	ChunkSize int

	// MemoryFacts is how many recent facts are injected into the
	// prompt. Defaults to 20.
	MemoryFacts int

	// HistoryLimit caps retained conversation messages. Defaults to 20.
	HistoryLimit int

	// TranscribeTimeout bounds one transcription request. Defaults to 30s.
	TranscribeTimeout time.Duration

	// Logger for session events.
	Logger *slog.Logger
}

// turn tracks one in-flight generation+speech pipeline.
type turn struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Session owns one conversation.
type Session struct {
	ID string

	config   Config
	sender   Sender
	recorder *stt.Recorder
	speaker  *synth.Speaker
	observer *memory.Observer
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	captureSeq uint64
	turn       *turn
	history    []llm.Message
	closed     bool
}

// New creates a session bound to a sender.
func New(sender Sender, config Config) *Session {
	if config.InputSampleRate <= 0 {
		config.InputSampleRate = 16000
	}
	if config.SilenceTimeout <= 0 {
		config.SilenceTimeout = 1200 * time.Millisecond
	}
	if config.MemoryFacts <= 0 {
		config.MemoryFacts = 20
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 20
	}
	if config.TranscribeTimeout <= 0 {
		config.TranscribeTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ObserverLLM == nil {
		config.ObserverLLM = config.LLM
	}

	s := &Session{
		ID:     uuid.New().String(),
		config: config,
		sender: sender,
	}
	s.logger = config.Logger.With("session", s.ID)

	s.recorder = stt.NewRecorder(config.STT, stt.RecorderConfig{
		SampleRate:     config.InputSampleRate,
		SilenceTimeout: config.SilenceTimeout,
		OnSilence:      s.onSilence,
		Logger:         s.logger,
	})
	s.speaker = synth.NewSpeaker(synth.Config{
		Provider:  config.TTS,
		ChunkSize: config.ChunkSize,
		Logger:    s.logger,
	})
	if config.Store != nil && config.ObserverLLM != nil {
		s.observer = memory.NewObserver(config.ObserverLLM, config.Store, s.logger)
	}

	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleText processes one control message from the client. A parse
// error is returned to the transport, which tears the connection down.
func (s *Session) HandleText(data []byte) error {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Type {
	case protocol.TypeStart:
		start, err := msg.GetStartData()
		if err != nil {
			return fmt.Errorf("malformed start message: %w", err)
		}
		if start.SampleRate > 0 && start.SampleRate != s.config.InputSampleRate {
			s.logger.Warn("client requested unsupported sample rate",
				"requested", start.SampleRate,
				"using", s.config.InputSampleRate)
		}
		s.beginCapture()
		return nil

	case protocol.TypeStop:
		stop, err := msg.GetStopData()
		if err != nil {
			return fmt.Errorf("malformed stop message: %w", err)
		}
		if stop.Discard {
			s.discard()
		} else {
			s.finalize()
		}
		return nil

	default:
		// Server-origin type sent by a client. Tell it and carry on.
		s.sendError("protocol", fmt.Sprintf("unexpected %s message", msg.Type), false)
		return nil
	}
}

// HandleBinary feeds one inbound audio frame. The payload must be a
// framed PCM chunk; a malformed frame is returned to the transport,
// which tears the connection down. Frames outside an active capture
// are dropped.
func (s *Session) HandleBinary(data []byte) error {
	var frame protocol.AudioFrame
	if err := frame.Decode(data); err != nil {
		return fmt.Errorf("malformed audio frame: %w", err)
	}
	s.recorder.Feed(frame.Payload)
	return nil
}

// beginCapture starts a new turn, cancelling any reply still playing
// (barge-in).
func (s *Session) beginCapture() {
	// Bump the capture epoch before cancelling so a finalize still in
	// flight for the previous utterance cannot install a turn under us.
	s.mu.Lock()
	s.captureSeq++
	s.mu.Unlock()

	s.cancelTurn()

	s.mu.Lock()
	s.state = StateListening
	s.mu.Unlock()

	s.recorder.Start()
	s.logger.Debug("capture started")
}

// discard drops the current capture without transcribing.
func (s *Session) discard() {
	s.recorder.Discard()
	s.mu.Lock()
	if s.state == StateListening {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// onSilence fires from the recorder's silence timer.
func (s *Session) onSilence() {
	s.logger.Debug("silence timeout, finalizing turn")
	s.finalize()
}

// finalize transcribes the captured utterance and, if it said anything,
// starts a reply turn.
func (s *Session) finalize() {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return
	}
	epoch := s.captureSeq
	s.state = StateTranscribing
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.TranscribeTimeout)
	defer cancel()

	text, err := s.recorder.Finalize(ctx)
	if s.superseded(epoch) {
		// The client barged in while we were transcribing. The new
		// capture owns the session now; drop this result.
		return
	}
	if errors.Is(err, stt.ErrBusy) {
		// A previous utterance is still in the transcriber. Keep
		// listening so a later stop can retry.
		s.mu.Lock()
		if s.captureSeq == epoch && s.state == StateTranscribing {
			s.state = StateListening
		}
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.logger.Error("transcription failed", "error", err)
		s.sendError("stt_failed", "could not transcribe audio", false)
		s.sendEndOfTurn(0, false)
		s.setIdle(epoch)
		return
	}

	if text == "" {
		// Nothing was said. No transcript, no generation, no observer.
		s.sendEndOfTurn(0, false)
		s.setIdle(epoch)
		return
	}

	s.send(mustMessage(protocol.NewTranscriptMessage(text)))
	s.beginTurn(text, epoch)
}

// beginTurn launches the generation+speech pipeline for one user
// utterance.
func (s *Session) beginTurn(userText string, epoch uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &turn{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.captureSeq != epoch {
		s.mu.Unlock()
		cancel()
		return
	}
	s.turn = t
	s.state = StateGenerating
	s.mu.Unlock()

	go func() {
		defer close(t.done)
		defer cancel()

		s.runTurn(ctx, userText)

		s.mu.Lock()
		if s.turn == t {
			s.turn = nil
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()
}

// cancelTurn aborts the in-flight turn, if any, and waits for its
// pipeline to unwind.
func (s *Session) cancelTurn() {
	s.mu.Lock()
	t := s.turn
	s.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// Close tears the session down.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelTurn()
	s.recorder.Discard()
	s.logger.Debug("session closed")
}

// setIdle returns to idle unless a newer capture has taken over.
func (s *Session) setIdle(epoch uint64) {
	s.mu.Lock()
	if s.captureSeq == epoch {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// superseded reports whether a newer capture began after epoch.
func (s *Session) superseded(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureSeq != epoch
}

func (s *Session) send(msg *protocol.Message) {
	if err := s.sender.SendMessage(msg); err != nil {
		s.logger.Warn("failed to send message", "type", msg.Type, "error", err)
	}
}

func (s *Session) sendError(code, message string, fatal bool) {
	s.send(mustMessage(protocol.NewErrorMessage(code, message, fatal)))
}

func (s *Session) sendEndOfTurn(sentences int, cancelled bool) {
	s.send(mustMessage(protocol.NewEndOfTurnMessage(sentences, cancelled)))
}

// mustMessage panics on marshal failure of a fixed payload shape, which
// cannot happen for the types above.
func mustMessage(msg *protocol.Message, err error) *protocol.Message {
	if err != nil {
		panic(err)
	}
	return msg
}
