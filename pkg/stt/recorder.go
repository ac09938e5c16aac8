package stt

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// SampleRate of the incoming PCM16 audio.
	SampleRate int

	// SilenceTimeout is how long without audio before OnSilence fires.
	// Zero disables the timer.
	SilenceTimeout time.Duration

	// OnSilence is invoked once when the silence timeout elapses after
	// the last Feed of an active turn.
	OnSilence func()

	// Logger for recorder events.
	Logger *slog.Logger
}

// Recorder assembles streamed microphone audio into one utterance and
// hands completed utterances to a transcription provider. At most one
// transcription is in flight at a time.
type Recorder struct {
	provider Provider
	config   RecorderConfig

	mu       sync.Mutex
	buf      bytes.Buffer
	active   bool
	inFlight bool
	timer    *time.Timer
}

// NewRecorder creates a recorder feeding the given provider.
func NewRecorder(provider Provider, config RecorderConfig) *Recorder {
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Recorder{
		provider: provider,
		config:   config,
	}
}

// Start begins a new turn, discarding any buffered audio from a
// previous one.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf.Reset()
	r.active = true
	r.stopTimerLocked()
}

// Feed appends one chunk of PCM16 audio to the current turn and resets
// the silence timer. Audio fed outside an active turn is dropped.
func (r *Recorder) Feed(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return
	}
	r.buf.Write(data)
	r.armTimerLocked()
}

// Finalize ends the turn and transcribes the buffered audio. An empty
// buffer yields an empty transcript without touching the provider.
// ErrBusy is returned while a previous Finalize is still running.
func (r *Recorder) Finalize(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return "", ErrBusy
	}
	audio := make([]byte, r.buf.Len())
	copy(audio, r.buf.Bytes())
	r.buf.Reset()
	r.active = false
	r.stopTimerLocked()
	if len(audio) == 0 {
		r.mu.Unlock()
		return "", nil
	}
	r.inFlight = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
	}()

	start := time.Now()
	text, err := r.provider.Transcribe(ctx, audio, r.config.SampleRate)
	if err != nil {
		return "", err
	}
	r.config.Logger.Debug("transcribed utterance",
		"bytes", len(audio),
		"duration", time.Since(start),
		"chars", len(text))
	return text, nil
}

// Discard drops the buffered audio and ends the turn without
// transcribing.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf.Reset()
	r.active = false
	r.stopTimerLocked()
}

// Active reports whether a turn is being captured.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Buffered returns the number of audio bytes captured so far.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

func (r *Recorder) armTimerLocked() {
	if r.config.SilenceTimeout <= 0 || r.config.OnSilence == nil {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.config.SilenceTimeout, func() {
		r.mu.Lock()
		active := r.active
		r.mu.Unlock()
		if active {
			r.config.OnSilence()
		}
	})
}

func (r *Recorder) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
