// Package synth turns ordered assistant sentences into a stream of
// fixed-size PCM frames ready for transport. Each sentence is
// synthesized through a tts.Provider, decoded (Ogg/Opus or raw PCM),
// resampled to the playback rate, and re-chunked into sequenced
// protocol.AudioFrame payloads.
package synth

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/auralab/go-aural/pkg/protocol"
	"github.com/auralab/go-aural/pkg/tts"
	opus "gopkg.in/hraban/opus.v2"
)

// DefaultChunkSize is the payload size of outbound audio frames.
const DefaultChunkSize = 4096

// DefaultSampleRate is the playback PCM rate in Hz.
const DefaultSampleRate = 24000

// Sentence is one unit of assistant speech with its position in the turn.
type Sentence struct {
	Index uint32
	Text  string
}

// EmitFunc receives outbound audio frames. Returning an error aborts
// the turn.
type EmitFunc func(frame protocol.AudioFrame) error

// Config configures a Speaker.
type Config struct {
	// Provider performs text-to-speech synthesis.
	Provider tts.Provider

	// ChunkSize is the outbound frame payload size in bytes. Must be
	// even (PCM16 samples). Defaults to DefaultChunkSize.
	ChunkSize int

	// SampleRate is the playback PCM rate. Defaults to DefaultSampleRate.
	SampleRate int

	// Logger for speaker events.
	Logger *slog.Logger
}

// Speaker synthesizes sentences strictly in order. A sentence that
// fails to synthesize or decode is skipped; the turn continues with the
// next one.
type Speaker struct {
	config Config
}

// NewSpeaker creates a speaker.
func NewSpeaker(config Config) *Speaker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Speaker{config: config}
}

// Speak consumes sentences until the channel closes or ctx is
// cancelled, emitting audio frames in sentence order. It returns the
// number of sentences fully spoken. Cancellation mid-sentence stops
// before the next frame is emitted.
func (s *Speaker) Speak(ctx context.Context, sentences <-chan Sentence, emit EmitFunc) (int, error) {
	spoken := 0
	var seq uint32

	for {
		select {
		case <-ctx.Done():
			return spoken, ctx.Err()
		case sentence, ok := <-sentences:
			if !ok {
				return spoken, nil
			}
			if err := s.speakOne(ctx, sentence, &seq, emit); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return spoken, err
				}
				if errors.Is(err, errEmit) {
					return spoken, err
				}
				s.config.Logger.Warn("skipping sentence",
					"index", sentence.Index,
					"error", err)
				continue
			}
			spoken++
		}
	}
}

// errEmit marks transport failures so they abort the turn instead of
// skipping the sentence.
var errEmit = errors.New("emit failed")

func (s *Speaker) speakOne(ctx context.Context, sentence Sentence, seq *uint32, emit EmitFunc) error {
	stream, err := s.config.Provider.Stream(ctx, sentence.Text)
	if err != nil {
		return err
	}
	defer stream.Close()

	out := &chunker{
		size:     s.config.ChunkSize,
		seq:      seq,
		sentence: sentence.Index,
		emit:     emit,
		ctx:      ctx,
	}

	format := stream.Format()
	switch format.Encoding {
	case tts.EncodingPCM16, tts.EncodingPCM22, tts.EncodingPCM24, tts.EncodingPCM44:
		err = s.copyPCM(stream, format.SampleRate, out)
	default:
		err = s.decodeOpus(stream, out)
	}
	if err != nil {
		return err
	}

	return out.flush()
}

// copyPCM forwards raw PCM chunks, resampling to the playback rate.
func (s *Speaker) copyPCM(stream tts.AudioStream, rate int, out *chunker) error {
	for {
		chunk, err := stream.Read()
		if err != nil {
			return err
		}
		if chunk == nil {
			return nil
		}
		if rate != s.config.SampleRate {
			chunk = ResampleBytes(chunk, rate, s.config.SampleRate)
		}
		if err := out.write(chunk); err != nil {
			return err
		}
	}
}

// decodeOpus decodes an Ogg/Opus stream incrementally. Frames go out
// as soon as enough PCM accumulates, well before the provider finishes
// the sentence.
func (s *Speaker) decodeOpus(stream tts.AudioStream, out *chunker) error {
	decoder, err := opus.NewStream(&streamReader{stream: stream})
	if err != nil {
		return err
	}
	defer decoder.Close()

	const opusRate = 48000
	pcm := make([]int16, 5760)
	for {
		n, err := decoder.Read(pcm)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		samples := Resample(pcm[:n], opusRate, s.config.SampleRate)
		if err := out.write(SamplesToBytes(samples)); err != nil {
			return err
		}
	}
}

// streamReader adapts a tts.AudioStream to io.Reader for the decoder.
type streamReader struct {
	stream tts.AudioStream
	buf    []byte
}

func (r *streamReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		chunk, err := r.stream.Read()
		if err != nil {
			return 0, err
		}
		if chunk == nil {
			return 0, io.EOF
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// chunker re-slices decoded PCM into fixed-size sequenced frames.
type chunker struct {
	size     int
	seq      *uint32
	sentence uint32
	emit     EmitFunc
	ctx      context.Context
	buf      []byte
}

func (c *chunker) write(pcm []byte) error {
	c.buf = append(c.buf, pcm...)
	for len(c.buf) >= c.size {
		if err := c.send(c.buf[:c.size]); err != nil {
			return err
		}
		c.buf = c.buf[c.size:]
	}
	return nil
}

// flush emits any trailing partial frame at sentence end.
func (c *chunker) flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	err := c.send(c.buf)
	c.buf = nil
	return err
}

func (c *chunker) send(payload []byte) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	frame := protocol.AudioFrame{
		Sequence: *c.seq,
		Sentence: c.sentence,
		Payload:  append([]byte(nil), payload...),
	}
	if err := c.emit(frame); err != nil {
		return errors.Join(errEmit, err)
	}
	*c.seq++
	return nil
}
