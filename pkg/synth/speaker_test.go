package synth

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/auralab/go-aural/pkg/protocol"
	"github.com/auralab/go-aural/pkg/tts"
)

// pcmMock returns a mock provider whose audio is PCM24 filled with the
// first byte of the sentence text, so frames are attributable.
func pcmMock(bytesPerSentence int) *tts.Mock {
	return &tts.Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.AudioResult, error) {
			marker := byte('?')
			if len(text) > 0 {
				marker = text[0]
			}
			audio := bytes.Repeat([]byte{marker}, bytesPerSentence)
			return &tts.AudioResult{
				Audio: audio,
				Format: tts.AudioFormat{
					Encoding:   tts.EncodingPCM24,
					SampleRate: 24000,
					Channels:   1,
					BitDepth:   16,
				},
			}, nil
		},
	}
}

func feed(sentences ...Sentence) <-chan Sentence {
	ch := make(chan Sentence, len(sentences))
	for _, s := range sentences {
		ch <- s
	}
	close(ch)
	return ch
}

func TestSpeakerOrderAndSequencing(t *testing.T) {
	speaker := NewSpeaker(Config{
		Provider:  pcmMock(1000),
		ChunkSize: 400,
	})

	var frames []protocol.AudioFrame
	spoken, err := speaker.Speak(context.Background(),
		feed(
			Sentence{Index: 0, Text: "aaa"},
			Sentence{Index: 1, Text: "bbb"},
		),
		func(f protocol.AudioFrame) error {
			frames = append(frames, f)
			return nil
		})
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if spoken != 2 {
		t.Errorf("spoken = %d, want 2", spoken)
	}

	// 1000 bytes per sentence at 400-byte chunks: 400, 400, 200 each.
	if len(frames) != 6 {
		t.Fatalf("got %d frames, want 6", len(frames))
	}

	for i, f := range frames {
		if f.Sequence != uint32(i) {
			t.Errorf("frame %d Sequence = %d, want %d", i, f.Sequence, i)
		}
		wantSentence := uint32(0)
		wantMarker := byte('a')
		if i >= 3 {
			wantSentence = 1
			wantMarker = 'b'
		}
		if f.Sentence != wantSentence {
			t.Errorf("frame %d Sentence = %d, want %d", i, f.Sentence, wantSentence)
		}
		if f.Payload[0] != wantMarker {
			t.Errorf("frame %d carries audio from the wrong sentence", i)
		}
	}

	if len(frames[2].Payload) != 200 || len(frames[5].Payload) != 200 {
		t.Error("trailing partial frames were not flushed at sentence boundaries")
	}
	if len(frames[0].Payload) != 400 {
		t.Errorf("full frame payload = %d bytes, want 400", len(frames[0].Payload))
	}
}

func TestSpeakerSkipsFailedSentence(t *testing.T) {
	calls := 0
	provider := &tts.Mock{
		StreamFunc: func(ctx context.Context, text string) (tts.AudioStream, error) {
			calls++
			if text == "broken" {
				return nil, errors.New("synthesis failed")
			}
			inner := pcmMock(100)
			return inner.Stream(ctx, text)
		},
	}

	speaker := NewSpeaker(Config{Provider: provider, ChunkSize: 100})

	var frames []protocol.AudioFrame
	spoken, err := speaker.Speak(context.Background(),
		feed(
			Sentence{Index: 0, Text: "first"},
			Sentence{Index: 1, Text: "broken"},
			Sentence{Index: 2, Text: "third"},
		),
		func(f protocol.AudioFrame) error {
			frames = append(frames, f)
			return nil
		})
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if spoken != 2 {
		t.Errorf("spoken = %d, want 2 (failed sentence skipped)", spoken)
	}
	if calls != 3 {
		t.Errorf("provider called %d times, want 3", calls)
	}
	for _, f := range frames {
		if f.Sentence == 1 {
			t.Error("frames emitted for the failed sentence")
		}
	}
}

func TestSpeakerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	speaker := NewSpeaker(Config{Provider: pcmMock(10000), ChunkSize: 100})

	frames := 0
	_, err := speaker.Speak(ctx,
		feed(Sentence{Index: 0, Text: "long sentence"}),
		func(f protocol.AudioFrame) error {
			frames++
			if frames == 3 {
				cancel()
			}
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Speak() error = %v, want context.Canceled", err)
	}
	if frames != 3 {
		t.Errorf("emitted %d frames after cancel, want none past the third", frames)
	}
}

func TestSpeakerEmitErrorAborts(t *testing.T) {
	speaker := NewSpeaker(Config{Provider: pcmMock(1000), ChunkSize: 100})

	wantErr := errors.New("connection gone")
	spoken, err := speaker.Speak(context.Background(),
		feed(
			Sentence{Index: 0, Text: "one"},
			Sentence{Index: 1, Text: "two"},
		),
		func(f protocol.AudioFrame) error {
			return wantErr
		})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Speak() error = %v, want emit error", err)
	}
	if spoken != 0 {
		t.Errorf("spoken = %d after transport failure, want 0", spoken)
	}
}

func TestSpeakerEmptyChannel(t *testing.T) {
	speaker := NewSpeaker(Config{Provider: pcmMock(100)})
	spoken, err := speaker.Speak(context.Background(), feed(), func(protocol.AudioFrame) error {
		t.Error("no frames expected")
		return nil
	})
	if err != nil || spoken != 0 {
		t.Errorf("Speak() = (%d, %v), want (0, nil)", spoken, err)
	}
}

func TestBytesSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := BytesToSamples(SamplesToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("round trip length = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 480)
	for i := range samples {
		samples[i] = int16(i)
	}

	t.Run("identity", func(t *testing.T) {
		got := Resample(samples, 24000, 24000)
		if len(got) != len(samples) {
			t.Errorf("identity resample changed length: %d", len(got))
		}
	})

	t.Run("downsample halves length", func(t *testing.T) {
		got := Resample(samples, 48000, 24000)
		if len(got) != 240 {
			t.Errorf("48k->24k of 480 samples = %d, want 240", len(got))
		}
	})

	t.Run("upsample doubles length", func(t *testing.T) {
		got := Resample(samples, 24000, 48000)
		if len(got) != 960 {
			t.Errorf("24k->48k of 480 samples = %d, want 960", len(got))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := Resample(nil, 48000, 24000); len(got) != 0 {
			t.Errorf("resampling nil produced %d samples", len(got))
		}
	})
}

func TestStereoToMono(t *testing.T) {
	stereo := []int16{100, 200, -100, -200}
	mono := StereoToMono(stereo)
	if len(mono) != 2 || mono[0] != 150 || mono[1] != -150 {
		t.Errorf("StereoToMono = %v, want [150 -150]", mono)
	}
}
