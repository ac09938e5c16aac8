package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	elevenLabsWSBaseURL = "wss://api.elevenlabs.io/v1"
	wsHandshakeTimeout  = 10 * time.Second
)

// ElevenLabsWS synthesizes over the ElevenLabs stream-input WebSocket
// API. Each Stream call opens one socket, pushes the whole sentence,
// and yields audio chunks as the service produces them, which shaves
// per-request HTTP overhead off time-to-first-audio.
type ElevenLabsWS struct {
	config  *Config
	logger  *slog.Logger
	baseURL string
}

// NewElevenLabsWS creates the WebSocket-based ElevenLabs provider.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsWSBaseURL
	}

	return &ElevenLabsWS{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.elevenlabs_ws"),
		baseURL: baseURL,
	}, nil
}

// bosMessage opens a generation. The space initializes the voice
// context; the chunk schedule favors a short first chunk.
func (e *ElevenLabsWS) bosMessage() map[string]interface{} {
	return map[string]interface{}{
		"text": " ",
		"voice_settings": map[string]interface{}{
			"stability":        e.config.VoiceSettings.Stability,
			"similarity_boost": e.config.VoiceSettings.SimilarityBoost,
		},
		"generation_config": map[string]interface{}{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
}

// Stream opens one synthesis socket and returns the audio stream. The
// full text goes out immediately, followed by end-of-stream, so the
// socket drains and closes once all audio has arrived.
func (e *ElevenLabsWS) Stream(ctx context.Context, text string) (AudioStream, error) {
	url := fmt.Sprintf("%s/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		e.baseURL, e.config.VoiceID, e.config.ModelID, e.config.OutputFormat)

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, WrapError(providerElevenLabs,
				fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
		}
		return nil, WrapError(providerElevenLabs, fmt.Errorf("websocket dial failed: %w", err))
	}

	for _, msg := range []interface{}{
		e.bosMessage(),
		map[string]interface{}{"text": text + " ", "try_trigger_generation": true},
		map[string]interface{}{"text": ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return nil, WrapError(providerElevenLabs, fmt.Errorf("send text: %w", err))
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(e.config.StreamTimeout))
	}

	return &wsStream{
		conn:   conn,
		format: e.outputAudioFormat(),
		logger: e.logger,
	}, nil
}

// Synthesize runs one streamed generation to completion and returns
// the combined audio.
func (e *ElevenLabsWS) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	stream, err := e.Stream(ctx, text)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var audio []byte
	for {
		chunk, err := stream.Read()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		audio = append(audio, chunk...)
	}

	latency := time.Since(start).Milliseconds()
	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    e.outputAudioFormat(),
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health dials a synthesis socket and closes it again.
func (e *ElevenLabsWS) Health(ctx context.Context) error {
	stream, err := e.Stream(ctx, "ok")
	if err != nil {
		return err
	}
	return stream.Close()
}

// Close releases resources. Sockets are per-stream, so there is
// nothing held between calls.
func (e *ElevenLabsWS) Close() error {
	return nil
}

func (e *ElevenLabsWS) outputAudioFormat() AudioFormat {
	return AudioFormat{
		Encoding:   e.config.OutputFormat,
		SampleRate: SampleRateFromEncoding(e.config.OutputFormat),
		Channels:   1,
		BitDepth:   16,
	}
}

// wsEvent is one server message on the synthesis socket.
type wsEvent struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// wsStream reads base64 audio events off the socket until the service
// marks the generation final.
type wsStream struct {
	conn   *websocket.Conn
	format AudioFormat
	logger *slog.Logger
	done   bool
}

// Read returns the next audio chunk, or (nil, nil) once the generation
// is final.
func (s *wsStream) Read() ([]byte, error) {
	if s.done {
		return nil, nil
	}

	for {
		var event wsEvent
		if err := s.conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.done = true
				return nil, nil
			}
			return nil, WrapError(providerElevenLabs, fmt.Errorf("read audio event: %w", err))
		}

		if event.Error != "" {
			return nil, WrapError(providerElevenLabs,
				fmt.Errorf("generation failed: %s %s", event.Error, event.Message))
		}

		if event.IsFinal {
			s.done = true
			if event.Audio == "" {
				return nil, nil
			}
		}

		if event.Audio == "" {
			// Alignment-only event.
			continue
		}

		chunk, err := base64.StdEncoding.DecodeString(event.Audio)
		if err != nil {
			return nil, WrapError(providerElevenLabs, fmt.Errorf("decode audio: %w", err))
		}
		return chunk, nil
	}
}

// Close tears the socket down.
func (s *wsStream) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// Format returns the negotiated audio format.
func (s *wsStream) Format() AudioFormat {
	return s.format
}

// Verify ElevenLabsWS implements Provider at compile time.
var _ Provider = (*ElevenLabsWS)(nil)
