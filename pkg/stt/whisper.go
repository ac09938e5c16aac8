package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/auralab/go-aural/internal/httpc"
)

const providerWhisper = "whisper"

// Whisper transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint. It works against the hosted API and
// against local whisper.cpp or faster-whisper servers that expose the
// same route.
type Whisper struct {
	config     *Config
	httpClient *http.Client
}

// NewWhisper creates a Whisper transcription provider.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig().Apply(opts...)

	return &Whisper{
		config:     cfg,
		httpClient: httpc.NewClient(cfg.Timeout),
	}, nil
}

// Transcribe sends one utterance of PCM16 mono audio for recognition.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error) {
	if len(audio) == 0 {
		return "", WrapError(providerWhisper, "transcribe", ErrEmptyAudio)
	}

	body, contentType, err := w.buildForm(audio, sampleRate)
	if err != nil {
		return "", WrapError(providerWhisper, "transcribe", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		text, err := w.doTranscribe(ctx, body, contentType)
		if err == nil {
			return text, nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			break
		}
		w.config.Logger.Warn("transcription retry", "attempt", attempt+1, "error", err)
	}

	return "", WrapError(providerWhisper, "transcribe", lastErr)
}

func (w *Whisper) doTranscribe(ctx context.Context, body []byte, contentType string) (string, error) {
	url := strings.TrimRight(w.config.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	if w.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Provider:   providerWhisper,
		}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	return strings.TrimSpace(result.Text), nil
}

// buildForm wraps the PCM in a WAV container and assembles the
// multipart request body.
func (w *Whisper) buildForm(audio []byte, sampleRate int) ([]byte, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wrapWAV(audio, sampleRate)); err != nil {
		return nil, "", err
	}

	if err := form.WriteField("model", w.config.Model); err != nil {
		return nil, "", err
	}
	if w.config.Language != "" {
		if err := form.WriteField("language", w.config.Language); err != nil {
			return nil, "", err
		}
	}
	if err := form.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}

	if err := form.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), form.FormDataContentType(), nil
}

// Health checks the endpoint is reachable.
func (w *Whisper) Health(ctx context.Context) error {
	url := strings.TrimRight(w.config.BaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapError(providerWhisper, "health", err)
	}
	if w.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return WrapError(providerWhisper, "health", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return WrapError(providerWhisper, "health", &APIError{
			StatusCode: resp.StatusCode,
			Message:    "health check failed",
			Provider:   providerWhisper,
		})
	}
	return nil
}

// Close releases resources.
func (w *Whisper) Close() error {
	w.httpClient.CloseIdleConnections()
	return nil
}

// wrapWAV prefixes raw PCM16 mono samples with a RIFF/WAVE header.
func wrapWAV(pcm []byte, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf := make([]byte, 0, 44+len(pcm))
	out := bytes.NewBuffer(buf)

	out.WriteString("RIFF")
	binary.Write(out, binary.LittleEndian, uint32(36+len(pcm)))
	out.WriteString("WAVE")

	out.WriteString("fmt ")
	binary.Write(out, binary.LittleEndian, uint32(16))
	binary.Write(out, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(out, binary.LittleEndian, uint16(numChannels))
	binary.Write(out, binary.LittleEndian, uint32(sampleRate))
	binary.Write(out, binary.LittleEndian, uint32(byteRate))
	binary.Write(out, binary.LittleEndian, uint16(blockAlign))
	binary.Write(out, binary.LittleEndian, uint16(bitsPerSample))

	out.WriteString("data")
	binary.Write(out, binary.LittleEndian, uint32(len(pcm)))
	out.Write(pcm)

	return out.Bytes()
}

// Verify interface compliance
var _ Provider = (*Whisper)(nil)
