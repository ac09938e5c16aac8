//go:build integration

package tts_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/auralab/go-aural/pkg/tts"
)

// These tests hit the real synthesis APIs and only run with
// go test -tags=integration ./pkg/tts/... and the keys in the
// environment.

func elevenLabsOptions(t *testing.T) []tts.Option {
	t.Helper()
	apiKey := os.Getenv("ELEVENLABS_API_KEY")
	if apiKey == "" {
		t.Skip("ELEVENLABS_API_KEY not set")
	}
	return []tts.Option{
		tts.WithAPIKey(apiKey),
		tts.WithVoice(tts.ResolveElevenLabsVoice(os.Getenv("ELEVENLABS_VOICE"))),
	}
}

func drainStream(t *testing.T, stream tts.AudioStream) int {
	t.Helper()
	total := 0
	for {
		chunk, err := stream.Read()
		if err != nil {
			t.Fatalf("stream read: %v", err)
		}
		if chunk == nil {
			return total
		}
		total += len(chunk)
	}
}

func TestElevenLabsIntegration(t *testing.T) {
	provider, err := tts.NewElevenLabs(elevenLabsOptions(t)...)
	if err != nil {
		t.Fatalf("NewElevenLabs() error = %v", err)
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := provider.Health(ctx); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	result, err := provider.Synthesize(ctx, "Your assistant is speaking.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	t.Logf("synthesized %d bytes in %dms", len(result.Audio), result.LatencyMs)
	if len(result.Audio) < 1000 {
		t.Error("audio shorter than a spoken sentence")
	}
	if result.Format.Encoding != tts.EncodingOpus {
		t.Errorf("Format.Encoding = %s, want %s", result.Format.Encoding, tts.EncodingOpus)
	}

	stream, err := provider.Stream(ctx, "Testing streamed synthesis.")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()
	if total := drainStream(t, stream); total < 1000 {
		t.Errorf("streamed only %d bytes", total)
	}
}

func TestElevenLabsWSIntegration(t *testing.T) {
	provider, err := tts.NewElevenLabsWS(elevenLabsOptions(t)...)
	if err != nil {
		t.Fatalf("NewElevenLabsWS() error = %v", err)
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stream, err := provider.Stream(ctx, "Testing websocket synthesis.")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()
	if total := drainStream(t, stream); total < 1000 {
		t.Errorf("streamed only %d bytes", total)
	}
}

func TestOpenAIIntegration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	provider, err := tts.NewOpenAI(
		tts.WithAPIKey(apiKey),
		tts.WithVoice(tts.VoiceShimmer),
		tts.WithModel(tts.ModelTTS1),
	)
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := provider.Health(ctx); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	result, err := provider.Synthesize(ctx, "Hello from the fallback voice.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(result.Audio) < 1000 {
		t.Error("audio shorter than a spoken sentence")
	}
	if result.Format.Encoding != tts.EncodingOpus {
		t.Errorf("Format.Encoding = %s, want %s", result.Format.Encoding, tts.EncodingOpus)
	}
}

func TestChainIntegration(t *testing.T) {
	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	var providers []tts.Provider
	if elevenLabsKey := os.Getenv("ELEVENLABS_API_KEY"); elevenLabsKey != "" {
		el, err := tts.NewElevenLabs(
			tts.WithAPIKey(elevenLabsKey),
			tts.WithVoice(tts.ResolveElevenLabsVoice(os.Getenv("ELEVENLABS_VOICE"))),
		)
		if err != nil {
			t.Fatalf("NewElevenLabs() error = %v", err)
		}
		providers = append(providers, el)
	}
	oai, err := tts.NewOpenAI(tts.WithAPIKey(openAIKey), tts.WithVoice(tts.VoiceShimmer))
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	providers = append(providers, oai)

	chain, err := tts.NewChain(providers...)
	if err != nil {
		t.Fatalf("NewChain() error = %v", err)
	}
	defer chain.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := chain.Synthesize(ctx, "Testing the provider chain.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	t.Logf("chain synthesized %d bytes", len(result.Audio))
}
