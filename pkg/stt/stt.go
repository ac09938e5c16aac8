// Package stt provides speech-to-text transcription for captured
// microphone audio. Audio arrives as raw PCM16 little-endian mono at a
// known sample rate; providers return the recognized text for one
// completed utterance.
package stt

import "context"

// Provider defines the interface for transcription backends.
type Provider interface {
	// Transcribe converts one utterance of PCM16 mono audio to text.
	// An empty string with a nil error means nothing intelligible was
	// said.
	Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error)

	// Health checks if the provider is available.
	Health(ctx context.Context) error

	// Close releases provider resources.
	Close() error
}
