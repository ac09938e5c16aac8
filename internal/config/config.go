// Package config loads go-aural configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Backend identifies the LLM backend profile.
type Backend string

const (
	// BackendLocal uses an OpenAI-compatible local model server (Ollama).
	BackendLocal Backend = "local-model"

	// BackendCloudA uses the Gemini API.
	BackendCloudA Backend = "cloud-model-a"

	// BackendCloudB uses the Groq OpenAI-compatible API.
	BackendCloudB Backend = "cloud-model-b"
)

// Default configuration values.
const (
	DefaultServerAddress  = ":8000"
	DefaultSilenceTimeout = 1200 * time.Millisecond
	DefaultChunkSize      = 4096
	DefaultSTTLanguage    = "en"
)

// Config holds all server and client configuration.
type Config struct {
	// ServerAddress is the listen address (server) or dial target (client).
	ServerAddress string

	// Audio device identifiers, forwarded to the platform audio layer.
	MicDeviceID    string
	OutputDeviceID string

	// LLMBackend selects the generation backend profile.
	LLMBackend Backend

	// STTLanguage is the transcription language hint (e.g. "en", "ru").
	STTLanguage string

	// SilenceTimeout finalizes an utterance when no audio arrives.
	SilenceTimeout time.Duration

	// ChunkSize is the outbound PCM chunk size in bytes.
	ChunkSize int

	// API keys, read from the environment.
	OpenAIKey     string
	GeminiKey     string
	GroqKey       string
	ElevenLabsKey string

	// ElevenLabsVoice is a preset name or raw voice ID.
	ElevenLabsVoice string

	// ElevenLabsWS switches synthesis to the streaming WebSocket API.
	ElevenLabsWS bool

	// OllamaModel is the model name for the local backend.
	OllamaModel string

	// MemoryPath is the fact store file location.
	MemoryPath string

	// LogLevel for internal/log.
	LogLevel string
}

// Load reads configuration from the environment, applying defaults.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddress:  DefaultServerAddress,
		LLMBackend:     BackendLocal,
		STTLanguage:    DefaultSTTLanguage,
		SilenceTimeout: DefaultSilenceTimeout,
		ChunkSize:      DefaultChunkSize,
		OllamaModel:    "qwen2.5-coder:3b",
		MemoryPath:     "memory.json",
		LogLevel:       "info",
	}

	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	cfg.MicDeviceID = os.Getenv("MIC_DEVICE_ID")
	cfg.OutputDeviceID = os.Getenv("OUTPUT_DEVICE_ID")

	if backend := os.Getenv("LLM_BACKEND"); backend != "" {
		switch Backend(backend) {
		case BackendLocal, BackendCloudA, BackendCloudB:
			cfg.LLMBackend = Backend(backend)
		default:
			return nil, fmt.Errorf("invalid LLM_BACKEND %q", backend)
		}
	}

	if lang := os.Getenv("STT_LANGUAGE"); lang != "" {
		cfg.STTLanguage = lang
	}

	if ms := os.Getenv("SILENCE_TIMEOUT_MS"); ms != "" {
		v, err := strconv.Atoi(ms)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid SILENCE_TIMEOUT_MS %q", ms)
		}
		cfg.SilenceTimeout = time.Duration(v) * time.Millisecond
	}

	if size := os.Getenv("OUTBOUND_CHUNK_SIZE"); size != "" {
		v, err := strconv.Atoi(size)
		if err != nil || v <= 0 || v%2 != 0 {
			return nil, fmt.Errorf("invalid OUTBOUND_CHUNK_SIZE %q", size)
		}
		cfg.ChunkSize = v
	}

	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	cfg.GroqKey = os.Getenv("GROQ_API_KEY")
	cfg.ElevenLabsKey = os.Getenv("ELEVENLABS_API_KEY")
	cfg.ElevenLabsVoice = os.Getenv("ELEVENLABS_VOICE")
	cfg.ElevenLabsWS = os.Getenv("ELEVENLABS_WS") == "1"

	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		cfg.OllamaModel = model
	}
	if path := os.Getenv("MEMORY_PATH"); path != "" {
		cfg.MemoryPath = path
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

// Validate checks that the selected backend has its key present.
func (c *Config) Validate() error {
	switch c.LLMBackend {
	case BackendCloudA:
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for %s", BackendCloudA)
		}
	case BackendCloudB:
		if c.GroqKey == "" {
			return fmt.Errorf("GROQ_API_KEY is required for %s", BackendCloudB)
		}
	}
	return nil
}
