// aural-server: real-time voice assistant server
// Accepts WebSocket connections and runs the STT -> LLM -> TTS pipeline
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/auralab/go-aural/internal/config"
	"github.com/auralab/go-aural/internal/log"
	"github.com/auralab/go-aural/pkg/llm"
	"github.com/auralab/go-aural/pkg/memory"
	"github.com/auralab/go-aural/pkg/server"
	"github.com/auralab/go-aural/pkg/session"
	"github.com/auralab/go-aural/pkg/stt"
	"github.com/auralab/go-aural/pkg/tools"
	"github.com/auralab/go-aural/pkg/tts"
)

var addr = flag.String("addr", "", "listen address (overrides SERVER_ADDRESS)")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config error", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("config error", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ServerAddress = *addr
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	llmProvider, err := buildLLM(cfg)
	if err != nil {
		log.Error("llm setup failed", "error", err)
		os.Exit(1)
	}
	defer llmProvider.Close()

	sttProvider, err := buildSTT(cfg)
	if err != nil {
		log.Error("stt setup failed", "error", err)
		os.Exit(1)
	}
	defer sttProvider.Close()

	ttsProvider, err := buildTTS(cfg)
	if err != nil {
		log.Error("tts setup failed", "error", err)
		os.Exit(1)
	}
	defer ttsProvider.Close()

	store, err := memory.NewJSONStore(cfg.MemoryPath)
	if err != nil {
		log.Error("memory store setup failed", "error", err)
		os.Exit(1)
	}
	logger.Info("memory store ready", "path", store.Path(), "facts", store.Count())

	registry := tools.NewRegistry(logger)
	for _, tool := range tools.Builtins(tools.BuiltinsConfig{}) {
		if err := registry.Register(tool); err != nil {
			log.Error("tool registration failed", "tool", tool.Name, "error", err)
			os.Exit(1)
		}
	}

	srv := server.New(server.Config{
		Backend: string(cfg.LLMBackend),
		Logger:  logger,
		Session: session.Config{
			STT:            sttProvider,
			LLM:            llmProvider,
			TTS:            ttsProvider,
			Store:          store,
			Tools:          registry,
			SilenceTimeout: cfg.SilenceTimeout,
			ChunkSize:      cfg.ChunkSize,
			Logger:         logger,
		},
	})

	go func() {
		if err := srv.Start(cfg.ServerAddress); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := srv.Shutdown(); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
}

// buildLLM selects the generation backend from the configured profile.
func buildLLM(cfg *config.Config) (llm.Provider, error) {
	logger := log.L()

	switch cfg.LLMBackend {
	case config.BackendCloudA:
		return llm.NewGemini(context.Background(),
			llm.WithAPIKey(cfg.GeminiKey),
			llm.WithLogger(logger),
		)

	case config.BackendCloudB:
		return llm.NewClient(
			llm.WithBaseURL("https://api.groq.com/openai/v1"),
			llm.WithAPIKey(cfg.GroqKey),
			llm.WithModel("llama-3.3-70b-versatile"),
			llm.WithLogger(logger),
		)

	default:
		return llm.NewClient(
			llm.WithModel(cfg.OllamaModel),
			llm.WithLogger(logger),
		)
	}
}

// buildSTT prefers the OpenAI API when a key is present and falls back
// to a local whisper server otherwise.
func buildSTT(cfg *config.Config) (stt.Provider, error) {
	opts := []stt.Option{
		stt.WithLanguage(cfg.STTLanguage),
		stt.WithLogger(log.L()),
	}
	if cfg.OpenAIKey != "" {
		opts = append(opts,
			stt.WithBaseURL("https://api.openai.com/v1"),
			stt.WithAPIKey(cfg.OpenAIKey),
		)
	}
	return stt.NewWhisper(opts...)
}

// buildTTS chains ElevenLabs before OpenAI so synthesis degrades
// instead of failing when the primary provider is down.
func buildTTS(cfg *config.Config) (tts.Provider, error) {
	var providers []tts.Provider

	if cfg.ElevenLabsKey != "" {
		opts := []tts.Option{
			tts.WithAPIKey(cfg.ElevenLabsKey),
			tts.WithVoice(tts.ResolveElevenLabsVoice(cfg.ElevenLabsVoice)),
			tts.WithLogger(log.L()),
		}

		var p tts.Provider
		var err error
		if cfg.ElevenLabsWS {
			// Streaming websocket synthesis, lower per-sentence latency.
			p, err = tts.NewElevenLabsWS(opts...)
		} else {
			p, err = tts.NewElevenLabs(opts...)
		}
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.OpenAIKey != "" {
		p, err := tts.NewOpenAI(
			tts.WithAPIKey(cfg.OpenAIKey),
			tts.WithLogger(log.L()),
		)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	switch len(providers) {
	case 0:
		return nil, tts.ErrNoAPIKey
	case 1:
		return providers[0], nil
	default:
		return tts.NewChainWithLogger(log.L(), providers...)
	}
}
