package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"
)

const providerGemini = "gemini"

// Gemini implements the Provider interface using the official genai SDK.
type Gemini struct {
	client *genai.Client
	config *Config
	logger *slog.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = ""
	cfg.Model = "gemini-2.5-flash"
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("create client: %w", err))
	}

	return &Gemini{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "llm.gemini"),
	}, nil
}

// Stream returns a streaming chat response.
func (g *Gemini) Stream(ctx context.Context, req *Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	contents, config := g.buildRequest(req)
	seq := g.client.Models.GenerateContentStream(ctx, model, contents, config)
	next, stop := iter.Pull2(seq)

	return &geminiStream{next: next, stop: stop}, nil
}

// Complete generates a full response in one call.
func (g *Gemini) Complete(ctx context.Context, req *Request) (string, error) {
	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	contents, config := g.buildRequest(req)

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", WrapError(providerGemini, err)
	}

	return resp.Text(), nil
}

// Health verifies the API key with a minimal request.
func (g *Gemini) Health(ctx context.Context) error {
	_, err := g.client.Models.CountTokens(ctx, g.config.Model,
		genai.Text("ping"), nil)
	if err != nil {
		return WrapError(providerGemini, fmt.Errorf("health check: %w", err))
	}
	return nil
}

// Close releases resources. The genai client holds no persistent connections.
func (g *Gemini) Close() error {
	return nil
}

// buildRequest converts a Request to genai contents and config.
// System messages become the system instruction.
func (g *Gemini) buildRequest(req *Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.config.MaxTokens
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}

	temp := req.Temperature
	if temp == 0 {
		temp = g.config.Temperature
	}
	if temp > 0 {
		t := float32(temp)
		config.Temperature = &t
	}

	if len(req.Stop) > 0 {
		config.StopSequences = req.Stop
	}

	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}

	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			declarations[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	return contents, config
}

// geminiStream adapts the SDK's push iterator to the pull-based Stream.
type geminiStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	queued []*Chunk
	closed bool
}

// Recv returns the next stream chunk.
func (s *geminiStream) Recv() (*Chunk, error) {
	for {
		if len(s.queued) > 0 {
			chunk := s.queued[0]
			s.queued = s.queued[1:]
			return chunk, nil
		}

		if s.closed {
			return nil, ErrStreamClosed
		}

		resp, err, ok := s.next()
		if !ok {
			return &Chunk{Done: true}, nil
		}
		if err != nil {
			return nil, WrapError(providerGemini, err)
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				s.queued = append(s.queued, &Chunk{Delta: part.Text})
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				s.queued = append(s.queued, &Chunk{ToolCall: &ToolCall{
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				}})
			}
		}
	}
}

// Close stops the stream.
func (s *geminiStream) Close() error {
	if !s.closed {
		s.closed = true
		s.stop()
	}
	return nil
}

// Verify Gemini implements Provider at compile time.
var _ Provider = (*Gemini)(nil)
