// Package llm provides a unified interface for streaming language-model
// backends.
//
// The package abstracts token-streaming chat completions behind a single
// Provider interface, enabling seamless switching between an OpenAI-compatible
// server (Ollama, Groq, OpenAI) and the Gemini API. Swapping backends changes
// only configuration, never orchestration code.
//
// Example usage:
//
//	provider, _ := llm.NewClient(
//	    llm.WithBaseURL("http://localhost:11434/v1"),
//	    llm.WithModel("qwen2.5-coder:3b"),
//	)
//	defer provider.Close()
//
//	stream, _ := provider.Stream(ctx, &llm.Request{
//	    Messages: []llm.Message{llm.NewUserMessage("Hello!")},
//	})
//	for {
//	    chunk, err := stream.Recv()
//	    if err != nil || chunk.Done {
//	        break
//	    }
//	    fmt.Print(chunk.Delta)
//	}
package llm

import (
	"context"
)

// Provider is the unified generation interface.
// All implementations must satisfy this interface.
type Provider interface {
	// Stream generates a streaming response for real-time output.
	Stream(ctx context.Context, req *Request) (Stream, error)

	// Complete generates a full response in one call.
	// Used by the memory observer for structured JSON extraction.
	Complete(ctx context.Context, req *Request) (string, error)

	// Health checks backend connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a lazy, ordered, finite sequence of response chunks.
type Stream interface {
	// Recv returns the next chunk. The final chunk has Done set;
	// tool calls may be interleaved at any point in the sequence.
	Recv() (*Chunk, error)

	// Close stops the stream and releases resources.
	Close() error
}

// Chunk is a piece of a streaming response.
type Chunk struct {
	// Delta is the incremental text content.
	Delta string

	// ToolCall is a complete function-call request, if this chunk
	// carries one. Delta is empty when ToolCall is set.
	ToolCall *ToolCall

	// FinishReason indicates why generation stopped (stop, length, tool_calls).
	FinishReason string

	// Done is true when the stream is complete.
	Done bool
}

// Request for chat completions.
type Request struct {
	// Messages is the conversation, system preamble first.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// Stop sequences that halt generation.
	Stop []string

	// Tools available for the model to call.
	Tools []Tool

	// JSONMode requests a JSON object response (Complete only).
	JSONMode bool
}
