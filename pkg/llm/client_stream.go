package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/auralab/go-aural/internal/httpc"
)

// Stream returns a streaming chat response.
func (c *Client) Stream(ctx context.Context, req *Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	payload := c.buildChatPayload(req, model, true)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerClient, fmt.Errorf("marshal payload: %w", err))
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(body)))
	if err != nil {
		return nil, WrapError(providerClient, fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// Use stream timeout
	client := httpc.NewClient(c.config.StreamTimeout)
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, WrapError(providerClient, fmt.Errorf("stream request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.parseError(resp)
	}

	return &clientStream{
		reader: bufio.NewReader(resp.Body),
		body:   resp.Body,
	}, nil
}

// clientStream implements Stream for SSE responses.
//
// OpenAI-compatible servers stream tool-call arguments incrementally;
// fragments are accumulated per index and flushed as complete ToolCall
// chunks when the finish reason arrives.
type clientStream struct {
	reader *bufio.Reader
	body   io.ReadCloser

	pendingCalls []ToolCall
	queued       []*Chunk
}

// Recv returns the next stream chunk.
func (s *clientStream) Recv() (*Chunk, error) {
	if len(s.queued) > 0 {
		chunk := s.queued[0]
		s.queued = s.queued[1:]
		return chunk, nil
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err == io.EOF {
			return s.finish(""), nil
		}
		if err != nil {
			return nil, WrapError(providerClient, fmt.Errorf("read stream: %w", err))
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return s.finish(""), nil
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			// Skip malformed events
			continue
		}

		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		s.accumulateToolCalls(choice.Delta.ToolCalls)

		if choice.FinishReason != "" {
			return s.finish(choice.FinishReason), nil
		}

		if choice.Delta.Content != "" {
			return &Chunk{Delta: choice.Delta.Content}, nil
		}
	}
}

// accumulateToolCalls merges streamed tool-call fragments by index.
func (s *clientStream) accumulateToolCalls(calls []streamToolCall) {
	for _, call := range calls {
		for call.Index >= len(s.pendingCalls) {
			s.pendingCalls = append(s.pendingCalls, ToolCall{})
		}
		pending := &s.pendingCalls[call.Index]
		if call.ID != "" {
			pending.ID = call.ID
		}
		if call.Function.Name != "" {
			pending.Name = call.Function.Name
		}
		pending.Arguments += call.Function.Arguments
	}
}

// finish flushes accumulated tool calls and terminates the stream.
func (s *clientStream) finish(reason string) *Chunk {
	for i := range s.pendingCalls {
		call := s.pendingCalls[i]
		if call.Name == "" {
			continue
		}
		s.queued = append(s.queued, &Chunk{ToolCall: &call})
	}
	s.pendingCalls = nil
	s.queued = append(s.queued, &Chunk{FinishReason: reason, Done: true})

	chunk := s.queued[0]
	s.queued = s.queued[1:]
	return chunk
}

// Close stops the stream.
func (s *clientStream) Close() error {
	return s.body.Close()
}

// streamEvent is the SSE event format.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			Role      string           `json:"role"`
			ToolCalls []streamToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type streamToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}
