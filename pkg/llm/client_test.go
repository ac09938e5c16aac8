package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}

		auth := r.Header.Get("Authorization")
		if auth != "Bearer test-key" {
			t.Errorf("Expected Bearer test-key, got %s", auth)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "test-id",
			"model": "test-model",
			"choices": [{"message": {"role": "assistant", "content": "{\"new_fact\": null}"}, "finish_reason": "stop"}]
		}`)
	}))
	defer server.Close()

	client, err := NewClient(
		WithBaseURL(server.URL),
		WithAPIKey("test-key"),
		WithModel("test-model"),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	content, err := client.Complete(context.Background(), &Request{
		Messages: []Message{NewUserMessage("Hello")},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if content != `{"new_fact": null}` {
		t.Errorf("Unexpected content: %s", content)
	}
}

func TestClientStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"choices":[{"delta":{"role":"assistant","content":"Hello"}}]}`,
			`{"choices":[{"delta":{"content":", world."}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer server.Close()

	client, err := NewClient(WithBaseURL(server.URL), WithModel("test-model"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	stream, err := client.Stream(context.Background(), &Request{
		Messages: []Message{NewUserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	var text string
	for {
		chunk, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if chunk.Done {
			break
		}
		text += chunk.Delta
	}

	if text != "Hello, world." {
		t.Errorf("Streamed text = %q, want %q", text, "Hello, world.")
	}
}

func TestClientStreamToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Arguments arrive fragmented, as real servers send them.
		events := []string{
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"open_path","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"~/Downloads\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`[DONE]`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer server.Close()

	client, err := NewClient(WithBaseURL(server.URL), WithModel("test-model"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	stream, err := client.Stream(context.Background(), &Request{
		Messages: []Message{NewUserMessage("open downloads")},
		Tools:    []Tool{{Name: "open_path", Description: "Opens a path"}},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	var call *ToolCall
	for {
		chunk, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if chunk.ToolCall != nil {
			if call != nil {
				t.Fatal("expected exactly one tool call")
			}
			call = chunk.ToolCall
		}
		if chunk.Done {
			if chunk.FinishReason != "tool_calls" {
				t.Errorf("finish reason = %q, want tool_calls", chunk.FinishReason)
			}
			break
		}
	}

	if call == nil {
		t.Fatal("expected a tool call")
	}
	if call.Name != "open_path" {
		t.Errorf("tool name = %q, want open_path", call.Name)
	}
	if call.Arguments != `{"path":"~/Downloads"}` {
		t.Errorf("arguments = %q, want reassembled JSON", call.Arguments)
	}
}

func TestClientStreamAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "bad key", "code": "invalid_api_key"}}`)
	}))
	defer server.Close()

	client, err := NewClient(WithBaseURL(server.URL), WithModel("test-model"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	_, err = client.Stream(context.Background(), &Request{
		Messages: []Message{NewUserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if !apiErr.IsUnauthorized() {
		t.Errorf("expected 401, got %d", apiErr.StatusCode)
	}
}

func TestMockStreamsFragments(t *testing.T) {
	mock := NewMock("Hello", " there.")

	stream, err := mock.Stream(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var text string
	for {
		chunk, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if chunk.Done {
			break
		}
		text += chunk.Delta
	}
	if text != "Hello there." {
		t.Errorf("text = %q", text)
	}
	if mock.CallCount("Stream") != 1 {
		t.Errorf("expected 1 Stream call, got %d", mock.CallCount("Stream"))
	}
}

func TestScriptedStreamClosed(t *testing.T) {
	s := NewScriptedStream(&Chunk{Delta: "x"})
	s.Close()
	if _, err := s.Recv(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
}

func TestFailingStream(t *testing.T) {
	wantErr := io.ErrUnexpectedEOF
	s := NewFailingStream(wantErr, &Chunk{Delta: "partial"})

	chunk, err := s.Recv()
	if err != nil || chunk.Delta != "partial" {
		t.Fatalf("first Recv = %v, %v", chunk, err)
	}
	if _, err := s.Recv(); !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}
