// Package protocol defines the WebSocket message types for client-server
// voice sessions. Text messages carry JSON control and metadata; audio
// travels in binary frames (see frame.go).
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket text message
type MessageType string

const (
	// Client → Server messages
	TypeStart MessageType = "start" // Begin recording an utterance
	TypeStop  MessageType = "stop"  // Utterance complete, transcribe

	// Server → Client messages
	TypeTranscript    MessageType = "transcript"     // Finalized user transcript
	TypeAssistantText MessageType = "assistant-text" // Sentence about to be spoken
	TypeToolNotice    MessageType = "tool-notice"    // Tool was dispatched
	TypeError         MessageType = "error"          // Protocol or turn error
	TypeEndOfTurn     MessageType = "end-of-turn"    // No more output this turn
)

// Message is the base wrapper for all WebSocket text messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return &msg, nil
}

// Valid reports whether the message type is a known kind.
func (t MessageType) Valid() bool {
	switch t {
	case TypeStart, TypeStop, TypeTranscript, TypeAssistantText,
		TypeToolNotice, TypeError, TypeEndOfTurn:
		return true
	}
	return false
}

// =============================================================================
// Client → Server Message Types
// =============================================================================

// StartData opens a new utterance. Sending it while the assistant is
// speaking cancels the in-flight turn (barge-in).
type StartData struct {
	SampleRate int `json:"sample_rate,omitempty"` // Defaults to 16000
}

// StopData finalizes the current utterance
type StopData struct {
	Discard bool `json:"discard,omitempty"` // Drop buffered audio without transcribing
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// TranscriptData carries the finalized user transcript
type TranscriptData struct {
	Text string `json:"text"`
}

// AssistantTextData carries one response sentence, sent before its audio
type AssistantTextData struct {
	Text     string `json:"text"`
	Sentence int    `json:"sentence"` // Index within the turn, starting at 0
}

// ToolNoticeData reports a dispatched or rejected tool call
type ToolNoticeData struct {
	Name     string `json:"name"`
	Rejected bool   `json:"rejected,omitempty"`
}

// ErrorData reports a protocol or turn error
type ErrorData struct {
	Code    string `json:"code"` // "protocol", "generation", "transcription"
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"` // Connection will close after this
}

// EndOfTurnData marks the end of a turn's output
type EndOfTurnData struct {
	Sentences int  `json:"sentences"`           // Sentences spoken this turn
	Cancelled bool `json:"cancelled,omitempty"` // Turn was superseded
}
