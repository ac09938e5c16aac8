package protocol

import (
	"errors"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "transcript message",
			msgType: TypeTranscript,
			data:    TranscriptData{Text: "what's the weather"},
			wantErr: false,
		},
		{
			name:    "assistant text message",
			msgType: TypeAssistantText,
			data:    AssistantTextData{Text: "It is sunny.", Sentence: 0},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypeStart,
			data:    nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if msg == nil && !tt.wantErr {
				t.Error("NewMessage() returned nil message")
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewAssistantTextMessage("Hello, world.", 2)
	if err != nil {
		t.Fatalf("NewAssistantTextMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if parsed.Type != TypeAssistantText {
		t.Errorf("parsed type = %v, want %v", parsed.Type, TypeAssistantText)
	}

	data, err := parsed.GetAssistantTextData()
	if err != nil {
		t.Fatalf("GetAssistantTextData() error = %v", err)
	}
	if data.Text != "Hello, world." {
		t.Errorf("text = %q, want %q", data.Text, "Hello, world.")
	}
	if data.Sentence != 2 {
		t.Errorf("sentence = %d, want 2", data.Sentence)
	}
}

func TestParseMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type":"teleport","ts":1}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestParseMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"type":`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestAudioFrameRoundTrip(t *testing.T) {
	frame := &AudioFrame{
		Sequence: 41,
		Sentence: 3,
		Payload:  []byte{0x01, 0x02, 0x03, 0x04},
	}

	encoded := frame.Encode()

	var decoded AudioFrame
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.Sequence != 41 {
		t.Errorf("sequence = %d, want 41", decoded.Sequence)
	}
	if decoded.Sentence != 3 {
		t.Errorf("sentence = %d, want 3", decoded.Sentence)
	}
	if len(decoded.Payload) != 4 || decoded.Payload[3] != 0x04 {
		t.Errorf("payload = %v, want original payload", decoded.Payload)
	}
}

func TestAudioFrameDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{
			name: "short header",
			data: []byte{0x01, 0x02},
			want: ErrShortFrame,
		},
		{
			name: "truncated payload",
			// Header declares 100 payload bytes, none follow.
			data: append(make([]byte, 8), []byte{100, 0, 0, 0}...),
			want: ErrTruncatedFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var frame AudioFrame
			err := frame.Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAudioFrameEmptyPayload(t *testing.T) {
	frame := &AudioFrame{Sequence: 1}
	var decoded AudioFrame
	if err := decoded.Decode(frame.Encode()); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(decoded.Payload) != 0 {
		t.Errorf("payload length = %d, want 0", len(decoded.Payload))
	}
}
