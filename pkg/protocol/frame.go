package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Audio frame errors.
var (
	// ErrUnknownType is returned for a text message with an unknown kind.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrShortFrame is returned when a binary frame is smaller than its header.
	ErrShortFrame = errors.New("protocol: frame too short")

	// ErrTruncatedFrame is returned when the payload is shorter than declared.
	ErrTruncatedFrame = errors.New("protocol: truncated frame payload")
)

// frameHeaderSize is sequence (4) + sentence (4) + length (4).
const frameHeaderSize = 12

// AudioFrame carries one chunk of PCM16LE audio over a binary WebSocket
// message. Wire format, little-endian:
//
//	[4 bytes sequence][4 bytes sentence index][4 bytes payload length][payload]
//
// Sequence numbers are monotonic per direction. Outbound frames use the
// sentence index so the client can detect inter-sentence boundaries;
// inbound microphone frames leave it at 0.
type AudioFrame struct {
	Sequence uint32
	Sentence uint32
	Payload  []byte
}

// Encode serializes the frame for transmission.
func (f *AudioFrame) Encode() []byte {
	buf := make([]byte, frameHeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], f.Sequence)
	binary.LittleEndian.PutUint32(buf[4:8], f.Sentence)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(f.Payload)))
	copy(buf[frameHeaderSize:], f.Payload)
	return buf
}

// Decode deserializes a frame from wire format.
func (f *AudioFrame) Decode(data []byte) error {
	if len(data) < frameHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}

	f.Sequence = binary.LittleEndian.Uint32(data[0:4])
	f.Sentence = binary.LittleEndian.Uint32(data[4:8])
	length := int(binary.LittleEndian.Uint32(data[8:12]))

	if len(data) < frameHeaderSize+length {
		return fmt.Errorf("%w: got %d, need %d", ErrTruncatedFrame, len(data)-frameHeaderSize, length)
	}

	f.Payload = data[frameHeaderSize : frameHeaderSize+length]
	return nil
}
