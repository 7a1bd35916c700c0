package wire

import (
	"encoding/binary"
	"fmt"
)

// envelopeLen is the 1-byte type tag plus the 4-byte diagnostic timestamp
// that precedes every message's type-specific payload (spec.md §4.5/§6).
const envelopeLen = 5

// Envelope is the fixed header shared by every coordination message.
type Envelope struct {
	Type        MessageType
	TimestampMs uint32
}

func putEnvelope(buf []byte, e Envelope) {
	buf[0] = byte(e.Type)
	binary.LittleEndian.PutUint32(buf[1:5], e.TimestampMs)
}

func getEnvelope(buf []byte) Envelope {
	return Envelope{
		Type:        MessageType(buf[0]),
		TimestampMs: binary.LittleEndian.Uint32(buf[1:5]),
	}
}

// ErrTooShort indicates a packet shorter than the envelope header.
var ErrTooShort = fmt.Errorf("wire: message shorter than envelope header")

// ErrUnknownType indicates a type tag with no known payload layout.
type ErrUnknownType struct{ Type MessageType }

func (e ErrUnknownType) Error() string {
	return fmt.Sprintf("wire: unknown message type %s", e.Type)
}

// ErrLengthMismatch indicates a packet whose length doesn't match the
// expected fixed payload length for its declared type.
type ErrLengthMismatch struct {
	Type     MessageType
	Got      int
	Expected int
}

func (e ErrLengthMismatch) Error() string {
	return fmt.Sprintf("wire: %s payload length %d, expected %d", e.Type, e.Got, e.Expected)
}

// PeekType reports the declared message type of a packet without validating
// or parsing its payload.
func PeekType(b []byte) (MessageType, error) {
	if len(b) < envelopeLen {
		return 0, ErrTooShort
	}
	return getEnvelope(b).Type, nil
}
