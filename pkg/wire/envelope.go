package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxMessageSize is the hard ceiling on an encoded envelope, including the
// type byte and the optional id. Frames larger than this are a protocol
// violation (close MESSAGE_TOO_BIG, ban the host).
const MaxMessageSize = 50 * 1024 * 1024

var (
	// ErrUnknownType is returned when decoding a frame whose type byte is
	// not a recognized MessageType.
	ErrUnknownType = errors.New("wire: unknown message type")
	// ErrTooLarge is returned when an envelope's declared or actual size
	// exceeds MaxMessageSize.
	ErrTooLarge = errors.New("wire: envelope exceeds max message size")
	// ErrTruncated is returned when fewer bytes are available than the
	// envelope declares.
	ErrTruncated = errors.New("wire: truncated envelope")
)

// Message is the connection-level envelope. ID is present on requests that
// expect a reply and is echoed back on the reply; it is nil for
// fire-and-forget sends.
type Message struct {
	Type    MessageType
	ID      *uint16
	Payload []byte
}

// NewMessage builds a fire-and-forget envelope.
func NewMessage(t MessageType, payload []byte) *Message {
	return &Message{Type: t, Payload: payload}
}

// NewRequest builds an envelope carrying a reply-correlation id.
func NewRequest(t MessageType, id uint16, payload []byte) *Message {
	return &Message{Type: t, ID: &id, Payload: payload}
}

// Reply builds the envelope for a reply to m, echoing its id.
func (m *Message) Reply(t MessageType, payload []byte) (*Message, error) {
	if m.ID == nil {
		return nil, errors.New("wire: cannot reply to a message with no id")
	}
	return NewRequest(t, *m.ID, payload), nil
}

// Encode serializes the envelope as:
//
//	type:u8 | has_id:u8 | id:u16 if has_id | payload_len:u32 | payload:bytes
func (m *Message) Encode() ([]byte, error) {
	if len(m.Payload) > MaxMessageSize {
		return nil, ErrTooLarge
	}
	size := 1 + 1 + 4 + len(m.Payload)
	if m.ID != nil {
		size += 2
	}
	if size > MaxMessageSize {
		return nil, ErrTooLarge
	}

	buf := make([]byte, size)
	buf[0] = byte(m.Type)
	off := 1
	if m.ID != nil {
		buf[off] = 1
		off++
		binary.BigEndian.PutUint16(buf[off:], *m.ID)
		off += 2
	} else {
		buf[off] = 0
		off++
	}
	binary.BigEndian.PutUint32(buf[off:], uint32(len(m.Payload)))
	off += 4
	copy(buf[off:], m.Payload)
	return buf, nil
}

// Decode parses an envelope from buf, validating the type is known and the
// declared length matches the available bytes, per the wire envelope
// contract. It does not interpret Payload.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < 2 {
		return nil, ErrTruncated
	}
	t := MessageType(buf[0])
	if !t.Known() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, buf[0])
	}
	hasID := buf[1] != 0
	off := 2

	var id *uint16
	if hasID {
		if len(buf) < off+2 {
			return nil, ErrTruncated
		}
		v := binary.BigEndian.Uint16(buf[off:])
		id = &v
		off += 2
	}

	if len(buf) < off+4 {
		return nil, ErrTruncated
	}
	payloadLen := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if payloadLen > MaxMessageSize {
		return nil, ErrTooLarge
	}
	if uint32(len(buf)-off) < payloadLen {
		return nil, ErrTruncated
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[off:off+int(payloadLen)])

	return &Message{Type: t, ID: id, Payload: payload}, nil
}
