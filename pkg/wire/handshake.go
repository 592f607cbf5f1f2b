package wire

import (
	"encoding/binary"
	"errors"
)

// Handshake is the mandatory first message on every connection. It
// establishes network identity, protocol/software versions, the peer's
// declared listening port, its NodeType, and its advertised capabilities.
type Handshake struct {
	NetworkID        string
	ProtocolVersion  string
	SoftwareVersion  string
	ServerPort       uint16
	NodeType         NodeType
	Capabilities     []CapabilityEntry
}

var errHandshakeTruncated = errors.New("wire: truncated handshake payload")

// EncodePayload serializes the handshake fields into the opaque payload
// bytes carried by a MsgHandshake envelope.
func (h *Handshake) EncodePayload() []byte {
	buf := make([]byte, 0, 64)
	buf = appendString(buf, h.NetworkID)
	buf = appendString(buf, h.ProtocolVersion)
	buf = appendString(buf, h.SoftwareVersion)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, h.ServerPort)
	buf = append(buf, portBuf...)
	buf = append(buf, byte(h.NodeType))

	capCountBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(capCountBuf, uint16(len(h.Capabilities)))
	buf = append(buf, capCountBuf...)
	for _, c := range h.Capabilities {
		idBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(idBuf, uint16(c.ID))
		buf = append(buf, idBuf...)
		buf = appendString(buf, c.Value)
	}
	return buf
}

// DecodeHandshake parses a handshake payload previously produced by
// EncodePayload.
func DecodeHandshake(payload []byte) (*Handshake, error) {
	h := &Handshake{}
	rest := payload
	var err error

	if h.NetworkID, rest, err = readString(rest); err != nil {
		return nil, err
	}
	if h.ProtocolVersion, rest, err = readString(rest); err != nil {
		return nil, err
	}
	if h.SoftwareVersion, rest, err = readString(rest); err != nil {
		return nil, err
	}
	if len(rest) < 2 {
		return nil, errHandshakeTruncated
	}
	h.ServerPort = binary.BigEndian.Uint16(rest)
	rest = rest[2:]

	if len(rest) < 1 {
		return nil, errHandshakeTruncated
	}
	h.NodeType = NodeType(rest[0])
	rest = rest[1:]

	if len(rest) < 2 {
		return nil, errHandshakeTruncated
	}
	count := binary.BigEndian.Uint16(rest)
	rest = rest[2:]

	h.Capabilities = make([]CapabilityEntry, 0, count)
	for i := uint16(0); i < count; i++ {
		if len(rest) < 2 {
			return nil, errHandshakeTruncated
		}
		id := Capability(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		var val string
		if val, rest, err = readString(rest); err != nil {
			return nil, err
		}
		h.Capabilities = append(h.Capabilities, CapabilityEntry{ID: id, Value: val})
	}
	return h, nil
}

func appendString(buf []byte, s string) []byte {
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(s)))
	buf = append(buf, lenBuf...)
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, errHandshakeTruncated
	}
	n := binary.BigEndian.Uint16(buf)
	buf = buf[2:]
	if len(buf) < int(n) {
		return "", nil, errHandshakeTruncated
	}
	return string(buf[:n]), buf[n:], nil
}
