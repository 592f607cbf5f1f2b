package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Run("WithID", func(t *testing.T) {
		id := uint16(42)
		msg := &Message{Type: MsgRequestBlock, ID: &id, Payload: []byte("hello")}

		enc, err := msg.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dec.Type != msg.Type {
			t.Errorf("type mismatch: got %v want %v", dec.Type, msg.Type)
		}
		if dec.ID == nil || *dec.ID != id {
			t.Errorf("id mismatch: got %v want %v", dec.ID, id)
		}
		if !bytes.Equal(dec.Payload, msg.Payload) {
			t.Errorf("payload mismatch: got %v want %v", dec.Payload, msg.Payload)
		}
	})

	t.Run("WithoutID", func(t *testing.T) {
		msg := NewMessage(MsgNewTransaction, []byte{1, 2, 3})
		enc, err := msg.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dec.ID != nil {
			t.Errorf("expected nil id, got %v", *dec.ID)
		}
		if !bytes.Equal(dec.Payload, msg.Payload) {
			t.Errorf("payload mismatch")
		}
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		msg := NewMessage(MsgRequestPeers, nil)
		enc, err := msg.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(dec.Payload) != 0 {
			t.Errorf("expected empty payload, got %v", dec.Payload)
		}
	})
}

func TestDecodeUnknownType(t *testing.T) {
	buf := []byte{0xFE, 0, 0, 0, 0, 0}
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error decoding unknown message type")
	}
}

func TestDecodeTruncated(t *testing.T) {
	cases := [][]byte{
		{},
		{byte(MsgHandshake)},
		{byte(MsgHandshake), 1, 0},
		{byte(MsgHandshake), 0, 0, 0, 0, 5, 1, 2},
	}
	for i, buf := range cases {
		if _, err := Decode(buf); err == nil {
			t.Errorf("case %d: expected truncation error", i)
		}
	}
}

func TestEncodeTooLarge(t *testing.T) {
	msg := NewMessage(MsgRespondBlock, make([]byte, MaxMessageSize+1))
	if _, err := msg.Encode(); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestEncodeExactlyMaxSize(t *testing.T) {
	// Payload sized so the full envelope lands exactly on MaxMessageSize.
	payload := make([]byte, MaxMessageSize-6)
	msg := NewMessage(MsgRespondBlock, payload)
	enc, err := msg.Encode()
	if err != nil {
		t.Fatalf("expected boundary-sized envelope to be accepted: %v", err)
	}
	if len(enc) != MaxMessageSize {
		t.Fatalf("expected envelope length %d, got %d", MaxMessageSize, len(enc))
	}
	if _, err := Decode(enc); err != nil {
		t.Fatalf("decode of max-size envelope failed: %v", err)
	}
}

func TestReply(t *testing.T) {
	id := uint16(7)
	req := &Message{Type: MsgRequestBlock, ID: &id}

	reply, err := req.Reply(MsgRespondBlock, []byte("ok"))
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ID == nil || *reply.ID != id {
		t.Errorf("reply id mismatch")
	}

	noID := &Message{Type: MsgRequestBlock}
	if _, err := noID.Reply(MsgRespondBlock, nil); err == nil {
		t.Fatal("expected error replying to a message with no id")
	}
}

func TestMessageTypeString(t *testing.T) {
	if MsgHandshake.String() != "handshake" {
		t.Errorf("unexpected name: %s", MsgHandshake.String())
	}
	if MessageType(200).Known() {
		t.Errorf("expected message type 200 to be unknown")
	}
}
