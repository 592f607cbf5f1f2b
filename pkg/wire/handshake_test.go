package wire

import "testing"

func TestHandshakeRoundTrip(t *testing.T) {
	h := &Handshake{
		NetworkID:       "mainnet",
		ProtocolVersion: "0.0.32",
		SoftwareVersion: "1.4.0",
		ServerPort:      8444,
		NodeType:        NodeFullNode,
		Capabilities: []CapabilityEntry{
			{ID: CapBase, Value: "1"},
			{ID: CapRateLimitsV2, Value: "1"},
		},
	}

	payload := h.EncodePayload()
	got, err := DecodeHandshake(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.NetworkID != h.NetworkID || got.ProtocolVersion != h.ProtocolVersion ||
		got.SoftwareVersion != h.SoftwareVersion || got.ServerPort != h.ServerPort ||
		got.NodeType != h.NodeType {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
	if len(got.Capabilities) != len(h.Capabilities) {
		t.Fatalf("capability count mismatch: got %d want %d", len(got.Capabilities), len(h.Capabilities))
	}
	for i, c := range h.Capabilities {
		if got.Capabilities[i] != c {
			t.Errorf("capability %d mismatch: got %+v want %+v", i, got.Capabilities[i], c)
		}
	}
}

func TestHandshakeEnvelopeRoundTrip(t *testing.T) {
	h := &Handshake{NetworkID: "testnet", ProtocolVersion: "0.0.32", SoftwareVersion: "1.0.0", ServerPort: 1, NodeType: NodeWallet}
	msg := NewMessage(MsgHandshake, h.EncodePayload())

	enc, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Type != MsgHandshake {
		t.Fatalf("expected handshake type, got %v", dec.Type)
	}
	gotH, err := DecodeHandshake(dec.Payload)
	if err != nil {
		t.Fatalf("decode handshake payload: %v", err)
	}
	if gotH.NodeType != NodeWallet {
		t.Errorf("node type mismatch: got %v", gotH.NodeType)
	}
}

func TestDecodeHandshakeTruncated(t *testing.T) {
	if _, err := DecodeHandshake([]byte{0, 1}); err == nil {
		t.Fatal("expected truncation error")
	}
}
