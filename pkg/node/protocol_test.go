package node

import (
	"testing"

	"github.com/Snider/NodeCore/pkg/wire"
)

func TestResponseHandlerValidateResponse(t *testing.T) {
	handler := &ResponseHandler{}

	t.Run("NilResponse", func(t *testing.T) {
		if err := handler.ValidateResponse(wire.MsgRequestBlock, nil); err == nil {
			t.Error("expected error for nil response")
		}
	})

	t.Run("ValidReply", func(t *testing.T) {
		msg := wire.NewMessage(wire.MsgRespondBlock, []byte("ok"))
		if err := handler.ValidateResponse(wire.MsgRequestBlock, msg); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("InvalidReply", func(t *testing.T) {
		msg := wire.NewMessage(wire.MsgRespondPeers, nil)
		err := handler.ValidateResponse(wire.MsgRequestBlock, msg)
		if err == nil {
			t.Fatal("expected error for invalid reply type")
		}
		if !IsProtocolError(err) {
			t.Errorf("expected ProtocolError, got %T", err)
		}
	})

	t.Run("UnconstrainedSentType", func(t *testing.T) {
		msg := wire.NewMessage(wire.MsgRespondBlock, nil)
		if err := handler.ValidateResponse(wire.MsgNewTransaction, msg); err != nil {
			t.Errorf("unexpected error for unconstrained type: %v", err)
		}
	})
}

func TestProtocolError(t *testing.T) {
	err := &ProtocolError{Code: CloseProtocolError, Reason: ReasonInvalidHandshake}

	if err.Error() != "protocol error 1002: invalid_handshake" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
	if !IsProtocolError(err) {
		t.Error("IsProtocolError should return true")
	}
}

func TestConvenienceValidateResponse(t *testing.T) {
	msg := wire.NewMessage(wire.MsgRespondBlock, nil)
	if err := ValidateResponse(wire.MsgRequestBlock, msg); err != nil {
		t.Errorf("ValidateResponse failed: %v", err)
	}
}

func TestIsProtocolErrorNonProtocolError(t *testing.T) {
	err := errNotAProtocolError{}
	if IsProtocolError(err) {
		t.Error("expected false for a non-ProtocolError error")
	}
}

type errNotAProtocolError struct{}

func (errNotAProtocolError) Error() string { return "regular error" }
