package node

import (
	"fmt"

	"github.com/Snider/NodeCore/pkg/wire"
)

// CloseCode is the sub-protocol reason carried in the WebSocket close
// frame's extra field (§6).
type CloseCode int

const (
	CloseNormal             CloseCode = 1000
	CloseMessageTooBig      CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	ClosePolicyViolation    CloseCode = 1003
	CloseDuplicateConnection CloseCode = 1004
	CloseAbnormal           CloseCode = 1005
)

// ProtocolErrorReason is the sub-reason attached to a CloseProtocolError.
type ProtocolErrorReason string

const (
	ReasonInvalidHandshake ProtocolErrorReason = "invalid_handshake"
	ReasonRateLimitExceeded ProtocolErrorReason = "rate_limit_exceeded"
	ReasonUnknownMessageType ProtocolErrorReason = "unknown_message_type"
	ReasonInvalidReplyType ProtocolErrorReason = "invalid_reply_type"
	ReasonDecodeError      ProtocolErrorReason = "decode_error"
)

// ProtocolError represents a connection-fatal protocol violation by the
// remote peer: malformed frame, unknown message type, bad handshake, wrong
// reply type, or oversize frame.
type ProtocolError struct {
	Code   CloseCode
	Reason ProtocolErrorReason
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Reason)
}

// ResponseHandler validates that a received reply is a permitted response
// to a previously sent request, per the VALID_REPLY_MAP state machine.
type ResponseHandler struct{}

// ValidateResponse checks resp against the expected reply set for sent.
func (h *ResponseHandler) ValidateResponse(sent wire.MessageType, resp *wire.Message) error {
	if resp == nil {
		return fmt.Errorf("nil response")
	}
	if !wire.MessageResponseOK(sent, resp.Type) {
		return &ProtocolError{Code: CloseProtocolError, Reason: ReasonInvalidReplyType}
	}
	return nil
}

// DefaultResponseHandler is the package-level default instance.
var DefaultResponseHandler = &ResponseHandler{}

// ValidateResponse is a convenience wrapper around DefaultResponseHandler.
func ValidateResponse(sent wire.MessageType, resp *wire.Message) error {
	return DefaultResponseHandler.ValidateResponse(sent, resp)
}

// IsProtocolError reports whether err is a *ProtocolError.
func IsProtocolError(err error) bool {
	_, ok := err.(*ProtocolError)
	return ok
}
