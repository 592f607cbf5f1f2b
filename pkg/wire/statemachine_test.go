package wire

import "testing"

func TestValidReplyMapDisjointFromNoReplyExpected(t *testing.T) {
	for t1 := range ValidReplyMap {
		if NoReplyExpected[t1] {
			t.Fatalf("%v present in both tables", t1)
		}
	}
}

func TestMessageResponseOK(t *testing.T) {
	t.Run("ValidReply", func(t *testing.T) {
		if !MessageResponseOK(MsgRequestBlock, MsgRespondBlock) {
			t.Error("expected respond_block to be a valid reply to request_block")
		}
		if !MessageResponseOK(MsgRequestBlock, MsgRejectBlock) {
			t.Error("expected reject_block to be a valid reply to request_block")
		}
	})

	t.Run("InvalidReply", func(t *testing.T) {
		if MessageResponseOK(MsgRequestBlock, MsgRespondPeers) {
			t.Error("expected respond_peers to be rejected as a reply to request_block")
		}
	})

	t.Run("UnconstrainedType", func(t *testing.T) {
		if !MessageResponseOK(MsgNewTransaction, MsgRespondBlock) {
			t.Error("types with no ValidReplyMap entry should not be constrained")
		}
	})
}

func TestMessageRequiresReply(t *testing.T) {
	if !MessageRequiresReply(MsgRequestBlock) {
		t.Error("expected request_block to require a reply")
	}
	if MessageRequiresReply(MsgNewTransaction) {
		t.Error("expected new_transaction to not require a reply")
	}
}

func TestCapabilityIntersect(t *testing.T) {
	local := []CapabilityEntry{{ID: CapBase, Value: "1"}, {ID: CapRateLimitsV2, Value: "1"}}
	peer := []CapabilityEntry{{ID: CapBase, Value: "1"}}

	mutual := Intersect(local, peer)
	if !mutual[CapBase] {
		t.Error("expected CapBase in mutual set")
	}
	if mutual[CapRateLimitsV2] {
		t.Error("did not expect CapRateLimitsV2 in mutual set")
	}
}
