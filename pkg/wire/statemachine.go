package wire

// NoReplyExpected is the set of message types that are fire-and-forget:
// sending one must not allocate a pending-reply slot.
var NoReplyExpected = map[MessageType]bool{
	MsgNewPeak:                       true,
	MsgNewTransaction:                true,
	MsgNewUnfinishedBlock:            true,
	MsgNewSignagePointOrEndOfSubSlot: true,
	MsgRequestMempoolTransactions:    true,
	MsgNewCompactVDF:                 true,
}

// ValidReplyMap maps a sent request type to the set of reply types the
// protocol state machine permits in response. A reply carrying a matching
// id but a type outside this set is a protocol violation.
var ValidReplyMap = map[MessageType][]MessageType{
	MsgRequestTransaction:        {MsgRespondTransaction},
	MsgRequestProofOfWeight:      {MsgRespondProofOfWeight},
	MsgRequestBlock:              {MsgRespondBlock, MsgRejectBlock},
	MsgRequestBlocks:             {MsgRespondBlocks, MsgRejectBlocks},
	MsgRequestUnfinishedBlock:    {MsgRespondUnfinishedBlock},
	MsgRequestBlockHeader:        {MsgRespondBlockHeader, MsgRejectHeaderRequest},
	MsgRequestSignagePointOrEOSS: {MsgRespondSignagePoint, MsgRespondEndOfSubSlot},
	MsgRequestCompactVDF:         {MsgRespondCompactVDF},
	MsgRequestPeers:              {MsgRespondPeers},
	MsgRequestHeaderBlocks:       {MsgRespondHeaderBlocks, MsgRejectHeaderBlocks},
}

func init() {
	staticCheckSentMessageResponse()
}

// staticCheckSentMessageResponse asserts VALID_REPLY_MAP and
// NO_REPLY_EXPECTED are disjoint, mirroring the import-time invariant check
// in the protocol this was distilled from. A violation here is a
// programmer error in this package's tables, not a runtime condition, so it
// panics at init time rather than returning an error.
func staticCheckSentMessageResponse() {
	for t := range ValidReplyMap {
		if NoReplyExpected[t] {
			panic("wire: message type present in both ValidReplyMap and NoReplyExpected: " + t.String())
		}
	}
}

// MessageRequiresReply reports whether sent has an entry in ValidReplyMap.
func MessageRequiresReply(sent MessageType) bool {
	_, ok := ValidReplyMap[sent]
	return ok
}

// MessageResponseOK checks that received is a permitted reply to sent. It
// returns true when sent has no entry in ValidReplyMap (nothing to
// validate against).
func MessageResponseOK(sent, received MessageType) bool {
	allowed, ok := ValidReplyMap[sent]
	if !ok {
		return true
	}
	for _, a := range allowed {
		if a == received {
			return true
		}
	}
	return false
}
