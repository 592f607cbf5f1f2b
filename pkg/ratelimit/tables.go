// Package ratelimit implements the per-connection, per-direction rate
// limiter that gates every message crossing a connection, and the bucket
// tables it draws from. The limiter holds windowed counters and cumulative
// byte totals keyed by message type; it is pure data plus a clock, no I/O.
package ratelimit

import "github.com/Snider/NodeCore/pkg/wire"

// Bucket is the immutable per-message-type rate-limit setting: a frequency
// cap, a per-message size cap, and an optional total-bytes-per-window cap.
// When MaxTotalSize is zero, it defaults to Frequency*MaxSize.
type Bucket struct {
	Frequency    int
	MaxSize      int
	MaxTotalSize int
}

func (b Bucket) totalSize() int {
	if b.MaxTotalSize == 0 {
		return b.Frequency * b.MaxSize
	}
	return b.MaxTotalSize
}

// DefaultBucket is applied to message types absent from both tables —
// forward compatibility with peers that have shipped new types this
// process doesn't yet recognize.
var DefaultBucket = Bucket{Frequency: 100, MaxSize: 1024 * 1024, MaxTotalSize: 100 * 1024 * 1024}

// NonTxFrequency and NonTxMaxTotalSize bound the aggregate of all
// non-transaction message types together, so an attacker can't multiply
// their effect by rotating message types that each sit under their own
// per-type cap.
const (
	NonTxFrequency    = 1000
	NonTxMaxTotalSize = 100 * 1024 * 1024
)

// RateLimitsTxV1 covers transaction-relay traffic; message types here are
// never subject to the non-tx aggregate.
var RateLimitsTxV1 = map[wire.MessageType]Bucket{
	wire.MsgNewTransaction:     {5000, 100, 5000 * 100},
	wire.MsgRequestTransaction: {5000, 100, 5000 * 100},
	wire.MsgRespondTransaction: {5000, 1 * 1024 * 1024, 20 * 1024 * 1024},
	wire.MsgSendTransaction:    {5000, 1024 * 1024, 0},
	wire.MsgTransactionAck:     {5000, 2048, 0},
}

// RateLimitsOtherV1 is the control-plane/non-tx table, version 1.
var RateLimitsOtherV1 = map[wire.MessageType]Bucket{
	wire.MsgHandshake:                    {5, 10 * 1024, 5 * 10 * 1024},
	wire.MsgHarvesterHandshake:           {5, 1024 * 1024, 0},
	wire.MsgNewProofOfSpace:              {100, 2048, 0},
	wire.MsgRequestSignatures:            {100, 2048, 0},
	wire.MsgRespondSignatures:            {100, 2048, 0},
	wire.MsgNewSignagePoint:              {200, 2048, 0},
	wire.MsgDeclareProofOfSpace:          {100, 10 * 1024, 0},
	wire.MsgRequestSignedValues:          {100, 512, 0},
	wire.MsgFarmingInfo:                  {100, 1024, 0},
	wire.MsgSignedValues:                 {100, 1024, 0},
	wire.MsgNewPeak:                      {200, 512, 0},
	wire.MsgRequestProofOfWeight:         {5, 100, 0},
	wire.MsgRespondProofOfWeight:         {5, 50 * 1024 * 1024, 100 * 1024 * 1024},
	wire.MsgRequestBlock:                 {200, 100, 0},
	wire.MsgRejectBlock:                  {200, 100, 0},
	wire.MsgRequestBlocks:                {100, 100, 0},
	wire.MsgRespondBlocks:                {100, 50 * 1024 * 1024, 5 * 50 * 1024 * 1024},
	wire.MsgRejectBlocks:                 {100, 100, 0},
	wire.MsgRespondBlock:                 {200, 2 * 1024 * 1024, 10 * 2 * 1024 * 1024},
	wire.MsgNewUnfinishedBlock:           {200, 100, 0},
	wire.MsgRequestUnfinishedBlock:       {200, 100, 0},
	wire.MsgRespondUnfinishedBlock:       {200, 2 * 1024 * 1024, 10 * 2 * 1024 * 1024},
	wire.MsgNewSignagePointOrEndOfSubSlot: {200, 200, 0},
	wire.MsgRequestSignagePointOrEOSS:    {200, 200, 0},
	wire.MsgRespondSignagePoint:          {200, 50 * 1024, 0},
	wire.MsgRespondEndOfSubSlot:          {100, 50 * 1024, 0},
	wire.MsgRequestMempoolTransactions:   {5, 1024 * 1024, 0},
	wire.MsgRequestCompactVDF:            {200, 1024, 0},
	wire.MsgRespondCompactVDF:            {200, 100 * 1024, 0},
	wire.MsgNewCompactVDF:                {100, 1024, 0},
	wire.MsgRequestPeers:                 {10, 100, 0},
	wire.MsgRespondPeers:                 {10, 1 * 1024 * 1024, 0},
	wire.MsgRequestPuzzleSolution:        {100, 100, 0},
	wire.MsgRespondPuzzleSolution:        {100, 1024 * 1024, 0},
	wire.MsgRejectPuzzleSolution:         {100, 100, 0},
	wire.MsgRequestBlockHeader:           {500, 100, 0},
	wire.MsgRespondBlockHeader:           {500, 500 * 1024, 0},
	wire.MsgRejectHeaderRequest:          {500, 100, 0},
	wire.MsgRequestHeaderBlocks:          {500, 100, 0},
	wire.MsgRejectHeaderBlocks:           {100, 100, 0},
	wire.MsgRespondHeaderBlocks:          {500, 2 * 1024 * 1024, 100 * 1024 * 1024},
	wire.MsgRequestPlots:                 {100, 100, 0},
	wire.MsgRespondPlots:                 {100, 1024 * 1024, 0},
}

// RateLimitsOtherV2 extends V1 with the wallet light-client subscription
// messages and the plot-sync channel — the breadth the distilled spec's
// illustrative examples only gestured at (see SPEC_FULL.md).
var RateLimitsOtherV2 = map[wire.MessageType]Bucket{
	wire.MsgCoinStateUpdate:              {1000, 100 * 1024, 50 * 1024 * 1024},
	wire.MsgRegisterInterestInPuzzleHash: {1000, 1024, 0},
	wire.MsgRespondToPuzzleHashUpdate:    {1000, 10 * 1024 * 1024, 0},
	wire.MsgRegisterInterestInCoin:       {1000, 1024, 0},
	wire.MsgRespondToCoinUpdate:          {1000, 10 * 1024 * 1024, 0},
	wire.MsgPlotSyncStart:                {100, 1024, 0},
	wire.MsgPlotSyncPlots:                {1000, 1024 * 1024, 0},
	wire.MsgPlotSyncPathList:             {1000, 1024 * 1024, 0},
	wire.MsgPlotSyncDone:                 {100, 1024, 0},
}

// Tables is a fully merged (tx, other) pair of bucket lookup tables for one
// rate-limit table version.
type Tables struct {
	Tx    map[wire.MessageType]Bucket
	Other map[wire.MessageType]Bucket
}

func mergeOther(base, override map[wire.MessageType]Bucket) map[wire.MessageType]Bucket {
	merged := make(map[wire.MessageType]Bucket, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// SelectRateLimits implements capability-gated version selection: if both
// sides advertise CapRateLimitsV2, the non-tx table is v1 with the v2
// entries added, v2 overriding any type both define; otherwise it is the
// v1 table alone, so a v1 peer talking to a v2 peer still shares one
// deterministic table. The tx table is v1 in both cases. The result is
// symmetric in (local, peer).
func SelectRateLimits(local, peer []wire.CapabilityEntry) Tables {
	mutual := wire.Intersect(local, peer)
	other := RateLimitsOtherV1
	if mutual[wire.CapRateLimitsV2] {
		other = mergeOther(RateLimitsOtherV1, RateLimitsOtherV2)
	}
	return Tables{Tx: RateLimitsTxV1, Other: other}
}
