package ratelimit

import (
	"sync"
	"time"

	"github.com/Snider/NodeCore/pkg/logging"
	"github.com/Snider/NodeCore/pkg/wire"
)

// ResetSeconds is the width of a rate-limit window. Counters reset to zero
// whenever the current window (now/ResetSeconds, floored) advances.
const ResetSeconds = 60

// Limiter is a per-connection, per-direction rate limiter. Incoming
// limiters always commit their counters, since the bytes have already been
// received and must be counted whether or not the connection is about to
// be torn down for exceeding them. Outgoing limiters only commit when the
// message is allowed, since a rejected outbound message is never sent.
type Limiter struct {
	mu sync.Mutex

	incoming          bool
	percentageOfLimit int
	tables            Tables

	currentWindow        int64
	messageCounts         map[wire.MessageType]int
	messageCumulativeSize map[wire.MessageType]int
	nonTxCount            int
	nonTxCumulativeSize   int
}

// New builds a Limiter. incoming selects the always-commit semantics;
// percentageOfLimit scales every bucket (outbound limiters typically run
// tighter than 100 so the sender self-governs before the peer disconnects
// it).
func New(incoming bool, tables Tables, percentageOfLimit int) *Limiter {
	if percentageOfLimit <= 0 {
		percentageOfLimit = 100
	}
	return &Limiter{
		incoming:              incoming,
		percentageOfLimit:     percentageOfLimit,
		tables:                tables,
		currentWindow:         time.Now().Unix() / ResetSeconds,
		messageCounts:         make(map[wire.MessageType]int),
		messageCumulativeSize: make(map[wire.MessageType]int),
	}
}

// CheckAndAccount decides whether a message of type t and size bytes may
// cross the connection right now. On accept (or always, for incoming)
// counters are committed; on reject for an outgoing limiter, counters are
// left untouched since the message will not be sent.
func (l *Limiter) CheckAndAccount(t wire.MessageType, size int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := time.Now().Unix() / ResetSeconds
	if window != l.currentWindow {
		l.currentWindow = window
		l.messageCounts = make(map[wire.MessageType]int)
		l.messageCumulativeSize = make(map[wire.MessageType]int)
		l.nonTxCount = 0
		l.nonTxCumulativeSize = 0
	}

	newCount := l.messageCounts[t] + 1
	newSize := l.messageCumulativeSize[t] + size
	newNonTxCount := l.nonTxCount
	newNonTxSize := l.nonTxCumulativeSize
	proportion := float64(l.percentageOfLimit) / 100.0

	var ok bool
	if txBucket, isTx := l.tables.Tx[t]; isTx {
		ok = l.checkBucket(txBucket, newCount, size, newSize, proportion)
	} else if otherBucket, isOther := l.tables.Other[t]; isOther {
		newNonTxCount = l.nonTxCount + 1
		newNonTxSize = l.nonTxCumulativeSize + size
		switch {
		case float64(newNonTxCount) > NonTxFrequency*proportion:
			ok = false
		case float64(newNonTxSize) > NonTxMaxTotalSize*proportion:
			ok = false
		default:
			ok = l.checkBucket(otherBucket, newCount, size, newSize, proportion)
		}
	} else {
		logging.Warn("message type not found in rate limits, applying default bucket", logging.Fields{"type": t.String()})
		ok = l.checkBucket(DefaultBucket, newCount, size, newSize, proportion)
	}

	if l.incoming || ok {
		l.messageCounts[t] = newCount
		l.messageCumulativeSize[t] = newSize
		l.nonTxCount = newNonTxCount
		l.nonTxCumulativeSize = newNonTxSize
	}
	return ok
}

func (l *Limiter) checkBucket(b Bucket, newCount, size, newSize int, proportion float64) bool {
	if size > b.MaxSize {
		return false
	}
	if float64(newCount) > float64(b.Frequency)*proportion {
		return false
	}
	if float64(newSize) > float64(b.totalSize())*proportion {
		return false
	}
	return true
}
