package server

import (
	"sync"
	"time"
)

// BanList is an in-memory, host-keyed ban table with lazy expiry. Bans are
// identified by host, not node_id — a ban blocks future accepts from that
// host but never retroactively touches other live connections from the
// same host (§7).
type BanList struct {
	mu          sync.Mutex
	bans        map[string]time.Time
	testingMode bool
}

// NewBanList builds an empty BanList. testingMode exempts localhost from
// enforcement, matching the spec's test-mode carve-out.
func NewBanList(testingMode bool) *BanList {
	return &BanList{bans: make(map[string]time.Time), testingMode: testingMode}
}

// Ban blocks host for duration, starting now.
func (b *BanList) Ban(host string, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bans[host] = time.Now().Add(duration)
}

// IsBanned reports whether host is currently banned, lazily evicting
// expired entries as it checks. Localhost is always exempt in testing
// mode.
func (b *BanList) IsBanned(host string) bool {
	if b.testingMode && isLocalhost(host) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	expiry, ok := b.bans[host]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(b.bans, host)
		return false
	}
	return true
}

// Clear removes a host's ban, if any.
func (b *BanList) Clear(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bans, host)
}

// List returns a snapshot of currently-banned hosts and their expiry.
func (b *BanList) List() map[string]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]time.Time, len(b.bans))
	now := time.Now()
	for host, expiry := range b.bans {
		if now.After(expiry) {
			continue
		}
		out[host] = expiry
	}
	return out
}

func isLocalhost(host string) bool {
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}
