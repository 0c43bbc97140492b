package router

import (
	"sync"
	"time"

	"github.com/kandev/core/internal/common/constants"
)

// dedupTracker absorbs a sendMessage frame arriving within
// constants.DuplicateSendWindow of an identical one (a view reconnect or a
// double network delivery must not submit the same user message twice).
// The Router consults it for sendMessage only; every other inbound kind,
// ready included, is dispatched each time it arrives.
type dedupTracker struct {
	mu      sync.Mutex
	lastSeen map[string]time.Time
}

func newDedupTracker() *dedupTracker {
	return &dedupTracker{lastSeen: make(map[string]time.Time)}
}

// isDuplicate reports whether key was already seen within the dedup
// window, and records the current observation either way so a chain of
// rapid retransmits keeps extending the window from the most recent one.
func (d *dedupTracker) isDuplicate(key string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked(now)

	if last, ok := d.lastSeen[key]; ok && now.Sub(last) < constants.DuplicateSendWindow {
		d.lastSeen[key] = now
		return true
	}
	d.lastSeen[key] = now
	return false
}

// evictLocked drops entries older than the dedup window so the map does
// not grow unbounded over a long-lived session. Called with d.mu held.
func (d *dedupTracker) evictLocked(now time.Time) {
	for k, t := range d.lastSeen {
		if now.Sub(t) >= constants.DuplicateSendWindow {
			delete(d.lastSeen, k)
		}
	}
}
