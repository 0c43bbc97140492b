package router

import (
	"context"
	"sync"
	"time"

	"github.com/kandev/core/internal/common/constants"
)

// emitFunc matches Router.emitNow's signature; the debouncer calls back
// into it once a coalescing window elapses.
type emitFunc func(ctx context.Context, kind OutboundKind, payload interface{}) error

// coalesceKey reports whether kind is one of the outbound kinds whose
// rapid-fire updates should be coalesced to their latest value rather than
// delivered one-for-one, and if so the key identifying the coalescing
// group (e.g. per tool-call ID, so two different tools' progress updates
// never coalesce into each other).
func coalesceKey(kind OutboundKind, payload interface{}) (string, bool) {
	switch kind {
	case OutToolUpdate:
		if p, ok := payload.(ToolUpdatePayload); ok {
			return string(kind) + ":" + p.ToolCallID, true
		}
	case OutActiveFileChanged:
		return string(kind), true
	case OutWorkspacePath:
		return string(kind), true
	case OutThinking:
		return string(kind), true
	case OutUpdateSessions:
		return string(kind), true
	}
	return "", false
}

// pendingEmit is the most recent payload scheduled for a coalescing key,
// replaced in place by every subsequent Emit call for the same key until
// the debounce window elapses and the latest value is flushed.
type pendingEmit struct {
	kind    OutboundKind
	payload interface{}
	timer   *time.Timer
}

// debouncer coalesces bursts of updates to the same logical target
// (a tool call's progress, the active file, ...) into a single flush after
// constants.RouterDebounceWindow of quiescence, matching the view-column
// broadcast coalescing the Router is specified to perform.
type debouncer struct {
	mu      sync.Mutex
	pending map[string]*pendingEmit
	emit    emitFunc
}

func newDebouncer(emit emitFunc) *debouncer {
	return &debouncer{pending: make(map[string]*pendingEmit), emit: emit}
}

// schedule replaces any in-flight payload for key with the newest one and
// (re)arms its flush timer. The view only ever observes the latest state
// once the window passes, never every intermediate one.
func (d *debouncer) schedule(ctx context.Context, key string, kind OutboundKind, payload interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.pending[key]; ok {
		existing.payload = payload
		existing.timer.Reset(constants.RouterDebounceWindow)
		return
	}

	pe := &pendingEmit{kind: kind, payload: payload}
	pe.timer = time.AfterFunc(constants.RouterDebounceWindow, func() {
		d.flush(ctx, key)
	})
	d.pending[key] = pe
}

func (d *debouncer) flush(ctx context.Context, key string) {
	d.mu.Lock()
	pe, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	_ = d.emit(ctx, pe.kind, pe.payload)
}

// stop cancels every pending timer without flushing; called on Router
// shutdown since there is no view left to deliver a final state to.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, pe := range d.pending {
		pe.timer.Stop()
		delete(d.pending, k)
	}
}
