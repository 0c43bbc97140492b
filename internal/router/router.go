package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/core/internal/common/logger"
	"github.com/kandev/core/internal/transport"
)

// Handlers wires the Router's inbound dispatch to the Session Manager (and
// any other host-side consumer). Each field corresponds to exactly one
// InboundKind; a frame whose kind has a nil handler is dropped without
// logging rather than panicking the dispatch loop.
type Handlers struct {
	OnSendMessage    func(ctx context.Context, p SendMessagePayload)
	OnAbort          func(ctx context.Context)
	OnReady          func(ctx context.Context)
	OnSwitchSession  func(ctx context.Context, sessionID string)
	OnNewSession     func(ctx context.Context)
	OnViewPlan       func(ctx context.Context)
	OnViewDiff       func(ctx context.Context, toolCallID string)
	OnTogglePlanMode func(ctx context.Context)
	OnAcceptPlan     func(ctx context.Context)
	OnRejectPlan     func(ctx context.Context)
	OnPickFiles      func(ctx context.Context, paths []string)
}

// Router is the single writer of the transport's outbound side and the
// single reader of its inbound side. Inbound dispatch is a closed switch
// over Kind, not a map[string]Handler lookup table: the Router's message
// catalog is fixed at compile time and every kind is handled by name,
// one case at a time, so an unhandled kind is a visible gap in the switch
// rather than a silent missing map entry.
type Router struct {
	transport transport.Transport
	handlers  Handlers
	log       *logger.Logger

	dedup *dedupTracker
	obs   *observability
	deb   *debouncer
}

// New constructs a Router over the given transport and handler set.
func New(t transport.Transport, h Handlers, log *logger.Logger) *Router {
	r := &Router{
		transport: t,
		handlers:  h,
		log:       log.WithFields(zap.String("component", "router")),
		dedup:     newDedupTracker(),
		obs:       newObservability(log.WithFields(zap.String("component", "router-observability"))),
	}
	r.deb = newDebouncer(r.emitNow)
	return r
}

// Run drives the transport and the inbound dispatch loop until ctx is
// canceled or the transport's Inbound channel closes.
func (r *Router) Run(ctx context.Context) error {
	go func() {
		if err := r.transport.Run(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("transport run loop exited", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.deb.stop()
			return ctx.Err()
		case data, ok := <-r.transport.Inbound():
			if !ok {
				r.deb.stop()
				return nil
			}
			r.dispatch(ctx, data)
		}
	}
}

// dispatch unmarshals one inbound frame and routes it through the closed
// switch over Kind.
func (r *Router) dispatch(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.log.Warn("dropping malformed inbound frame", zap.Error(err))
		return
	}

	kind := InboundKind(env.Type)
	if !IsValidInboundKind(kind) {
		r.log.Warn("dropping inbound frame with unrecognized type", zap.String("type", env.Type))
		return
	}

	if kind == InSendMessage && r.dedup.isDuplicate(dedupKey(kind, env.Payload)) {
		r.log.Debug("dropping duplicate inbound frame", zap.String("type", env.Type))
		return
	}

	r.obs.recordInbound(string(kind))

	switch kind {
	case InSendMessage:
		var p SendMessagePayload
		if r.decode(env.Payload, &p) && r.handlers.OnSendMessage != nil {
			r.handlers.OnSendMessage(ctx, p)
		}
	case InAbort:
		if r.handlers.OnAbort != nil {
			r.handlers.OnAbort(ctx)
		}
	case InReady:
		if r.handlers.OnReady != nil {
			r.handlers.OnReady(ctx)
		}
	case InSwitchSession:
		var p SwitchSessionPayload
		if r.decode(env.Payload, &p) && r.handlers.OnSwitchSession != nil {
			r.handlers.OnSwitchSession(ctx, p.SessionID)
		}
	case InNewSession:
		if r.handlers.OnNewSession != nil {
			r.handlers.OnNewSession(ctx)
		}
	case InViewPlan:
		if r.handlers.OnViewPlan != nil {
			r.handlers.OnViewPlan(ctx)
		}
	case InViewDiff:
		var p ViewDiffPayload
		if r.decode(env.Payload, &p) && r.handlers.OnViewDiff != nil {
			r.handlers.OnViewDiff(ctx, p.ToolCallID)
		}
	case InTogglePlanMode:
		if r.handlers.OnTogglePlanMode != nil {
			r.handlers.OnTogglePlanMode(ctx)
		}
	case InAcceptPlan:
		if r.handlers.OnAcceptPlan != nil {
			r.handlers.OnAcceptPlan(ctx)
		}
	case InRejectPlan:
		if r.handlers.OnRejectPlan != nil {
			r.handlers.OnRejectPlan(ctx)
		}
	case InPickFiles:
		var p PickFilesPayload
		if r.decode(env.Payload, &p) && r.handlers.OnPickFiles != nil {
			r.handlers.OnPickFiles(ctx, p.Paths)
		}
	default:
		// Unreachable: IsValidInboundKind already filtered to the kinds
		// handled above. A future kind added to kinds.go without a case
		// here falls through to this branch instead of compiling silently
		// into nothing.
		r.log.Error("inbound kind validated but not dispatched", zap.String("type", env.Type))
	}
}

func (r *Router) decode(raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		r.log.Warn("dropping inbound frame with malformed payload", zap.Error(err))
		return false
	}
	return true
}

// Emit marshals payload and sends it to the view tagged with kind. Kinds
// registered as coalescible (see debounce.go) are routed through the
// debouncer instead of being written immediately.
func (r *Router) Emit(ctx context.Context, kind OutboundKind, payload interface{}) error {
	if !IsValidOutboundKind(kind) {
		return fmt.Errorf("router: unknown outbound kind %q", kind)
	}

	if key, coalescible := coalesceKey(kind, payload); coalescible {
		r.deb.schedule(ctx, key, kind, payload)
		return nil
	}
	return r.emitNow(ctx, kind, payload)
}

// emitNow bypasses debouncing and writes immediately; it is also the
// debouncer's flush callback.
func (r *Router) emitNow(ctx context.Context, kind OutboundKind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("router: marshal %s payload: %w", kind, err)
	}
	data, err := json.Marshal(Envelope{Type: string(kind), Payload: raw})
	if err != nil {
		return fmt.Errorf("router: marshal %s envelope: %w", kind, err)
	}

	r.obs.recordOutbound(string(kind))
	return r.transport.Send(ctx, data)
}

// Counts returns a snapshot of inbound and outbound per-kind message
// counts, for diagnostics.
func (r *Router) Counts() (inbound, outbound map[string]int64) {
	return r.obs.Counts()
}

// dedupKey derives the idempotency key for an inbound frame: its kind plus
// a content hash of its payload. Identical (kind, payload) pairs arriving
// within the duplicate-send window are treated as retransmits of the same
// logical event, not two distinct user actions.
func dedupKey(kind InboundKind, payload json.RawMessage) string {
	sum := sha256.Sum256(payload)
	return string(kind) + ":" + hex.EncodeToString(sum[:8])
}
