package router

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/core/internal/common/constants"
	"github.com/kandev/core/internal/common/logger"
)

// directionCounter tracks one direction's (inbound or outbound) total message
// volume plus a per-kind breakdown for summary logging, and the cadence of
// the summaries themselves.
type directionCounter struct {
	total         int64
	loggedTotal   int64
	lastSummaryAt time.Time
	kinds         map[string]int64
}

// observability maintains per-direction message counters, logging a summary
// every constants.RouterObservabilityInterval messages in a direction
// (broken down by kind in the log content) and escalating to a warning if
// two consecutive summaries for the same direction land closer together
// than constants.RouterRunawayThreshold — a signal that something
// downstream is looping rather than responding to genuine agent activity.
type observability struct {
	mu       sync.Mutex
	inbound  *directionCounter
	outbound *directionCounter
	log      *logger.Logger
}

func newObservability(log *logger.Logger) *observability {
	return &observability{
		inbound:  &directionCounter{kinds: make(map[string]int64)},
		outbound: &directionCounter{kinds: make(map[string]int64)},
		log:      log,
	}
}

func (o *observability) recordInbound(kind string) {
	o.record(o.inbound, "inbound", kind)
}

func (o *observability) recordOutbound(kind string) {
	o.record(o.outbound, "outbound", kind)
}

func (o *observability) record(dc *directionCounter, direction, kind string) {
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	dc.kinds[kind]++
	dc.total++

	if dc.total-dc.loggedTotal < constants.RouterObservabilityInterval {
		return
	}

	if !dc.lastSummaryAt.IsZero() && now.Sub(dc.lastSummaryAt) < constants.RouterRunawayThreshold {
		o.log.Warn("possible runaway message loop",
			zap.String("direction", direction),
			zap.Duration("interval", now.Sub(dc.lastSummaryAt)),
			zap.Int64("total", dc.total))
	} else {
		o.log.Info("message volume summary",
			zap.String("direction", direction),
			zap.Int64("total", dc.total),
			zap.Any("by_kind", copyKinds(dc.kinds)))
	}

	dc.loggedTotal = dc.total
	dc.lastSummaryAt = now
}

func copyKinds(kinds map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(kinds))
	for k, v := range kinds {
		out[k] = v
	}
	return out
}

// Counts returns a snapshot of inbound and outbound per-kind counts, for
// tests and for a future status surface.
func (o *observability) Counts() (inbound, outbound map[string]int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	inbound = copyKinds(o.inbound.kinds)
	outbound = copyKinds(o.outbound.kinds)
	return inbound, outbound
}
