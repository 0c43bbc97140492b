// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts and fixed windows governing session resume, retry, permission
// handling, and router coalescing.
const (
	// SessionResumeTimeout bounds a single resumeSession attempt.
	SessionResumeTimeout = 30 * time.Second

	// ResumeRetryBaseDelay is the first backoff step for retriable resume
	// failures; each later step doubles, so three attempts wait 1s, then 2s.
	ResumeRetryBaseDelay = 1 * time.Second

	// ResumeRetryMaxAttempts is the maximum number of resume attempts before
	// falling through to new-session creation.
	ResumeRetryMaxAttempts = 3

	// ModelFallbackMaxSubstitutions bounds how many model substitutions the
	// manager will try before giving up.
	ModelFallbackMaxSubstitutions = 3

	// PermissionResponseTimeout is a bound for answering a pending permission
	// request before treating it as cancelled. No component in this module
	// reads it.
	PermissionResponseTimeout = 5 * time.Minute

	// DuplicateSendWindow is the window within which an identical
	// sendMessage text is dropped as a duplicate submission. Arbitrary but
	// fixed: do not silently expand it.
	DuplicateSendWindow = 1000 * time.Millisecond

	// RouterDebounceWindow bounds how often view-column/layout broadcasts
	// are coalesced into a single updateSessions call.
	RouterDebounceWindow = 500 * time.Millisecond

	// RouterObservabilityInterval is the message count at which the router
	// logs a throughput summary.
	RouterObservabilityInterval = 100

	// RouterRunawayThreshold is the minimum elapsed time expected between
	// two observability summaries; falling below it elevates the summary
	// log to a warning (loop/runaway detector).
	RouterRunawayThreshold = 100 * time.Millisecond

	// MaxInlineDiffLines is the maximum number of lines an inline diff may
	// contain before being truncated.
	MaxInlineDiffLines = 10

	// MaxInlineDiffContextLines is the maximum number of unchanged lines
	// retained adjacent to a change block in an inline diff.
	MaxInlineDiffContextLines = 1
)
