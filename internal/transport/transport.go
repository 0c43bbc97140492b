// Package transport defines the host↔view delivery abstraction the Router
// dispatches over. Two implementations are provided: an in-process channel
// pair (for a view hosted in the same process, e.g. an embedded webview) and
// a gorilla/websocket-backed implementation grounded on
// internal/gateway/websocket.Hub's single-goroutine Run loop and non-blocking
// backpressure idiom.
package transport

import "context"

// Transport is the delivery boundary between the Router and the view
// surface. Implementations own their own framing (newline-delimited JSON,
// WebSocket text frames, ...); the Router only ever works with raw message
// bytes, already-marshaled envelopes.
type Transport interface {
	// Send delivers one message to the view. Implementations must not block
	// indefinitely; a slow or disconnected view should drop or buffer rather
	// than stall the Router's single dispatch goroutine.
	Send(ctx context.Context, data []byte) error

	// Inbound returns the channel of raw message bytes arriving from the
	// view. It is closed when the transport is stopped.
	Inbound() <-chan []byte

	// Run starts the transport's delivery loop and blocks until ctx is
	// canceled or Stop is called.
	Run(ctx context.Context) error

	// Stop tears down the transport, closing Inbound().
	Stop()
}
