package transport

import (
	"context"
	"sync"
)

// InProcess is a Transport for a view hosted in the same process (an
// embedded webview communicating over direct channels rather than a
// network socket). Outbound sends are delivered to Outbound(); inbound
// messages are injected via Feed.
type InProcess struct {
	mu       sync.Mutex
	outbound chan []byte
	inbound  chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

// NewInProcess creates an InProcess transport with the given outbound and
// inbound buffer sizes.
func NewInProcess(outboundBuf, inboundBuf int) *InProcess {
	return &InProcess{
		outbound: make(chan []byte, outboundBuf),
		inbound:  make(chan []byte, inboundBuf),
		done:     make(chan struct{}),
	}
}

// Send enqueues data for delivery to the view. If the outbound buffer is
// full, Send blocks until there is room, the transport stops, or ctx is
// done, rather than silently dropping a protocol message.
func (t *InProcess) Send(ctx context.Context, data []byte) error {
	select {
	case t.outbound <- data:
		return nil
	case <-t.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound returns the channel a same-process view reads host→view
// messages from.
func (t *InProcess) Outbound() <-chan []byte { return t.outbound }

// Feed injects one view→host message as if it had arrived over a wire
// transport.
func (t *InProcess) Feed(ctx context.Context, data []byte) error {
	select {
	case t.inbound <- data:
		return nil
	case <-t.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbound returns the channel the Router reads view→host messages from.
func (t *InProcess) Inbound() <-chan []byte { return t.inbound }

// Run blocks until ctx is canceled or Stop is called; an in-process
// transport has no network I/O loop of its own to drive.
func (t *InProcess) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.done:
		return nil
	}
}

// Stop closes the inbound channel, unblocking any Router reading from it.
// Idempotent.
func (t *InProcess) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		close(t.inbound)
	})
}
