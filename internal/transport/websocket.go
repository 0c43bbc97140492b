package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/core/internal/common/logger"
)

// WebSocket is a Transport backed by a single gorilla/websocket connection
// to the sandboxed view surface. Unlike internal/gateway/websocket.Hub (which
// fans one host out to many browser clients), THE CORE brokers exactly one
// view per running instance, so this keeps the hub's read/write pump shape
// but drops the client-registry/broadcast-to-many machinery.
type WebSocket struct {
	conn *websocket.Conn
	log  *logger.Logger

	outbound chan []byte
	inbound  chan []byte
	done     chan struct{}
	stopOnce sync.Once

	writeTimeout time.Duration
}

// NewWebSocket wraps an already-upgraded connection.
func NewWebSocket(conn *websocket.Conn, log *logger.Logger) *WebSocket {
	return &WebSocket{
		conn:         conn,
		log:          log.WithFields(zap.String("component", "ws-transport")),
		outbound:     make(chan []byte, 256),
		inbound:      make(chan []byte, 256),
		done:         make(chan struct{}),
		writeTimeout: 10 * time.Second,
	}
}

// Send enqueues data for the write pump. Non-blocking: when a view
// connection cannot keep up and the outbound buffer is full, the new
// message is dropped with a warning rather than stalling the Router.
func (t *WebSocket) Send(ctx context.Context, data []byte) error {
	select {
	case t.outbound <- data:
		return nil
	case <-t.done:
		return context.Canceled
	default:
		t.log.Warn("outbound buffer full, dropping message")
		return nil
	}
}

// Inbound returns the channel of raw view→host frames.
func (t *WebSocket) Inbound() <-chan []byte { return t.inbound }

// Run drives the read and write pumps until ctx is canceled, the
// connection errors, or Stop is called.
func (t *WebSocket) Run(ctx context.Context) error {
	defer t.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.readPump(ctx)
	}()
	go func() {
		defer wg.Done()
		t.writePump(ctx)
	}()
	wg.Wait()
	return nil
}

func (t *WebSocket) readPump(ctx context.Context) {
	defer t.Stop()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.log.Debug("read pump stopping", zap.Error(err))
			return
		}
		select {
		case t.inbound <- data:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

func (t *WebSocket) writePump(ctx context.Context) {
	for {
		select {
		case data, ok := <-t.outbound:
			if !ok {
				return
			}
			t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.log.Warn("write pump error, closing connection", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

// Stop closes the underlying connection and unblocks both pumps. Idempotent.
func (t *WebSocket) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.conn.Close()
		close(t.inbound)
	})
}
