package agentproto

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/core/internal/common/logger"
)

// NotificationHandler is invoked for every inbound notification (an agent
// event with no id). method is the event name, e.g. "assistant.message".
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler is invoked for every inbound request the agent makes of the
// host — currently only the onPreToolUse hook. The handler must eventually
// call Client.SendResponse with the same id; it is invoked synchronously on
// the read loop's goroutine, so later messages are not read until it returns.
type RequestHandler func(id interface{}, method string, params json.RawMessage)

// pendingCall is a single in-flight Call awaiting its Response.
type pendingCall struct {
	ch chan *Response
}

// Client is a JSON-RPC 2.0 client over the agent subprocess's stdin/stdout,
// newline-delimited. Wire mechanics (request ID correlation, scanner
// buffering) are grounded on pkg/acp/jsonrpc.Client; the control-request
// hook dance is grounded on pkg/claudecode.Client.
type Client struct {
	stdin  io.Writer
	stdout io.Reader

	requestID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall

	onNotification NotificationHandler
	onRequest      RequestHandler

	log *logger.Logger

	writeMu sync.Mutex

	done     chan struct{}
	closeMu  sync.Mutex
	stopOnce sync.Once

	readyCh chan struct{}
}

// NewClient constructs a Client. The logger is tagged with a "component"
// field exactly as every other constructor in this repo does.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]*pendingCall),
		log:     log.WithFields(zap.String("component", "agentproto-client")),
		done:    make(chan struct{}),
		readyCh: make(chan struct{}),
	}
}

// SetNotificationHandler registers the callback for inbound notifications.
func (c *Client) SetNotificationHandler(h NotificationHandler) { c.onNotification = h }

// SetRequestHandler registers the callback for inbound requests (hooks).
func (c *Client) SetRequestHandler(h RequestHandler) { c.onRequest = h }

// Start begins the read loop in its own goroutine and returns a channel
// closed once that loop is running.
func (c *Client) Start(ctx context.Context) <-chan struct{} {
	go c.readLoop(ctx)
	close(c.readyCh)
	return c.readyCh
}

// Stop tears down the client. Idempotent: calling it more than once never
// panics, matching the double-close guard pkg/claudecode.Client uses.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// Call sends a request and blocks until the correlated response arrives, ctx
// is cancelled, or the client is stopped.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	id := c.requestID.Add(1)
	respCh := make(chan *Response, 1)

	c.pendingMu.Lock()
	c.pending[id] = &pendingCall{ch: respCh}
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsRaw}
	if err := c.send(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("client stopped")
	}
}

// Notify sends a fire-and-forget notification (used for session.abort, whose
// semantics the spec calls out as a notification rather than a request).
func (c *Client) Notify(method string, params interface{}) error {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return c.send(Notification{JSONRPC: "2.0", Method: method, Params: paramsRaw})
}

// SendResponse replies to an inbound request (a hook invocation).
func (c *Client) SendResponse(id interface{}, result interface{}, rpcErr *RPCError) error {
	var resultRaw json.RawMessage
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultRaw = raw
	}
	resp := Response{JSONRPC: "2.0", ID: id, Result: resultRaw, Error: rpcErr}
	return c.send(resp)
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("write to agent stdin: %w", err)
	}
	c.log.Debug("sent message to agent", zap.ByteString("payload", data))
	return nil
}

// wireMessage is used to sniff the shape of an inbound line before
// unmarshaling it into Request/Response/Notification, exactly as
// pkg/acp/jsonrpc.Client does.
type wireMessage struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Params json.RawMessage `json:"params"`
}

func (c *Client) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.stdout)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(append([]byte(nil), line...))
	}

	if err := scanner.Err(); err != nil {
		c.log.Error("agent stdout scanner error", zap.Error(err))
	}
}

func (c *Client) handleLine(line []byte) {
	var wire wireMessage
	if err := json.Unmarshal(line, &wire); err != nil {
		c.log.Warn("skipping unparseable line from agent", zap.Error(err))
		return
	}

	hasID := len(wire.ID) > 0 && string(wire.ID) != "null"
	hasMethod := wire.Method != ""
	hasResult := len(wire.Result) > 0
	hasError := wire.Error != nil

	switch {
	case hasID && !hasMethod && (hasResult || hasError):
		c.handleResponse(&wire)
	case hasID && hasMethod:
		c.handleRequest(&wire)
	case hasMethod && !hasID:
		c.handleNotification(&wire)
	default:
		c.log.Warn("unrecognized message shape from agent", zap.ByteString("line", line))
	}
}

func normalizeID(raw json.RawMessage) int64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f)
	}
	var n int64
	_ = json.Unmarshal(raw, &n)
	return n
}

func (c *Client) handleResponse(wire *wireMessage) {
	id := normalizeID(wire.ID)

	c.pendingMu.Lock()
	pending, ok := c.pending[id]
	c.pendingMu.Unlock()

	if !ok {
		c.log.Warn("response for unknown request id", zap.Int64("id", id))
		return
	}

	resp := &Response{ID: id, Result: wire.Result, Error: wire.Error}
	select {
	case pending.ch <- resp:
	default:
		c.log.Warn("dropped response, caller no longer waiting", zap.Int64("id", id))
	}
}

func (c *Client) handleNotification(wire *wireMessage) {
	if c.onNotification != nil {
		c.onNotification(wire.Method, wire.Params)
		return
	}
	c.log.Debug("no notification handler registered", zap.String("method", wire.Method))
}

func (c *Client) handleRequest(wire *wireMessage) {
	var id interface{}
	_ = json.Unmarshal(wire.ID, &id)

	if c.onRequest != nil {
		c.onRequest(id, wire.Method, wire.Params)
		return
	}

	_ = c.SendResponse(id, nil, &RPCError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("no handler registered for %s", wire.Method),
	})
}

// waitReady blocks until Start's read loop is running or ctx is done. Mainly
// useful in tests.
func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return fmt.Errorf("timed out waiting for client to start")
	}
}
