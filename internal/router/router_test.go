package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kandev/core/internal/common/logger"
	"github.com/kandev/core/internal/transport"
)

func testLogger(t *testing.T) *logger.Logger {
	l, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("construct logger: %v", err)
	}
	return l
}

func envelopeJSON(t *testing.T, kind InboundKind, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(Envelope{Type: string(kind), Payload: raw})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDispatchSendMessageCallsHandler(t *testing.T) {
	tp := transport.NewInProcess(16, 16)
	var mu sync.Mutex
	var got SendMessagePayload
	called := make(chan struct{}, 1)

	r := New(tp, Handlers{
		OnSendMessage: func(ctx context.Context, p SendMessagePayload) {
			mu.Lock()
			got = p
			mu.Unlock()
			called <- struct{}{}
		},
	}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	_ = tp.Feed(ctx, envelopeJSON(t, InSendMessage, SendMessagePayload{Text: "hello"}))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Text != "hello" {
		t.Errorf("got text %q, want %q", got.Text, "hello")
	}
}

func TestDispatchUnknownKindDropped(t *testing.T) {
	tp := transport.NewInProcess(16, 16)
	calledUnexpectedly := false
	r := New(tp, Handlers{
		OnReady: func(ctx context.Context) { calledUnexpectedly = true },
	}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	env, _ := json.Marshal(Envelope{Type: "bogusKind"})
	_ = tp.Feed(ctx, env)

	time.Sleep(50 * time.Millisecond)
	if calledUnexpectedly {
		t.Error("unknown kind should not have triggered any handler")
	}
}

func TestDispatchDropsDuplicateWithinWindow(t *testing.T) {
	tp := transport.NewInProcess(16, 16)
	var count int
	var mu sync.Mutex
	r := New(tp, Handlers{
		OnSendMessage: func(ctx context.Context, p SendMessagePayload) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	frame := envelopeJSON(t, InSendMessage, SendMessagePayload{Text: "hello"})
	_ = tp.Feed(ctx, frame)
	_ = tp.Feed(ctx, frame)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected duplicate frame to be dropped, handler called %d times", count)
	}
}

func TestEmitRejectsUnknownOutboundKind(t *testing.T) {
	tp := transport.NewInProcess(16, 16)
	r := New(tp, Handlers{}, testLogger(t))

	err := r.Emit(context.Background(), OutboundKind("madeUpKind"), struct{}{})
	if err == nil {
		t.Error("expected an error for an unrecognized outbound kind")
	}
}

func TestEmitDeliversEnvelope(t *testing.T) {
	tp := transport.NewInProcess(16, 16)
	r := New(tp, Handlers{}, testLogger(t))

	if err := r.Emit(context.Background(), OutStatus, StatusPayload{Message: "connected"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case data := <-tp.Outbound():
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type != string(OutStatus) {
			t.Errorf("got type %q, want %q", env.Type, OutStatus)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestEmitCoalescesToolUpdates(t *testing.T) {
	tp := transport.NewInProcess(16, 16)
	r := New(tp, Handlers{}, testLogger(t))
	ctx := context.Background()

	_ = r.Emit(ctx, OutToolUpdate, ToolUpdatePayload{ToolCallID: "t1", ProgressMessage: "step 1"})
	_ = r.Emit(ctx, OutToolUpdate, ToolUpdatePayload{ToolCallID: "t1", ProgressMessage: "step 2"})
	_ = r.Emit(ctx, OutToolUpdate, ToolUpdatePayload{ToolCallID: "t1", ProgressMessage: "step 3"})

	select {
	case data := <-tp.Outbound():
		var env Envelope
		_ = json.Unmarshal(data, &env)
		var p ToolUpdatePayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.ProgressMessage != "step 3" {
			t.Errorf("expected coalesced payload to carry the latest update, got %q", p.ProgressMessage)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no coalesced message delivered")
	}

	select {
	case data := <-tp.Outbound():
		t.Fatalf("expected exactly one coalesced delivery, got a second: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmitCoalescesUpdateSessions(t *testing.T) {
	tp := transport.NewInProcess(16, 16)
	r := New(tp, Handlers{}, testLogger(t))
	ctx := context.Background()

	_ = r.Emit(ctx, OutUpdateSessions, UpdateSessionsPayload{WorkSessionID: "w1"})
	_ = r.Emit(ctx, OutUpdateSessions, UpdateSessionsPayload{WorkSessionID: "w1", PlanSessionID: "p1"})
	_ = r.Emit(ctx, OutUpdateSessions, UpdateSessionsPayload{WorkSessionID: "w2", PlanSessionID: "p1"})

	select {
	case data := <-tp.Outbound():
		var env Envelope
		_ = json.Unmarshal(data, &env)
		var p UpdateSessionsPayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.WorkSessionID != "w2" || p.PlanSessionID != "p1" {
			t.Errorf("expected coalesced payload to carry the latest session ids, got %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no coalesced message delivered")
	}

	select {
	case data := <-tp.Outbound():
		t.Fatalf("expected exactly one coalesced delivery, got a second: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObservabilityCountsTrackBothDirections(t *testing.T) {
	tp := transport.NewInProcess(16, 16)
	r := New(tp, Handlers{OnReady: func(ctx context.Context) {}}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	_ = tp.Feed(ctx, envelopeJSON(t, InReady, ReadyPayload{}))
	time.Sleep(50 * time.Millisecond)
	_ = r.Emit(ctx, OutStatus, StatusPayload{Message: "ok"})

	inbound, outbound := r.Counts()
	if inbound[string(InReady)] != 1 {
		t.Errorf("expected 1 inbound ready, got %d", inbound[string(InReady)])
	}
	if outbound[string(OutStatus)] != 1 {
		t.Errorf("expected 1 outbound status, got %d", outbound[string(OutStatus)])
	}
}
