package session

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kandev/core/internal/agentproto"
	"github.com/kandev/core/internal/backendstate"
	"github.com/kandev/core/internal/common/logger"
	"github.com/kandev/core/internal/config"
	"github.com/kandev/core/internal/snapshot"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("testLogger: %v", err)
	}
	return l
}

// responderFunc answers one RPC call by method name, returning either a
// result to marshal or an RPC error.
type responderFunc func(method string, params json.RawMessage) (interface{}, *agentproto.RPCError)

// fakeProc is a no-op procHandle that records whether Stop was called.
type fakeProc struct {
	stopped atomic.Bool
}

func (p *fakeProc) Stop() { p.stopped.Store(true) }

// fakeAgentServer answers requests written to its input pipe by a live
// agentproto.Client and writes responses back over its output pipe,
// exactly as the real subprocess would over stdio — except over in-memory
// pipes instead of a spawned process.
type fakeAgentServer struct {
	mu       sync.Mutex
	responder responderFunc
	pwOut    *io.PipeWriter
}

func (s *fakeAgentServer) setResponder(fn responderFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = fn
}

func (s *fakeAgentServer) run(prIn *io.PipeReader) {
	scanner := bufio.NewScanner(prIn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req agentproto.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue // notification, nothing to answer
		}

		s.mu.Lock()
		responder := s.responder
		s.mu.Unlock()

		var result interface{}
		var rpcErr *agentproto.RPCError
		if responder != nil {
			result, rpcErr = responder(req.Method, req.Params)
		}

		resultRaw, _ := json.Marshal(result)
		resp := agentproto.Response{JSONRPC: "2.0", ID: req.ID, Result: resultRaw, Error: rpcErr}
		line, _ := json.Marshal(resp)
		line = append(line, '\n')
		_, _ = s.pwOut.Write(line)
	}
}

// newFakeDial builds a dialFunc backed by in-memory pipes and a scriptable
// fakeAgentServer, so Manager orchestration can be exercised without
// spawning a real subprocess or running the Go toolchain.
func newFakeDial(t *testing.T, log *logger.Logger, responder responderFunc) (dialFunc, *fakeAgentServer) {
	t.Helper()
	prIn, pwIn := io.Pipe()
	prOut, pwOut := io.Pipe()

	server := &fakeAgentServer{responder: responder, pwOut: pwOut}
	go server.run(prIn)

	dial := func(ctx context.Context) (*agentproto.Client, procHandle, error) {
		client := agentproto.NewClient(pwIn, prOut, log)
		client.Start(ctx)
		return client, &fakeProc{}, nil
	}
	return dial, server
}

func newTestManager(t *testing.T, responder responderFunc) (*Manager, *fakeAgentServer) {
	t.Helper()
	log := testLogger(t)
	state := backendstate.New("/workspace")
	snaps, err := snapshot.NewService("test", log)
	if err != nil {
		t.Fatalf("snapshot.NewService: %v", err)
	}
	t.Cleanup(snaps.Cleanup)

	cfg := config.SessionConfig{Model: "claude-sonnet-4.6", ResumeLastSession: false}
	mgr := New(cfg, "/workspace", state, snaps, log)

	dial, server := newFakeDial(t, log, responder)
	mgr.dial = dial
	return mgr, server
}
