package session

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kandev/core/internal/agentproto"
)

func TestResumeWithRecoveryRetriesOnRetriableClassThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	mgr, server := newTestManager(t, nil)
	client, proc, err := mgr.dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	mgr.client = client
	mgr.proc = proc
	server.setResponder(func(method string, params json.RawMessage) (interface{}, *agentproto.RPCError) {
		if method != agentproto.MethodResumeSession {
			return nil, &agentproto.RPCError{Code: agentproto.ErrCodeMethodNotFound, Message: "unexpected method"}
		}
		n := calls.Add(1)
		if n < 2 {
			return nil, &agentproto.RPCError{Code: agentproto.ErrCodeInternalError, Message: "network timeout"}
		}
		var p agentproto.ResumeSessionParams
		_ = json.Unmarshal(params, &p)
		return agentproto.ResumeSessionResult{SessionID: p.SessionID}, nil
	})

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID, err := mgr.resumeWithRecovery(ctx, "r1", agentproto.SessionOptions{})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("resumeWithRecovery: %v", err)
	}
	if sessionID != "r1" {
		t.Errorf("sessionID = %q, want r1", sessionID)
	}
	if elapsed < 1*time.Second {
		t.Errorf("elapsed = %v, want at least the 1s backoff step before the second attempt", elapsed)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestResumeWithRecoverySkipsRetryOnSessionExpired(t *testing.T) {
	var calls atomic.Int32
	mgr, server := newTestManager(t, nil)
	client, proc, err := mgr.dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	mgr.client = client
	mgr.proc = proc
	server.setResponder(func(method string, _ json.RawMessage) (interface{}, *agentproto.RPCError) {
		calls.Add(1)
		return nil, &agentproto.RPCError{Code: agentproto.ErrCodeInternalError, Message: "session not found"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = mgr.resumeWithRecovery(ctx, "gone", agentproto.SessionOptions{})
	if err == nil {
		t.Fatal("expected error for session_expired class")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly 1 (no retry for session_expired)", calls.Load())
	}
}

func TestCreateSessionWithModelFallbackWalksPreferenceList(t *testing.T) {
	var requestedModels []string
	mgr, server := newTestManager(t, nil)
	client, proc, err := mgr.dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	mgr.client = client
	mgr.proc = proc

	server.setResponder(func(method string, params json.RawMessage) (interface{}, *agentproto.RPCError) {
		switch method {
		case agentproto.MethodCreateSession:
			var opts agentproto.SessionOptions
			_ = json.Unmarshal(params, &opts)
			requestedModels = append(requestedModels, opts.Model)
			if opts.Model == "gpt-5" {
				return agentproto.CreateSessionResult{SessionID: "accepted"}, nil
			}
			return nil, &agentproto.RPCError{Code: agentproto.ErrCodeInvalidParams, Message: "unknown model " + opts.Model}
		case agentproto.MethodListModels:
			return agentproto.ListModelsResult{Models: []string{"gpt-5", "gpt-4.1"}}, nil
		}
		return nil, &agentproto.RPCError{Code: agentproto.ErrCodeMethodNotFound, Message: "unexpected method"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sessionID, err := mgr.createSessionWithModelFallback(ctx, agentproto.SessionOptions{Model: "claude-opus-unknown"})
	if err != nil {
		t.Fatalf("createSessionWithModelFallback: %v", err)
	}
	if sessionID != "accepted" {
		t.Errorf("sessionID = %q, want accepted", sessionID)
	}
	if len(requestedModels) == 0 || requestedModels[len(requestedModels)-1] != "gpt-5" {
		t.Errorf("requestedModels = %v, want last entry gpt-5", requestedModels)
	}
}

func TestRecreateClientOnConnectionClosedSucceedsWithFreshDial(t *testing.T) {
	dialCount := 0
	mgr, _ := newTestManager(t, nil)

	mgr.dial = func(ctx context.Context) (*agentproto.Client, procHandle, error) {
		dialCount++
		dial, server := newFakeDial(t, testLogger(t), nil)
		server.setResponder(func(method string, params json.RawMessage) (interface{}, *agentproto.RPCError) {
			if method == agentproto.MethodResumeSession {
				var p agentproto.ResumeSessionParams
				_ = json.Unmarshal(params, &p)
				return agentproto.ResumeSessionResult{SessionID: p.SessionID}, nil
			}
			return nil, &agentproto.RPCError{Code: agentproto.ErrCodeMethodNotFound, Message: "unexpected"}
		})
		return dial(ctx)
	}

	client, proc, err := mgr.dial(context.Background())
	if err != nil {
		t.Fatalf("initial dial: %v", err)
	}
	mgr.client = client
	mgr.proc = proc

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.recreateClient(ctx); err != nil {
		t.Fatalf("recreateClient: %v", err)
	}
	if dialCount != 2 {
		t.Errorf("dialCount = %d, want 2 (one initial, one recreate)", dialCount)
	}

	sessionID, err := mgr.resumeCall(ctx, "after-recreate", agentproto.SessionOptions{})
	if err != nil {
		t.Fatalf("resumeCall after recreate: %v", err)
	}
	if sessionID != "after-recreate" {
		t.Errorf("sessionID = %q, want after-recreate", sessionID)
	}
}
