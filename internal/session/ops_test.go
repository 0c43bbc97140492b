package session

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/core/internal/agentproto"
	"github.com/kandev/core/internal/apperrors"
)

func startSessionFor(t *testing.T, mgr *Manager, server *fakeAgentServer, sessionID string) {
	t.Helper()
	server.setResponder(func(method string, _ json.RawMessage) (interface{}, *agentproto.RPCError) {
		if method == agentproto.MethodCreateSession {
			return agentproto.CreateSessionResult{SessionID: sessionID}, nil
		}
		return nil, &agentproto.RPCError{Code: agentproto.ErrCodeMethodNotFound, Message: "unexpected"}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mgr.Start(ctx, ""))
}

func TestSendMessageHappyPath(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	startSessionFor(t, mgr, server, "s1")

	var gotPrompt string
	server.setResponder(func(method string, params json.RawMessage) (interface{}, *agentproto.RPCError) {
		if method != agentproto.MethodSendAndWait {
			return nil, &agentproto.RPCError{Code: agentproto.ErrCodeMethodNotFound, Message: "unexpected"}
		}
		var p agentproto.SendAndWaitParams
		_ = json.Unmarshal(params, &p)
		gotPrompt = p.Prompt
		return struct{}{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mgr.SendMessage(ctx, "hello", nil, false))
	assert.Equal(t, "hello", gotPrompt, "no active file context should be injected")
}

func TestSendMessageIncludesActiveFileContext(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	startSessionFor(t, mgr, server, "s1")
	mgr.state.SetActiveFile("main.go")

	var gotPrompt string
	server.setResponder(func(method string, params json.RawMessage) (interface{}, *agentproto.RPCError) {
		if method != agentproto.MethodSendAndWait {
			return nil, &agentproto.RPCError{Code: agentproto.ErrCodeMethodNotFound, Message: "unexpected"}
		}
		var p agentproto.SendAndWaitParams
		_ = json.Unmarshal(params, &p)
		gotPrompt = p.Prompt
		return struct{}{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mgr.SendMessage(ctx, "fix this", nil, false))
	assert.Equal(t, "[active file: main.go]\nfix this", gotPrompt)
}

func TestSendMessageWithoutActiveSessionFails(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	err := mgr.SendMessage(context.Background(), "hi", nil, false)
	assert.ErrorIs(t, err, apperrors.ErrNoActiveSession)
}

func TestSendMessageRecoversFromSessionExpiryOnce(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	startSessionFor(t, mgr, server, "expired-1")

	var sendAttempts atomic.Int32
	var createCalls atomic.Int32
	server.setResponder(func(method string, params json.RawMessage) (interface{}, *agentproto.RPCError) {
		switch method {
		case agentproto.MethodSendAndWait:
			n := sendAttempts.Add(1)
			if n == 1 {
				return nil, &agentproto.RPCError{Code: agentproto.ErrCodeInternalError, Message: "session not found"}
			}
			return struct{}{}, nil
		case agentproto.MethodCreateSession:
			createCalls.Add(1)
			return agentproto.CreateSessionResult{SessionID: "fresh-2"}, nil
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.SendMessage(ctx, "retry me", nil, false))
	assert.EqualValues(t, 2, sendAttempts.Load(), "original attempt plus exactly one retry")
	assert.EqualValues(t, 1, createCalls.Load(), "exactly one fresh session created after expiry")
	assert.Equal(t, "fresh-2", mgr.activeSessionID)
}

func TestSendMessageFailsAfterSecondExpiryWithoutRetryLoop(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	startSessionFor(t, mgr, server, "expired-1")

	var sendAttempts atomic.Int32
	server.setResponder(func(method string, _ json.RawMessage) (interface{}, *agentproto.RPCError) {
		switch method {
		case agentproto.MethodSendAndWait:
			sendAttempts.Add(1)
			return nil, &agentproto.RPCError{Code: agentproto.ErrCodeInternalError, Message: "session not found"}
		case agentproto.MethodCreateSession:
			return agentproto.CreateSessionResult{SessionID: "fresh-2"}, nil
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := mgr.SendMessage(ctx, "retry me", nil, false)
	assert.ErrorIs(t, err, apperrors.ErrRetryAlreadyAttempted)
	assert.EqualValues(t, 2, sendAttempts.Load(), "no unbounded retry loop")
}

func TestSendMessageSwallowsIdleTimeout(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	startSessionFor(t, mgr, server, "s1")

	server.setResponder(func(method string, _ json.RawMessage) (interface{}, *agentproto.RPCError) {
		if method == agentproto.MethodSendAndWait {
			return nil, &agentproto.RPCError{Code: agentproto.ErrCodeInternalError, Message: "session.idle timeout exceeded"}
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, mgr.SendMessage(ctx, "hi", nil, false), "idle timeout should be swallowed, not surfaced")
}

func TestAbortMessageEmitsAbortedStatus(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	startSessionFor(t, mgr, server, "s1")

	var got StatusEvent
	mgr.Streams().Status.Subscribe(func(e StatusEvent) { got = e })

	require.NoError(t, mgr.AbortMessage(context.Background()))
	assert.Equal(t, "aborted", got.Code)
	assert.Equal(t, "s1", got.SessionID)
}

func TestAbortMessageWithoutActiveSessionFails(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	assert.ErrorIs(t, mgr.AbortMessage(context.Background()), apperrors.ErrNoActiveSession)
}

func TestStopIsIdempotentAndCleansUpState(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	startSessionFor(t, mgr, server, "s1")

	server.setResponder(func(method string, _ json.RawMessage) (interface{}, *agentproto.RPCError) {
		return struct{}{}, nil
	})

	mgr.toolExecutions["tc-1"] = agentproto.ToolExecutionStartParams{ToolCallID: "tc-1"}

	mgr.Stop()
	mgr.Stop()

	assert.Empty(t, mgr.toolExecutions)
}
