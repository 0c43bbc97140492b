package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/core/internal/agentproto"
	"github.com/kandev/core/internal/apperrors"
)

func TestEnablePlanModeSwitchesActiveSession(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	dir := t.TempDir()
	mgr.workspacePath = dir

	server.setResponder(func(method string, _ json.RawMessage) (interface{}, *agentproto.RPCError) {
		switch method {
		case agentproto.MethodCreateSession:
			return agentproto.CreateSessionResult{SessionID: "plan-1"}, nil
		}
		return nil, &agentproto.RPCError{Code: agentproto.ErrCodeMethodNotFound, Message: "unexpected"}
	})

	client, proc, err := mgr.dial(context.Background())
	require.NoError(t, err)
	mgr.client = client
	mgr.proc = proc
	mgr.workSessionID = "work-1"
	mgr.activeSessionID = "work-1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, mgr.EnablePlanMode(ctx))
	assert.Equal(t, ModePlan, mgr.Mode())
	assert.Equal(t, "plan-1", mgr.activeSessionID)
	assert.Equal(t, "work-1", mgr.workSessionID, "work session should remain allocated")
}

func TestEnablePlanModeFromPlanModeIsNoOp(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	mgr.mode = ModePlan

	err := mgr.EnablePlanMode(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotInWorkMode)
	assert.Equal(t, ModePlan, mgr.Mode(), "mode should be left unchanged")
}

func TestEnablePlanModeRollsBackOnFailure(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	dir := t.TempDir()
	mgr.workspacePath = dir

	server.setResponder(func(method string, _ json.RawMessage) (interface{}, *agentproto.RPCError) {
		return nil, &agentproto.RPCError{Code: agentproto.ErrCodeInternalError, Message: "create session failed"}
	})

	client, proc, err := mgr.dial(context.Background())
	require.NoError(t, err)
	mgr.client = client
	mgr.proc = proc
	mgr.workSessionID = "work-1"
	mgr.activeSessionID = "work-1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.Error(t, mgr.EnablePlanMode(ctx))
	assert.Equal(t, ModeWork, mgr.Mode(), "rollback should leave mode as work")
	assert.Equal(t, "work-1", mgr.activeSessionID, "rollback should leave the work session active")
}

func TestRejectPlanRestoresSnapshot(t *testing.T) {
	mgr, server := newTestManager(t, nil)
	dir := t.TempDir()
	mgr.workspacePath = dir
	planPath := filepath.Join(dir, "plan.md")
	require.NoError(t, os.WriteFile(planPath, []byte("original plan"), 0o600))

	server.setResponder(func(method string, _ json.RawMessage) (interface{}, *agentproto.RPCError) {
		if method == agentproto.MethodCreateSession {
			return agentproto.CreateSessionResult{SessionID: "plan-1"}, nil
		}
		return nil, nil
	})

	client, proc, err := mgr.dial(context.Background())
	require.NoError(t, err)
	mgr.client = client
	mgr.proc = proc
	mgr.workSessionID = "work-1"
	mgr.activeSessionID = "work-1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mgr.EnablePlanMode(ctx))

	require.NoError(t, os.WriteFile(planPath, []byte("agent rewrote the plan"), 0o600))

	require.NoError(t, mgr.RejectPlan(ctx))

	data, err := os.ReadFile(planPath)
	require.NoError(t, err)
	assert.Equal(t, "original plan", string(data))
	assert.Equal(t, ModeWork, mgr.Mode())
}

func TestRejectPlanOutsidePlanModeFails(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	assert.ErrorIs(t, mgr.RejectPlan(context.Background()), apperrors.ErrNotInPlanMode)
}
