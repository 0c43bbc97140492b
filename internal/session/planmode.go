package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/core/internal/agentproto"
	"github.com/kandev/core/internal/apperrors"
)

// planModeTools is the 12-name whitelist a plan session is scoped to: six
// custom plan tools plus six safe read-only tools. Nothing file-mutating is
// reachable from plan mode.
var planModeTools = []string{
	reportIntentTool,
	"propose_plan",
	"update_plan",
	"add_plan_step",
	"remove_plan_step",
	"finalize_plan",
	"read",
	"grep",
	"glob",
	"ls",
	"search",
	"view",
}

const planSystemMessageSuffix = "You are in planning mode. Use the plan tools to draft and refine plan.md; you cannot edit or create files directly."

func (m *Manager) planFilePath() string {
	return filepath.Join(m.workspacePath, "plan.md")
}

// planToolOptions builds the restricted SessionOptions a plan session is
// constructed with.
func (m *Manager) planToolOptions() agentproto.SessionOptions {
	opts := m.toolOptionsFor(ModePlan, m.cfg.EffectivePlanModel(), planSystemMessageSuffix)
	opts.AllowTools = planModeTools
	opts.DenyTools = nil
	return opts
}

func (m *Manager) readPlanSnapshot() *string {
	data, err := os.ReadFile(m.planFilePath())
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

// EnablePlanMode snapshots plan.md, creates a sibling plan session scoped to
// the plan tool whitelist, and switches the active session to it. Any
// failure after the snapshot rolls the manager back to work mode with no
// plan-session subscription left attached.
func (m *Manager) EnablePlanMode(ctx context.Context) error {
	m.mu.Lock()
	if m.mode == ModePlan {
		m.mu.Unlock()
		m.log.Warn("enablePlanMode called while already in plan mode")
		return apperrors.ErrNotInWorkMode
	}
	workSessionID := m.workSessionID
	m.mu.Unlock()

	snapshot := m.readPlanSnapshot()

	planSessionID, err := m.createSessionWithModelFallback(ctx, m.planToolOptions())
	if err != nil {
		return fmt.Errorf("create plan session: %w", err)
	}

	m.mu.Lock()
	m.mode = ModePlan
	m.planSessionID = planSessionID
	m.planSnapshotContent = snapshot
	m.mu.Unlock()

	m.attachSubscription(planSessionID)
	m.state.SetSession(planSessionID, time.Now())
	m.state.SetPlanMode(true)
	m.streams.Status.Emit(StatusEvent{Code: "plan_mode_enabled", SessionID: planSessionID})

	_ = workSessionID // work session stays allocated, just detached from subscriptions
	return nil
}

// DisablePlanMode destroys the plan session and restores the work session
// as active, without touching the plan.md snapshot.
func (m *Manager) DisablePlanMode(ctx context.Context) error {
	return m.exitPlanMode(ctx, "plan_mode_disabled")
}

// AcceptPlan clears the pre-plan snapshot (keeping the edited plan.md),
// disables plan mode, and sends a synthetic message pointing the agent at
// plan.md for implementation.
func (m *Manager) AcceptPlan(ctx context.Context) error {
	m.mu.Lock()
	if m.mode != ModePlan {
		m.mu.Unlock()
		return apperrors.ErrNotInPlanMode
	}
	m.mu.Unlock()

	m.mu.Lock()
	m.planSnapshotContent = nil
	m.mu.Unlock()

	if err := m.exitPlanMode(ctx, "plan_accepted"); err != nil {
		return err
	}

	return m.SendMessage(ctx, fmt.Sprintf("Implement the plan described in %s.", m.planFilePath()), nil, false)
}

// RejectPlan restores plan.md from the pre-plan snapshot, if one was taken,
// and disables plan mode.
func (m *Manager) RejectPlan(ctx context.Context) error {
	m.mu.Lock()
	if m.mode != ModePlan {
		m.mu.Unlock()
		return apperrors.ErrNotInPlanMode
	}
	snapshot := m.planSnapshotContent
	m.mu.Unlock()

	if snapshot != nil {
		if err := os.WriteFile(m.planFilePath(), []byte(*snapshot), 0o600); err != nil {
			m.log.Warn("failed to restore plan.md snapshot", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.planSnapshotContent = nil
	m.mu.Unlock()

	return m.exitPlanMode(ctx, "plan_rejected")
}

// exitPlanMode is the shared tail of disablePlanMode/acceptPlan/rejectPlan:
// destroy the plan session, switch back to the work session, re-subscribe,
// and emit the caller's status code.
func (m *Manager) exitPlanMode(ctx context.Context, statusCode string) error {
	m.mu.Lock()
	if m.mode != ModePlan {
		m.mu.Unlock()
		return apperrors.ErrNotInPlanMode
	}
	client := m.client
	planSessionID := m.planSessionID
	workSessionID := m.workSessionID
	m.mu.Unlock()

	if planSessionID != "" {
		_ = client.Notify(agentproto.MethodSessionDestroy, agentproto.SessionIDParams{SessionID: planSessionID})
	}

	m.mu.Lock()
	m.mode = ModeWork
	m.planSessionID = ""
	m.mu.Unlock()

	m.attachSubscription(workSessionID)
	m.state.SetSession(workSessionID, time.Now())
	m.state.SetPlanMode(false)
	m.streams.Status.Emit(StatusEvent{Code: statusCode, SessionID: workSessionID})
	return nil
}
