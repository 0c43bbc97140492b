package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/core/internal/agentproto"
	"github.com/kandev/core/internal/apperrors"
	"github.com/kandev/core/internal/backendstate"
)

// SendMessage enhances text with active-file context, submits it to the
// currently active session, and awaits turn completion. @path expansion and
// attachment-capability validation are both delegated to collaborators
// outside this package; this method only adds the active-file line.
//
// On a session_expired class of error the session is destroyed, a fresh one
// is recreated in the same mode with identical tool scoping, and the call
// is retried exactly once — isRetry guards against a second recursive retry.
func (m *Manager) SendMessage(ctx context.Context, text string, attachments []agentproto.Attachment, isRetry bool) error {
	m.state.AppendMessage(backendstate.Message{Role: backendstate.RoleUser, Kind: backendstate.KindUser, Content: text})

	prompt := m.withActiveFileContext(text)

	m.mu.Lock()
	sessionID := m.activeSessionID
	m.mu.Unlock()
	if sessionID == "" {
		return apperrors.ErrNoActiveSession
	}

	err := m.sendAndWait(ctx, sessionID, prompt, attachments)
	if err == nil {
		return nil
	}

	classified := apperrors.ClassifyError(err)
	if classified.Class == apperrors.ClassSessionExpired && !isRetry {
		if recreateErr := m.recreateSessionSameMode(ctx); recreateErr != nil {
			return fmt.Errorf("recreate session after expiry: %w", recreateErr)
		}
		return m.SendMessage(ctx, text, attachments, true)
	}
	if classified.Class == apperrors.ClassSessionExpired && isRetry {
		return apperrors.ErrRetryAlreadyAttempted
	}

	if apperrors.IsIdleTimeout(err.Error()) {
		m.log.Debug("swallowing idle timeout on sendMessage", zap.Error(err))
		return nil
	}

	return err
}

func (m *Manager) withActiveFileContext(text string) string {
	active := m.state.ActiveFile()
	if active == "" {
		return text
	}
	return fmt.Sprintf("[active file: %s]\n%s", active, text)
}

func (m *Manager) sendAndWait(ctx context.Context, sessionID, prompt string, attachments []agentproto.Attachment) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	resp, err := client.Call(ctx, agentproto.MethodSendAndWait, agentproto.SendAndWaitParams{
		SessionID:   sessionID,
		Prompt:      prompt,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// recreateSessionSameMode destroys the expired session and creates a fresh
// one in the same mode with identical tool scoping, reattaching the
// subscription to the new session ID.
func (m *Manager) recreateSessionSameMode(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	mode := m.mode
	expiredID := m.activeSessionID
	m.mu.Unlock()

	if expiredID != "" {
		_ = client.Notify(agentproto.MethodSessionDestroy, agentproto.SessionIDParams{SessionID: expiredID})
	}

	var opts agentproto.SessionOptions
	if mode == ModePlan {
		opts = m.planToolOptions()
	} else {
		opts = m.workToolOptions()
	}

	sessionID, err := m.createSessionWithModelFallback(ctx, opts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if mode == ModePlan {
		m.planSessionID = sessionID
	} else {
		m.workSessionID = sessionID
	}
	m.mu.Unlock()

	m.attachSubscription(sessionID)
	m.state.SetSession(sessionID, time.Now())
	return nil
}

// AbortMessage sends session.abort for the active session, a fire-and-forget
// notification rather than a request per the agent subprocess protocol.
func (m *Manager) AbortMessage(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	sessionID := m.activeSessionID
	m.mu.Unlock()

	if sessionID == "" {
		return apperrors.ErrNoActiveSession
	}
	if err := client.Notify(agentproto.MethodSessionAbort, agentproto.SessionIDParams{SessionID: sessionID}); err != nil {
		return err
	}
	m.streams.Status.Emit(StatusEvent{Code: "aborted", SessionID: sessionID})
	return nil
}

// Stop destroys the active session, then tears down the subprocess, the
// client, and every outstanding snapshot. Idempotent via the underlying
// client/process Stop calls.
func (m *Manager) Stop() {
	m.mu.Lock()
	client := m.client
	proc := m.proc
	activeSessionID := m.activeSessionID
	m.activeSessionID = ""
	m.mu.Unlock()

	if client != nil {
		if activeSessionID != "" {
			_ = client.Notify(agentproto.MethodSessionDestroy, agentproto.SessionIDParams{SessionID: activeSessionID})
		}
		_, _ = client.Call(context.Background(), agentproto.MethodClientStop, nil)
		client.Stop()
	}
	if proc != nil {
		proc.Stop()
	}

	m.mu.Lock()
	m.toolExecutions = make(map[string]agentproto.ToolExecutionStartParams)
	m.mu.Unlock()

	m.snapshots.Cleanup()
}
