package session

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/core/internal/agentproto"
	"github.com/kandev/core/internal/apperrors"
	"github.com/kandev/core/internal/backendstate"
	"github.com/kandev/core/internal/snapshot"
)

// attachSubscription bumps the subscription generation and records the
// newly active session ID. Any notification still in flight for a prior
// session is dropped in handleNotification's isStale session-ID check — this is
// the disposer composition the event-handler-lifetime design note calls
// for, expressed as a monotonic counter instead of a chain of closures,
// since the Manager has exactly one physical notification handler to ever
// tear down and re-attach.
func (m *Manager) attachSubscription(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptionGen++
	m.activeSessionID = sessionID
	return m.subscriptionGen
}

// wireClientHandlers installs the notification and hook-request handlers
// on a freshly dialed client. Called once per dial and again after any
// recreateClient.
func (m *Manager) wireClientHandlers(client *agentproto.Client) {
	client.SetNotificationHandler(m.handleNotification)
	client.SetRequestHandler(m.handleRequest)
}

// sessionTagged is satisfied by every agentproto event payload that carries
// a sessionId field, used to filter out stale events from a session that is
// no longer active (the dual-sessions-single-event-bus design note).
type sessionTagged struct {
	SessionID string `json:"sessionId"`
}

func (m *Manager) isStale(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	m.mu.Lock()
	active := m.activeSessionID
	m.mu.Unlock()
	return sessionID != active
}

// handleNotification is the client's single NotificationHandler, dispatched
// by method name. Each case decodes its own payload shape and forwards onto
// the matching narrow stream; no handler blocks on another.
func (m *Manager) handleNotification(method string, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic handling agent notification", zap.String("method", method), zap.Any("panic", r))
		}
	}()

	var tag sessionTagged
	_ = json.Unmarshal(params, &tag)
	if m.isStale(tag.SessionID) {
		m.log.Debug("dropping event from inactive session", zap.String("method", method), zap.String("session_id", tag.SessionID))
		return
	}

	switch method {
	case agentproto.EventAssistantMessage:
		m.handleAssistantMessage(params)
	case agentproto.EventAssistantReasoning:
		var p agentproto.AssistantReasoningParams
		if m.decode(method, params, &p) {
			m.streams.Reasoning.Emit(ReasoningEvent{Content: p.Content})
		}
	case agentproto.EventAssistantMessageDelta:
		// Deltas are not forwarded: no stream carries them, so nothing
		// reaches the Router's streamChunk kind from here. BackendState's
		// transcript is updated once the full message lands.
	case agentproto.EventAssistantUsage:
		// Quota snapshots are consumed by a future budget surface; no
		// stream is specified for them individually, usage is reported via
		// session.usage_info below.
	case agentproto.EventSessionUsageInfo:
		var p agentproto.SessionUsageInfoParams
		if m.decode(method, params, &p) {
			m.streams.UsageUpdate.Emit(UsageUpdateEvent{CurrentTokens: p.CurrentTokens, LimitTokens: p.LimitTokens})
		}
	case agentproto.EventSessionIdle:
		var p agentproto.SessionErrorParams
		_ = json.Unmarshal(params, &p)
		if apperrors.IsIdleTimeout(p.Message) {
			m.log.Debug("absorbing idle timeout", zap.String("message", p.Message))
			return
		}
	case agentproto.EventSessionError:
		var p agentproto.SessionErrorParams
		if m.decode(method, params, &p) {
			m.handleSessionError(p)
		}
	case agentproto.EventToolExecutionStart:
		var p agentproto.ToolExecutionStartParams
		if m.decode(method, params, &p) {
			m.handleToolExecutionStart(p)
		}
	case agentproto.EventToolExecutionProgress:
		var p agentproto.ToolExecutionProgressParams
		if m.decode(method, params, &p) {
			m.streams.ToolUpdate.Emit(ToolUpdateEvent{ToolCallID: p.ToolCallID, ProgressMessage: p.ProgressMessage})
		}
	case agentproto.EventToolExecutionComplete:
		var p agentproto.ToolExecutionCompleteParams
		if m.decode(method, params, &p) {
			m.handleToolExecutionComplete(p)
		}
	case agentproto.EventAssistantTurnStart, agentproto.EventAssistantTurnEnd,
		agentproto.EventSessionStart, agentproto.EventSessionResume:
		// No dedicated stream; turn/session lifecycle markers are implicit
		// in the request/response flow of sendMessage/start.
	default:
		m.log.Warn("unhandled agent notification", zap.String("method", method))
	}
}

func (m *Manager) decode(method string, raw json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		m.log.Error("failed to decode agent notification params", zap.String("method", method), zap.Error(err))
		return false
	}
	return true
}

// handleAssistantMessage implements Tier 1 of the snapshot pipeline
// (capture by path for every edit/create tool request) and forwards the
// message content onto the output stream.
func (m *Manager) handleAssistantMessage(raw json.RawMessage) {
	var p agentproto.AssistantMessageParams
	if !m.decode(agentproto.EventAssistantMessage, raw, &p) {
		return
	}

	m.streams.Output.Emit(OutputEvent{Content: p.Content})
	m.state.AppendMessage(backendstate.Message{
		Role: backendstate.RoleAssistant, Kind: backendstate.KindAssistant, Content: p.Content,
	})

	for _, req := range p.ToolRequests {
		if req.Name == reportIntentTool {
			if intent, ok := extractIntentArgument(req.Arguments); ok {
				m.mu.Lock()
				m.pendingIntent = intent
				m.mu.Unlock()
			}
			continue
		}
		if !snapshot.IsEditOrCreateTool(req.Name) {
			continue
		}
		path, ok := extractPathArgument(req.Arguments)
		if !ok {
			continue
		}
		if err := m.snapshots.CaptureByPath(req.Name, path, false); err != nil {
			m.log.Warn("tier 1 snapshot capture failed", zap.String("path", path), zap.Error(err))
		}
	}
}

// handleRequest answers the onPreToolUse hook round-trip: Tier 2 of the
// snapshot pipeline.
func (m *Manager) handleRequest(id interface{}, method string, params json.RawMessage) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if method != agentproto.HookPreToolUse {
		client.SendResponse(id, nil, &agentproto.RPCError{
			Code: agentproto.ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", method),
		})
		return
	}

	var p agentproto.PreToolUseParams
	if err := json.Unmarshal(params, &p); err != nil {
		client.SendResponse(id, nil, &agentproto.RPCError{Code: agentproto.ErrCodeInvalidParams, Message: "invalid params"})
		return
	}

	if snapshot.IsEditOrCreateTool(p.ToolName) {
		if path, ok := extractPathArgument(p.ToolArgs); ok {
			if err := m.snapshots.CaptureByPath(p.ToolName, path, true); err != nil {
				m.log.Warn("tier 2 snapshot capture failed", zap.String("path", path), zap.Error(err))
			}
		}
	}

	// The pipeline must not depend on hook success; always acknowledge.
	_ = client.SendResponse(id, struct{}{}, nil)
}

// handleToolExecutionStart implements Tier 3 primary (correlate) and
// fallback capture, and forwards toolStart.
func (m *Manager) handleToolExecutionStart(p agentproto.ToolExecutionStartParams) {
	m.mu.Lock()
	m.toolExecutions[p.ToolCallID] = p
	intent := m.pendingIntent
	m.pendingIntent = ""
	m.mu.Unlock()

	if snapshot.IsEditOrCreateTool(p.ToolName) {
		path, ok := extractPathArgument(p.Arguments)
		if ok {
			if !m.snapshots.CorrelateToToolCallID(path, p.ToolCallID) {
				m.log.Warn("tier 3 fallback snapshot capture", zap.String("path", path), zap.String("tool_call_id", p.ToolCallID))
				if err := m.snapshots.CaptureFallback(path, p.ToolCallID); err != nil {
					m.log.Warn("tier 3 fallback capture failed", zap.Error(err))
				}
			}
		}
	}

	m.streams.ToolStart.Emit(ToolStartEvent{ToolCallID: p.ToolCallID, ToolName: p.ToolName, Intent: intent})
}

// handleToolExecutionComplete computes and emits the inline diff on
// success, or releases the snapshot immediately on failure.
func (m *Manager) handleToolExecutionComplete(p agentproto.ToolExecutionCompleteParams) {
	m.mu.Lock()
	start, known := m.toolExecutions[p.ToolCallID]
	delete(m.toolExecutions, p.ToolCallID)
	m.mu.Unlock()

	m.streams.ToolComplete.Emit(ToolCompleteEvent{
		ToolCallID: p.ToolCallID, Success: p.Success, Result: p.Result, Error: p.Error,
	})

	if !known || !snapshot.IsEditOrCreateTool(start.ToolName) {
		return
	}

	snap, ok := m.snapshots.Lookup(p.ToolCallID)
	if !ok {
		return
	}

	if !p.Success {
		m.snapshots.Release(p.ToolCallID)
		return
	}

	before, err := snapshot.ReadBefore(snap)
	if err != nil {
		m.log.Warn("read before-snapshot failed", zap.Error(err))
		m.snapshots.Release(p.ToolCallID)
		return
	}
	after, err := snapshot.ReadAfter(snap)
	if err != nil {
		m.log.Warn("read after-contents failed", zap.Error(err))
		m.snapshots.Release(p.ToolCallID)
		return
	}

	diff := snapshot.ComputeInlineDiff(before, after)
	lines := make([]DiffLineEvent, len(diff.Lines))
	for i, l := range diff.Lines {
		lines[i] = DiffLineEvent{Type: string(l.Type), Text: l.Text}
	}

	m.streams.DiffAvailable.Emit(DiffAvailableEvent{
		ToolCallID: p.ToolCallID,
		BeforeURI:  snap.TempPath,
		AfterURI:   snap.OriginalPath,
		Title:      snap.OriginalPath,
		Lines:      lines,
		Truncated:  diff.Truncated,
		TotalLines: diff.TotalLines,
	})
	m.snapshots.Release(p.ToolCallID)
}

// handleSessionError classifies a session.error payload. session_expired
// emits a session_expired status event and does not create a replacement
// session; every other class is surfaced on the error stream.
func (m *Manager) handleSessionError(p agentproto.SessionErrorParams) {
	classified := apperrors.ClassifyError(fmt.Errorf("%s", p.Message))

	switch classified.Class {
	case apperrors.ClassSessionExpired:
		m.streams.Status.Emit(StatusEvent{Code: "session_expired", SessionID: p.SessionID})
	case apperrors.ClassAuthentication:
		variant := apperrors.ClassifyAuthVariant("GITHUB_COPILOT_TOKEN", "COPILOT_TOKEN")
		m.streams.Error.Emit(ErrorEvent{Message: fmt.Sprintf("authentication failed (%s): %s", variant, p.Message)})
	default:
		m.streams.Error.Emit(ErrorEvent{Message: p.Message})
	}
}

// extractPathArgument pulls a "path" field out of a tool's raw JSON
// arguments object; tools this pipeline tracks (edit/create/write) are all
// specified to carry one.
func extractPathArgument(raw json.RawMessage) (string, bool) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &args); err != nil || args.Path == "" {
		return "", false
	}
	return args.Path, true
}

// reportIntentTool is the plan-mode tool name a report_intent request
// carries in an assistant.message's toolRequests array. Its argument is
// stashed on the Manager and consumed by the very next
// handleToolExecutionStart, per the "most recent report_intent call in the
// same assistant.message, cleared after first use" scoping rule.
const reportIntentTool = "report_intent"

// extractIntentArgument pulls the "intent" field out of a report_intent
// tool request's raw JSON arguments object.
func extractIntentArgument(raw json.RawMessage) (string, bool) {
	var args struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal(raw, &args); err != nil || args.Intent == "" {
		return "", false
	}
	return args.Intent, true
}
