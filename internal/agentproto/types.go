// Package agentproto implements the JSON-RPC-over-stdio transport to the
// agent subprocess: the wire-level request/response/notification framing is
// grounded on pkg/acp/jsonrpc.Client; the control-request/hook dance is
// grounded on pkg/claudecode.Client. Method and event names follow the
// vocabulary of the agent subprocess protocol this core consumes.
package agentproto

import "encoding/json"

// JSON-RPC 2.0 envelope types, identical in shape to pkg/acp/jsonrpc's.

// Request is an outbound JSON-RPC request awaiting a Response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the correlated reply to a Request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a fire-and-forget message in either direction.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError mirrors the standard JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// Standard JSON-RPC error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Outbound methods the core calls on the agent subprocess.
const (
	MethodResumeSession = "resumeSession"
	MethodCreateSession = "createSession"
	MethodSendAndWait   = "session.sendAndWait"
	MethodSessionAbort  = "session.abort"
	MethodSessionDestroy = "session.destroy"
	MethodClientStop    = "client.stop"
	MethodListModels    = "listModels"
)

// Inbound notification event names emitted by the agent subprocess.
const (
	EventAssistantMessage      = "assistant.message"
	EventAssistantReasoning    = "assistant.reasoning"
	EventAssistantMessageDelta = "assistant.message_delta"
	EventAssistantTurnStart    = "assistant.turn_start"
	EventAssistantTurnEnd      = "assistant.turn_end"
	EventAssistantUsage        = "assistant.usage"
	EventSessionUsageInfo      = "session.usage_info"
	EventSessionStart          = "session.start"
	EventSessionResume         = "session.resume"
	EventSessionIdle           = "session.idle"
	EventSessionError          = "session.error"
	EventToolExecutionStart    = "tool.execution_start"
	EventToolExecutionProgress = "tool.execution_progress"
	EventToolExecutionComplete = "tool.execution_complete"
)

// HookPreToolUse is the control-request method name the agent sends before
// executing a tool, round-tripped through onPreToolUse.
const HookPreToolUse = "hook.onPreToolUse"

// ToolRequest describes one tool the assistant intends to invoke, as carried
// in an assistant.message event's toolRequests array.
type ToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// AssistantMessageParams is the payload of an assistant.message event.
type AssistantMessageParams struct {
	SessionID    string        `json:"sessionId,omitempty"`
	Content      string        `json:"content"`
	ToolRequests []ToolRequest `json:"toolRequests,omitempty"`
	Intent       string        `json:"intent,omitempty"`
}

// AssistantReasoningParams is the payload of an assistant.reasoning event.
type AssistantReasoningParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content"`
}

// AssistantMessageDeltaParams carries an incremental text chunk.
type AssistantMessageDeltaParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Delta     string `json:"delta"`
}

// AssistantUsageParams carries a quota snapshot keyed by quota type.
type AssistantUsageParams struct {
	SessionID string                   `json:"sessionId,omitempty"`
	Quotas    map[string]QuotaSnapshot `json:"quotas"`
}

// QuotaSnapshot is one quota type's usage state.
type QuotaSnapshot struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// SessionUsageInfoParams carries current/limit token counts.
type SessionUsageInfoParams struct {
	SessionID     string `json:"sessionId,omitempty"`
	CurrentTokens int    `json:"currentTokens"`
	LimitTokens   int    `json:"limitTokens"`
}

// SessionErrorParams is the payload of a session.error event.
type SessionErrorParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// ToolExecutionStartParams is the payload of tool.execution_start.
type ToolExecutionStartParams struct {
	SessionID  string          `json:"sessionId,omitempty"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments"`
}

// ToolExecutionProgressParams is the payload of tool.execution_progress.
type ToolExecutionProgressParams struct {
	SessionID       string `json:"sessionId,omitempty"`
	ToolCallID      string `json:"toolCallId"`
	ProgressMessage string `json:"progressMessage"`
}

// ToolExecutionCompleteParams is the payload of tool.execution_complete.
type ToolExecutionCompleteParams struct {
	SessionID  string `json:"sessionId,omitempty"`
	ToolCallID string `json:"toolCallId"`
	Success    bool   `json:"success"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PreToolUseParams is the payload of the onPreToolUse hook control request.
type PreToolUseParams struct {
	ToolName string          `json:"toolName"`
	ToolArgs json.RawMessage `json:"toolArgs"`
}

// Attachment describes one file or blob submitted alongside a user prompt.
type Attachment struct {
	Path        string `json:"path,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Data        string `json:"data,omitempty"`
}

// SendAndWaitParams is the params of session.sendAndWait.
type SendAndWaitParams struct {
	SessionID   string       `json:"sessionId"`
	Prompt      string       `json:"prompt"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SessionOptions configures a createSession/resumeSession call: the tool
// scoping and model to request.
type SessionOptions struct {
	Mode       string   `json:"mode"`
	Model      string   `json:"model"`
	AllowTools []string `json:"allowTools,omitempty"`
	DenyTools  []string `json:"denyTools,omitempty"`
	AllowUrls  []string `json:"allowUrls,omitempty"`
	DenyUrls   []string `json:"denyUrls,omitempty"`
	AddDirs    []string `json:"addDirs,omitempty"`
	SystemMsg  string   `json:"systemMessage,omitempty"`
}

// CreateSessionResult is the result of createSession.
type CreateSessionResult struct {
	SessionID string `json:"sessionId"`
}

// ResumeSessionParams is the params of resumeSession.
type ResumeSessionParams struct {
	SessionID string         `json:"sessionId"`
	Options   SessionOptions `json:"options"`
}

// ResumeSessionResult is the result of resumeSession.
type ResumeSessionResult struct {
	SessionID string `json:"sessionId"`
}

// ListModelsResult enumerates models the agent currently accepts.
type ListModelsResult struct {
	Models []string `json:"models"`
}

// SessionIDParams is the params shape shared by session.abort and
// session.destroy: both only need to name the target session.
type SessionIDParams struct {
	SessionID string `json:"sessionId"`
}
