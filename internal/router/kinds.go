// Package router implements the bidirectional, type-tagged RPC layer
// between the privileged host process and the sandboxed view process. The
// envelope shape is grounded on pkg/websocket.Message (discriminant +
// json.RawMessage payload); the dispatch mechanism deliberately does NOT
// reuse pkg/websocket.Dispatcher's map[string]Handler, since a switch over a
// closed set of kinds is the one place this port overrides teacher idiom —
// see the design notes on dynamic type-guarded dispatch.
package router

import "encoding/json"

// InboundKind enumerates the eleven view→host message kinds.
type InboundKind string

const (
	InSendMessage     InboundKind = "sendMessage"
	InAbort           InboundKind = "abort"
	InReady           InboundKind = "ready"
	InSwitchSession   InboundKind = "switchSession"
	InNewSession      InboundKind = "newSession"
	InViewPlan        InboundKind = "viewPlan"
	InViewDiff        InboundKind = "viewDiff"
	InTogglePlanMode  InboundKind = "togglePlanMode"
	InAcceptPlan      InboundKind = "acceptPlan"
	InRejectPlan      InboundKind = "rejectPlan"
	InPickFiles       InboundKind = "pickFiles"
)

// OutboundKind enumerates the ~20 host→view message kinds.
type OutboundKind string

const (
	OutInit                 OutboundKind = "init"
	OutUserEcho              OutboundKind = "userEcho"
	OutAssistantMessage      OutboundKind = "assistantMessage"
	OutReasoningMessage      OutboundKind = "reasoningMessage"
	OutToolStart             OutboundKind = "toolStart"
	OutToolUpdate            OutboundKind = "toolUpdate"
	OutStreamChunk           OutboundKind = "streamChunk"
	OutStreamEnd             OutboundKind = "streamEnd"
	OutClear                 OutboundKind = "clear"
	OutSessionStatus         OutboundKind = "sessionStatus"
	OutUpdateSessions        OutboundKind = "updateSessions"
	OutThinking              OutboundKind = "thinking"
	OutResetPlanMode         OutboundKind = "resetPlanMode"
	OutWorkspacePath         OutboundKind = "workspacePath"
	OutActiveFileChanged     OutboundKind = "activeFileChanged"
	OutDiffAvailable         OutboundKind = "diffAvailable"
	OutAppendMessage         OutboundKind = "appendMessage"
	OutAttachmentValidation  OutboundKind = "attachmentValidation"
	OutStatus                OutboundKind = "status"
	OutUsageInfo             OutboundKind = "usageInfo"
)

// inboundKinds and outboundKinds back the type-guard that validates a
// message's discriminant against the enumerated set; unknown types are
// logged and dropped rather than dispatched.
var inboundKinds = map[InboundKind]bool{
	InSendMessage: true, InAbort: true, InReady: true, InSwitchSession: true,
	InNewSession: true, InViewPlan: true, InViewDiff: true, InTogglePlanMode: true,
	InAcceptPlan: true, InRejectPlan: true, InPickFiles: true,
}

var outboundKinds = map[OutboundKind]bool{
	OutInit: true, OutUserEcho: true, OutAssistantMessage: true, OutReasoningMessage: true,
	OutToolStart: true, OutToolUpdate: true, OutStreamChunk: true, OutStreamEnd: true,
	OutClear: true, OutSessionStatus: true, OutUpdateSessions: true, OutThinking: true,
	OutResetPlanMode: true, OutWorkspacePath: true, OutActiveFileChanged: true,
	OutDiffAvailable: true, OutAppendMessage: true, OutAttachmentValidation: true,
	OutStatus: true, OutUsageInfo: true,
}

// IsValidInboundKind reports whether kind is one of the eleven recognized
// view→host kinds.
func IsValidInboundKind(kind InboundKind) bool { return inboundKinds[kind] }

// IsValidOutboundKind reports whether kind is one of the recognized
// host→view kinds.
func IsValidOutboundKind(kind OutboundKind) bool { return outboundKinds[kind] }

// Envelope is the wire shape for every message crossing the host↔view
// channel in either direction: a discriminant plus an opaque payload. No
// envelope ever carries a raw host resource (file handle, unconverted URI).
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Inbound payload shapes (view→host) ---

type SendMessagePayload struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Path        string `json:"path"`
	ContentType string `json:"contentType,omitempty"`
}

type SwitchSessionPayload struct {
	SessionID string `json:"sessionId"`
}

type ViewPlanPayload struct{}
type ViewDiffPayload struct {
	ToolCallID string `json:"toolCallId"`
}
type ReadyPayload struct{}
type NewSessionPayload struct{}
type TogglePlanModePayload struct{}
type AcceptPlanPayload struct{}
type RejectPlanPayload struct{}
type AbortPayload struct{}
type PickFilesPayload struct {
	Paths []string `json:"paths"`
}

// --- Outbound payload shapes (host→view) ---

type InitPayload struct {
	SessionID      string            `json:"sessionId,omitempty"`
	SessionActive  bool              `json:"sessionActive"`
	Messages       []InitMessage     `json:"messages"`
	PlanMode       bool              `json:"planMode"`
	WorkspacePath  string            `json:"workspacePath"`
	ActiveFilePath string            `json:"activeFilePath,omitempty"`
}

type InitMessage struct {
	Role       string `json:"role"`
	Kind       string `json:"kind"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
	ToolName   string `json:"toolName,omitempty"`
	ToolStatus string `json:"toolStatus,omitempty"`
}

type UserEchoPayload struct {
	Text string `json:"text"`
}

type AssistantMessagePayload struct {
	Content string `json:"content"`
}

type ReasoningMessagePayload struct {
	Content string `json:"content"`
}

type ToolStartPayload struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Intent     string `json:"intent,omitempty"`
}

type ToolUpdatePayload struct {
	ToolCallID      string `json:"toolCallId"`
	Status          string `json:"status"`
	ProgressMessage string `json:"progressMessage,omitempty"`
}

type StreamChunkPayload struct {
	Delta string `json:"delta"`
}

type StreamEndPayload struct{}
type ClearPayload struct{}

type SessionStatusPayload struct {
	Status string `json:"status"`
}

type UpdateSessionsPayload struct {
	WorkSessionID string `json:"workSessionId,omitempty"`
	PlanSessionID string `json:"planSessionId,omitempty"`
}

type ThinkingPayload struct {
	Active bool `json:"active"`
}

type ResetPlanModePayload struct{}

type WorkspacePathPayload struct {
	Path string `json:"path"`
}

type ActiveFileChangedPayload struct {
	Path string `json:"path"`
}

type DiffAvailablePayload struct {
	ToolCallID string          `json:"toolCallId"`
	BeforeURI  string          `json:"beforeUri"`
	AfterURI   string          `json:"afterUri"`
	Title      string          `json:"title"`
	Lines      []InlineDiffLine `json:"lines"`
	Truncated  bool            `json:"truncated"`
	TotalLines int             `json:"totalLines"`
}

type InlineDiffLine struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AppendMessagePayload struct {
	Role    string `json:"role"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type AttachmentValidationPayload struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type StatusPayload struct {
	Message string `json:"message"`
}

type UsageInfoPayload struct {
	CurrentTokens int `json:"currentTokens"`
	LimitTokens   int `json:"limitTokens"`
}
