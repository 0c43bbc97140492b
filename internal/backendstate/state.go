// Package backendstate holds the single host-side source of truth the view
// is a pure projection of. Per the design note on singletons, BackendState
// is never a package-level global here — it is explicitly constructed and
// threaded through the Session Manager and Router constructors, so tests get
// per-test instances instead of sharing mutable global state.
package backendstate

import (
	"sync"
	"time"
)

// MessageRole is who a Message is attributed to.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageKind further distinguishes assistant-role content.
type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
	KindReasoning MessageKind = "reasoning"
	KindTool      MessageKind = "tool"
	KindError     MessageKind = "error"
)

// Message is one entry in the conversation history. Never mutated after
// append; cleared in bulk on session switch or reset.
type Message struct {
	Role       MessageRole
	Kind       MessageKind
	Content    string
	Timestamp  time.Time
	ToolName   string
	ToolStatus string
}

// State is the host-side source of truth for what the view shows.
type State struct {
	mu sync.RWMutex

	sessionID        string
	sessionActive    bool
	messages         []Message
	planMode         bool
	workspacePath    string
	activeFilePath   string
	sessionStartedAt time.Time
}

// New constructs an empty State for the given workspace.
func New(workspacePath string) *State {
	return &State{workspacePath: workspacePath}
}

// Snapshot is an immutable, atomic copy of State suitable for sending to the
// view as a single init payload.
type Snapshot struct {
	SessionID        string
	SessionActive    bool
	Messages         []Message
	PlanMode         bool
	WorkspacePath    string
	ActiveFilePath   string
	SessionStartedAt time.Time
}

// Snapshot returns an atomic copy of the current state. This is the sole
// mechanism the view depends on to reconstruct itself — see Init payload
// ordering in the concurrency model.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)

	return Snapshot{
		SessionID:        s.sessionID,
		SessionActive:    s.sessionActive,
		Messages:         msgs,
		PlanMode:         s.planMode,
		WorkspacePath:    s.workspacePath,
		ActiveFilePath:   s.activeFilePath,
		SessionStartedAt: s.sessionStartedAt,
	}
}

// SetSession records a new active session, clearing the prior message
// history (session switch/reset per the Message lifecycle invariant).
func (s *State) SetSession(sessionID string, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = sessionID
	s.sessionActive = true
	s.sessionStartedAt = startedAt
	s.messages = nil
}

// ClearSession marks no session active, without touching history (used on
// stop, where the view transitions to an empty state rather than a reset).
func (s *State) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionActive = false
}

// AppendMessage adds a new message to the ordered history. Never mutates an
// existing entry.
func (s *State) AppendMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// SetPlanMode updates the plan-mode flag.
func (s *State) SetPlanMode(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planMode = active
}

// SetActiveFile records the workspace-relative path of the file currently in
// focus, used to enhance outgoing prompts with active-file context.
func (s *State) SetActiveFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeFilePath = path
}

// ActiveFile returns the currently focused file path.
func (s *State) ActiveFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeFilePath
}

// SessionID returns the current session ID, empty if none.
func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// WorkspacePath returns the workspace root this state is anchored to.
func (s *State) WorkspacePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspacePath
}
