// Package session implements the Session Manager: lifecycle, resumption,
// and work/plan dual-mode orchestration over a JSON-RPC stream to the agent
// subprocess. Grounded on internal/agent/acp.SessionManager's map-of-sessions
// shape, generalized from "many sessions, many instances" to "one
// subprocess, two cooperating session IDs (work and plan)".
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/core/internal/agentproto"
	"github.com/kandev/core/internal/apperrors"
	"github.com/kandev/core/internal/backendstate"
	"github.com/kandev/core/internal/common/logger"
	"github.com/kandev/core/internal/config"
	"github.com/kandev/core/internal/snapshot"

	"context"
)

// Mode is the Session Manager's work/plan state machine. The only legal
// transitions are work→plan (enablePlanMode) and plan→work
// (disablePlanMode, acceptPlan, rejectPlan); no other edge exists.
type Mode string

const (
	ModeWork Mode = "work"
	ModePlan Mode = "plan"
)

// procHandle is satisfied by *agentProcess; a narrow interface so tests can
// dial a fake process without spawning a real subprocess.
type procHandle interface {
	Stop()
}

// dialFunc resolves the agent binary, spawns it, and returns a started
// client plus a handle to stop it. Replaced in tests with an in-process
// fake so the Manager's orchestration logic can be exercised without a real
// subprocess.
type dialFunc func(ctx context.Context) (*agentproto.Client, procHandle, error)

// Manager is the Session Manager. One Manager brokers exactly one agent
// subprocess and the work/plan pair of session IDs layered over it.
type Manager struct {
	cfg           config.SessionConfig
	workspacePath string
	log           *logger.Logger
	state         *backendstate.State
	snapshots     *snapshot.Service
	streams       *Streams
	dial          dialFunc

	mu                  sync.Mutex
	mode                Mode
	client              *agentproto.Client
	proc                procHandle
	workSessionID       string
	planSessionID       string
	activeSessionID     string
	subscriptionGen     int64
	planSnapshotContent *string
	toolExecutions      map[string]agentproto.ToolExecutionStartParams
	pendingIntent       string
}

// New constructs a Manager. state and snapshots are threaded in by the
// caller (cmd/core) rather than reached for as globals, per the Singletons
// design note.
func New(cfg config.SessionConfig, workspacePath string, state *backendstate.State, snapshots *snapshot.Service, log *logger.Logger) *Manager {
	m := &Manager{
		cfg:            cfg,
		workspacePath:  workspacePath,
		log:            log.WithFields(zap.String("component", "session-manager")),
		state:          state,
		snapshots:      snapshots,
		streams:        newStreams(),
		mode:           ModeWork,
		toolExecutions: make(map[string]agentproto.ToolExecutionStartParams),
	}
	m.dial = m.defaultDial
	return m
}

// Streams exposes the ten narrow typed emitted streams for the Router to
// subscribe to.
func (m *Manager) Streams() *Streams { return m.streams }

// Mode reports the current work/plan state.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SessionIDs reports the currently allocated work and plan session IDs,
// either of which may be empty if that session hasn't been created yet.
func (m *Manager) SessionIDs() (work, plan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workSessionID, m.planSessionID
}

// defaultDial resolves the binary, spawns the subprocess, and starts a
// client over its stdio pipes.
func (m *Manager) defaultDial(ctx context.Context) (*agentproto.Client, procHandle, error) {
	path, err := resolveAgentPath(m.cfg.CLIPath, os.Executable)
	if err != nil {
		return nil, nil, err
	}

	proc, err := spawnAgentProcess(ctx, path, m.workspacePath, m.log)
	if err != nil {
		return nil, nil, err
	}

	client := agentproto.NewClient(proc.stdin, proc.stdout, m.log)
	client.Start(ctx)
	return client, proc, nil
}

// Start resolves the agent, spawns (or reconnects to) the subprocess, and
// either resumes resumeHint, auto-resumes the most recent matching session,
// or creates a new one. On success it emits status(ready); on failure it
// emits nothing and returns a classified error.
func (m *Manager) Start(ctx context.Context, resumeHint string) error {
	client, proc, err := m.dial(ctx)
	if err != nil {
		return apperrors.ClassifyError(err)
	}

	m.mu.Lock()
	m.client = client
	m.proc = proc
	m.mu.Unlock()
	m.wireClientHandlers(client)

	sessionID, err := m.establishSession(ctx, resumeHint)
	if err != nil {
		return apperrors.ClassifyError(err)
	}

	m.mu.Lock()
	m.mode = ModeWork
	m.workSessionID = sessionID
	m.activeSessionID = sessionID
	m.mu.Unlock()

	m.attachSubscription(sessionID)
	m.state.SetSession(sessionID, time.Now())
	m.streams.Status.Emit(StatusEvent{Code: "ready", SessionID: sessionID})
	return nil
}

// establishSession resumes resumeHint (or the most recently modified
// matching session if auto-resume is enabled), falling through to creating
// a brand new session with a model-fallback walk if resume is unavailable.
func (m *Manager) establishSession(ctx context.Context, resumeHint string) (string, error) {
	candidate := resumeHint
	if candidate == "" && m.cfg.ResumeLastSession {
		candidate = m.findMostRecentSession()
	}

	if candidate != "" {
		sessionID, err := m.resumeWithRecovery(ctx, candidate, m.workToolOptions())
		if err == nil {
			return sessionID, nil
		}
		m.log.Warn("resume failed, falling through to new session", zap.Error(err))
	}

	return m.createSessionWithModelFallback(ctx, m.workToolOptions())
}

// findMostRecentSession scans <home>/.copilot/session-state/ for the most
// recently modified session directory, honoring filterSessionsByFolder.
// Returns "" if none found.
func (m *Manager) findMostRecentSession() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	root := filepath.Join(home, ".copilot", "session-state")
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	var bestID string
	var bestModTime time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if m.cfg.FilterSessionsByFolder && !m.sessionAnchoredAtWorkspace(filepath.Join(root, e.Name())) {
			continue
		}
		if bestID == "" || info.ModTime().After(bestModTime) {
			bestID = e.Name()
			bestModTime = info.ModTime()
		}
	}
	return bestID
}

// sessionAnchoredAtWorkspace is a best-effort check; the events.jsonl
// layout does not guarantee a workspace marker, so failure to determine
// anchoring is treated as "not anchored here" rather than an error. It
// scans for the first line carrying a cwd or workspace field (typically the
// session's opening event) and compares it against m.workspacePath.
func (m *Manager) sessionAnchoredAtWorkspace(sessionDir string) bool {
	f, err := os.Open(filepath.Join(sessionDir, "events.jsonl"))
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var marker struct {
			Cwd       string `json:"cwd"`
			Workspace string `json:"workspace"`
		}
		if err := json.Unmarshal(line, &marker); err != nil {
			continue
		}

		anchor := marker.Cwd
		if anchor == "" {
			anchor = marker.Workspace
		}
		if anchor == "" {
			continue
		}
		return anchor == m.workspacePath
	}
	return false
}

// workToolOptions builds the SessionOptions for the work session from the
// configured permission surface.
func (m *Manager) workToolOptions() agentproto.SessionOptions {
	return m.toolOptionsFor(ModeWork, m.cfg.Model, "")
}

// toolOptionsFor builds SessionOptions for either mode, applying the Yolo
// allow-all override by clearing the allow list (empty meaning
// unrestricted) rather than by enumerating every known tool name.
func (m *Manager) toolOptionsFor(mode Mode, model, systemMsg string) agentproto.SessionOptions {
	allowTools := m.cfg.AllowTools
	if m.cfg.EffectiveAllowAllTools() {
		allowTools = nil
	}
	allowUrls := m.cfg.AllowUrls
	if m.cfg.EffectiveAllowAllUrls() {
		allowUrls = nil
	}

	// EffectiveAllowAllPaths is not applied here: AddDirs is additive (extra
	// directories beyond the workspace root), not a gate, so there is no
	// list value that means "unrestricted" the way nil does for
	// AllowTools/AllowUrls. See the Open Question decisions in DESIGN.md.
	return agentproto.SessionOptions{
		Mode:       string(mode),
		Model:      model,
		AllowTools: allowTools,
		DenyTools:  m.cfg.DenyTools,
		AllowUrls:  allowUrls,
		DenyUrls:   m.cfg.DenyUrls,
		AddDirs:    m.cfg.AddDirs,
		SystemMsg:  systemMsg,
	}
}
