// Package main is the entry point for THE CORE: a long-lived interactive
// chat front-end brokering between a user, a locally-spawned agent CLI
// subprocess, and a sandboxed view. Grounded on
// apps/backend/cmd/kandev/main.go's config→logger→service→gateway→graceful
// shutdown shape, generalized from "many collaborating services behind one
// WebSocket gateway" to "one Session Manager behind one Router."
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/core/internal/agentproto"
	"github.com/kandev/core/internal/backendstate"
	"github.com/kandev/core/internal/common/logger"
	"github.com/kandev/core/internal/config"
	"github.com/kandev/core/internal/router"
	"github.com/kandev/core/internal/session"
	"github.com/kandev/core/internal/snapshot"
	"github.com/kandev/core/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workspacePath, err := os.Getwd()
	if err != nil {
		log.Fatal("failed to resolve workspace path", zap.Error(err))
	}

	state := backendstate.New(workspacePath)

	snapshots, err := snapshot.NewService(uuid.NewString(), log)
	if err != nil {
		log.Fatal("failed to initialize snapshot service", zap.Error(err))
	}
	defer snapshots.Cleanup()

	mgr := session.New(cfg.Session, workspacePath, state, snapshots, log)
	if err := mgr.Start(ctx, ""); err != nil {
		log.Fatal("failed to start session manager", zap.Error(err))
	}
	defer mgr.Stop()

	if cfg.Router.ListenAddr == "" {
		runInProcess(ctx, mgr, state, log)
		return
	}
	runOverWebSocket(ctx, cancel, cfg.Router.ListenAddr, mgr, state, log)
}

// buildHandlers wires the Router's inbound message callbacks onto the
// Session Manager's operations. r is a pointer to the Router variable the
// caller is about to assign: OnReady fires only once the Router is running,
// by which point *r is populated, so the indirection lets emitInit reach a
// Router that doesn't exist yet at the time Handlers themselves are built.
func buildHandlers(mgr *session.Manager, state *backendstate.State, r **router.Router) router.Handlers {
	return router.Handlers{
		OnSendMessage: func(ctx context.Context, p router.SendMessagePayload) {
			attachments := make([]agentproto.Attachment, len(p.Attachments))
			for i, a := range p.Attachments {
				attachments[i] = agentproto.Attachment{Path: a.Path, ContentType: a.ContentType}
			}
			_ = mgr.SendMessage(ctx, p.Text, attachments, false)
		},
		OnAbort: func(ctx context.Context) { _ = mgr.AbortMessage(ctx) },
		// ready must be the first inbound after view mount, and a
		// reconnecting view sends it again — every ready gets a fresh init
		// in response, never just the first one.
		OnReady: func(ctx context.Context) { emitInit(ctx, *r, state) },
		OnSwitchSession: func(ctx context.Context, sessionID string) {
		},
		OnNewSession:     func(ctx context.Context) { _ = mgr.Start(ctx, "") },
		OnViewPlan:       func(ctx context.Context) {},
		OnViewDiff:       func(ctx context.Context, toolCallID string) {},
		OnTogglePlanMode: func(ctx context.Context) { toggle(ctx, mgr) },
		OnAcceptPlan:     func(ctx context.Context) { _ = mgr.AcceptPlan(ctx) },
		OnRejectPlan:     func(ctx context.Context) { _ = mgr.RejectPlan(ctx) },
		OnPickFiles:      func(ctx context.Context, paths []string) {},
	}
}

func toggle(ctx context.Context, mgr *session.Manager) {
	if mgr.Mode() == session.ModePlan {
		_ = mgr.DisablePlanMode(ctx)
		return
	}
	_ = mgr.EnablePlanMode(ctx)
}

// wireStreams subscribes every narrow typed stream the Session Manager
// emits onto the matching outbound Router kind, translating event payload
// shapes to router payload shapes.
func wireStreams(ctx context.Context, r *router.Router, mgr *session.Manager) {
	s := mgr.Streams()

	s.Output.Subscribe(func(e session.OutputEvent) {
		_ = r.Emit(ctx, router.OutAssistantMessage, router.AssistantMessagePayload{Content: e.Content})
	})
	s.Reasoning.Subscribe(func(e session.ReasoningEvent) {
		_ = r.Emit(ctx, router.OutReasoningMessage, router.ReasoningMessagePayload{Content: e.Content})
	})
	s.Error.Subscribe(func(e session.ErrorEvent) {
		_ = r.Emit(ctx, router.OutStatus, router.StatusPayload{Message: e.Message})
	})
	s.Status.Subscribe(func(e session.StatusEvent) {
		_ = r.Emit(ctx, router.OutSessionStatus, router.SessionStatusPayload{Status: e.Code})
		if e.Code == "plan_mode_enabled" || e.Code == "plan_mode_disabled" {
			_ = r.Emit(ctx, router.OutResetPlanMode, router.ResetPlanModePayload{})
		}
		// Every status change is a candidate session-identity change (new
		// work session, plan session created/destroyed, recreate-after-
		// expiry); the Router debounces repeated updateSessions broadcasts
		// within its coalescing window, so emitting on every status is safe.
		work, plan := mgr.SessionIDs()
		_ = r.Emit(ctx, router.OutUpdateSessions, router.UpdateSessionsPayload{WorkSessionID: work, PlanSessionID: plan})
	})
	s.ToolStart.Subscribe(func(e session.ToolStartEvent) {
		_ = r.Emit(ctx, router.OutToolStart, router.ToolStartPayload{ToolCallID: e.ToolCallID, ToolName: e.ToolName, Intent: e.Intent})
	})
	s.ToolUpdate.Subscribe(func(e session.ToolUpdateEvent) {
		_ = r.Emit(ctx, router.OutToolUpdate, router.ToolUpdatePayload{ToolCallID: e.ToolCallID, Status: "running", ProgressMessage: e.ProgressMessage})
	})
	s.ToolComplete.Subscribe(func(e session.ToolCompleteEvent) {
		status := "complete"
		msg := e.Result
		if !e.Success {
			status = "failed"
			msg = e.Error
		}
		_ = r.Emit(ctx, router.OutToolUpdate, router.ToolUpdatePayload{ToolCallID: e.ToolCallID, Status: status, ProgressMessage: msg})
	})
	s.FileChange.Subscribe(func(e session.FileChangeEvent) {
		_ = r.Emit(ctx, router.OutActiveFileChanged, router.ActiveFileChangedPayload{Path: e.Path})
	})
	s.DiffAvailable.Subscribe(func(e session.DiffAvailableEvent) {
		lines := make([]router.InlineDiffLine, len(e.Lines))
		for i, l := range e.Lines {
			lines[i] = router.InlineDiffLine{Type: l.Type, Text: l.Text}
		}
		_ = r.Emit(ctx, router.OutDiffAvailable, router.DiffAvailablePayload{
			ToolCallID: e.ToolCallID, BeforeURI: e.BeforeURI, AfterURI: e.AfterURI,
			Title: e.Title, Lines: lines, Truncated: e.Truncated, TotalLines: e.TotalLines,
		})
	})
	s.UsageUpdate.Subscribe(func(e session.UsageUpdateEvent) {
		_ = r.Emit(ctx, router.OutUsageInfo, router.UsageInfoPayload{CurrentTokens: e.CurrentTokens, LimitTokens: e.LimitTokens})
	})
}

func emitInit(ctx context.Context, r *router.Router, state *backendstate.State) {
	snap := state.Snapshot()
	messages := make([]router.InitMessage, len(snap.Messages))
	for i, m := range snap.Messages {
		messages[i] = router.InitMessage{
			Role: string(m.Role), Kind: string(m.Kind), Content: m.Content,
			Timestamp: m.Timestamp.UnixMilli(), ToolName: m.ToolName, ToolStatus: m.ToolStatus,
		}
	}
	_ = r.Emit(ctx, router.OutInit, router.InitPayload{
		SessionID:      snap.SessionID,
		SessionActive:  snap.SessionActive,
		Messages:       messages,
		PlanMode:       snap.PlanMode,
		WorkspacePath:  snap.WorkspacePath,
		ActiveFilePath: snap.ActiveFilePath,
	})
}

func runInProcess(ctx context.Context, mgr *session.Manager, state *backendstate.State, log *logger.Logger) {
	var r *router.Router
	tp := transport.NewInProcess(256, 256)
	r = router.New(tp, buildHandlers(mgr, state, &r), log)
	wireStreams(ctx, r, mgr)

	go func() {
		if err := r.Run(ctx); err != nil {
			log.Warn("router stopped", zap.Error(err))
		}
	}()

	awaitShutdown(log)
	tp.Stop()
}

func runOverWebSocket(ctx context.Context, cancel context.CancelFunc, addr string, mgr *session.Manager, state *backendstate.State, log *logger.Logger) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Error("failed to upgrade view connection", zap.Error(err))
			return
		}

		var r *router.Router
		tp := transport.NewWebSocket(conn, log)
		r = router.New(tp, buildHandlers(mgr, state, &r), log)
		wireStreams(ctx, r, mgr)

		go func() {
			if err := r.Run(ctx); err != nil {
				log.Warn("router stopped", zap.Error(err))
			}
		}()
	})

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("view transport listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start view transport", zap.Error(err))
		}
	}()

	awaitShutdown(log)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("view transport shutdown error", zap.Error(err))
	}
	cancel()
}

func awaitShutdown(log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down core")
}
