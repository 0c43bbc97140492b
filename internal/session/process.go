package session

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/core/internal/common/logger"
)

// agentProcess owns the spawned agent CLI subprocess and its stdio pipes.
// Grounded on launcher.Launcher's process lifecycle (exec.Cmd, exited
// channel, mutex-guarded stop), collapsed to a single long-lived process
// for the one agent subprocess THE CORE brokers.
type agentProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu       sync.Mutex
	exited   chan struct{}
	stopOnce sync.Once

	log *logger.Logger
}

// spawnAgentProcess starts binaryPath as a subprocess rooted at
// workspacePath, wiring its stdin/stdout for the JSON-RPC stream.
func spawnAgentProcess(ctx context.Context, binaryPath, workspacePath string, log *logger.Logger) (*agentProcess, error) {
	cmd := exec.CommandContext(ctx, binaryPath, "--acp")
	cmd.Dir = workspacePath

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open agent stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open agent stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn agent process %s: %w", binaryPath, err)
	}

	p := &agentProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exited: make(chan struct{}),
		log:    log.WithFields(zap.String("component", "agent-process"), zap.String("binary", binaryPath)),
	}

	go p.wait()
	return p, nil
}

func (p *agentProcess) wait() {
	err := p.cmd.Wait()
	if err != nil {
		p.log.Warn("agent process exited", zap.Error(err))
	} else {
		p.log.Info("agent process exited cleanly")
	}
	close(p.exited)
}

// Stop terminates the subprocess: it closes stdin, then kills the process
// at once unless it has already exited. Idempotent.
func (p *agentProcess) Stop() {
	p.stopOnce.Do(func() {
		p.stdin.Close()
		select {
		case <-p.exited:
			return
		default:
		}
		_ = p.cmd.Process.Kill()
	})
}

// Exited reports process termination.
func (p *agentProcess) Exited() <-chan struct{} { return p.exited }
