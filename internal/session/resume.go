package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/core/internal/agentproto"
	"github.com/kandev/core/internal/apperrors"
	"github.com/kandev/core/internal/common/constants"
)

// modelPreference is the fixed fallback walk order tried when a requested
// model is rejected by the agent.
var modelPreference = []string{"claude-sonnet-4.6", "gpt-5", "gpt-4.1", "claude-opus-4.6"}

// resumeWithRecovery wraps resumeSession in a 30-second per-attempt
// deadline, making at most 3 attempts for retriable classes with a 1s and
// then a 2s backoff between them. session_expired and authentication skip
// retries entirely. A
// connection_closed failure rebuilds the client and is retried once more
// before giving up.
func (m *Manager) resumeWithRecovery(ctx context.Context, sessionID string, opts agentproto.SessionOptions) (string, error) {
	delay := constants.ResumeRetryBaseDelay
	recreatedOnce := false

	for attempt := 1; attempt <= constants.ResumeRetryMaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, constants.SessionResumeTimeout)
		result, callErr := m.resumeCall(attemptCtx, sessionID, opts)
		cancel()

		if callErr == nil {
			return result, nil
		}

		classified := apperrors.ClassifyError(callErr)
		m.log.Warn("resumeSession attempt failed",
			zap.Int("attempt", attempt), zap.String("class", string(classified.Class)), zap.Error(callErr))

		if classified.Class == apperrors.ClassSessionExpired || classified.Class == apperrors.ClassAuthentication {
			return "", callErr
		}

		if isConnectionClosed(callErr) && !recreatedOnce {
			recreatedOnce = true
			if err := m.recreateClient(ctx); err != nil {
				return "", fmt.Errorf("recreate client after connection_closed: %w", err)
			}
			continue
		}

		if !classified.Class.Retriable() || attempt == constants.ResumeRetryMaxAttempts {
			return "", callErr
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		delay *= 2
	}

	return "", fmt.Errorf("resumeSession %s: exhausted retries", sessionID)
}

func isConnectionClosed(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "connection_closed")
}

func (m *Manager) resumeCall(ctx context.Context, sessionID string, opts agentproto.SessionOptions) (string, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	resp, err := client.Call(ctx, agentproto.MethodResumeSession, agentproto.ResumeSessionParams{
		SessionID: sessionID,
		Options:   opts,
	})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error
	}

	var result agentproto.ResumeSessionResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("parse resumeSession result: %w", err)
	}
	if result.SessionID == "" {
		result.SessionID = sessionID
	}
	return result.SessionID, nil
}

// createSessionWithModelFallback creates a new session with opts.Model;
// on a model-rejection error it queries the agent's available models and
// walks modelPreference, substituting up to 3 times before giving up.
func (m *Manager) createSessionWithModelFallback(ctx context.Context, opts agentproto.SessionOptions) (string, error) {
	sessionID, err := m.createSessionCall(ctx, opts)
	if err == nil {
		return sessionID, nil
	}
	if !isModelRejection(err) {
		return "", err
	}

	models, listErr := m.listModels(ctx)
	if listErr != nil {
		return "", fmt.Errorf("create session failed (%w) and could not list models: %v", err, listErr)
	}

	substitutions := 0
	for _, candidate := range modelPreference {
		if substitutions >= constants.ModelFallbackMaxSubstitutions {
			break
		}
		if candidate == opts.Model || !containsModel(models, candidate) {
			continue
		}
		substitutions++
		opts.Model = candidate
		m.log.Info("retrying session creation with fallback model", zap.String("model", candidate))

		sessionID, err = m.createSessionCall(ctx, opts)
		if err == nil {
			return sessionID, nil
		}
		if !isModelRejection(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("createSession: exhausted %d model substitutions: %w", substitutions, err)
}

func (m *Manager) createSessionCall(ctx context.Context, opts agentproto.SessionOptions) (string, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	resp, err := client.Call(ctx, agentproto.MethodCreateSession, opts)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error
	}

	var result agentproto.CreateSessionResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("parse createSession result: %w", err)
	}
	return result.SessionID, nil
}

func (m *Manager) listModels(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	resp, err := client.Call(ctx, agentproto.MethodListModels, nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	var result agentproto.ListModelsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

func isModelRejection(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "model")
}

func containsModel(models []string, candidate string) bool {
	for _, m := range models {
		if m == candidate {
			return true
		}
	}
	return false
}

// recreateClient stops the current client gracefully, re-resolves the
// binary path, and spawns a fresh one. The caller retries its original
// operation against the new client.
func (m *Manager) recreateClient(ctx context.Context) error {
	m.mu.Lock()
	oldClient := m.client
	oldProc := m.proc
	m.mu.Unlock()

	if oldClient != nil {
		oldClient.Stop()
	}
	if oldProc != nil {
		oldProc.Stop()
	}

	client, proc, err := m.dial(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.client = client
	m.proc = proc
	m.mu.Unlock()
	m.wireClientHandlers(client)

	return nil
}
