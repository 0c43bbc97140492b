package session

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/kandev/core/internal/apperrors"
)

// bundledBinaryNames names the per-OS bundled agent CLI binary, checked
// alongside the running executable's own directory before falling back to
// a PATH search — the same three-tier shape as agents.Detect's
// file-exists/command-in-PATH strategies, collapsed into the priority order
// this spec specifies.
var bundledBinaryNames = map[string]string{
	"windows": "copilot-agent.exe",
	"darwin":  "copilot-agent",
	"linux":   "copilot-agent",
}

// resolveAgentPath resolves the agent CLI binary in priority order:
// explicitly configured path, then a bundled binary alongside the running
// executable, then a PATH search. Returns apperrors.ErrPathUnresolved if
// none match.
func resolveAgentPath(configuredPath string, executable func() (string, error)) (string, error) {
	if configuredPath != "" {
		return configuredPath, nil
	}

	name := bundledBinaryNames[runtime.GOOS]
	if name == "" {
		name = bundledBinaryNames["linux"]
	}

	if exe, err := executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", apperrors.ErrPathUnresolved
}
