package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kandev/core/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	l, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("construct logger: %v", err)
	}
	return l
}

func TestCaptureByPathTier1ReplacesPending(t *testing.T) {
	svc, err := NewService("test", newTestLogger(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Cleanup()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("v1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := svc.CaptureByPath("edit", path, false); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if svc.PendingCount() != 1 {
		t.Fatalf("expected 1 pending snapshot, got %d", svc.PendingCount())
	}

	if err := os.WriteFile(path, []byte("v2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := svc.CaptureByPath("edit", path, false); err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if svc.PendingCount() != 1 {
		t.Fatalf("expected exactly 1 pending snapshot after replace, got %d", svc.PendingCount())
	}
}

func TestCaptureByPathTier2SkipsIfPendingExists(t *testing.T) {
	svc, err := NewService("test", newTestLogger(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Cleanup()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	_ = os.WriteFile(path, []byte("v1\n"), 0o600)

	if err := svc.CaptureByPath("edit", path, false); err != nil {
		t.Fatal(err)
	}
	firstSnapshot, _ := svc.pendingByPath[path]
	firstTemp := firstSnapshot.TempPath

	if err := svc.CaptureByPath("edit", path, true); err != nil {
		t.Fatal(err)
	}
	secondSnapshot := svc.pendingByPath[path]
	if secondSnapshot.TempPath != firstTemp {
		t.Error("tier 2 should have skipped capture when a pending snapshot already existed")
	}
}

func TestCorrelateMovesPendingToToolCallID(t *testing.T) {
	svc, err := NewService("test", newTestLogger(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Cleanup()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	_ = os.WriteFile(path, []byte("v1\n"), 0o600)

	if err := svc.CaptureByPath("edit", path, false); err != nil {
		t.Fatal(err)
	}
	if !svc.CorrelateToToolCallID(path, "t1") {
		t.Fatal("expected correlation to succeed")
	}
	if svc.PendingCount() != 0 {
		t.Error("expected pending map emptied after correlation")
	}
	if _, ok := svc.Lookup("t1"); !ok {
		t.Error("expected snapshot to be retrievable by tool call id")
	}
}

func TestCreateToolGetsEmptyPlaceholder(t *testing.T) {
	svc, err := NewService("test", newTestLogger(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Cleanup()

	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	if err := svc.CaptureByPath("create", path, false); err != nil {
		t.Fatalf("capture for not-yet-existing path: %v", err)
	}
	svc.CorrelateToToolCallID(path, "t2")
	snap, ok := svc.Lookup("t2")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.ExistedBefore {
		t.Error("expected ExistedBefore=false for a create-tool snapshot")
	}
	before, err := ReadBefore(snap)
	if err != nil {
		t.Fatalf("ReadBefore: %v", err)
	}
	if before != "" {
		t.Errorf("expected empty placeholder contents, got %q", before)
	}
}

func TestReleaseRemovesTempFile(t *testing.T) {
	svc, err := NewService("test", newTestLogger(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Cleanup()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	_ = os.WriteFile(path, []byte("v1\n"), 0o600)

	_ = svc.CaptureByPath("edit", path, false)
	svc.CorrelateToToolCallID(path, "t3")
	snap, _ := svc.Lookup("t3")
	tempPath := snap.TempPath

	svc.Release("t3")

	if _, ok := svc.Lookup("t3"); ok {
		t.Error("expected snapshot gone after Release")
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Error("expected temp file removed after Release")
	}
}

func TestCleanupRemovesTempDir(t *testing.T) {
	svc, err := NewService("test", newTestLogger(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	_ = os.WriteFile(path, []byte("v1\n"), 0o600)
	_ = svc.CaptureByPath("edit", path, false)

	tempDir := svc.tempDir
	svc.Cleanup()

	if _, err := os.Stat(tempDir); !os.IsNotExist(err) {
		t.Error("expected snapshot temp dir removed after Cleanup")
	}
}

func TestIsEditOrCreateTool(t *testing.T) {
	if !IsEditOrCreateTool("edit") || !IsEditOrCreateTool("create") {
		t.Error("expected edit/create to be recognized")
	}
	if IsEditOrCreateTool("read") {
		t.Error("read should not be treated as a file-mutating tool")
	}
}
