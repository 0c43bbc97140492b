package backendstate

import (
	"testing"
	"time"
)

func TestSnapshotIsAtomicCopy(t *testing.T) {
	s := New("/w")
	s.SetSession("sess-1", time.Now())
	s.AppendMessage(Message{Role: RoleUser, Kind: KindUser, Content: "hi"})
	s.AppendMessage(Message{Role: RoleAssistant, Kind: KindAssistant, Content: "hello"})
	s.AppendMessage(Message{Role: RoleAssistant, Kind: KindAssistant, Content: "world"})

	snap := s.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("expected 3 messages in snapshot, got %d", len(snap.Messages))
	}

	// Mutating state after the snapshot was taken must not affect it.
	s.AppendMessage(Message{Role: RoleUser, Kind: KindUser, Content: "more"})
	if len(snap.Messages) != 3 {
		t.Error("snapshot was mutated by a later AppendMessage, snapshot is not atomic")
	}
}

func TestSetSessionClearsHistory(t *testing.T) {
	s := New("/w")
	s.AppendMessage(Message{Role: RoleUser, Kind: KindUser, Content: "old"})
	s.SetSession("sess-2", time.Now())

	snap := s.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("expected history cleared on session switch, got %d messages", len(snap.Messages))
	}
	if snap.SessionID != "sess-2" {
		t.Errorf("SessionID = %q, want sess-2", snap.SessionID)
	}
	if !snap.SessionActive {
		t.Error("expected SessionActive true after SetSession")
	}
}

func TestConcurrentAppendsDoNotRace(t *testing.T) {
	s := New("/w")
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			s.AppendMessage(Message{Role: RoleUser, Kind: KindUser, Content: "x"})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	if got := len(s.Snapshot().Messages); got != 10 {
		t.Errorf("expected 10 messages after concurrent appends, got %d", got)
	}
}
