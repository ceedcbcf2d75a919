package session

import (
	"testing"
	"time"

	"github.com/chatmem/chatmem/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDiscussion(t *testing.T) {
	s := openTestStore(t)
	m := NewManager(s, time.Hour)

	token, id, err := m.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	if token == "" {
		t.Error("empty session token")
	}
	if id == 0 {
		t.Error("discussion id = 0")
	}

	d, err := s.GetDiscussion(id)
	if err != nil {
		t.Fatalf("GetDiscussion: %v", err)
	}
	if d.SessionToken != token {
		t.Errorf("stored token %q, want %q", d.SessionToken, token)
	}
	if m.Token() != token || m.DiscussionID() != id {
		t.Errorf("manager state token=%q id=%d", m.Token(), m.DiscussionID())
	}
}

func TestDoubleOpenRejected(t *testing.T) {
	s := openTestStore(t)
	m := NewManager(s, time.Hour)

	if _, _, err := m.Open(); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	if _, _, err := m.Open(); err == nil {
		t.Error("second Open should fail while a session is live")
	}
}

func TestHeartbeatTouchesEndTime(t *testing.T) {
	s := openTestStore(t)
	m := NewManager(s, 20*time.Millisecond)

	_, id, err := m.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for {
		d, err := s.GetDiscussion(id)
		if err != nil {
			t.Fatalf("GetDiscussion: %v", err)
		}
		if !d.EndTime.IsZero() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("heartbeat never touched endtime")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseFinalizesAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	m := NewManager(s, time.Hour)

	_, id, err := m.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d, err := s.GetDiscussion(id)
	if err != nil {
		t.Fatalf("GetDiscussion: %v", err)
	}
	if d.EndTime.IsZero() {
		t.Error("endtime not set by Close")
	}

	// A closed manager no longer reports session identity.
	if m.Token() != "" {
		t.Errorf("token after Close = %q, want empty", m.Token())
	}
	if m.DiscussionID() != 0 {
		t.Errorf("discussion id after Close = %d, want 0", m.DiscussionID())
	}

	// Second close is a no-op, not an error.
	if err := m.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestResume(t *testing.T) {
	s := openTestStore(t)
	m := NewManager(s, time.Hour)

	token, id, err := m.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2 := NewManager(s, time.Hour)
	resumedID, err := m2.Resume(token)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	t.Cleanup(func() { m2.Close() })

	if resumedID != id {
		t.Errorf("resumed id = %d, want %d", resumedID, id)
	}
	if m2.Token() != token {
		t.Errorf("token = %q, want %q", m2.Token(), token)
	}

	if _, err := m2.Resume(token); err == nil {
		t.Error("Resume while live should fail")
	}

	m3 := NewManager(s, time.Hour)
	if _, err := m3.Resume("no-such-token"); err == nil {
		t.Error("Resume with unknown token should fail")
	}
}

func TestReopenAfterClose(t *testing.T) {
	s := openTestStore(t)
	m := NewManager(s, time.Hour)

	tok1, _, err := m.Open()
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tok2, _, err := m.Open()
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	if tok1 == tok2 {
		t.Error("reopened session reused the old token")
	}
}
