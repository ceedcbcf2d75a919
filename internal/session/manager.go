// Package session manages the lifecycle of one discussion session: a row
// is created at open, its endtime is kept fresh by a background heartbeat
// while the process runs, and a final update marks the close.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatmem/chatmem/internal/storage"
)

// DefaultHeartbeatInterval is how often the live session's endtime is
// refreshed when no interval is configured.
const DefaultHeartbeatInterval = 60 * time.Second

// Manager owns at most one live session at a time.
type Manager struct {
	store    *storage.Store
	interval time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	token        string
	discussionID int64
	stop         chan struct{}
	done         chan struct{}
}

// NewManager creates a Manager over the given store. A non-positive
// interval falls back to DefaultHeartbeatInterval.
func NewManager(store *storage.Store, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Manager{
		store:    store,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Open creates a discussion row under a fresh session token and starts the
// heartbeat. Returns the token and the new discussion id.
func (m *Manager) Open() (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return "", 0, fmt.Errorf("session %s already open", m.token)
	}

	token := uuid.New().String()
	id, err := m.store.CreateDiscussion(token)
	if err != nil {
		return "", 0, fmt.Errorf("creating session discussion: %w", err)
	}

	m.token = token
	m.discussionID = id
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.heartbeat(token, m.stop, m.done)

	return token, id, nil
}

// Resume reattaches to an existing session token, restarting the heartbeat
// against its discussion row. Used when the process restarts while the chat
// layer still holds a token.
func (m *Manager) Resume(token string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return 0, fmt.Errorf("session %s already open", m.token)
	}

	id, err := m.store.DiscussionIDBySessionToken(token)
	if err != nil {
		return 0, fmt.Errorf("resuming session: %w", err)
	}

	m.token = token
	m.discussionID = id
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.heartbeat(token, m.stop, m.done)

	return id, nil
}

// Token returns the live session's token, or "" when no session is open.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// DiscussionID returns the live session's discussion id, or 0.
func (m *Manager) DiscussionID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discussionID
}

// heartbeat refreshes the session's endtime once per interval until
// stopped. Transient storage errors are logged and the loop continues.
func (m *Manager) heartbeat(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.store.TouchEndTime(token); err != nil {
				m.logger.Warn("session heartbeat failed", "session", token, "error", err)
			}
		}
	}
}

// Close stops the heartbeat, waits for it to exit, and writes the final
// endtime. Safe to call more than once; only the first call does work.
// The server's shutdown path calls this even when no explicit close was
// requested.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop == nil {
		return nil
	}

	close(m.stop)
	<-m.done
	m.stop = nil
	m.done = nil

	token := m.token
	m.token = ""
	m.discussionID = 0

	if err := m.store.TouchEndTime(token); err != nil {
		return fmt.Errorf("closing session %s: %w", token, err)
	}
	return nil
}
