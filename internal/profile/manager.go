// Package profile keeps a cached, structured view of the user profile on
// top of the generic key-value table. Keys use dot notation
// ("identity.name", "speech.tone"); list and map values are stored as
// JSON.
package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the persistence the Manager needs. Implemented by
// storage.Store.
type Store interface {
	SetProfileKey(key, value string) error
	AllProfileKeys() (map[string]string, error)
}

// Clock abstracts time for cache expiry tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const defaultCacheTTL = 60 * time.Second

// Manager serves the assembled profile from a short-lived cache, so the
// per-response prompt build does not hit SQLite every time.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager with the default cache TTL.
func NewManager(store Store) *Manager {
	return &Manager{store: store, clock: realClock{}, ttl: defaultCacheTTL}
}

// NewManagerWithClock creates a Manager with a custom clock and TTL.
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{store: store, clock: clock, ttl: ttl}
}

// Get returns the assembled profile, from cache when fresh. An empty
// store yields a zero-value Profile, not an error.
func (m *Manager) Get() (Profile, error) {
	m.mu.RLock()
	if m.fresh() {
		p := copyProfile(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fresh() {
		return copyProfile(m.cached), nil
	}

	keys, err := m.store.AllProfileKeys()
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys: %w", err)
	}
	p := assemble(keys)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return copyProfile(&p), nil
}

// Set persists one profile key and invalidates the cache. Non-string
// values are stored as JSON.
func (m *Manager) Set(key string, value any) error {
	str, ok := value.(string)
	if !ok {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding profile key %q: %w", key, err)
		}
		str = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetProfileKey(key, str); err != nil {
		return fmt.Errorf("setting profile key %q: %w", key, err)
	}
	m.cached = nil
	return nil
}

// fresh reports whether the cache can serve. Caller holds a lock.
func (m *Manager) fresh() bool {
	return m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl))
}

// Summary renders the profile as a compact paragraph for injection into a
// system prompt.
func (m *Manager) Summary() (string, error) {
	p, err := m.Get()
	if err != nil {
		return "", err
	}

	var parts []string
	switch {
	case p.Identity.Name != "" && p.Identity.Role != "":
		parts = append(parts, fmt.Sprintf("User: %s, %s.", p.Identity.Name, p.Identity.Role))
	case p.Identity.Name != "":
		parts = append(parts, fmt.Sprintf("User: %s.", p.Identity.Name))
	case p.Identity.Role != "":
		parts = append(parts, fmt.Sprintf("User: %s.", p.Identity.Role))
	}

	var speech []string
	if p.Speech.Tone != "" {
		speech = append(speech, p.Speech.Tone+" tone")
	}
	if p.Speech.Verbosity != "" {
		speech = append(speech, p.Speech.Verbosity+" answers")
	}
	if p.Speech.Language != "" {
		speech = append(speech, "speaks "+p.Speech.Language)
	}
	if len(speech) > 0 {
		parts = append(parts, "Prefers: "+strings.Join(speech, ", ")+".")
	}

	if len(p.Interests) > 0 {
		parts = append(parts, "Interests: "+strings.Join(p.Interests, ", ")+".")
	}

	if len(p.Facts) > 0 {
		keys := make([]string, 0, len(p.Facts))
		for k := range p.Facts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		facts := make([]string, 0, len(keys))
		for _, k := range keys {
			facts = append(facts, fmt.Sprintf("%s: %s", strings.ReplaceAll(k, "_", " "), p.Facts[k]))
		}
		parts = append(parts, "Known facts: "+strings.Join(facts, "; ")+".")
	}

	if len(parts) == 0 {
		return "User profile: not yet configured.", nil
	}
	return strings.Join(parts, " "), nil
}

func assemble(keys map[string]string) Profile {
	var p Profile
	if v, ok := keys["identity.name"]; ok {
		p.Identity.Name = v
	}
	if v, ok := keys["identity.role"]; ok {
		p.Identity.Role = v
	}
	if v, ok := keys["speech.tone"]; ok {
		p.Speech.Tone = v
	}
	if v, ok := keys["speech.verbosity"]; ok {
		p.Speech.Verbosity = v
	}
	if v, ok := keys["speech.language"]; ok {
		p.Speech.Language = v
	}
	unmarshalKey(keys, "interests", &p.Interests)
	unmarshalKey(keys, "facts", &p.Facts)
	return p
}

// unmarshalKey decodes a JSON-valued profile key into target; a malformed
// value is skipped with a warning rather than poisoning the whole profile.
func unmarshalKey(keys map[string]string, key string, target any) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}

func copyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p
	if p.Interests != nil {
		cp.Interests = append([]string(nil), p.Interests...)
	}
	if p.Facts != nil {
		cp.Facts = make(map[string]string, len(p.Facts))
		for k, v := range p.Facts {
			cp.Facts[k] = v
		}
	}
	return cp
}
