// Package memory is the query and mutation surface over the discussion
// store. It joins the relational tables, the vector index, and the
// embedding engine behind one facade: filtered lookups, semantic search
// with restrict-then-rank merging, session lifecycle, and aggregate
// statistics.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/chatmem/chatmem/internal/engine"
	"github.com/chatmem/chatmem/internal/session"
	"github.com/chatmem/chatmem/internal/storage"
	"github.com/chatmem/chatmem/internal/vecindex"
)

// Options configures a Store.
type Options struct {
	Model             string
	Dimension         int
	MaxTokens         int
	IndexPath         string
	Timezone          string
	HeartbeatInterval time.Duration
}

// Store is the memory facade. All exported methods are safe for
// concurrent use: index swaps happen under idxMu, cached session state
// under stateMu, and the relational store serializes its own writes.
type Store struct {
	db        *storage.Store
	eng       engine.Engine
	model     string
	dim       int
	maxTokens int
	indexPath string
	loc       *time.Location
	logger    *slog.Logger

	session *session.Manager

	idxMu sync.RWMutex
	index *vecindex.Index
	dirty bool

	stateMu  sync.Mutex
	latestID int64
}

// New creates the facade over an opened storage.Store and an embedding
// engine. A previously saved vector index is loaded from IndexPath when
// present; a missing file leaves semantic search unavailable until the
// first rebuild.
func New(db *storage.Store, eng engine.Engine, opts Options) (*Store, error) {
	loc := time.UTC
	if opts.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(opts.Timezone); err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", opts.Timezone, err)
		}
	}

	s := &Store{
		db:        db,
		eng:       eng,
		model:     opts.Model,
		dim:       opts.Dimension,
		maxTokens: opts.MaxTokens,
		indexPath: opts.IndexPath,
		loc:       loc,
		logger:    slog.Default(),
		session:   session.NewManager(db, opts.HeartbeatInterval),
	}

	if opts.IndexPath != "" {
		ix, err := vecindex.Load(opts.IndexPath)
		switch {
		case err == nil:
			if ix.Dim() != opts.Dimension {
				return nil, fmt.Errorf("index file dimension %d does not match configured %d", ix.Dim(), opts.Dimension)
			}
			s.index = ix
			s.logger.Info("vector index loaded", "path", opts.IndexPath, "vectors", ix.Len())
		case errors.Is(err, os.ErrNotExist):
			s.logger.Info("no vector index on disk, semantic search disabled until first rebuild", "path", opts.IndexPath)
		default:
			return nil, fmt.Errorf("loading vector index: %w", err)
		}
	}

	return s, nil
}

// OpenSession starts a new session: it snapshots the newest existing
// discussion id (what "latest" resolves to for the session's lifetime),
// then creates the session's own discussion row and starts the heartbeat.
func (s *Store) OpenSession() (token string, discussionID int64, err error) {
	maxID, err := s.db.MaxDiscussionID()
	if err != nil {
		return "", 0, fmt.Errorf("snapshotting latest discussion: %w", err)
	}

	token, discussionID, err = s.session.Open()
	if err != nil {
		return "", 0, err
	}

	s.stateMu.Lock()
	s.latestID = maxID
	s.stateMu.Unlock()
	return token, discussionID, nil
}

// CloseSession finalizes the live session and, when new dialogue units
// were recorded, rebuilds the vector index so they become searchable in
// the next session.
func (s *Store) CloseSession(ctx context.Context) error {
	if err := s.RebuildIndex(ctx, false); err != nil {
		s.logger.Error("index rebuild on session close failed", "error", err)
	}
	return s.session.Close()
}

// SessionToken returns the live session's token, or "" when none is open.
func (s *Store) SessionToken() string { return s.session.Token() }

// CurrentDiscussionID returns the live session's discussion id, or 0.
func (s *Store) CurrentDiscussionID() int64 { return s.session.DiscussionID() }

// AddDialogueUnit records one prompt/response exchange in the live
// session's discussion and marks the vector index stale. The unit is
// queryable through filters immediately and through semantic search after
// the next rebuild.
func (s *Store) AddDialogueUnit(prompt, response, intent string, topics []string, sentiment *storage.Sentiment) (int64, error) {
	discussionID := s.session.DiscussionID()
	if discussionID == 0 {
		return 0, ErrNoSession
	}

	id, err := s.db.AddDialogueUnit(discussionID, prompt, response, intent, topics, sentiment)
	if err != nil {
		return 0, err
	}

	s.idxMu.Lock()
	s.dirty = true
	s.idxMu.Unlock()
	return id, nil
}

// DiscussionView is the full read model of one discussion.
type DiscussionView struct {
	DiscussionID      int64              `json:"discussion_id"`
	Title             string             `json:"title,omitempty"`
	StartTime         time.Time          `json:"starttime"`
	EndTime           time.Time          `json:"endtime,omitzero"`
	Featured          bool               `json:"featured"`
	Cost              float64            `json:"cost"`
	DialogueUnitCount int                `json:"dialogue_unit_count"`
	Categories        []storage.Category `json:"categories,omitempty"`
}

// DialogueUnitView is the full read model of one dialogue unit, with its
// parent discussion inlined.
type DialogueUnitView struct {
	DialogueUnitID int64              `json:"dialogue_unit_id"`
	Prompt         string             `json:"prompt"`
	Response       string             `json:"response"`
	Intent         string             `json:"intent,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
	Topics         []string           `json:"topics,omitempty"`
	Sentiment      *storage.Sentiment `json:"sentiment,omitempty"`
	Discussion     DiscussionView     `json:"discussion"`
}

// DiscussionByID resolves a discussion reference and returns its view.
func (s *Store) DiscussionByID(ref string) (DiscussionView, error) {
	id, err := s.ResolveDiscussionID(ref, true)
	if err != nil {
		return DiscussionView{}, err
	}
	return s.discussionView(id)
}

func (s *Store) discussionView(id int64) (DiscussionView, error) {
	d, err := s.db.GetDiscussion(id)
	if err != nil {
		return DiscussionView{}, err
	}
	count, err := s.db.CountDialogueUnits(id)
	if err != nil {
		return DiscussionView{}, err
	}
	cats, err := s.db.Categories(id)
	if err != nil {
		return DiscussionView{}, err
	}
	return DiscussionView{
		DiscussionID:      d.ID,
		Title:             d.Title,
		StartTime:         d.StartTime,
		EndTime:           d.EndTime,
		Featured:          d.Featured,
		Cost:              d.Cost,
		DialogueUnitCount: count,
		Categories:        cats,
	}, nil
}

// DialogueUnitByID returns the full view of one dialogue unit.
func (s *Store) DialogueUnitByID(id int64) (DialogueUnitView, error) {
	u, err := s.db.GetDialogueUnit(id)
	if err != nil {
		return DialogueUnitView{}, err
	}
	topics, err := s.db.TopicsForUnit(id)
	if err != nil {
		return DialogueUnitView{}, err
	}
	sent, err := s.db.SentimentForUnit(id)
	if err != nil {
		return DialogueUnitView{}, err
	}
	disc, err := s.discussionView(u.DiscussionID)
	if err != nil {
		return DialogueUnitView{}, err
	}
	return DialogueUnitView{
		DialogueUnitID: u.ID,
		Prompt:         u.Prompt,
		Response:       u.Response,
		Intent:         u.Intent,
		Timestamp:      u.Timestamp,
		Topics:         topics,
		Sentiment:      sent,
		Discussion:     disc,
	}, nil
}

// ModifyDiscussion updates the title and/or featured flag of a referenced
// discussion. At least one of the two must be provided.
func (s *Store) ModifyDiscussion(ref string, title *string, featured *bool) error {
	if title == nil && featured == nil {
		return fmt.Errorf("%w: provide a title or a featured flag", ErrInvalidArgument)
	}
	id, err := s.ResolveDiscussionID(ref, false)
	if err != nil {
		return err
	}
	return s.db.UpdateDiscussion(id, title, featured)
}

// AssignCategory attaches a scored category to a referenced discussion.
// Names are normalized to title case so "machine learning" and "Machine
// Learning" land on the same row.
func (s *Store) AssignCategory(ref, name string, score float64) error {
	name = titleCase(name)
	if name == "" {
		return fmt.Errorf("%w: category name is empty", ErrInvalidArgument)
	}
	id, err := s.ResolveDiscussionID(ref, false)
	if err != nil {
		return err
	}
	ok, err := s.db.DiscussionExists(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("discussion %d: %w", id, storage.ErrNotFound)
	}
	return s.db.AssignCategory(id, name, score)
}

// RemoveCategory detaches a category by name from a referenced discussion.
func (s *Store) RemoveCategory(ref, name string) error {
	id, err := s.ResolveDiscussionID(ref, false)
	if err != nil {
		return err
	}
	return s.db.RemoveCategory(id, titleCase(name))
}

// CategoriesFor returns the categories of a referenced discussion.
func (s *Store) CategoriesFor(ref string) ([]storage.Category, error) {
	id, err := s.ResolveDiscussionID(ref, true)
	if err != nil {
		return nil, err
	}
	ok, err := s.db.DiscussionExists(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("discussion %d: %w", id, storage.ErrNotFound)
	}
	return s.db.Categories(id)
}

// UpdateCurrentCost overwrites the accumulated cost of the live session's
// discussion.
func (s *Store) UpdateCurrentCost(cost float64) error {
	id := s.session.DiscussionID()
	if id == 0 {
		return ErrNoSession
	}
	return s.db.UpdateDiscussionCost(id, cost)
}

// LastSummaries returns the prompts of the most recent summary-intent
// units, newest first.
func (s *Store) LastSummaries(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	return s.db.LastSummaryPrompts(limit)
}

// embed truncates text to the configured token budget and asks the engine
// for its vector. Tokens are approximated by whitespace splitting, which
// overshoots real tokenizers rarely enough for embedding input.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.maxTokens > 0 {
		fields := strings.Fields(text)
		if len(fields) > s.maxTokens {
			text = strings.Join(fields[:s.maxTokens], " ")
		}
	}
	vec, err := s.eng.Embed(ctx, s.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) != s.dim {
		return nil, fmt.Errorf("engine returned %d-dimensional vector, expected %d", len(vec), s.dim)
	}
	return vec, nil
}

// titleCase lowercases a name and capitalizes the first letter of each
// whitespace-separated word.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
