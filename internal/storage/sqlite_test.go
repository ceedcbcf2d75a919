package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newDiscussion(t *testing.T, s *Store, token string) int64 {
	t.Helper()
	id, err := s.CreateDiscussion(token)
	if err != nil {
		t.Fatalf("CreateDiscussion(%q): %v", token, err)
	}
	return id
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	s := openTestStore(t)

	// Dialogue unit pointing at a nonexistent discussion must be rejected,
	// and the failed transaction must leave no partial rows behind.
	if _, err := s.AddDialogueUnit(999, "p", "r", "", []string{"go"}, nil); err == nil {
		t.Fatal("expected FK violation for missing discussion")
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM dialogue_units").Scan(&n); err != nil {
		t.Fatalf("counting units: %v", err)
	}
	if n != 0 {
		t.Errorf("found %d orphaned dialogue units after failed insert", n)
	}
}

func TestDialogueUnitRoundTrip(t *testing.T) {
	s := openTestStore(t)
	discID := newDiscussion(t, s, "tok-1")

	unitID, err := s.AddDialogueUnit(discID, "what is Go?", "a language", "question",
		[]string{"go", "programming"}, &Sentiment{Positive: 0.8, Negative: 0.1})
	if err != nil {
		t.Fatalf("AddDialogueUnit: %v", err)
	}

	u, err := s.GetDialogueUnit(unitID)
	if err != nil {
		t.Fatalf("GetDialogueUnit: %v", err)
	}
	if u.Prompt != "what is Go?" || u.Response != "a language" || u.Intent != "question" {
		t.Errorf("round-trip mismatch: %+v", u)
	}
	if u.DiscussionID != discID {
		t.Errorf("discussion id = %d, want %d", u.DiscussionID, discID)
	}
	if u.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	topics, err := s.TopicsForUnit(unitID)
	if err != nil {
		t.Fatalf("TopicsForUnit: %v", err)
	}
	if len(topics) != 2 || topics[0] != "go" || topics[1] != "programming" {
		t.Errorf("topics = %v", topics)
	}

	sent, err := s.SentimentForUnit(unitID)
	if err != nil {
		t.Fatalf("SentimentForUnit: %v", err)
	}
	if sent == nil || sent.Positive != 0.8 || sent.Negative != 0.1 {
		t.Errorf("sentiment = %+v", sent)
	}
}

func TestSentimentSkippedWhenAllZero(t *testing.T) {
	s := openTestStore(t)
	discID := newDiscussion(t, s, "tok-1")

	unitID, err := s.AddDialogueUnit(discID, "p", "r", "", nil, &Sentiment{})
	if err != nil {
		t.Fatalf("AddDialogueUnit: %v", err)
	}

	sent, err := s.SentimentForUnit(unitID)
	if err != nil {
		t.Fatalf("SentimentForUnit: %v", err)
	}
	if sent != nil {
		t.Errorf("expected no sentiment row, got %+v", sent)
	}
}

func TestSentimentClamped(t *testing.T) {
	s := openTestStore(t)
	discID := newDiscussion(t, s, "tok-1")

	unitID, err := s.AddDialogueUnit(discID, "p", "r", "", nil, &Sentiment{Positive: 1.7, Negative: -0.2})
	if err != nil {
		t.Fatalf("AddDialogueUnit: %v", err)
	}

	sent, err := s.SentimentForUnit(unitID)
	if err != nil {
		t.Fatalf("SentimentForUnit: %v", err)
	}
	if sent == nil || sent.Positive != 1.0 || sent.Negative != 0.0 {
		t.Errorf("sentiment = %+v, want clamped {1, 0}", sent)
	}
}

func TestTopicsSharedBetweenUnits(t *testing.T) {
	s := openTestStore(t)
	discID := newDiscussion(t, s, "tok-1")

	if _, err := s.AddDialogueUnit(discID, "p1", "r1", "", []string{"go"}, nil); err != nil {
		t.Fatalf("first unit: %v", err)
	}
	if _, err := s.AddDialogueUnit(discID, "p2", "r2", "", []string{"go"}, nil); err != nil {
		t.Fatalf("second unit: %v", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM topics WHERE name = 'go'").Scan(&n); err != nil {
		t.Fatalf("counting topics: %v", err)
	}
	if n != 1 {
		t.Errorf("topic 'go' stored %d times, want 1 (upsert by name)", n)
	}
}

func TestGetDiscussionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetDiscussion(42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTouchEndTime(t *testing.T) {
	s := openTestStore(t)
	discID := newDiscussion(t, s, "tok-1")

	d, err := s.GetDiscussion(discID)
	if err != nil {
		t.Fatalf("GetDiscussion: %v", err)
	}
	if !d.EndTime.IsZero() {
		t.Errorf("fresh discussion has endtime %v", d.EndTime)
	}

	if err := s.TouchEndTime("tok-1"); err != nil {
		t.Fatalf("TouchEndTime: %v", err)
	}

	d, err = s.GetDiscussion(discID)
	if err != nil {
		t.Fatalf("GetDiscussion: %v", err)
	}
	if d.EndTime.IsZero() {
		t.Error("endtime not set after touch")
	}
	if time.Since(d.EndTime) > time.Minute {
		t.Errorf("endtime %v not recent", d.EndTime)
	}

	if err := s.TouchEndTime("no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("touch of unknown token = %v, want ErrNotFound", err)
	}
}

func TestMaxAndRandomDiscussionID(t *testing.T) {
	s := openTestStore(t)

	maxID, err := s.MaxDiscussionID()
	if err != nil {
		t.Fatalf("MaxDiscussionID on empty: %v", err)
	}
	if maxID != 0 {
		t.Errorf("max id on empty = %d, want 0", maxID)
	}

	newDiscussion(t, s, "a")
	newDiscussion(t, s, "b")
	last := newDiscussion(t, s, "c")

	maxID, err = s.MaxDiscussionID()
	if err != nil {
		t.Fatalf("MaxDiscussionID: %v", err)
	}
	if maxID != last {
		t.Errorf("max id = %d, want %d", maxID, last)
	}

	randID, err := s.RandomDiscussionID()
	if err != nil {
		t.Fatalf("RandomDiscussionID: %v", err)
	}
	if randID < 1 || randID > last {
		t.Errorf("random id %d out of range [1, %d]", randID, last)
	}
}

func TestLatestFeaturedDiscussionID(t *testing.T) {
	s := openTestStore(t)

	id, err := s.LatestFeaturedDiscussionID()
	if err != nil {
		t.Fatalf("LatestFeaturedDiscussionID on empty: %v", err)
	}
	if id != 0 {
		t.Errorf("featured id on empty = %d, want 0", id)
	}

	first := newDiscussion(t, s, "a")
	second := newDiscussion(t, s, "b")

	f := true
	if err := s.UpdateDiscussion(first, nil, &f); err != nil {
		t.Fatalf("UpdateDiscussion: %v", err)
	}
	if err := s.UpdateDiscussion(second, nil, &f); err != nil {
		t.Fatalf("UpdateDiscussion: %v", err)
	}

	// Push the second discussion's starttime later to break the tie.
	if _, err := s.db.Exec(`UPDATE discussions SET starttime = ? WHERE id = ?`,
		time.Now().UTC().Add(time.Hour).Format(time.RFC3339), second); err != nil {
		t.Fatalf("adjusting starttime: %v", err)
	}

	id, err = s.LatestFeaturedDiscussionID()
	if err != nil {
		t.Fatalf("LatestFeaturedDiscussionID: %v", err)
	}
	if id != second {
		t.Errorf("featured id = %d, want %d", id, second)
	}
}

func TestUpdateDiscussionTitleAndFeatured(t *testing.T) {
	s := openTestStore(t)
	discID := newDiscussion(t, s, "tok-1")

	title := "Morning walk"
	feat := true
	if err := s.UpdateDiscussion(discID, &title, &feat); err != nil {
		t.Fatalf("UpdateDiscussion: %v", err)
	}

	d, err := s.GetDiscussion(discID)
	if err != nil {
		t.Fatalf("GetDiscussion: %v", err)
	}
	if d.Title != "Morning walk" || !d.Featured {
		t.Errorf("discussion = %+v", d)
	}

	// Title can be reset to empty.
	empty := ""
	if err := s.UpdateDiscussion(discID, &empty, nil); err != nil {
		t.Fatalf("UpdateDiscussion reset: %v", err)
	}
	d, _ = s.GetDiscussion(discID)
	if d.Title != "" {
		t.Errorf("title = %q, want empty", d.Title)
	}

	if err := s.UpdateDiscussion(discID, nil, nil); err == nil {
		t.Error("expected error when neither title nor featured given")
	}
}

func TestCategoryLifecycle(t *testing.T) {
	s := openTestStore(t)
	discID := newDiscussion(t, s, "tok-1")

	if err := s.AssignCategory(discID, "Tech", 0.9); err != nil {
		t.Fatalf("AssignCategory: %v", err)
	}
	// Same name again updates the score instead of duplicating.
	if err := s.AssignCategory(discID, "Tech", 0.456); err != nil {
		t.Fatalf("AssignCategory upsert: %v", err)
	}

	cats, err := s.Categories(discID)
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if len(cats) != 1 {
		t.Fatalf("got %d categories, want 1", len(cats))
	}
	if cats[0].Name != "Tech" || cats[0].Score != 0.46 {
		t.Errorf("category = %+v, want Tech/0.46 (rounded)", cats[0])
	}

	if err := s.RemoveCategory(discID, "Tech"); err != nil {
		t.Fatalf("RemoveCategory: %v", err)
	}
	cats, err = s.Categories(discID)
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if len(cats) != 0 {
		t.Errorf("categories after remove = %v, want none", cats)
	}

	if err := s.RemoveCategory(discID, "Tech"); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove of missing category = %v, want ErrNotFound", err)
	}
}

func TestDataEntryUpsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertDataEntry("name", "Harper", "profile"); err != nil {
		t.Fatalf("UpsertDataEntry: %v", err)
	}
	if err := s.UpsertDataEntry("name", "Sam", "profile"); err != nil {
		t.Fatalf("UpsertDataEntry update: %v", err)
	}

	entries, err := s.DataEntries("key_group", "profile")
	if err != nil {
		t.Fatalf("DataEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Value != "Sam" {
		t.Errorf("entries = %+v, want single name=Sam", entries)
	}

	if _, err := s.DataEntries("value", "x"); err == nil {
		t.Error("expected error for disallowed lookup field")
	}
}

func TestLastSummaryPrompts(t *testing.T) {
	s := openTestStore(t)
	discID := newDiscussion(t, s, "tok-1")

	for i, p := range []string{"sum one", "sum two", "sum three"} {
		if _, err := s.AddDialogueUnit(discID, p, "ok", "create_summary", nil, nil); err != nil {
			t.Fatalf("unit %d: %v", i, err)
		}
	}
	if _, err := s.AddDialogueUnit(discID, "not a summary", "ok", "question", nil, nil); err != nil {
		t.Fatalf("non-summary unit: %v", err)
	}

	prompts, err := s.LastSummaryPrompts(2)
	if err != nil {
		t.Fatalf("LastSummaryPrompts: %v", err)
	}
	if len(prompts) != 2 {
		t.Fatalf("got %d prompts, want 2", len(prompts))
	}
	for _, p := range prompts {
		if p == "not a summary" {
			t.Errorf("non-summary prompt leaked into results: %v", prompts)
		}
	}
}
