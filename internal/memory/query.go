package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatmem/chatmem/internal/vecindex"
)

// maxResultLimit caps page sizes on every find operation. Results feed a
// model context window, so callers asking for more almost always have a
// bug.
const maxResultLimit = 10

const defaultResultLimit = 5

// overfetchFactor is how many nearest neighbors are pulled from the index
// per requested result, leaving headroom for deduplication and allowed-set
// restriction.
const overfetchFactor = 10

// discussionOrderFields are the columns FindDiscussions may sort by.
// Anything else falls back to starttime.
var discussionOrderFields = map[string]bool{
	"title":     true,
	"starttime": true,
	"endtime":   true,
	"featured":  true,
	"cost":      true,
}

// unitOrderFields are the columns FindDialogueUnits may sort by. "topic"
// is valid only when the topic join is active and is handled separately.
var unitOrderFields = map[string]bool{
	"timestamp": true,
	"intent":    true,
	"prompt":    true,
	"response":  true,
}

// DiscussionFilter selects discussions in FindDiscussions. Zero values
// mean "no constraint". Time bounds compare against the stored RFC 3339
// timestamps.
type DiscussionFilter struct {
	Title         string
	Featured      *bool
	StartedAfter  time.Time
	StartedBefore time.Time
	EndedAfter    time.Time
	EndedBefore   time.Time

	Category      string
	CategoryScore string // condition string, e.g. ">= 0.7"
	Cost          string // condition string

	OrderBy        string // default starttime
	OrderDirection string // ASC or DESC, default DESC
	Limit          int    // default 5, max 10
	Page           int
}

// FindDiscussions returns the ids of discussions matching the filter,
// ordered and paginated.
func (s *Store) FindDiscussions(f DiscussionFilter) ([]int64, error) {
	limit, offset, err := pageBounds(f.Limit, f.Page)
	if err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	query := `SELECT DISTINCT d.id FROM discussions d`
	if f.Category != "" || f.CategoryScore != "" {
		query += ` JOIN categories c ON d.id = c.discussion_id`
	}

	if f.Title != "" {
		conds = append(conds, "d.title LIKE ?")
		args = append(args, "%"+f.Title+"%")
	}
	if f.Featured != nil {
		featured := 0
		if *f.Featured {
			featured = 1
		}
		conds = append(conds, "d.featured = ?")
		args = append(args, featured)
	}
	if !f.StartedAfter.IsZero() {
		conds = append(conds, "d.starttime >= ?")
		args = append(args, formatTime(f.StartedAfter))
	}
	if !f.StartedBefore.IsZero() {
		conds = append(conds, "d.starttime <= ?")
		args = append(args, formatTime(f.StartedBefore))
	}
	if !f.EndedAfter.IsZero() {
		conds = append(conds, "d.endtime >= ?")
		args = append(args, formatTime(f.EndedAfter))
	}
	if !f.EndedBefore.IsZero() {
		conds = append(conds, "d.endtime <= ?")
		args = append(args, formatTime(f.EndedBefore))
	}
	if f.Category != "" {
		conds = append(conds, "c.name = ?")
		args = append(args, titleCase(f.Category))
	}
	if f.CategoryScore != "" {
		op, threshold, err := ParseCondition(f.CategoryScore)
		if err != nil {
			return nil, fmt.Errorf("category score: %w", err)
		}
		conds = append(conds, "c.score "+op+" ?")
		args = append(args, threshold)
	}
	if f.Cost != "" {
		op, threshold, err := ParseCondition(f.Cost)
		if err != nil {
			return nil, fmt.Errorf("cost: %w", err)
		}
		conds = append(conds, "d.cost "+op+" ?")
		args = append(args, threshold)
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	orderBy := strings.ToLower(f.OrderBy)
	if !discussionOrderFields[orderBy] {
		orderBy = "starttime"
	}
	query += fmt.Sprintf(" ORDER BY d.%s %s LIMIT ? OFFSET ?", orderBy, direction(f.OrderDirection))
	args = append(args, limit, offset)

	return s.queryIDs(query, args)
}

// UnitFilter selects dialogue units in FindDialogueUnits. A non-empty
// DiscussionID (a discussion reference, keywords included) supersedes the
// intent, prompt, response, and time filters: within one known discussion
// those mostly re-select what the id already pinned down.
type UnitFilter struct {
	Topic     string
	Sentiment map[string]string // "positive"/"negative" -> condition string

	DiscussionID string
	Intent       string
	Prompt       string
	Response     string
	After        time.Time
	Before       time.Time

	OrderBy        string // default timestamp
	OrderDirection string // ASC or DESC, default DESC
	Limit          int    // default 5, max 10
	Page           int
}

// SearchResult pairs dialogue unit ids with their angular distances to the
// search phrase. Distances is nil for purely relational queries.
type SearchResult struct {
	IDs       []int64
	Distances []float64
}

// FindDialogueUnits returns dialogue units matching the filter, optionally
// ranked against a search phrase.
//
// Without a phrase this is a plain relational query. With a phrase the
// relational filters become a restriction: their matches form the allowed
// set, the phrase is embedded and the nearest neighbors are kept only when
// they fall inside that set. Filters that match nothing yield an empty
// result rather than falling back to unrestricted search. The merged list
// is ordered by distance in the requested direction and paginated.
func (s *Store) FindDialogueUnits(ctx context.Context, f UnitFilter, phrase string) (SearchResult, error) {
	limit, offset, err := pageBounds(f.Limit, f.Page)
	if err != nil {
		return SearchResult{}, err
	}

	query, args, filtered, err := s.buildUnitQuery(f)
	if err != nil {
		return SearchResult{}, err
	}

	if phrase == "" {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
		ids, err := s.queryIDs(query, args)
		if err != nil {
			return SearchResult{}, err
		}
		return SearchResult{IDs: ids}, nil
	}

	var allowed map[int64]bool
	if filtered {
		ids, err := s.queryIDs(query, args)
		if err != nil {
			return SearchResult{}, err
		}
		if len(ids) == 0 {
			return SearchResult{IDs: []int64{}, Distances: []float64{}}, nil
		}
		allowed = make(map[int64]bool, len(ids))
		for _, id := range ids {
			allowed[id] = true
		}
	}

	vec, err := s.embed(ctx, phrase)
	if err != nil {
		return SearchResult{}, err
	}

	s.idxMu.RLock()
	ix := s.index
	s.idxMu.RUnlock()
	if ix == nil {
		return SearchResult{IDs: []int64{}, Distances: []float64{}}, nil
	}

	hits, err := ix.Query(vec, limit*overfetchFactor)
	if errors.Is(err, vecindex.ErrUnavailable) {
		return SearchResult{IDs: []int64{}, Distances: []float64{}}, nil
	}
	if err != nil {
		return SearchResult{}, err
	}

	// Both slots of a unit can land in the neighbor list; the first hit is
	// the closer one and wins.
	seen := make(map[int64]bool, len(hits))
	merged := SearchResult{IDs: []int64{}, Distances: []float64{}}
	for _, hit := range hits {
		unitID := vecindex.UnitID(hit.Slot)
		if seen[unitID] {
			continue
		}
		seen[unitID] = true
		if allowed != nil && !allowed[unitID] {
			continue
		}
		merged.IDs = append(merged.IDs, unitID)
		merged.Distances = append(merged.Distances, hit.Distance)
	}

	if direction(f.OrderDirection) == "DESC" {
		reverseResult(merged)
	}
	return sliceResult(merged, offset, limit), nil
}

// buildUnitQuery assembles the relational part of a dialogue unit search.
// It reports whether any filter produced a predicate; an unfiltered query
// selects every unit and imposes no restriction on semantic results.
func (s *Store) buildUnitQuery(f UnitFilter) (query string, args []any, filtered bool, err error) {
	var (
		joins []string
		conds []string
	)

	topicJoined := f.Topic != "" || strings.EqualFold(f.OrderBy, "topic")
	if topicJoined {
		joins = append(joins,
			"JOIN dialogue_unit_topics dut ON e.id = dut.dialogue_unit_id",
			"JOIN topics t ON dut.topic_id = t.id")
	}
	if f.Topic != "" {
		conds = append(conds, "t.name LIKE ?")
		args = append(args, "%"+f.Topic+"%")
	}

	if len(f.Sentiment) > 0 {
		joins = append(joins, "JOIN sentiment_scores ss ON e.id = ss.dialogue_unit_id")
		matched := 0
		for _, key := range []string{"positive", "negative"} {
			cond, ok := f.Sentiment[key]
			if !ok {
				continue
			}
			op, threshold, err := ParseCondition(cond)
			if err != nil {
				return "", nil, false, fmt.Errorf("%s sentiment: %w", key, err)
			}
			conds = append(conds, fmt.Sprintf("ss.%s_score %s ?", key, op))
			args = append(args, threshold)
			matched++
		}
		if matched != len(f.Sentiment) {
			return "", nil, false, fmt.Errorf("%w: sentiment filter keys must be positive or negative", ErrInvalidArgument)
		}
	}

	if f.DiscussionID != "" {
		id, err := s.ResolveDiscussionID(f.DiscussionID, true)
		if err != nil {
			return "", nil, false, err
		}
		conds = append(conds, "e.discussion_id = ?")
		args = append(args, id)
	} else {
		if f.Intent != "" {
			conds = append(conds, "e.intent = ?")
			args = append(args, f.Intent)
		}
		if f.Prompt != "" {
			conds = append(conds, "e.prompt LIKE ?")
			args = append(args, "%"+f.Prompt+"%")
		}
		if f.Response != "" {
			conds = append(conds, "e.response LIKE ?")
			args = append(args, "%"+f.Response+"%")
		}
		switch {
		case !f.After.IsZero() && !f.Before.IsZero():
			conds = append(conds, "e.timestamp BETWEEN ? AND ?")
			args = append(args, formatTime(f.After), formatTime(f.Before))
		case !f.After.IsZero():
			conds = append(conds, "e.timestamp >= ?")
			args = append(args, formatTime(f.After))
		case !f.Before.IsZero():
			conds = append(conds, "e.timestamp <= ?")
			args = append(args, formatTime(f.Before))
		}
	}

	query = "SELECT DISTINCT e.id FROM dialogue_units e"
	if len(joins) > 0 {
		query += " " + strings.Join(joins, " ")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	orderBy := strings.ToLower(f.OrderBy)
	orderExpr := "e.timestamp"
	switch {
	case orderBy == "topic" && topicJoined:
		orderExpr = "t.name"
	case unitOrderFields[orderBy]:
		orderExpr = "e." + orderBy
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderExpr, direction(f.OrderDirection))

	return query, args, len(conds) > 0, nil
}

func (s *Store) queryIDs(query string, args []any) ([]int64, error) {
	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pageBounds validates limit and page and returns the effective limit and
// row offset.
func pageBounds(limit, page int) (int, int, error) {
	if limit == 0 {
		limit = defaultResultLimit
	}
	if limit < 0 || limit > maxResultLimit {
		return 0, 0, fmt.Errorf("%w: limit %d out of range [1, %d]", ErrInvalidArgument, limit, maxResultLimit)
	}
	if page < 0 {
		page = 0
	}
	return limit, page * limit, nil
}

// direction normalizes a sort direction, defaulting to DESC.
func direction(s string) string {
	if strings.EqualFold(s, "ASC") {
		return "ASC"
	}
	return "DESC"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func reverseResult(r SearchResult) {
	for i, j := 0, len(r.IDs)-1; i < j; i, j = i+1, j-1 {
		r.IDs[i], r.IDs[j] = r.IDs[j], r.IDs[i]
		r.Distances[i], r.Distances[j] = r.Distances[j], r.Distances[i]
	}
}

func sliceResult(r SearchResult, offset, limit int) SearchResult {
	if offset >= len(r.IDs) {
		return SearchResult{IDs: []int64{}, Distances: []float64{}}
	}
	end := offset + limit
	if end > len(r.IDs) {
		end = len(r.IDs)
	}
	return SearchResult{IDs: r.IDs[offset:end], Distances: r.Distances[offset:end]}
}
