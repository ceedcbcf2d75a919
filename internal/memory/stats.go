package memory

import (
	"fmt"
	"strings"
	"time"
)

// statAggregations maps the aggregation type vocabulary to SQL functions.
var statAggregations = map[string]string{
	"count":   "COUNT",
	"average": "AVG",
	"sum":     "SUM",
	"minimum": "MIN",
	"maximum": "MAX",
}

// statFilterFields are the filter keys Statistics accepts, mapped to their
// predicates. Time filters bound the unit timestamps, not the discussion.
var statFilterFields = map[string]string{
	"topic":     "t.name = ?",
	"intent":    "e.intent = ?",
	"starttime": "e.timestamp >= ?",
	"endtime":   "e.timestamp <= ?",
	"category":  "c.name = ?",
}

// StatsParams describes one aggregate query: what to compute (Type), over
// which dimension (Entity), optionally broken down by another dimension
// (Grouping), and restricted by filters.
type StatsParams struct {
	Type     string
	Entity   string
	Grouping string
	Filters  map[string]string
}

// StatRow is one row of a statistics result. Group is nil when no
// grouping was requested; Value keeps the driver's native type since
// minima and maxima over text dimensions are strings.
type StatRow struct {
	Group any `json:"group,omitempty"`
	Value any `json:"value"`
}

// Statistics computes an aggregate over dialogue units and discussions.
// All vocabulary is validated before anything touches the database;
// dimension tables are joined only when the entity, grouping, or an active
// filter needs them.
func (s *Store) Statistics(p StatsParams) ([]StatRow, error) {
	agg, ok := statAggregations[strings.ToLower(p.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown aggregation type %q", ErrInvalidArgument, p.Type)
	}
	entity := strings.ToLower(p.Entity)
	entityField, ok := s.statField(entity)
	if !ok {
		return nil, fmt.Errorf("%w: unknown aggregation entity %q", ErrInvalidArgument, p.Entity)
	}
	grouping := strings.ToLower(p.Grouping)
	groupField := ""
	if grouping != "" {
		if groupField, ok = s.statField(grouping); !ok {
			return nil, fmt.Errorf("%w: unknown grouping dimension %q", ErrInvalidArgument, p.Grouping)
		}
	}
	filters := make(map[string]string, len(p.Filters))
	for key, value := range p.Filters {
		key = strings.ToLower(key)
		if _, ok := statFilterFields[key]; !ok {
			return nil, fmt.Errorf("%w: unknown statistics filter %q", ErrInvalidArgument, key)
		}
		filters[key] = value
	}

	query := "SELECT "
	if groupField != "" {
		query += groupField + ", "
	}
	query += fmt.Sprintf("%s(%s) FROM dialogue_units e JOIN discussions d ON e.discussion_id = d.id", agg, entityField)

	needs := func(dim string) bool {
		if entity == dim || grouping == dim {
			return true
		}
		_, ok := filters[dim]
		return ok
	}
	if needs("topic") {
		query += " JOIN dialogue_unit_topics dut ON e.id = dut.dialogue_unit_id JOIN topics t ON dut.topic_id = t.id"
	}
	if entity == "sentiment" || grouping == "sentiment" {
		query += " JOIN sentiment_scores ss ON e.id = ss.dialogue_unit_id"
	}
	if needs("category") {
		query += " JOIN categories c ON d.id = c.discussion_id"
	}

	var (
		conds []string
		args  []any
	)
	for key, value := range filters {
		conds = append(conds, statFilterFields[key])
		if key == "category" {
			value = titleCase(value)
		}
		args = append(args, value)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if groupField != "" {
		query += " GROUP BY " + groupField
	}

	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	defer rows.Close()

	var result []StatRow
	for rows.Next() {
		var row StatRow
		if groupField != "" {
			if err := rows.Scan(&row.Group, &row.Value); err != nil {
				return nil, err
			}
		} else {
			if err := rows.Scan(&row.Value); err != nil {
				return nil, err
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// statField maps a dimension name to its SQL expression. Timestamps are
// shifted into the configured timezone by its current UTC offset so
// day-level groupings follow the user's clock.
func (s *Store) statField(dim string) (string, bool) {
	switch dim {
	case "topic":
		return "t.name", true
	case "intent":
		return "e.intent", true
	case "timestamp":
		_, secs := time.Now().In(s.loc).Zone()
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:%%M:%%S', datetime(e.timestamp, '%d minutes'))", secs/60), true
	case "sentiment":
		return "(ss.positive_score - ss.negative_score)", true
	case "category":
		return "c.name", true
	case "cost":
		return "d.cost", true
	case "discussion_id":
		return "d.id", true
	case "dialogue_unit_id":
		return "e.id", true
	}
	return "", false
}
