package storage

import (
	"database/sql"
	"fmt"
)

// AddDialogueUnit inserts a dialogue unit together with its sentiment row
// and topic links in a single transaction, so a failure cannot leave an
// orphaned unit behind. A sentiment row is written only when at least one
// score is non-zero; scores are clamped to [0, 1]. Topics are upserted by
// name. Returns the new unit's id.
func (s *Store) AddDialogueUnit(discussionID int64, prompt, response, intent string, topics []string, sentiment *Sentiment) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning dialogue unit transaction: %w", err)
	}
	defer tx.Rollback()

	var intentVal any
	if intent != "" {
		intentVal = intent
	}
	res, err := tx.Exec(
		`INSERT INTO dialogue_units (prompt, response, intent, timestamp, discussion_id)
		 VALUES (?, ?, ?, ?, ?)`,
		prompt, response, intentVal, nowUTC(), discussionID,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting dialogue unit: %w", err)
	}
	unitID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if sentiment != nil && (sentiment.Positive != 0 || sentiment.Negative != 0) {
		if _, err := tx.Exec(
			`INSERT INTO sentiment_scores (dialogue_unit_id, positive_score, negative_score)
			 VALUES (?, ?, ?)`,
			unitID, clamp01(sentiment.Positive), clamp01(sentiment.Negative),
		); err != nil {
			return 0, fmt.Errorf("inserting sentiment for unit %d: %w", unitID, err)
		}
	}

	for _, topic := range topics {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO topics (name) VALUES (?)`, topic); err != nil {
			return 0, fmt.Errorf("upserting topic %q: %w", topic, err)
		}
		var topicID int64
		if err := tx.QueryRow(`SELECT id FROM topics WHERE name = ?`, topic).Scan(&topicID); err != nil {
			return 0, fmt.Errorf("resolving topic %q: %w", topic, err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO dialogue_unit_topics (dialogue_unit_id, topic_id) VALUES (?, ?)`,
			unitID, topicID,
		); err != nil {
			return 0, fmt.Errorf("linking topic %q to unit %d: %w", topic, unitID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing dialogue unit: %w", err)
	}
	return unitID, nil
}

// GetDialogueUnit returns the dialogue unit with the given id.
func (s *Store) GetDialogueUnit(id int64) (DialogueUnit, error) {
	var u DialogueUnit
	var intent sql.NullString
	var ts string
	err := s.db.QueryRow(
		`SELECT id, prompt, response, intent, timestamp, discussion_id
		 FROM dialogue_units WHERE id = ?`, id,
	).Scan(&u.ID, &u.Prompt, &u.Response, &intent, &ts, &u.DiscussionID)
	if err == sql.ErrNoRows {
		return DialogueUnit{}, fmt.Errorf("dialogue unit %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return DialogueUnit{}, err
	}
	u.Intent = intent.String
	if u.Timestamp, err = parseTime(ts); err != nil {
		return DialogueUnit{}, err
	}
	return u, nil
}

// TopicsForUnit returns the topic names linked to a dialogue unit.
func (s *Store) TopicsForUnit(id int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT t.name FROM topics t
		 JOIN dialogue_unit_topics dut ON t.id = dut.topic_id
		 WHERE dut.dialogue_unit_id = ?
		 ORDER BY t.name ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		topics = append(topics, name)
	}
	return topics, rows.Err()
}

// SentimentForUnit returns the unit's sentiment, or nil when none was stored.
func (s *Store) SentimentForUnit(id int64) (*Sentiment, error) {
	var sent Sentiment
	err := s.db.QueryRow(
		`SELECT positive_score, negative_score FROM sentiment_scores WHERE dialogue_unit_id = ?`, id,
	).Scan(&sent.Positive, &sent.Negative)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sent, nil
}

// AllUnitTexts returns id, prompt, and response of every dialogue unit.
// Feeds the full vector index rebuild.
func (s *Store) AllUnitTexts() ([]UnitText, error) {
	rows, err := s.db.Query(`SELECT id, prompt, response FROM dialogue_units ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []UnitText
	for rows.Next() {
		var u UnitText
		if err := rows.Scan(&u.ID, &u.Prompt, &u.Response); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// LastSummaryPrompts returns the prompts of the most recent units carrying
// the create_summary intent, newest first.
func (s *Store) LastSummaryPrompts(limit int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT prompt FROM dialogue_units
		 WHERE intent = 'create_summary'
		 ORDER BY timestamp DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}
