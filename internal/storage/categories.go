package storage

import (
	"fmt"
	"math"
)

// AssignCategory attaches a scored category to a discussion. Assigning an
// existing name updates its score in place (names are unique per
// discussion). The score is clamped to [0, 1] and rounded to two decimals.
func (s *Store) AssignCategory(discussionID int64, name string, score float64) error {
	score = math.Round(clamp01(score)*100) / 100
	_, err := s.db.Exec(
		`INSERT INTO categories (name, score, discussion_id) VALUES (?, ?, ?)
		 ON CONFLICT(discussion_id, name) DO UPDATE SET score = excluded.score`,
		name, score, discussionID,
	)
	if err != nil {
		return fmt.Errorf("assigning category %q to discussion %d: %w", name, discussionID, err)
	}
	return nil
}

// RemoveCategory deletes a category by exact name.
func (s *Store) RemoveCategory(discussionID int64, name string) error {
	res, err := s.db.Exec(
		`DELETE FROM categories WHERE discussion_id = ? AND name = ?`,
		discussionID, name,
	)
	if err != nil {
		return fmt.Errorf("removing category %q from discussion %d: %w", name, discussionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("category %q for discussion %d: %w", name, discussionID, ErrNotFound)
	}
	return nil
}

// Categories returns the categories of a discussion.
func (s *Store) Categories(discussionID int64) ([]Category, error) {
	rows, err := s.db.Query(
		`SELECT name, score FROM categories WHERE discussion_id = ? ORDER BY name ASC`,
		discussionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Name, &c.Score); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}
