package storage

import (
	"database/sql"
	"fmt"
)

// CreateDiscussion inserts a discussion row for a fresh session token and
// returns its id.
func (s *Store) CreateDiscussion(sessionToken string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO discussions (session_token, starttime) VALUES (?, ?)`,
		sessionToken, nowUTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting discussion: %w", err)
	}
	return res.LastInsertId()
}

// TouchEndTime refreshes the discussion's endtime to now. Used by the
// session heartbeat and the final close.
func (s *Store) TouchEndTime(sessionToken string) error {
	res, err := s.db.Exec(
		`UPDATE discussions SET endtime = ? WHERE session_token = ?`,
		nowUTC(), sessionToken,
	)
	if err != nil {
		return fmt.Errorf("updating endtime: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionToken, ErrNotFound)
	}
	return nil
}

// DiscussionIDBySessionToken resolves a session token to its discussion id.
func (s *Store) DiscussionIDBySessionToken(token string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM discussions WHERE session_token = ?`, token).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("session %s: %w", token, ErrNotFound)
	}
	return id, err
}

// GetDiscussion returns the discussion with the given id.
func (s *Store) GetDiscussion(id int64) (Discussion, error) {
	var d Discussion
	var title, starttime, endtime sql.NullString
	var featured int
	err := s.db.QueryRow(
		`SELECT id, session_token, title, starttime, endtime, featured, cost
		 FROM discussions WHERE id = ?`, id,
	).Scan(&d.ID, &d.SessionToken, &title, &starttime, &endtime, &featured, &d.Cost)
	if err == sql.ErrNoRows {
		return Discussion{}, fmt.Errorf("discussion %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Discussion{}, err
	}
	d.Title = title.String
	d.Featured = featured != 0
	if d.StartTime, err = parseTime(starttime.String); err != nil {
		return Discussion{}, err
	}
	if d.EndTime, err = parseTime(endtime.String); err != nil {
		return Discussion{}, err
	}
	return d, nil
}

// DiscussionExists reports whether a discussion id is present.
func (s *Store) DiscussionExists(id int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM discussions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// MaxDiscussionID returns the highest discussion id, or 0 when none exist.
func (s *Store) MaxDiscussionID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM discussions`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// LatestFeaturedDiscussionID returns the most recently started featured
// discussion, or 0 when there is none.
func (s *Store) LatestFeaturedDiscussionID() (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM discussions WHERE featured = 1 ORDER BY starttime DESC LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// RandomDiscussionID returns a uniformly random discussion id, or 0 when
// the table is empty.
func (s *Store) RandomDiscussionID() (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM discussions ORDER BY RANDOM() LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// UpdateDiscussion mutates title and/or featured. Nil means "leave as is";
// an empty title string resets the title.
func (s *Store) UpdateDiscussion(id int64, title *string, featured *bool) error {
	if title == nil && featured == nil {
		return fmt.Errorf("nothing to update for discussion %d", id)
	}

	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *title)
	}
	if featured != nil {
		sets = append(sets, "featured = ?")
		f := 0
		if *featured {
			f = 1
		}
		args = append(args, f)
	}
	args = append(args, id)

	query := "UPDATE discussions SET " + sets[0]
	if len(sets) == 2 {
		query += ", " + sets[1]
	}
	query += " WHERE id = ?"

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating discussion %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("discussion %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateDiscussionCost overwrites the accumulated cost of a discussion.
func (s *Store) UpdateDiscussionCost(id int64, cost float64) error {
	res, err := s.db.Exec(`UPDATE discussions SET cost = ? WHERE id = ?`, cost, id)
	if err != nil {
		return fmt.Errorf("updating cost for discussion %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("discussion %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountDialogueUnits returns the number of dialogue units in a discussion.
func (s *Store) CountDialogueUnits(discussionID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM dialogue_units WHERE discussion_id = ?`, discussionID,
	).Scan(&n)
	return n, err
}
