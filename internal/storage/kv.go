package storage

import "fmt"

// dataLookupFields are the only columns DataEntries may filter by.
var dataLookupFields = map[string]bool{
	"id":        true,
	"key":       true,
	"key_group": true,
}

// UpsertDataEntry inserts or replaces a generic key-value entry. Entries
// are unique on (key, key_group).
func (s *Store) UpsertDataEntry(key, value, keyGroup string) error {
	_, err := s.db.Exec(
		`INSERT INTO data (key, value, key_group, updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key, key_group) DO UPDATE SET value = excluded.value, updated = excluded.updated`,
		key, value, keyGroup, nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting data entry %q: %w", key, err)
	}
	return nil
}

// profileGroup is the key_group holding user profile entries.
const profileGroup = "profile"

// SetProfileKey upserts one profile entry.
func (s *Store) SetProfileKey(key, value string) error {
	return s.UpsertDataEntry(key, value, profileGroup)
}

// AllProfileKeys returns every profile entry as a flat map.
func (s *Store) AllProfileKeys() (map[string]string, error) {
	entries, err := s.DataEntries("key_group", profileGroup)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]string, len(entries))
	for _, e := range entries {
		keys[e.Key] = e.Value
	}
	return keys, nil
}

// DataEntries returns key-value pairs matching the given lookup field.
// The field name comes from an allow-list, never from untrusted input.
func (s *Store) DataEntries(field string, value any) ([]DataEntry, error) {
	if !dataLookupFields[field] {
		return nil, fmt.Errorf("invalid data lookup field %q (want id, key, or key_group)", field)
	}

	rows, err := s.db.Query(`SELECT key, value FROM data WHERE `+field+` = ?`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DataEntry
	for rows.Next() {
		var e DataEntry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
