package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Discussion is one conversation session. EndTime stays zero until the
// first heartbeat touches it.
type Discussion struct {
	ID           int64
	SessionToken string
	Title        string
	StartTime    time.Time
	EndTime      time.Time
	Featured     bool
	Cost         float64
}

// DialogueUnit is a single prompt/response exchange within a discussion.
type DialogueUnit struct {
	ID           int64
	Prompt       string
	Response     string
	Intent       string
	Timestamp    time.Time
	DiscussionID int64
}

// UnitText carries only the embeddable text of a dialogue unit.
// Used by the vector index rebuild.
type UnitText struct {
	ID       int64
	Prompt   string
	Response string
}

// Sentiment holds the per-unit sentiment scores, each in [0, 1].
type Sentiment struct {
	Positive float64
	Negative float64
}

// Category is a scored label attached to a discussion.
// Name is unique per discussion.
type Category struct {
	Name  string
	Score float64
}

// DataEntry is a row of the generic key-value table.
type DataEntry struct {
	Key   string
	Value string
}

// clamp01 bounds score-type values to [0, 1] at write time.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
