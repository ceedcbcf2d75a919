package memory

import (
	"fmt"
	"strconv"
	"strings"
)

// ResolveDiscussionID turns a discussion reference into a concrete id.
// A reference is either a numeric id, passed through untouched, or one of
// a closed set of keywords:
//
//	current, active            the live session's discussion
//	latest, previous, last,    the newest discussion that existed when the
//	newest                     session opened
//	first, earliest, oldest    discussion 1
//	featured                   the most recently started featured discussion
//	random                     a uniformly random discussion (only where
//	                           allowRandom is set)
//
// Anything else is ErrInvalidArgument. Existence of the resolved id is the
// caller's concern; keywords can resolve to 0 when the store is empty.
func (s *Store) ResolveDiscussionID(ref string, allowRandom bool) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(ref)) {
	case "current", "active":
		return s.session.DiscussionID(), nil
	case "latest", "previous", "last", "newest":
		s.stateMu.Lock()
		id := s.latestID
		s.stateMu.Unlock()
		return id, nil
	case "first", "earliest", "oldest":
		return 1, nil
	case "featured":
		return s.db.LatestFeaturedDiscussionID()
	case "random":
		if !allowRandom {
			return 0, fmt.Errorf("%w: random discussion reference not allowed here", ErrInvalidArgument)
		}
		return s.db.RandomDiscussionID()
	}

	id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: unknown discussion reference %q", ErrInvalidArgument, ref)
	}
	return id, nil
}
