// Package split cuts activity intervals at local midnights.
package split

import (
	"fmt"
	"time"

	"activity-sync/activity"
)

// ErrInvalidInterval is returned when end precedes start.
var ErrInvalidInterval = fmt.Errorf("%w: end before start", activity.ErrMalformedRecord)

// Segment is one day-bounded piece of an interval.
type Segment struct {
	Start time.Time
	End   time.Time
	Date  string
}

// Split returns the pieces of [start, end) in order. Midnight is taken in the
// location of start. Sleep-like intervals are never split and are dated by
// their end; everything else is dated by the start of each piece.
func Split(start, end time.Time, sleepLike bool) ([]Segment, error) {
	if end.Before(start) {
		return nil, ErrInvalidInterval
	}
	end = end.In(start.Location())

	if sleepLike {
		return []Segment{{Start: start, End: end, Date: activity.DateOf(end)}}, nil
	}

	var out []Segment
	cur := start
	for {
		next := nextMidnight(cur)
		if !end.After(next) {
			out = append(out, Segment{Start: cur, End: end, Date: activity.DateOf(cur)})
			return out, nil
		}
		out = append(out, Segment{Start: cur, End: next, Date: activity.DateOf(cur)})
		cur = next
	}
}

// nextMidnight uses calendar arithmetic so days of 23 or 25 hours split on
// the wall-clock boundary.
func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
