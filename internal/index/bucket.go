package index

import "time"

// Kind identifies a section bucket. Declaration order is precedence
// order: pinned outranks every recency bucket, and classification picks
// the first recency bucket that matches, with Older as the catch-all.
type Kind int

const (
	Pinned Kind = iota
	Today
	Yesterday
	LastWeek
	LastMonth
	Older
)

func (k Kind) String() string {
	switch k {
	case Pinned:
		return "PINNED"
	case Today:
		return "TODAY"
	case Yesterday:
		return "YESTERDAY"
	case LastWeek:
		return "LAST_WEEK"
	case LastMonth:
		return "LAST_MONTH"
	case Older:
		return "OLDER"
	}
	return "UNKNOWN"
}

// Entry is the slice of conversation state the index classifies on.
type Entry struct {
	ID        int64
	Pinned    bool
	Timestamp int64 // last-activity, millis
}

// Classify maps an entry to its bucket relative to now. The pinned flag
// takes precedence over recency.
func Classify(e Entry, now time.Time) Kind {
	if e.Pinned {
		return Pinned
	}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	ts := time.UnixMilli(e.Timestamp).In(now.Location())
	switch {
	case !ts.Before(startOfDay):
		return Today
	case !ts.Before(startOfDay.AddDate(0, 0, -1)):
		return Yesterday
	case !ts.Before(startOfDay.AddDate(0, 0, -7)):
		return LastWeek
	case !ts.Before(startOfDay.AddDate(0, 0, -30)):
		return LastMonth
	default:
		return Older
	}
}
