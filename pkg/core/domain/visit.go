package domain

import "time"

// TimeLayout is the canonical second-resolution layout used for storage and
// API responses. Timestamps are naive: offsets are stripped on input, never
// converted.
const TimeLayout = "2006-01-02 15:04:05"

// Visit represents one logged page access event
type Visit struct {
	ID        int64     `json:"id,omitempty"`
	URL       string    `json:"url"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"-"`
}

// TimestampString renders the visit timestamp in the canonical layout.
func (v Visit) TimestampString() string {
	return v.Timestamp.Format(TimeLayout)
}

// VisitFilter is the typed criteria object consumed by the repositories'
// parameterized query builder. Start is inclusive, End exclusive (half-open
// window), After is a strictly-greater lower bound used by "since" filters
// and the sync watermark.
type VisitFilter struct {
	URL       string
	Start     *time.Time
	End       *time.Time
	After     *time.Time
	Limit     int
	Offset    int
	Ascending bool
}
