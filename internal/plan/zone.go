package plan

import "time"

// Times are persisted in UTC; the display zone only affects how instants
// are rendered and how day boundaries are computed. Conversion between the
// two is lossless: the same instant, re-expressed.

// ToDisplay re-expresses a persisted UTC instant in the display zone.
func ToDisplay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc)
}

// ToUTC re-expresses a display-zone time as the persisted UTC instant.
func ToUTC(t time.Time) time.Time { return t.UTC() }
