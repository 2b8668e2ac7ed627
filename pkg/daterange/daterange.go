// Package daterange reads start/end query parameters.
package daterange

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
)

const dateLayout = "2006-01-02"

// Range is an inclusive time window.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration is the length of the window.
func (r Range) Duration() time.Duration { return r.End.Sub(r.Start) }

// Contains reports whether t falls inside the window.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Previous is the window of the same length ending just before r.
func (r Range) Previous() Range {
	return Range{Start: r.Start.Add(-r.Duration()), End: r.Start.Add(-time.Nanosecond)}
}

// LastDays is the window of the given number of days ending at now.
func LastDays(now time.Time, days int) Range {
	return Range{Start: now.AddDate(0, 0, -days), End: now}
}

// Parse accepts RFC 3339 timestamps or plain dates. A plain end date covers
// the whole day.
func Parse(start, end string, def Range) (Range, error) {
	r := def
	if start != "" {
		t, err := parse(start, false)
		if err != nil {
			return Range{}, fmt.Errorf("start: %w", err)
		}
		r.Start = t
	}
	if end != "" {
		t, err := parse(end, true)
		if err != nil {
			return Range{}, fmt.Errorf("end: %w", err)
		}
		r.End = t
	}
	if r.End.Before(r.Start) {
		return Range{}, fmt.Errorf("end is before start")
	}
	return r, nil
}

func parse(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// FromContext reads ?start= and ?end=, falling back to def.
func FromContext(c echo.Context, def Range) (Range, error) {
	return Parse(c.QueryParam("start"), c.QueryParam("end"), def)
}
