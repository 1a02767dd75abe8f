// Package calendar reads events from a calendar backend for a range of days.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	// DateLayout is the ISO date form used for every date crossing the tool
	// boundary.
	DateLayout = "2006-01-02"

	// NoTitle replaces an empty event summary.
	NoTitle = "No title"
)

var ErrInvalidDate = errors.New("invalid date")

// Event is one calendar entry. Timed events carry RFC 3339 timestamps; all-day
// events carry dates, and End is the last day the event covers.
type Event struct {
	ID      string `json:"id" yaml:"id"`
	Summary string `json:"summary" yaml:"summary"`
	Start   string `json:"start" yaml:"start"`
	End     string `json:"end" yaml:"end"`
}

// AllDay reports whether the event is expressed in dates rather than instants.
func (e Event) AllDay() bool {
	return len(e.Start) == len(DateLayout)
}

// span returns the half-open interval [from, until) the event occupies.
func (e Event) span(loc *time.Location) (from, until time.Time, err error) {
	if e.AllDay() {
		from, err = time.ParseInLocation(DateLayout, e.Start, loc)
		if err != nil {
			return from, until, err
		}
		last := from
		if e.End != "" {
			last, err = time.ParseInLocation(DateLayout, e.End, loc)
			if err != nil {
				return from, until, err
			}
		}
		return from, last.AddDate(0, 0, 1), nil
	}

	from, err = time.Parse(time.RFC3339, e.Start)
	if err != nil {
		return from, until, err
	}
	until = from
	if e.End != "" {
		until, err = time.Parse(time.RFC3339, e.End)
	}
	return from, until, err
}

// Range is an inclusive span of whole days: from Start 00:00:00 to End
// 23:59:59 in the range's location.
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange parses two ISO dates. The end date must not precede the start date.
func NewRange(startDate, endDate string, loc *time.Location) (Range, error) {
	start, err := ParseDate(startDate, loc)
	if err != nil {
		return Range{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := ParseDate(endDate, loc)
	if err != nil {
		return Range{}, fmt.Errorf("end_date: %w", err)
	}
	if end.Before(start) {
		return Range{}, fmt.Errorf("%w: end_date %s is before start_date %s", ErrInvalidDate, endDate, startDate)
	}

	return Range{
		Start: start,
		End:   end.AddDate(0, 0, 1).Add(-time.Second),
	}, nil
}

// ParseDate parses a YYYY-MM-DD date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrInvalidDate, s)
	}
	return t, nil
}

func (r Range) Location() *time.Location {
	return r.Start.Location()
}

// allDayUntil is midnight after End, where the span of an all-day event on
// the range's last day stops.
func (r Range) allDayUntil() time.Time {
	return r.End.Add(time.Second)
}

func (r Range) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// Contains reports whether e lies entirely inside the range. A timed event
// must end by End itself; an all-day event may cover the range's last day.
func (r Range) Contains(e Event) bool {
	from, until, err := e.span(r.Location())
	if err != nil || until.Before(from) {
		return false
	}
	limit := r.End
	if e.AllDay() {
		limit = r.allDayUntil()
	}
	return !from.Before(r.Start) && !until.After(limit)
}

// Within keeps the events fully inside r, ordered by start.
func Within(r Range, events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if r.Contains(e) {
			out = append(out, e)
		}
	}

	loc := r.Location()
	sort.SliceStable(out, func(i, j int) bool {
		fi, _, _ := out[i].span(loc)
		fj, _, _ := out[j].span(loc)
		return fi.Before(fj)
	})
	return out
}

// Source lists the events overlapping a range. Callers apply Within to keep
// only the fully contained ones.
type Source interface {
	Events(ctx context.Context, r Range) ([]Event, error)
}
