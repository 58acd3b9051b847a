package models

import (
	"time"
)

const dateLayout = "2006-01-02"

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Hours() float64 {
	if !i.Start.Before(i.End) {
		return 0
	}
	return i.End.Sub(i.Start).Hours()
}

// StartOfDay returns local midnight of the calendar day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// nextMidnight returns the start of the day after the one containing t. DST
// days are 23 or 25 hours long, so this is never t plus 24h.
func nextMidnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}

// DateKey is the local calendar date of t, as yyyy-mm-dd.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}

// SplitAtMidnight splits [start, end) at every local midnight it crosses, so
// each returned interval lies within a single calendar day. An empty or
// inverted range yields nil.
func SplitAtMidnight(start, end time.Time, loc *time.Location) []Interval {
	if !start.Before(end) {
		return nil
	}
	var intervals []Interval
	current := start
	for current.Before(end) {
		boundary := nextMidnight(current, loc)
		if boundary.After(end) {
			boundary = end
		}
		intervals = append(intervals, Interval{Start: current, End: boundary})
		current = boundary
	}
	return intervals
}

type timedEvent struct {
	TreatmentEvent
	At time.Time
}

// basalSpan is the effective interval of one temp basal. HasRate is false for
// rate-less temp basals, which end their predecessor without setting a rate.
type basalSpan struct {
	Interval
	Rate    float64
	HasRate bool
}

// tempBasalSpans turns time-sorted temp basal events into effective
// intervals. A successor always ends its predecessor, whatever duration the
// predecessor claims; only the last event falls back to its own duration, or
// to the end of its day when it has none.
func tempBasalSpans(sorted []timedEvent, loc *time.Location) []basalSpan {
	spans := make([]basalSpan, 0, len(sorted))
	for i, te := range sorted {
		start := te.At
		var end time.Time
		if i+1 < len(sorted) {
			end = sorted[i+1].At
		} else if d, ok := te.Duration(); ok {
			end = start.Add(d)
		} else {
			end = nextMidnight(start, loc)
		}
		rate, ok := te.RateUnitsPerHour()
		spans = append(spans, basalSpan{
			Interval: Interval{Start: start, End: end},
			Rate:     rate,
			HasRate:  ok,
		})
	}
	return spans
}

// clipTo cuts every span at limit, dropping spans that start at or after it.
func clipTo(spans []basalSpan, limit time.Time) []basalSpan {
	clipped := spans[:0:0]
	for _, s := range spans {
		if !s.Start.Before(limit) {
			continue
		}
		if s.End.After(limit) {
			s.End = limit
		}
		clipped = append(clipped, s)
	}
	return clipped
}
