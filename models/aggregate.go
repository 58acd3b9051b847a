package models

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

// BasalMode says how basal insulin was derived for a run. A run never mixes
// the two: doing so double counts or leaves gaps at temp basal boundaries.
type BasalMode string

const (
	BasalModeEvents  BasalMode = "events"  // temp basal interval splitting only
	BasalModeProfile BasalMode = "profile" // grid sampling with profile fallback
)

const DefaultGridStep = 5 * time.Minute

type AggregateOptions struct {
	// Location decides where calendar days start. Defaults to UTC.
	Location *time.Location
	// AsOf, when set, ignores treatments at or after it and drops the
	// still-open day that contains it. The aggregator never reads the clock.
	AsOf time.Time
	// WindowDays keeps only the last N complete days; 0 keeps everything.
	WindowDays int
	// Dense emits zero rows for days without activity.
	Dense bool
	// Descending returns the newest day first.
	Descending bool
	// GridStep is the profile-mode sampling interval.
	GridStep   time.Duration
	Classifier Classifier
}

func (o AggregateOptions) withDefaults() AggregateOptions {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.GridStep <= 0 {
		o.GridStep = DefaultGridStep
	}
	if o.Classifier.IsZero() {
		o.Classifier = DefaultClassifier()
	}
	if o.WindowDays < 0 {
		o.WindowDays = 0
	}
	return o
}

// DailyDoseRow is the insulin delivered on one local calendar day.
type DailyDoseRow struct {
	Date       time.Time // local midnight
	BasalUnits float64
	BolusUnits float64
	SMBUnits   float64
	TotalUnits float64
}

func newDailyDoseRow(date time.Time, basal, bolus, smb float64) DailyDoseRow {
	return DailyDoseRow{
		Date:       date,
		BasalUnits: basal,
		BolusUnits: bolus,
		SMBUnits:   smb,
		TotalUnits: basal + bolus + smb,
	}
}

func (r DailyDoseRow) DateString() string {
	return r.Date.Format(dateLayout)
}

// Aggregation is the outcome of one Aggregate call.
type Aggregation struct {
	Rows     []DailyDoseRow
	Mode     BasalMode
	Skipped  int // treatments dropped for bad timestamps
	Warnings []string
}

type dayAccumulator struct {
	date  time.Time
	basal float64
	bolus float64
	smb   float64
}

type dayBuckets struct {
	loc  *time.Location
	days map[string]*dayAccumulator
}

func newDayBuckets(loc *time.Location) *dayBuckets {
	return &dayBuckets{loc: loc, days: make(map[string]*dayAccumulator)}
}

func (b *dayBuckets) at(t time.Time) *dayAccumulator {
	key := DateKey(t, b.loc)
	acc, ok := b.days[key]
	if !ok {
		acc = &dayAccumulator{date: StartOfDay(t, b.loc)}
		b.days[key] = acc
	}
	return acc
}

func (b *dayBuckets) rows() []DailyDoseRow {
	keys := make([]string, 0, len(b.days))
	for k := range b.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]DailyDoseRow, 0, len(keys))
	for _, k := range keys {
		acc := b.days[k]
		rows = append(rows, newDailyDoseRow(acc.date, acc.basal, acc.bolus, acc.smb))
	}
	return rows
}

// Aggregate computes one row per local calendar day from an unordered set of
// treatments. Basal comes from temp basal interval splitting, or, when
// profiles are given, from grid sampling that falls back to the active
// profile whenever no temp basal is running. Treatments with unusable
// timestamps are skipped and counted. The only error is ErrNoActiveProfile
// (or ErrEmptyBasalSchedule) in profile mode.
func Aggregate(ctx context.Context, events []TreatmentEvent, profiles []BasalProfile, opts AggregateOptions) (*Aggregation, error) {
	log := slogctx.FromCtx(ctx)
	opts = opts.withDefaults()
	loc := opts.Location

	result := &Aggregation{Mode: BasalModeEvents}
	if len(profiles) > 0 {
		result.Mode = BasalModeProfile
	}

	timed := make([]timedEvent, 0, len(events))
	for _, e := range events {
		at, err := e.Time()
		if err != nil {
			result.Skipped++
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipped %q treatment %s: %v", e.Kind, e.Oid, err))
			log.Warn("aggregate skipping treatment",
				slog.String("oid", e.Oid),
				slog.String("eventType", e.Kind),
				slog.Any("err", err),
			)
			continue
		}
		if !opts.AsOf.IsZero() && !at.Before(opts.AsOf) {
			continue
		}
		timed = append(timed, timedEvent{TreatmentEvent: e, At: at})
	}
	// upstream feeds arrive newest first, or in no particular order at all
	slices.SortStableFunc(timed, func(a, b timedEvent) int { return a.At.Compare(b.At) })

	buckets := newDayBuckets(loc)
	var tempBasals []timedEvent
	var first, last time.Time
	for _, te := range timed {
		class := opts.Classifier.Classify(te.TreatmentEvent)
		switch class {
		case ClassBolus:
			buckets.at(te.At).bolus += te.InsulinUnits()
		case ClassSMB:
			buckets.at(te.At).smb += te.InsulinUnits()
		case ClassBasal:
			tempBasals = append(tempBasals, te)
		default:
			continue
		}
		if first.IsZero() {
			first = te.At
		}
		last = te.At
	}

	spans := tempBasalSpans(tempBasals, loc)
	if !opts.AsOf.IsZero() {
		spans = clipTo(spans, opts.AsOf)
	}

	if result.Mode == BasalModeProfile {
		if !first.IsZero() {
			end := nextMidnight(last, loc)
			if !opts.AsOf.IsZero() && opts.AsOf.Before(end) {
				end = opts.AsOf
			}
			err := sampleBasalGrid(buckets, spans, profiles, StartOfDay(first, loc), end, opts.GridStep)
			if err != nil {
				return nil, fmt.Errorf("aggregate cannot sample basal: %w", err)
			}
		}
	} else {
		splitBasalSpans(buckets, spans, loc)
	}

	rows := buckets.rows()
	rows = trimRows(rows, opts)
	if opts.Dense {
		rows = densify(rows, opts)
	}
	if opts.Descending {
		slices.Reverse(rows)
	}
	result.Rows = rows

	log.Debug("aggregate done",
		slog.String("mode", string(result.Mode)),
		slog.Int("numTreatments", len(events)),
		slog.Int("numTempBasals", len(tempBasals)),
		slog.Int("numRows", len(rows)),
		slog.Int("numSkipped", result.Skipped),
	)
	return result, nil
}

// splitBasalSpans adds rate*hours for every same-day piece of every span. A
// rate-less temp basal delivers nothing here: without a profile there is no
// baseline to fall back to.
func splitBasalSpans(buckets *dayBuckets, spans []basalSpan, loc *time.Location) {
	for _, span := range spans {
		if span.Rate <= 0 {
			continue
		}
		for _, piece := range SplitAtMidnight(span.Start, span.End, loc) {
			dose := span.Rate * piece.Hours()
			if dose > 0 {
				buckets.at(piece.Start).basal += dose
			}
		}
	}
}

// sampleBasalGrid walks [start, end) in fixed steps aligned to start. Each
// slot uses the running temp basal's rate, or the active profile's scheduled
// rate when no temp basal (or a rate-less one) covers the slot start.
func sampleBasalGrid(buckets *dayBuckets, spans []basalSpan, profiles []BasalProfile, start, end time.Time, step time.Duration) error {
	next := 0
	for t := start; t.Before(end); t = t.Add(step) {
		for next < len(spans) && !t.Before(spans[next].End) {
			next++
		}

		var rate float64
		if next < len(spans) && !t.Before(spans[next].Start) && spans[next].HasRate {
			rate = spans[next].Rate
		} else {
			p, err := ActiveProfileAt(profiles, t)
			if err != nil {
				return err
			}
			rate, err = BasalFromProfile(p, t)
			if err != nil {
				return err
			}
		}

		slotEnd := t.Add(step)
		if slotEnd.After(end) {
			slotEnd = end
		}
		dose := rate * slotEnd.Sub(t).Hours()
		if dose > 0 {
			buckets.at(t).basal += dose
		}
	}
	return nil
}

// trimRows applies the as-of cutoff and the day window. Rows are ascending.
func trimRows(rows []DailyDoseRow, opts AggregateOptions) []DailyDoseRow {
	loc := opts.Location
	if !opts.AsOf.IsZero() {
		cutoff := DateKey(opts.AsOf, loc)
		rows = slices.DeleteFunc(rows, func(r DailyDoseRow) bool { return r.DateString() >= cutoff })
	}
	first, _, ok := windowBounds(rows, opts)
	if !ok || opts.WindowDays == 0 {
		return rows
	}
	return slices.DeleteFunc(rows, func(r DailyDoseRow) bool { return r.DateString() < first.Format(dateLayout) })
}

// windowBounds returns the first and last day a report covers.
func windowBounds(rows []DailyDoseRow, opts AggregateOptions) (first, last time.Time, ok bool) {
	loc := opts.Location
	switch {
	case !opts.AsOf.IsZero():
		asOfDay := StartOfDay(opts.AsOf, loc)
		last = time.Date(asOfDay.Year(), asOfDay.Month(), asOfDay.Day()-1, 0, 0, 0, 0, loc)
	case len(rows) > 0:
		last = rows[len(rows)-1].Date
	default:
		return time.Time{}, time.Time{}, false
	}

	if opts.WindowDays > 0 {
		first = time.Date(last.Year(), last.Month(), last.Day()-(opts.WindowDays-1), 0, 0, 0, 0, loc)
	} else if len(rows) > 0 {
		first = rows[0].Date
	} else {
		return time.Time{}, time.Time{}, false
	}
	return first, last, true
}

// densify fills in zero rows for every day between the window bounds.
func densify(rows []DailyDoseRow, opts AggregateOptions) []DailyDoseRow {
	first, last, ok := windowBounds(rows, opts)
	if !ok {
		return rows
	}
	if opts.WindowDays == 0 && len(rows) > 0 {
		last = rows[len(rows)-1].Date
	}

	loc := opts.Location
	byDate := make(map[string]DailyDoseRow, len(rows))
	for _, r := range rows {
		byDate[r.DateString()] = r
	}
	var dense []DailyDoseRow
	for day := first; !day.After(last); day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc) {
		if r, ok := byDate[day.Format(dateLayout)]; ok {
			dense = append(dense, r)
			continue
		}
		dense = append(dense, newDailyDoseRow(day, 0, 0, 0))
	}
	return dense
}
