package models

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	slogctx "github.com/veqryn/slog-context"
)

type TreatmentRepository interface {
	// FetchTreatments returns up to maxCount treatments created at or after
	// since, in whatever order the upstream prefers.
	FetchTreatments(ctx context.Context, since time.Time, maxCount int) ([]TreatmentEvent, error)
}

type ProfileRepository interface {
	FetchProfileDocuments(ctx context.Context) ([]ProfileDocument, error)
}

type ReportOptions struct {
	AggregateOptions
	UseProfiles    bool
	FetchCount     int
	AveragePeriods []int
	RollingDays    int
}

// Report is one computed TDD report, ready for rendering or publishing.
type Report struct {
	RunID         string
	GeneratedAt   time.Time
	AsOf          time.Time
	Location      *time.Location
	Mode          BasalMode
	WindowDays    int
	Rows          []DailyDoseRow
	Averages      []Average
	Rolling       map[string]float64 // yyyy-mm-dd -> trailing mean total
	RollingDays   int
	NumTreatments int
	Skipped       int
	Warnings      []string
}

type TDDService struct {
	TreatmentRepository
	ProfileRepository
	Now func() time.Time
}

func (s *TDDService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// fetchSince is the oldest treatment time the report needs: the window start
// plus one extra day, so the temp basal running across the window start is
// still bounded by its real start.
func fetchSince(opts ReportOptions, now time.Time) time.Time {
	if opts.WindowDays <= 0 {
		return time.Time{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	ref := opts.AsOf
	if ref.IsZero() {
		ref = now
	}
	day := StartOfDay(ref, loc)
	return time.Date(day.Year(), day.Month(), day.Day()-opts.WindowDays-1, 0, 0, 0, 0, loc)
}

// BuildReport fetches, aggregates and summarises. Fetch failures and
// NoActiveProfile abort the report; skipped treatments only add warnings.
func (s *TDDService) BuildReport(ctx context.Context, opts ReportOptions) (*Report, error) {
	log := slogctx.FromCtx(ctx)
	generatedAt := s.now()
	runID := ulid.Make().String()
	log = log.With(slog.String("runID", runID))
	ctx = slogctx.NewCtx(ctx, log)

	since := fetchSince(opts, generatedAt)
	events, err := s.FetchTreatments(ctx, since, opts.FetchCount)
	if err != nil {
		return nil, fmt.Errorf("BuildReport cannot fetch treatments: %w", err)
	}
	log.Info("fetched treatments", slog.Int("numTreatments", len(events)), slog.Time("since", since))

	var warnings []string
	var profiles []BasalProfile
	if opts.UseProfiles {
		if s.ProfileRepository == nil {
			return nil, fmt.Errorf("BuildReport cannot use profiles: no profile repository")
		}
		docs, err := s.FetchProfileDocuments(ctx)
		if err != nil {
			return nil, fmt.Errorf("BuildReport cannot fetch profiles: %w", err)
		}
		profiles = BuildActivations(ctx, docs, events)
		if len(profiles) == 0 {
			log.Warn("profile mode requested but no profiles found, using temp basals only")
			warnings = append(warnings, "no basal profiles found, basal computed from temp basals only")
		}
	}

	agg, err := Aggregate(ctx, events, profiles, opts.AggregateOptions)
	if err != nil {
		return nil, fmt.Errorf("BuildReport cannot aggregate: %w", err)
	}

	periods := opts.AveragePeriods
	if len(periods) == 0 {
		periods = DefaultAveragePeriods
	}
	rollingDays := opts.RollingDays
	if rollingDays <= 0 {
		rollingDays = 7
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	report := &Report{
		RunID:         runID,
		GeneratedAt:   generatedAt,
		AsOf:          opts.AsOf,
		Location:      loc,
		Mode:          agg.Mode,
		WindowDays:    opts.WindowDays,
		Rows:          agg.Rows,
		Averages:      Summarize(agg.Rows, periods),
		Rolling:       RollingTotals(agg.Rows, rollingDays),
		RollingDays:   rollingDays,
		NumTreatments: len(events),
		Skipped:       agg.Skipped,
		Warnings:      append(warnings, agg.Warnings...),
	}
	log.Info("report built",
		slog.String("mode", string(report.Mode)),
		slog.Int("numDays", len(report.Rows)),
		slog.Int("numSkipped", report.Skipped),
	)
	return report, nil
}

// ParseAsOf accepts an RFC3339 instant, or a YYYY-MM-DD date meaning
// midnight at the start of that day in loc.
func ParseAsOf(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout, v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse as-of %q: %w", v, ErrBadTimestamp)
	}
	return t, nil
}
