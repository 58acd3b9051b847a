package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

var ErrNoActiveProfile = errors.New("models: no basal profile active")
var ErrEmptyBasalSchedule = errors.New("models: basal profile has no schedule entries")

// BasalScheduleEntry sets Rate (U/h) from MinuteOfDay until the next entry.
type BasalScheduleEntry struct {
	MinuteOfDay int
	Rate        float64
}

// BasalProfile is a named day schedule that becomes active at ActivatedAt.
// Schedule minutes are relative to local midnight in Location.
type BasalProfile struct {
	Name        string
	ActivatedAt time.Time
	Location    *time.Location
	Schedule    []BasalScheduleEntry
}

// ProfileDocument is one upstream profile store document: a set of named
// schedules, one of them the default, valid from StartDate.
type ProfileDocument struct {
	StartDate      time.Time
	DefaultProfile string
	Profiles       map[string]BasalProfile
}

// BasalFromProfile returns the scheduled rate at t. The schedule wraps at
// midnight: before the first entry the first entry's rate applies.
func BasalFromProfile(p BasalProfile, t time.Time) (float64, error) {
	if len(p.Schedule) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrEmptyBasalSchedule, p.Name)
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	schedule := p.Schedule
	if !sort.SliceIsSorted(schedule, func(i, j int) bool { return schedule[i].MinuteOfDay < schedule[j].MinuteOfDay }) {
		schedule = slices.Clone(schedule)
		slices.SortStableFunc(schedule, func(a, b BasalScheduleEntry) int { return a.MinuteOfDay - b.MinuteOfDay })
	}

	// index of the first entry starting after minute
	i := sort.Search(len(schedule), func(i int) bool { return schedule[i].MinuteOfDay > minute })
	if i == 0 {
		return schedule[0].Rate, nil
	}
	return schedule[i-1].Rate, nil
}

// ActiveProfileAt returns the profile with the latest activation not after
// instant. Profiles need not be sorted; on equal activations the later one in
// the slice wins.
func ActiveProfileAt(profiles []BasalProfile, instant time.Time) (BasalProfile, error) {
	found := -1
	for i, p := range profiles {
		if p.ActivatedAt.After(instant) {
			continue
		}
		if found == -1 || !p.ActivatedAt.Before(profiles[found].ActivatedAt) {
			found = i
		}
	}
	if found == -1 {
		return BasalProfile{}, fmt.Errorf("%w at %s", ErrNoActiveProfile, instant.UTC().Format(time.RFC3339))
	}
	return profiles[found], nil
}

// BuildActivations turns profile documents and Profile Switch treatments
// into the activation list the aggregator samples from. Each document's
// default profile activates at the document's StartDate; each switch
// activates the named profile of the newest document started by then,
// scaled by the switch percentage. Switches naming unknown profiles, or with
// bad timestamps, are logged and skipped.
func BuildActivations(ctx context.Context, docs []ProfileDocument, events []TreatmentEvent) []BasalProfile {
	log := slogctx.FromCtx(ctx)

	sortedDocs := slices.Clone(docs)
	slices.SortStableFunc(sortedDocs, func(a, b ProfileDocument) int { return a.StartDate.Compare(b.StartDate) })

	var activations []BasalProfile
	for _, doc := range sortedDocs {
		p, ok := doc.Profiles[doc.DefaultProfile]
		if !ok {
			log.Warn("profile document has no default profile",
				slog.String("defaultProfile", doc.DefaultProfile),
				slog.Time("startDate", doc.StartDate),
			)
			continue
		}
		p.Name = doc.DefaultProfile
		p.ActivatedAt = doc.StartDate
		activations = append(activations, p)
	}

	for _, e := range events {
		if e.Kind != KindProfileSwitch || e.ProfileName == "" {
			continue
		}
		at, err := e.Time()
		if err != nil {
			log.Warn("profile switch has bad timestamp", slog.String("oid", e.Oid), slog.Any("err", err))
			continue
		}

		var doc *ProfileDocument
		for i := len(sortedDocs) - 1; i >= 0; i-- {
			if !sortedDocs[i].StartDate.After(at) {
				doc = &sortedDocs[i]
				break
			}
		}
		if doc == nil {
			log.Warn("profile switch predates every profile document",
				slog.String("profile", e.ProfileName),
				slog.Time("time", at),
			)
			continue
		}
		p, ok := doc.Profiles[e.ProfileName]
		if !ok {
			log.Warn("profile switch names unknown profile",
				slog.String("profile", e.ProfileName),
				slog.Time("time", at),
			)
			continue
		}
		p.Name = e.ProfileName
		p.ActivatedAt = at
		if e.Percentage != nil && *e.Percentage > 0 && *e.Percentage != 100 {
			p.Schedule = scaleSchedule(p.Schedule, *e.Percentage/100)
		}
		activations = append(activations, p)
	}

	slices.SortStableFunc(activations, func(a, b BasalProfile) int { return a.ActivatedAt.Compare(b.ActivatedAt) })
	return activations
}

func scaleSchedule(schedule []BasalScheduleEntry, factor float64) []BasalScheduleEntry {
	scaled := make([]BasalScheduleEntry, len(schedule))
	for i, entry := range schedule {
		scaled[i] = BasalScheduleEntry{MinuteOfDay: entry.MinuteOfDay, Rate: entry.Rate * factor}
	}
	return scaled
}
