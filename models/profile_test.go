package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasalFromProfile(t *testing.T) {
	p := BasalProfile{
		Name:     "default",
		Location: time.UTC,
		Schedule: []BasalScheduleEntry{
			{MinuteOfDay: 60, Rate: 0.6},
			{MinuteOfDay: 480, Rate: 1.2},
			{MinuteOfDay: 1200, Rate: 0.9},
		},
	}

	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{name: "before the first entry wraps", at: hm(march1, 0, 30), want: 0.6},
		{name: "exactly at an entry", at: hm(march1, 1, 0), want: 0.6},
		{name: "between entries", at: hm(march1, 7, 59), want: 0.6},
		{name: "second entry", at: hm(march1, 8, 0), want: 1.2},
		{name: "last entry until midnight", at: hm(march1, 23, 59), want: 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BasalFromProfile(p, tt.at)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, epsilon)
		})
	}
}

func TestBasalFromProfile_UnsortedSchedule(t *testing.T) {
	p := BasalProfile{Schedule: []BasalScheduleEntry{
		{MinuteOfDay: 720, Rate: 2},
		{MinuteOfDay: 0, Rate: 1},
	}}

	got, err := BasalFromProfile(p, hm(march1, 13, 0))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, epsilon)
	assert.Equal(t, 720, p.Schedule[0].MinuteOfDay, "schedule is not reordered in place")
}

func TestBasalFromProfile_ConvertsToProfileZone(t *testing.T) {
	p := BasalProfile{
		Location: time.FixedZone("UTC-5", -5*3600),
		Schedule: []BasalScheduleEntry{
			{MinuteOfDay: 0, Rate: 0.5},
			{MinuteOfDay: 360, Rate: 1.5},
		},
	}

	// 09:00 UTC is 04:00 in the profile zone
	got, err := BasalFromProfile(p, hm(march1, 9, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, epsilon)

	// 12:00 UTC is 07:00 in the profile zone
	got, err = BasalFromProfile(p, hm(march1, 12, 0))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, got, epsilon)
}

func TestBasalFromProfile_EmptySchedule(t *testing.T) {
	_, err := BasalFromProfile(BasalProfile{Name: "empty"}, march1)
	assert.ErrorIs(t, err, ErrEmptyBasalSchedule)
}

func TestActiveProfileAt(t *testing.T) {
	a := BasalProfile{Name: "a", ActivatedAt: hm(march1, 0, 0)}
	b := BasalProfile{Name: "b", ActivatedAt: hm(march1, 12, 0)}
	c := BasalProfile{Name: "c", ActivatedAt: hm(nextDay(march1, 1), 0, 0)}
	unsorted := []BasalProfile{c, a, b}

	tests := []struct {
		name    string
		instant time.Time
		want    string
		wantErr bool
	}{
		{name: "before any activation", instant: hm(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), 23, 0), wantErr: true},
		{name: "at the first activation", instant: march1, want: "a"},
		{name: "between activations", instant: hm(march1, 11, 59), want: "a"},
		{name: "exactly at a switch", instant: hm(march1, 12, 0), want: "b"},
		{name: "after the last", instant: hm(nextDay(march1, 5), 9, 0), want: "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ActiveProfileAt(unsorted, tt.instant)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoActiveProfile)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestActiveProfileAt_LaterEntryWinsTies(t *testing.T) {
	profiles := []BasalProfile{
		{Name: "first", ActivatedAt: march1},
		{Name: "second", ActivatedAt: march1},
	}
	got, err := ActiveProfileAt(profiles, hm(march1, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)
}

func TestActiveProfileAt_Empty(t *testing.T) {
	_, err := ActiveProfileAt(nil, march1)
	assert.ErrorIs(t, err, ErrNoActiveProfile)
	assert.Contains(t, err.Error(), "2024-03-01T00:00:00Z")
}

func TestBuildActivations(t *testing.T) {
	weekday := BasalProfile{Location: time.UTC, Schedule: []BasalScheduleEntry{{MinuteOfDay: 0, Rate: 1.0}}}
	sick := BasalProfile{Location: time.UTC, Schedule: []BasalScheduleEntry{{MinuteOfDay: 0, Rate: 1.5}}}
	docs := []ProfileDocument{
		{
			StartDate:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			DefaultProfile: "weekday",
			Profiles:       map[string]BasalProfile{"weekday": weekday, "sick": sick},
		},
		{
			StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			DefaultProfile: "missing",
			Profiles:       map[string]BasalProfile{"weekday": weekday},
		},
	}

	sickSwitch := treatmentAt(KindProfileSwitch, hm(march1, 8, 0))
	sickSwitch.ProfileName = "sick"
	halfSwitch := treatmentAt(KindProfileSwitch, hm(march1, 20, 0))
	halfSwitch.ProfileName = "weekday"
	halfSwitch.Percentage = Float(50)
	unknownSwitch := treatmentAt(KindProfileSwitch, hm(march1, 21, 0))
	unknownSwitch.ProfileName = "holiday"
	tooEarly := treatmentAt(KindProfileSwitch, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC))
	tooEarly.ProfileName = "weekday"
	badTime := TreatmentEvent{Kind: KindProfileSwitch, ProfileName: "sick", CreatedAt: "garbage"}

	activations := BuildActivations(contextWithSilentLogger(), docs,
		[]TreatmentEvent{halfSwitch, unknownSwitch, sickSwitch, tooEarly, badTime, bolusAt(march1, 1)})

	require.Len(t, activations, 3)
	assert.Equal(t, "weekday", activations[0].Name)
	assert.Equal(t, docs[0].StartDate, activations[0].ActivatedAt)
	assert.Equal(t, "sick", activations[1].Name)
	assert.Equal(t, hm(march1, 8, 0), activations[1].ActivatedAt)
	assert.Equal(t, "weekday", activations[2].Name)
	assert.InDelta(t, 0.5, activations[2].Schedule[0].Rate, epsilon)
	assert.InDelta(t, 1.0, weekday.Schedule[0].Rate, epsilon, "percentage does not touch the document")

	active, err := ActiveProfileAt(activations, hm(march1, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, "sick", active.Name)
}
