package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTreatmentRepository struct {
	fetchTreatmentsFn func(ctx context.Context, since time.Time, maxCount int) ([]TreatmentEvent, error)
}

func (m mockTreatmentRepository) FetchTreatments(ctx context.Context, since time.Time, maxCount int) ([]TreatmentEvent, error) {
	return m.fetchTreatmentsFn(ctx, since, maxCount)
}

type mockProfileRepository struct {
	fetchProfileDocumentsFn func(ctx context.Context) ([]ProfileDocument, error)
}

func (m mockProfileRepository) FetchProfileDocuments(ctx context.Context) ([]ProfileDocument, error) {
	return m.fetchProfileDocumentsFn(ctx)
}

func TestFetchSince(t *testing.T) {
	now := time.Date(2024, 3, 20, 15, 0, 0, 0, time.UTC)

	assert.True(t, fetchSince(ReportOptions{}, now).IsZero())

	opts := ReportOptions{AggregateOptions: AggregateOptions{WindowDays: 14}}
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), fetchSince(opts, now))

	opts.AsOf = time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 24, 0, 0, 0, 0, time.UTC), fetchSince(opts, now))

	tokyo := time.FixedZone("UTC+9", 9*3600)
	opts = ReportOptions{AggregateOptions: AggregateOptions{WindowDays: 1, Location: tokyo}}
	// 15:00 UTC is already the 21st in tokyo
	assert.Equal(t, time.Date(2024, 3, 19, 0, 0, 0, 0, tokyo), fetchSince(opts, now))
}

func TestTDDService_BuildReport(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	var gotSince time.Time
	var gotMax int
	service := &TDDService{
		TreatmentRepository: mockTreatmentRepository{
			fetchTreatmentsFn: func(ctx context.Context, since time.Time, maxCount int) ([]TreatmentEvent, error) {
				gotSince, gotMax = since, maxCount
				return []TreatmentEvent{
					bolusAt(hm(march1, 8, 0), 5),
					bolusAt(hm(nextDay(march1, 1), 8, 0), 6),
					tempBasalAt(hm(nextDay(march1, 2), 1, 0), 1, 60),
					bolusAt(hm(nextDay(march1, 3), 8, 0), 99), // today, still open
					{Oid: "broken", Kind: KindBolus, Insulin: Float(1)},
				}, nil
			},
		},
		Now: func() time.Time { return now },
	}

	report, err := service.BuildReport(contextWithSilentLogger(), ReportOptions{
		AggregateOptions: AggregateOptions{AsOf: now, WindowDays: 3, Dense: true},
		FetchCount:       500,
	})

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), gotSince)
	assert.Equal(t, 500, gotMax)
	_, err = ulid.Parse(report.RunID)
	assert.NoError(t, err)
	assert.Equal(t, now, report.GeneratedAt)
	assert.Equal(t, BasalModeEvents, report.Mode)
	assert.Equal(t, []string{"2024-03-01", "2024-03-02", "2024-03-03"}, dateStrings(report.Rows))
	assert.Equal(t, 5, report.NumTreatments)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, report.Warnings, 1)
	require.NotEmpty(t, report.Averages)
	assert.InDelta(t, 4.0, report.Averages[0].TotalUnits, epsilon)
	assert.Equal(t, 7, report.RollingDays)
	assert.InDelta(t, 4.0, report.Rolling["2024-03-03"], epsilon)
	assert.Equal(t, time.UTC, report.Location)
}

func TestTDDService_BuildReportWithProfiles(t *testing.T) {
	service := &TDDService{
		TreatmentRepository: mockTreatmentRepository{
			fetchTreatmentsFn: func(ctx context.Context, since time.Time, maxCount int) ([]TreatmentEvent, error) {
				return []TreatmentEvent{bolusAt(hm(march1, 8, 0), 5)}, nil
			},
		},
		ProfileRepository: mockProfileRepository{
			fetchProfileDocumentsFn: func(ctx context.Context) ([]ProfileDocument, error) {
				return []ProfileDocument{{
					StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
					DefaultProfile: "default",
					Profiles: map[string]BasalProfile{
						"default": flatProfile(0.5, time.Time{}),
					},
				}}, nil
			},
		},
	}

	report, err := service.BuildReport(contextWithSilentLogger(), ReportOptions{UseProfiles: true})

	require.NoError(t, err)
	assert.Equal(t, BasalModeProfile, report.Mode)
	require.Len(t, report.Rows, 1)
	assert.InDelta(t, 12.0, report.Rows[0].BasalUnits, 1e-6)
	assert.InDelta(t, 17.0, report.Rows[0].TotalUnits, 1e-6)
}

func TestTDDService_BuildReportWithoutProfileDocuments(t *testing.T) {
	service := &TDDService{
		TreatmentRepository: mockTreatmentRepository{
			fetchTreatmentsFn: func(ctx context.Context, since time.Time, maxCount int) ([]TreatmentEvent, error) {
				return []TreatmentEvent{tempBasalAt(hm(march1, 8, 0), 1, 60)}, nil
			},
		},
		ProfileRepository: mockProfileRepository{
			fetchProfileDocumentsFn: func(ctx context.Context) ([]ProfileDocument, error) {
				return nil, nil
			},
		},
	}

	report, err := service.BuildReport(contextWithSilentLogger(), ReportOptions{UseProfiles: true})

	require.NoError(t, err)
	assert.Equal(t, BasalModeEvents, report.Mode)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "no basal profiles")
}

func TestTDDService_BuildReportErrors(t *testing.T) {
	fetchErr := errors.New("remote down")
	okTreatments := mockTreatmentRepository{
		fetchTreatmentsFn: func(ctx context.Context, since time.Time, maxCount int) ([]TreatmentEvent, error) {
			return []TreatmentEvent{bolusAt(hm(march1, 8, 0), 5)}, nil
		},
	}

	tests := []struct {
		name    string
		service *TDDService
		opts    ReportOptions
		wantErr error
	}{
		{
			name: "treatment fetch fails",
			service: &TDDService{TreatmentRepository: mockTreatmentRepository{
				fetchTreatmentsFn: func(ctx context.Context, since time.Time, maxCount int) ([]TreatmentEvent, error) {
					return nil, fetchErr
				},
			}},
			wantErr: fetchErr,
		},
		{
			name: "profile fetch fails",
			service: &TDDService{
				TreatmentRepository: okTreatments,
				ProfileRepository: mockProfileRepository{
					fetchProfileDocumentsFn: func(ctx context.Context) ([]ProfileDocument, error) {
						return nil, fetchErr
					},
				},
			},
			opts:    ReportOptions{UseProfiles: true},
			wantErr: fetchErr,
		},
		{
			name: "no profile active yet",
			service: &TDDService{
				TreatmentRepository: okTreatments,
				ProfileRepository: mockProfileRepository{
					fetchProfileDocumentsFn: func(ctx context.Context) ([]ProfileDocument, error) {
						return []ProfileDocument{{
							StartDate:      hm(march1, 12, 0),
							DefaultProfile: "default",
							Profiles:       map[string]BasalProfile{"default": flatProfile(1, time.Time{})},
						}}, nil
					},
				},
			},
			opts:    ReportOptions{UseProfiles: true},
			wantErr: ErrNoActiveProfile,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := tt.service.BuildReport(contextWithSilentLogger(), tt.opts)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseAsOf(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	got, err := ParseAsOf("2024-07-01", london)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC)), "date means local midnight")

	got, err = ParseAsOf("2024-07-01T12:00:00Z", london)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)))

	got, err = ParseAsOf("2024-07-01", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())

	_, err = ParseAsOf("last tuesday", london)
	assert.ErrorIs(t, err, ErrBadTimestamp)
}
