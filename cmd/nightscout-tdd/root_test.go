package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	slogctx "github.com/veqryn/slog-context"

	"github.com/adamlounds/nightscout-tdd/config"
	"github.com/adamlounds/nightscout-tdd/models"
	"github.com/adamlounds/nightscout-tdd/views"
)

func contextWithSilentLogger() context.Context {
	return slogctx.NewCtx(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type mockTreatmentRepository struct {
	treatments []models.TreatmentEvent
}

func (m mockTreatmentRepository) FetchTreatments(ctx context.Context, since time.Time, maxCount int) ([]models.TreatmentEvent, error) {
	return m.treatments, nil
}

func baseConfig(dir string) *config.ReportConfig {
	return &config.ReportConfig{
		Location:   time.UTC,
		WindowDays: 14,
		FetchCount: 100,
		GridStep:   models.DefaultGridStep,
		Classifier: models.DefaultClassifier(),
		OutputDir:  dir,
	}
}

func TestApplyFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--days", "7", "--tz", "Europe/Berlin", "--as-of", "2024-03-05",
		"--desc", "--dense", "--profiles", "--out", "/tmp/tdd",
	}))
	cfg := baseConfig(".")

	rf, opts, err := applyFlags(cmd, cfg)

	require.NoError(t, err)
	assert.False(t, rf.Publish)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, "/tmp/tdd", cfg.OutputDir)
	assert.Equal(t, 7, opts.WindowDays)
	assert.True(t, opts.Descending)
	assert.True(t, opts.Dense)
	assert.True(t, opts.UseProfiles)
	assert.Equal(t, 100, opts.FetchCount)
	assert.True(t, opts.AsOf.Equal(time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)), "as-of date is midnight in --tz")
}

func TestApplyFlags_KeepsConfigWhenUnset(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--publish"}))
	cfg := baseConfig("out")

	rf, opts, err := applyFlags(cmd, cfg)

	require.NoError(t, err)
	assert.True(t, rf.Publish)
	assert.Equal(t, 14, opts.WindowDays)
	assert.Equal(t, time.UTC, opts.Location)
	assert.True(t, opts.AsOf.IsZero())
	assert.Equal(t, "out", cfg.OutputDir)
}

func TestApplyFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown zone", args: []string{"--tz", "Mars/Olympus_Mons"}},
		{name: "negative days", args: []string{"--days", "-1"}},
		{name: "bad as-of", args: []string{"--as-of", "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			_, _, err := applyFlags(cmd, baseConfig("."))
			assert.Error(t, err)
		})
	}
}

func TestRunReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	cfg := baseConfig(dir)
	insulin := 4.0
	svc := &models.TDDService{TreatmentRepository: mockTreatmentRepository{treatments: []models.TreatmentEvent{
		{Oid: "a", CreatedAt: "2024-03-01T08:00:00Z", Kind: models.KindBolus, Insulin: &insulin},
		{Oid: "b", CreatedAt: "2024-03-02T08:00:00Z", Kind: models.KindBolus, Insulin: &insulin},
	}}}
	opts := reportOptions(cfg)
	opts.AsOf = time.Date(2024, 3, 3, 6, 0, 0, 0, time.UTC)

	// publish with no sinks configured is a no-op
	err := runReport(contextWithSilentLogger(), cfg, svc, opts, true)
	require.NoError(t, err)

	for _, name := range []string{"index.html", "tdd.json", "tdd.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	b, err := os.ReadFile(filepath.Join(dir, "tdd.json"))
	require.NoError(t, err)
	var got views.JSONReport
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "2024-03-01", got.Rows[0].Date)
	assert.InDelta(t, 4.0, got.Rows[1].Bolus, 1e-9)
}
