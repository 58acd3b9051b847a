package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamlounds/nightscout-tdd/models"
)

type fakeBatchResults struct {
	execErrs []error
	calls    int
	closed   bool
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	var err error
	if f.calls < len(f.execErrs) {
		err = f.execErrs[f.calls]
	}
	f.calls++
	return pgconn.NewCommandTag("INSERT 0 1"), err
}

func (f *fakeBatchResults) Query() (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBatchResults) QueryRow() pgx.Row {
	return nil
}

func (f *fakeBatchResults) Close() error {
	f.closed = true
	return nil
}

type fakeRow struct {
	values []float64
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*float64)) = r.values[i]
	}
	return nil
}

type fakeDB struct {
	execSQL   []string
	execErr   error
	batch     *pgx.Batch
	results   *fakeBatchResults
	row       fakeRow
	queryArgs []any
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), f.execErr
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.queryArgs = args
	return f.row
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batch = b
	return f.results
}

var doseRows = []models.DailyDoseRow{
	{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), BasalUnits: 10, BolusUnits: 5, SMBUnits: 1, TotalUnits: 16},
	{Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), BasalUnits: 11, BolusUnits: 4, SMBUnits: 0, TotalUnits: 15},
}

func TestPostgresDoseRepository_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	repo := NewPostgresDoseRepository(db)

	require.NoError(t, repo.EnsureSchema(contextWithSilentLogger()))
	require.Len(t, db.execSQL, 1)
	assert.Contains(t, db.execSQL[0], "CREATE TABLE IF NOT EXISTS daily_doses")

	db.execErr = errors.New("permission denied for schema public")
	assert.ErrorIs(t, repo.EnsureSchema(contextWithSilentLogger()), db.execErr)
}

func TestPostgresDoseRepository_SaveDailyDoses(t *testing.T) {
	db := &fakeDB{results: &fakeBatchResults{}}
	repo := NewPostgresDoseRepository(db)

	err := repo.SaveDailyDoses(contextWithSilentLogger(), "run-1", nil, doseRows)

	require.NoError(t, err)
	require.NotNil(t, db.batch)
	require.Len(t, db.batch.QueuedQueries, 2)
	assert.Equal(t, []any{"2024-03-01", "UTC", 10.0, 5.0, 1.0, 16.0, "run-1"}, db.batch.QueuedQueries[0].Arguments)
	assert.Equal(t, "2024-03-02", db.batch.QueuedQueries[1].Arguments[0])
	assert.Equal(t, 2, db.results.calls)
	assert.True(t, db.results.closed)
}

func TestPostgresDoseRepository_SaveDailyDosesErrors(t *testing.T) {
	db := &fakeDB{results: &fakeBatchResults{execErrs: []error{nil, errors.New("duplicate key")}}}
	repo := NewPostgresDoseRepository(db)

	err := repo.SaveDailyDoses(contextWithSilentLogger(), "run-1", time.UTC, doseRows)

	assert.ErrorContains(t, err, "2024-03-02")
	assert.True(t, db.results.closed)
}

func TestPostgresDoseRepository_SaveNothing(t *testing.T) {
	db := &fakeDB{}
	repo := NewPostgresDoseRepository(db)

	assert.NoError(t, repo.SaveDailyDoses(contextWithSilentLogger(), "run-1", time.UTC, nil))
	assert.Nil(t, db.batch)
}

func TestPostgresDoseRepository_FetchDailyDose(t *testing.T) {
	db := &fakeDB{row: fakeRow{values: []float64{10, 5, 1, 16}}}
	repo := NewPostgresDoseRepository(db)

	row, err := repo.FetchDailyDose(contextWithSilentLogger(), "2024-03-01", time.UTC)

	require.NoError(t, err)
	assert.Equal(t, []any{"2024-03-01", "UTC"}, db.queryArgs)
	assert.Equal(t, doseRows[0], *row)

	db.row = fakeRow{err: pgx.ErrNoRows}
	_, err = repo.FetchDailyDose(contextWithSilentLogger(), "2024-03-05", time.UTC)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.FetchDailyDose(contextWithSilentLogger(), "yesterday", time.UTC)
	assert.Error(t, err)
}
