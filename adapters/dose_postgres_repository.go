package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	slogctx "github.com/veqryn/slog-context"

	"github.com/adamlounds/nightscout-tdd/models"
)

const createDailyDosesSQL = `CREATE TABLE IF NOT EXISTS daily_doses (
	day         date NOT NULL,
	tz          text NOT NULL,
	basal_units double precision NOT NULL,
	bolus_units double precision NOT NULL,
	smb_units   double precision NOT NULL,
	total_units double precision NOT NULL,
	run_id      text NOT NULL,
	updated_at  timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (day, tz)
)`

const upsertDailyDoseSQL = `INSERT INTO daily_doses (day, tz, basal_units, bolus_units, smb_units, total_units, run_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (day, tz) DO UPDATE SET
	basal_units = EXCLUDED.basal_units,
	bolus_units = EXCLUDED.bolus_units,
	smb_units = EXCLUDED.smb_units,
	total_units = EXCLUDED.total_units,
	run_id = EXCLUDED.run_id,
	updated_at = EXCLUDED.updated_at`

// pgxDB is the subset of *pgxpool.Pool the repository needs.
type pgxDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PostgresDoseRepository struct {
	db pgxDB
}

func NewPostgresDoseRepository(db pgxDB) *PostgresDoseRepository {
	return &PostgresDoseRepository{db: db}
}

func (p PostgresDoseRepository) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, createDailyDosesSQL)
	if err != nil {
		return fmt.Errorf("pgdose EnsureSchema: %w", err)
	}
	return nil
}

// SaveDailyDoses upserts one row per day, keyed by day and zone name, so
// re-running a report overwrites the earlier figures for those days.
func (p PostgresDoseRepository) SaveDailyDoses(ctx context.Context, runID string, loc *time.Location, rows []models.DailyDoseRow) error {
	log := slogctx.FromCtx(ctx)
	if len(rows) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertDailyDoseSQL, r.DateString(), loc.String(), r.BasalUnits, r.BolusUnits, r.SMBUnits, r.TotalUnits, runID)
	}

	br := p.db.SendBatch(ctx, batch)
	defer br.Close()
	for _, r := range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("pgdose SaveDailyDoses %s: %w", r.DateString(), err)
		}
	}
	log.Debug("saved daily doses", slog.String("runID", runID), slog.Int("numRows", len(rows)))
	return nil
}

func (p PostgresDoseRepository) FetchDailyDose(ctx context.Context, day string, loc *time.Location) (*models.DailyDoseRow, error) {
	if loc == nil {
		loc = time.UTC
	}
	date, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return nil, fmt.Errorf("pgdose FetchDailyDose: %w", err)
	}

	row := models.DailyDoseRow{Date: date}
	err = p.db.QueryRow(ctx,
		"SELECT basal_units, bolus_units, smb_units, total_units FROM daily_doses WHERE day = $1 AND tz = $2",
		day, loc.String(),
	).Scan(&row.BasalUnits, &row.BolusUnits, &row.SMBUnits, &row.TotalUnits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("pgdose FetchDailyDose: %w", err)
	}
	return &row, nil
}
