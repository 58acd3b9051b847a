package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	slogctx "github.com/veqryn/slog-context"

	repository "github.com/adamlounds/nightscout-tdd/adapters"
	"github.com/adamlounds/nightscout-tdd/config"
	"github.com/adamlounds/nightscout-tdd/models"
	bucketstore "github.com/adamlounds/nightscout-tdd/stores/bucket"
	pgstore "github.com/adamlounds/nightscout-tdd/stores/postgres"
	"github.com/adamlounds/nightscout-tdd/views"
)

func renderFiles(report *models.Report) (repository.ReportFiles, error) {
	var files repository.ReportFiles
	var html, js, chart bytes.Buffer

	if err := views.RenderHTML(&html, report, "tdd.png"); err != nil {
		return files, err
	}
	if err := views.RenderJSON(&js, report); err != nil {
		return files, err
	}
	if err := views.RenderChart(&chart, report.Rows, views.DefaultChartWidth, views.DefaultChartHeight); err != nil {
		return files, err
	}
	files.HTML, files.JSON, files.PNG = html.Bytes(), js.Bytes(), chart.Bytes()
	return files, nil
}

// publishReport sends the report to every configured sink. A failing sink
// does not stop the others.
func publishReport(ctx context.Context, cfg *config.ReportConfig, report *models.Report, files repository.ReportFiles) error {
	log := slogctx.FromCtx(ctx)
	var errs []error

	if cfg.HasS3Config {
		if err := publishToBucket(ctx, cfg, report, files); err != nil {
			errs = append(errs, err)
		}
	} else {
		log.Debug("S3_CONFIG not set, skipping bucket publish")
	}

	if cfg.Postgres.IsConfigured() {
		if err := saveToPostgres(ctx, cfg, report); err != nil {
			errs = append(errs, err)
		}
	} else {
		log.Debug("PG_HOST not set, skipping postgres sink")
	}

	if len(errs) > 0 {
		log.Error("publish failed", slog.Any("err", errors.Join(errs...)))
		return fmt.Errorf("cannot publish report: %w", errors.Join(errs...))
	}
	return nil
}

func publishToBucket(ctx context.Context, cfg *config.ReportConfig, report *models.Report, files repository.ReportFiles) error {
	bs, err := bucketstore.New(cfg.S3Config)
	if err != nil {
		return err
	}
	defer bs.Close()

	if err := bs.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping s3 storage: %w", err)
	}
	return repository.NewBucketReportRepository(bs).PublishReport(ctx, report, files)
}

func saveToPostgres(ctx context.Context, cfg *config.ReportConfig, report *models.Report) error {
	pg, err := pgstore.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Ping(ctx); err != nil {
		return err
	}
	doses := repository.NewPostgresDoseRepository(pg.DB)
	if err := doses.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := doses.SaveDailyDoses(ctx, report.RunID, report.Location, report.Rows); err != nil {
		return err
	}
	return verifySavedDoses(ctx, doses, report)
}

type dailyDoseReader interface {
	FetchDailyDose(ctx context.Context, day string, loc *time.Location) (*models.DailyDoseRow, error)
}

// verifySavedDoses reads back the newest saved day and checks it matches
// the report.
func verifySavedDoses(ctx context.Context, doses dailyDoseReader, report *models.Report) error {
	if len(report.Rows) == 0 {
		return nil
	}
	newest := slices.MaxFunc(report.Rows, func(a, b models.DailyDoseRow) int { return a.Date.Compare(b.Date) })

	saved, err := doses.FetchDailyDose(ctx, newest.DateString(), report.Location)
	if err != nil {
		return fmt.Errorf("cannot read back %s: %w", newest.DateString(), err)
	}
	if math.Abs(saved.TotalUnits-newest.TotalUnits) > 1e-6 {
		return fmt.Errorf("read back %s: stored total %.3f, want %.3f", newest.DateString(), saved.TotalUnits, newest.TotalUnits)
	}
	slogctx.FromCtx(ctx).Debug("daily doses verified", slog.String("day", newest.DateString()))
	return nil
}
