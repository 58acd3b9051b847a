package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/adamlounds/nightscout-tdd/models"
)

const (
	reportPrefix      = "tdd/"
	historyIndexName  = reportPrefix + "history/index.json"
	historyNameFormat = reportPrefix + "history/%s.json"
)

type BucketStoreInterface interface {
	Get(ctx context.Context, file string) (io.ReadCloser, error)
	Upload(ctx context.Context, name string, r io.Reader) error
	IsObjNotFoundErr(err error) bool
	IsAccessDeniedErr(err error) bool
}

// ReportFiles are the rendered artefacts of one report.
type ReportFiles struct {
	HTML []byte
	JSON []byte
	PNG  []byte
}

// BucketReportRepository publishes rendered reports to an s3-compatible
// bucket. The latest report lives at tdd/index.html, tdd/tdd.json and
// tdd/tdd.png; every run also leaves a dated json snapshot under
// tdd/history/ which tdd/history/index.json lists.
type BucketReportRepository struct {
	BucketStore BucketStoreInterface
}

func NewBucketReportRepository(bs BucketStoreInterface) *BucketReportRepository {
	return &BucketReportRepository{bs}
}

func (p BucketReportRepository) PublishReport(ctx context.Context, report *models.Report, files ReportFiles) error {
	log := slogctx.FromCtx(ctx)
	t1 := time.Now()

	var errs []error
	uploads := []struct {
		name string
		body []byte
	}{
		{reportPrefix + "index.html", files.HTML},
		{reportPrefix + "tdd.json", files.JSON},
		{reportPrefix + "tdd.png", files.PNG},
	}
	for _, u := range uploads {
		if len(u.body) == 0 {
			continue
		}
		if err := p.upload(ctx, u.name, u.body); err != nil {
			errs = append(errs, err)
		}
	}

	if len(files.JSON) > 0 {
		date := historyDate(report)
		if err := p.upload(ctx, fmt.Sprintf(historyNameFormat, date), files.JSON); err != nil {
			errs = append(errs, err)
		} else if err := p.addToHistoryIndex(ctx, date); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("PublishReport cannot upload: %w", errors.Join(errs...))
	}
	log.Info("published report",
		slog.String("runID", report.RunID),
		slog.Int64("duration_ms", time.Since(t1).Milliseconds()),
	)
	return nil
}

// FetchHistoryIndex lists the dates with a published snapshot, oldest first.
// A bucket without an index yields an empty list.
func (p BucketReportRepository) FetchHistoryIndex(ctx context.Context) ([]string, error) {
	log := slogctx.FromCtx(ctx)
	r, err := p.BucketStore.Get(ctx, historyIndexName)
	if err != nil {
		if p.BucketStore.IsObjNotFoundErr(err) {
			log.Debug("history index not written yet", slog.String("file", historyIndexName))
			return []string{}, nil
		}
		if p.BucketStore.IsAccessDeniedErr(err) {
			log.Warn("cannot fetch history index - ACCESS DENIED", slog.Any("err", err))
		}
		return nil, fmt.Errorf("FetchHistoryIndex cannot get: %w", err)
	}
	defer r.Close()

	var dates []string
	if err := json.NewDecoder(r).Decode(&dates); err != nil {
		return nil, fmt.Errorf("FetchHistoryIndex cannot decode: %w", err)
	}
	return dates, nil
}

func (p BucketReportRepository) addToHistoryIndex(ctx context.Context, date string) error {
	dates, err := p.FetchHistoryIndex(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(dates, date) {
		return nil
	}
	dates = append(dates, date)
	slices.Sort(dates)

	b, err := json.Marshal(dates)
	if err != nil {
		return fmt.Errorf("cannot marshal history index: %w", err)
	}
	return p.upload(ctx, historyIndexName, b)
}

func (p BucketReportRepository) upload(ctx context.Context, name string, body []byte) error {
	log := slogctx.FromCtx(ctx)
	err := p.BucketStore.Upload(ctx, name, bytes.NewReader(body))
	if err != nil {
		log.Warn("cannot upload report file", slog.String("name", name), slog.Any("err", err))
		return fmt.Errorf("cannot upload %s: %w", name, err)
	}
	log.Debug("uploaded report file", slog.String("name", name), slog.Int("byteSize", len(body)))
	return nil
}

// historyDate is the local day the report was generated on.
func historyDate(report *models.Report) string {
	loc := report.Location
	if loc == nil {
		loc = time.UTC
	}
	return report.GeneratedAt.In(loc).Format("2006-01-02")
}
