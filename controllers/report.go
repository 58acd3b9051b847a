package controllers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	slogctx "github.com/veqryn/slog-context"

	"github.com/adamlounds/nightscout-tdd/middleware"
	"github.com/adamlounds/nightscout-tdd/models"
	"github.com/adamlounds/nightscout-tdd/views"
)

const maxQueryDays = 365

type ReportBuilder interface {
	BuildReport(ctx context.Context, opts models.ReportOptions) (*models.Report, error)
}

// ReportController serves freshly built reports. Defaults carries the
// configured options; query parameters override them per request.
type ReportController struct {
	ReportBuilder
	Defaults models.ReportOptions
}

// NewRouter wires the report endpoints behind authentication.
func NewRouter(rc ReportController, authMW AuthnMiddleware) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Logger)
	r.Use(chimw.StripSlashes)
	r.Use(authMW.SetAuthentication)

	r.With(authMW.Authz(models.PermissionReadTDD)).Get("/", rc.HTML)
	r.With(authMW.Authz(models.PermissionReadTDD)).Get("/tdd.png", rc.Chart)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.URLFormat)
		r.With(authMW.Authz(models.PermissionReadTDD)).Get("/tdd", rc.JSON)
	})
	return r
}

// reportOptions applies the days, asof, order and dense query params to
// the defaults.
func (c ReportController) reportOptions(r *http.Request) (models.ReportOptions, error) {
	opts := c.Defaults
	q := r.URL.Query()
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	if v := q.Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 || days > maxQueryDays {
			return opts, fmt.Errorf("days must be a whole number between 1 and %d", maxQueryDays)
		}
		opts.WindowDays = days
	}

	if v := q.Get("asof"); v != "" {
		asOf, err := models.ParseAsOf(v, loc)
		if err != nil {
			return opts, errors.New("asof must be RFC3339 or YYYY-MM-DD")
		}
		opts.AsOf = asOf
	}

	switch q.Get("order") {
	case "":
	case "asc":
		opts.Descending = false
	case "desc":
		opts.Descending = true
	default:
		return opts, errors.New("order must be asc or desc")
	}

	if v := q.Get("dense"); v != "" {
		dense, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("dense must be true or false")
		}
		opts.Dense = dense
	}
	return opts, nil
}

// build writes the error response itself and returns nil when no report
// could be built.
func (c ReportController) build(w http.ResponseWriter, r *http.Request) *models.Report {
	ctx := r.Context()
	log := slogctx.FromCtx(ctx)

	opts, err := c.reportOptions(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.PlainText(w, r, err.Error())
		return nil
	}

	report, err := c.BuildReport(ctx, opts)
	if err != nil {
		if errors.Is(err, models.ErrNoActiveProfile) || errors.Is(err, models.ErrEmptyBasalSchedule) {
			log.Info("report needs a basal profile", slog.Any("err", err))
			render.Status(r, http.StatusUnprocessableEntity)
			render.PlainText(w, r, err.Error())
			return nil
		}
		log.Warn("BuildReport failed", slog.Any("err", err))
		render.Status(r, http.StatusBadGateway)
		render.PlainText(w, r, "cannot build report")
		return nil
	}
	return report
}

func (c ReportController) HTML(w http.ResponseWriter, r *http.Request) {
	report := c.build(w, r)
	if report == nil {
		return
	}

	chartURL := "tdd.png"
	if r.URL.RawQuery != "" {
		chartURL += "?" + r.URL.RawQuery
	}
	var buf bytes.Buffer
	if err := views.RenderHTML(&buf, report, chartURL); err != nil {
		slogctx.FromCtx(r.Context()).Error("cannot render html", slog.Any("err", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (c ReportController) Chart(w http.ResponseWriter, r *http.Request) {
	report := c.build(w, r)
	if report == nil {
		return
	}

	var buf bytes.Buffer
	if err := views.RenderChart(&buf, report.Rows, views.DefaultChartWidth, views.DefaultChartHeight); err != nil {
		slogctx.FromCtx(r.Context()).Error("cannot render chart", slog.Any("err", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (c ReportController) JSON(w http.ResponseWriter, r *http.Request) {
	if format, _ := r.Context().Value(chimw.URLFormatCtxKey).(string); format != "" && format != "json" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	report := c.build(w, r)
	if report == nil {
		return
	}
	render.JSON(w, r, views.NewJSONReport(report))
}
