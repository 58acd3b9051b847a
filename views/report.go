package views

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/adamlounds/nightscout-tdd/models"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

var reportTemplate = template.Must(template.ParseFS(templateFS, "templates/report.gohtml"))

const pageTitle = "Total Daily Dose"

type rowView struct {
	Date    string
	Basal   string
	SMB     string
	Bolus   string
	Total   string
	Rolling string
}

type averageView struct {
	Label string
	Days  int
	Basal string
	SMB   string
	Bolus string
	Total string
}

type reportPage struct {
	Title         string
	RunID         string
	GeneratedAt   string
	AsOf          string
	Zone          string
	Mode          models.BasalMode
	NumTreatments int
	Skipped       int
	Warnings      []string
	RollingDays   int
	Rows          []rowView
	Averages      []averageView
	ChartURL      string
}

// units formats insulin amounts with two decimals and thousands separators.
func units(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

func newReportPage(report *models.Report, chartURL string) reportPage {
	loc := report.Location
	if loc == nil {
		loc = time.UTC
	}
	page := reportPage{
		Title:         pageTitle,
		RunID:         report.RunID,
		GeneratedAt:   report.GeneratedAt.In(loc).Format("2006-01-02 15:04"),
		Zone:          loc.String(),
		Mode:          report.Mode,
		NumTreatments: report.NumTreatments,
		Skipped:       report.Skipped,
		Warnings:      report.Warnings,
		RollingDays:   report.RollingDays,
		ChartURL:      chartURL,
	}
	if !report.AsOf.IsZero() {
		page.AsOf = report.AsOf.In(loc).Format("2006-01-02 15:04")
	}

	for _, r := range report.Rows {
		rv := rowView{
			Date:  r.DateString(),
			Basal: units(r.BasalUnits),
			SMB:   units(r.SMBUnits),
			Bolus: units(r.BolusUnits),
			Total: units(r.TotalUnits),
		}
		if rolling, ok := report.Rolling[rv.Date]; ok {
			rv.Rolling = units(rolling)
		}
		page.Rows = append(page.Rows, rv)
	}
	for _, a := range report.Averages {
		page.Averages = append(page.Averages, averageView{
			Label: a.Label(),
			Days:  a.Days,
			Basal: units(a.BasalUnits),
			SMB:   units(a.SMBUnits),
			Bolus: units(a.BolusUnits),
			Total: units(a.TotalUnits),
		})
	}
	return page
}

// RenderHTML writes the report page. chartURL, when set, is linked as the
// chart image.
func RenderHTML(w io.Writer, report *models.Report, chartURL string) error {
	err := reportTemplate.Execute(w, newReportPage(report, chartURL))
	if err != nil {
		return fmt.Errorf("RenderHTML cannot execute template: %w", err)
	}
	return nil
}
