package views

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/adamlounds/nightscout-tdd/models"
)

type jsonRow struct {
	Date    string   `json:"date"`
	Basal   float64  `json:"basal"`
	Bolus   float64  `json:"bolus"`
	SMB     float64  `json:"smb"`
	Total   float64  `json:"total"`
	Rolling *float64 `json:"rolling,omitempty"`
}

type jsonAverage struct {
	Period string  `json:"period"`
	Days   int     `json:"days"`
	Basal  float64 `json:"basal"`
	Bolus  float64 `json:"bolus"`
	SMB    float64 `json:"smb"`
	Total  float64 `json:"total"`
}

// JSONReport is the machine-readable report served at /api/v1/tdd.json and
// published as tdd.json.
type JSONReport struct {
	RunID         string        `json:"runId"`
	GeneratedAt   time.Time     `json:"generatedAt"`
	AsOf          *time.Time    `json:"asOf,omitempty"`
	Timezone      string        `json:"timezone"`
	Mode          string        `json:"basalMode"`
	WindowDays    int           `json:"windowDays"`
	RollingDays   int           `json:"rollingDays"`
	NumTreatments int           `json:"numTreatments"`
	Skipped       int           `json:"skipped"`
	Warnings      []string      `json:"warnings,omitempty"`
	Rows          []jsonRow     `json:"rows"`
	Averages      []jsonAverage `json:"averages"`
}

func NewJSONReport(report *models.Report) JSONReport {
	loc := report.Location
	if loc == nil {
		loc = time.UTC
	}
	jr := JSONReport{
		RunID:         report.RunID,
		GeneratedAt:   report.GeneratedAt.UTC(),
		Timezone:      loc.String(),
		Mode:          string(report.Mode),
		WindowDays:    report.WindowDays,
		RollingDays:   report.RollingDays,
		NumTreatments: report.NumTreatments,
		Skipped:       report.Skipped,
		Warnings:      report.Warnings,
		Rows:          make([]jsonRow, 0, len(report.Rows)),
		Averages:      make([]jsonAverage, 0, len(report.Averages)),
	}
	if !report.AsOf.IsZero() {
		asOf := report.AsOf.UTC()
		jr.AsOf = &asOf
	}
	for _, r := range report.Rows {
		row := jsonRow{
			Date:  r.DateString(),
			Basal: r.BasalUnits,
			Bolus: r.BolusUnits,
			SMB:   r.SMBUnits,
			Total: r.TotalUnits,
		}
		if rolling, ok := report.Rolling[row.Date]; ok {
			row.Rolling = &rolling
		}
		jr.Rows = append(jr.Rows, row)
	}
	for _, a := range report.Averages {
		jr.Averages = append(jr.Averages, jsonAverage{
			Period: a.Label(),
			Days:   a.Days,
			Basal:  a.BasalUnits,
			Bolus:  a.BolusUnits,
			SMB:    a.SMBUnits,
			Total:  a.TotalUnits,
		})
	}
	return jr
}

func RenderJSON(w io.Writer, report *models.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewJSONReport(report)); err != nil {
		return fmt.Errorf("RenderJSON cannot encode: %w", err)
	}
	return nil
}
