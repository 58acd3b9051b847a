package nightscoutstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/adamlounds/nightscout-tdd/models"
)

// flexFloat accepts the many ways uploaders encode a number: 1.5, "1.5",
// "" and null. Anything unparsable or non-finite ("NaN", "Inf") is treated
// as absent rather than failing the whole batch.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	*f = flexFloat{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f.set(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	f.set(v)
	return nil
}

func (f *flexFloat) set(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	*f = flexFloat{Value: v, Valid: true}
}

func (f flexFloat) ptr() *float64 {
	if !f.Valid {
		return nil
	}
	return models.Float(f.Value)
}

// nsTreatment is a treatment as served by /api/v1/treatments.json, eg
// {"_id":"6748a0c8575df739a9711a41","eventType":"Temp Basal","created_at":"2024-11-28T16:55:04.000Z",
// "duration":30,"rate":0.85,"absolute":0.85,"enteredBy":"openaps://AndroidAPS","mills":1732812904000}
type nsTreatment struct {
	Oid                    string    `json:"_id"`
	EventType              string    `json:"eventType"`
	CreatedAt              string    `json:"created_at"`
	Mills                  flexFloat `json:"mills"`
	Date                   flexFloat `json:"date"`
	Insulin                flexFloat `json:"insulin"`
	Amount                 flexFloat `json:"amount"`
	Rate                   flexFloat `json:"rate"`
	Absolute               flexFloat `json:"absolute"`
	Duration               flexFloat `json:"duration"`
	DurationInMilliseconds flexFloat `json:"durationInMilliseconds"`
	IsSMB                  any       `json:"isSMB"`
	Type                   string    `json:"type"`
	Profile                string    `json:"profile"`
	Percentage             flexFloat `json:"percentage"`
}

func (t nsTreatment) isSMB() bool {
	switch v := t.IsSMB.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return strings.EqualFold(t.Type, "SMB")
}

func (t nsTreatment) toModel() models.TreatmentEvent {
	e := models.TreatmentEvent{
		Oid:         t.Oid,
		CreatedAt:   t.CreatedAt,
		Kind:        t.EventType,
		ProfileName: t.Profile,
		Percentage:  t.Percentage.ptr(),
	}
	if e.Oid == "" {
		e.Oid = newOid()
	}
	switch {
	case t.Mills.Valid && t.Mills.Value > 0:
		e.Mills = int64(t.Mills.Value)
	case t.Date.Valid && t.Date.Value > 0:
		e.Mills = int64(t.Date.Value)
	}

	e.Insulin = t.Insulin.ptr()
	if e.Insulin == nil {
		e.Insulin = t.Amount.ptr()
	}
	// absolute is the delivered U/h; rate is a percentage on some pumps
	e.Rate = t.Absolute.ptr()
	if e.Rate == nil {
		e.Rate = t.Rate.ptr()
	}
	e.DurationMinutes = t.Duration.ptr()
	if e.DurationMinutes == nil && t.DurationInMilliseconds.Valid {
		e.DurationMinutes = models.Float(t.DurationInMilliseconds.Value / 60000)
	}

	// AAPS uploads SMBs as "Correction Bolus" with isSMB, or type "SMB"
	if e.Kind != models.KindTempBasal && t.isSMB() {
		e.Kind = models.KindSMB
	}
	return e
}

type nsBasalEntry struct {
	Time          string    `json:"time"` // "HH:MM"
	TimeAsSeconds flexFloat `json:"timeAsSeconds"`
	Value         flexFloat `json:"value"`
}

type nsProfile struct {
	Timezone string         `json:"timezone"`
	Basal    []nsBasalEntry `json:"basal"`
}

// nsProfileDocument is one /api/v1/profile.json document, eg
// {"_id":"...","defaultProfile":"Default","startDate":"2024-01-01T00:00:00.000Z","mills":1704067200000,
// "store":{"Default":{"timezone":"Europe/London","basal":[{"time":"00:00","value":"0.5","timeAsSeconds":"0"}]}}}
type nsProfileDocument struct {
	Oid            string               `json:"_id"`
	DefaultProfile string               `json:"defaultProfile"`
	StartDate      string               `json:"startDate"`
	Mills          flexFloat            `json:"mills"`
	Store          map[string]nsProfile `json:"store"`
}

var errNoStartDate = errors.New("profile document has no usable startDate")

func (d nsProfileDocument) toModel(ctx context.Context) (models.ProfileDocument, error) {
	log := slogctx.FromCtx(ctx)

	var mills int64
	if d.Mills.Valid {
		mills = int64(d.Mills.Value)
	}
	start, err := models.ParseWireTime(d.StartDate, mills)
	if err != nil {
		return models.ProfileDocument{}, fmt.Errorf("%w: %w", errNoStartDate, err)
	}

	doc := models.ProfileDocument{
		StartDate:      start,
		DefaultProfile: d.DefaultProfile,
		Profiles:       make(map[string]models.BasalProfile, len(d.Store)),
	}
	for name, p := range d.Store {
		schedule := p.schedule()
		if len(schedule) == 0 {
			log.Warn("profile has no basal schedule", slog.String("profile", name))
			continue
		}
		loc := time.UTC
		if p.Timezone != "" {
			l, err := time.LoadLocation(p.Timezone)
			if err != nil {
				log.Warn("profile has unknown timezone, using UTC",
					slog.String("profile", name),
					slog.String("timezone", p.Timezone),
				)
			} else {
				loc = l
			}
		}
		doc.Profiles[name] = models.BasalProfile{Name: name, Location: loc, Schedule: schedule}
	}
	return doc, nil
}

func (p nsProfile) schedule() []models.BasalScheduleEntry {
	schedule := make([]models.BasalScheduleEntry, 0, len(p.Basal))
	for _, b := range p.Basal {
		if !b.Value.Valid {
			continue
		}
		minute, ok := b.minuteOfDay()
		if !ok {
			continue
		}
		schedule = append(schedule, models.BasalScheduleEntry{MinuteOfDay: minute, Rate: b.Value.Value})
	}
	return schedule
}

func (b nsBasalEntry) minuteOfDay() (int, bool) {
	if b.TimeAsSeconds.Valid {
		minute := int(b.TimeAsSeconds.Value) / 60
		return minute, minute >= 0 && minute < 24*60
	}
	hh, mm, found := strings.Cut(b.Time, ":")
	if !found {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
