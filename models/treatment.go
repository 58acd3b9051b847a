package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrNotFound = errors.New("models: no resource could be found")
var ErrBadTimestamp = errors.New("models: treatment has no usable timestamp")

// Nightscout eventType values the aggregator cares about. The upstream set is
// open-ended; anything not listed here is classified as ignored unless a
// Classifier says otherwise.
const (
	KindTempBasal       = "Temp Basal"
	KindProfileSwitch   = "Profile Switch"
	KindBolus           = "Bolus"
	KindCorrectionBolus = "Correction Bolus"
	KindMealBolus       = "Meal Bolus"
	KindSnackBolus      = "Snack Bolus"
	KindExtendedBolus   = "Extended Bolus"
	KindComboBolus      = "Combo Bolus"
	KindBolusWizard     = "Bolus Wizard"
	KindSMB             = "SMB"
	KindMicrobolus      = "Microbolus"
	KindSuperMicroBolus = "Super Micro Bolus"
	KindAutomaticBolus  = "Automatic Bolus"
)

// TreatmentEvent is one treatment as recorded upstream. The timestamp is kept
// in its wire form (created_at and/or epoch millis) and only normalised by
// Time(), so a single bad record can be skipped instead of failing a fetch.
type TreatmentEvent struct {
	Oid       string
	CreatedAt string // iso-8601, as sent by the uploader
	Mills     int64  // ms since epoch, preferred when set
	Kind      string

	Insulin         *float64 // units
	Rate            *float64 // U/h, temp basals only
	DurationMinutes *float64

	ProfileName string   // profile switches only
	Percentage  *float64 // profile switches only
}

// created_at layouts seen in the wild: xDrip/AAPS send rfc3339 with ms and a
// Z suffix, older careportal entries sometimes omit the zone entirely.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999Z0700",
	"2006-01-02T15:04:05.999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Time returns the instant the treatment happened. Millis win over
// created_at; created_at without a zone is taken as UTC.
func (e TreatmentEvent) Time() (time.Time, error) {
	return ParseWireTime(e.CreatedAt, e.Mills)
}

// ParseWireTime normalises an upstream timestamp pair to UTC.
func ParseWireTime(iso string, mills int64) (time.Time, error) {
	if mills > 0 {
		return time.UnixMilli(mills).UTC(), nil
	}
	s := strings.TrimSpace(iso)
	if s == "" {
		return time.Time{}, ErrBadTimestamp
	}
	for _, layout := range createdAtLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, iso)
}

// InsulinUnits returns the bolus amount, clamped at zero.
func (e TreatmentEvent) InsulinUnits() float64 {
	if e.Insulin == nil || !finite(*e.Insulin) || *e.Insulin < 0 {
		return 0
	}
	return *e.Insulin
}

// RateUnitsPerHour returns the temp basal rate, clamped at zero. ok is false
// when the event carries no rate at all (an upstream temp basal cancel).
func (e TreatmentEvent) RateUnitsPerHour() (rate float64, ok bool) {
	if e.Rate == nil || !finite(*e.Rate) {
		return 0, false
	}
	if *e.Rate < 0 {
		return 0, true
	}
	return *e.Rate, true
}

// Duration returns the advisory duration, or false if none was recorded.
func (e TreatmentEvent) Duration() (time.Duration, bool) {
	if e.DurationMinutes == nil || !finite(*e.DurationMinutes) || *e.DurationMinutes < 0 {
		return 0, false
	}
	return time.Duration(*e.DurationMinutes * float64(time.Minute)), true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Float returns a pointer to v, for building optional treatment fields.
func Float(v float64) *float64 {
	return &v
}
