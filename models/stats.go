package models

import (
	"slices"
	"strconv"
)

// DefaultAveragePeriods are the trailing windows shown under the daily table.
// 0 means every row.
var DefaultAveragePeriods = []int{7, 14, 30, 0}

// Average is the mean daily dose over the newest Days rows.
type Average struct {
	Period       int // requested period, 0 = all
	Days         int // rows actually used
	BasalUnits   float64
	BolusUnits   float64
	SMBUnits     float64
	TotalUnits   float64
	BasalPercent float64
}

func (a Average) Label() string {
	if a.Period == 0 {
		return "all"
	}
	return strconv.Itoa(a.Period) + "d"
}

func ascending(rows []DailyDoseRow) []DailyDoseRow {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b DailyDoseRow) int { return a.Date.Compare(b.Date) })
	return sorted
}

// Summarize averages the newest N rows for each period. Periods longer than
// the history are averaged over what exists; a period that would cover the
// same rows as the previous one is dropped. Row order does not matter.
func Summarize(rows []DailyDoseRow, periods []int) []Average {
	if len(rows) == 0 {
		return nil
	}
	sorted := ascending(rows)

	var averages []Average
	lastDays := -1
	for _, period := range periods {
		n := period
		if n <= 0 || n > len(sorted) {
			n = len(sorted)
		}
		if n == lastDays {
			continue
		}
		lastDays = n

		avg := Average{Period: period, Days: n}
		for _, r := range sorted[len(sorted)-n:] {
			avg.BasalUnits += r.BasalUnits
			avg.BolusUnits += r.BolusUnits
			avg.SMBUnits += r.SMBUnits
		}
		days := float64(n)
		avg.BasalUnits /= days
		avg.BolusUnits /= days
		avg.SMBUnits /= days
		avg.TotalUnits = avg.BasalUnits + avg.BolusUnits + avg.SMBUnits
		if avg.TotalUnits > 0 {
			avg.BasalPercent = 100 * avg.BasalUnits / avg.TotalUnits
		}
		averages = append(averages, avg)
	}
	return averages
}

// RollingTotals returns, per row date, the mean TotalUnits of that row and
// the n-1 rows before it in date order. Keys are yyyy-mm-dd.
func RollingTotals(rows []DailyDoseRow, n int) map[string]float64 {
	if n <= 0 {
		n = 1
	}
	sorted := ascending(rows)
	rolling := make(map[string]float64, len(sorted))
	var sum float64
	for i, r := range sorted {
		sum += r.TotalUnits
		if i >= n {
			sum -= sorted[i-n].TotalUnits
		}
		width := n
		if i+1 < n {
			width = i + 1
		}
		rolling[r.DateString()] = sum / float64(width)
	}
	return rolling
}
