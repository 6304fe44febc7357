package scoring

import (
	"time"

	"github.com/hyperengineering/pillars/internal/types"
)

// PaceResult is the pace-to-goal view of a metric within its cadence period.
type PaceResult struct {
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	DaysElapsed     int       `json:"days_elapsed"`
	DaysTotal       int       `json:"days_total"`
	ElapsedFraction float64   `json:"elapsed_fraction"`
	ExpectedValue   float64   `json:"expected_value"`
	PacePercentage  float64   `json:"pace_percentage"`
}

// PeriodBounds returns the first and last day (both at midnight in now's
// location) of the cadence period containing now. Weeks run Monday to Sunday.
func PeriodBounds(cadence types.Cadence, now time.Time) (start, end time.Time) {
	y, m, d := now.Date()
	loc := now.Location()

	switch cadence {
	case types.CadenceWeekly:
		offset := (int(now.Weekday()) + 6) % 7
		start = time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 6)
	case types.CadenceQuarterly:
		qm := time.Month((int(m)-1)/3*3 + 1)
		start = time.Date(y, qm, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 3, -1)
	case types.CadenceAnnual:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end = time.Date(y, time.December, 31, 0, 0, 0, 0, loc)
	default:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, -1)
	}
	return start, end
}

// Pace compares current with the value expected after the elapsed share of
// the cadence period. Day counts include the current day. An expected value
// of zero reports a neutral 100.
func Pace(current, target float64, cadence types.Cadence, now time.Time) PaceResult {
	start, end := PeriodBounds(cadence, now)
	elapsed := daysBetween(start, now) + 1
	total := daysBetween(start, end) + 1

	res := PaceResult{
		PeriodStart:     start,
		PeriodEnd:       end,
		DaysElapsed:     elapsed,
		DaysTotal:       total,
		ElapsedFraction: float64(elapsed) / float64(total),
		ExpectedValue:   target * float64(elapsed) / float64(total),
	}

	if res.ExpectedValue == 0 {
		res.PacePercentage = 100
		return res
	}
	// current / (target*elapsed/total) * 100, ordered to keep integer inputs exact.
	res.PacePercentage = current * 100 * float64(total) / (target * float64(elapsed))
	return res
}

// PaceStatus buckets the pace percentage against th like at_or_above.
// A zero target is yellow.
func PaceStatus(current, target float64, th types.Thresholds, cadence types.Cadence, now time.Time) Status {
	return paceStatus(Pace(current, target, cadence, now), target, th)
}

func paceStatus(p PaceResult, target float64, th types.Thresholds) Status {
	if target == 0 {
		return Yellow
	}
	return Bucket(p.PacePercentage, th)
}

// daysBetween counts calendar days from a to b, ignoring clock time and DST.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
