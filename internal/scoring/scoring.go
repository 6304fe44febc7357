// Package scoring derives metric and pillar health. Every function is total
// over its numeric inputs: degenerate cases such as a zero target have a
// defined result instead of an error.
package scoring

import (
	"math"
	"time"

	"github.com/hyperengineering/pillars/internal/types"
)

// Status is the qualitative health bucket of a metric or pillar.
type Status string

const (
	Green  Status = "green"
	Yellow Status = "yellow"
	Red    Status = "red"
)

// Trend is the direction of change from the previous value.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// Fixed variance bands for exact mode, in percent of target.
const (
	exactGreenVariance  = 5
	exactYellowVariance = 15
)

// Bucket places a percentage against threshold floors: at or above green is
// green, at or above yellow is yellow, anything lower is red.
func Bucket(pct float64, th types.Thresholds) Status {
	pct = settle(pct)
	switch {
	case pct >= th.Green:
		return Green
	case pct >= th.Yellow:
		return Yellow
	default:
		return Red
	}
}

// StatusFor evaluates current against target under mode. A zero target is
// always yellow regardless of mode.
func StatusFor(current, target float64, th types.Thresholds, mode types.ComparisonMode) Status {
	if target == 0 {
		return Yellow
	}

	switch mode {
	case types.ModeAtOrBelow:
		if current <= target {
			return Green
		}
		overage := settle((current - target) * 100 / target)
		// The yellow band width follows the green floor, not th.Yellow.
		if overage <= 100-th.Green {
			return Yellow
		}
		return Red

	case types.ModeExact:
		variance := settle(math.Abs(current-target) * 100 / math.Abs(target))
		switch {
		case variance <= exactGreenVariance:
			return Green
		case variance <= exactYellowVariance:
			return Yellow
		default:
			return Red
		}

	default:
		// at_or_above and the naive on_track form.
		return Bucket(current*100/target, th)
	}
}

// PercentageOfTarget returns round(current/target*100). A zero target yields 0.
func PercentageOfTarget(current, target float64) int {
	if target == 0 {
		return 0
	}
	return roundHalfUp(settle(current * 100 / target))
}

// TrendDirection compares current to previous. A missing previous value is flat.
func TrendDirection(current float64, previous *float64) Trend {
	switch {
	case previous == nil:
		return TrendFlat
	case current > *previous:
		return TrendUp
	case current < *previous:
		return TrendDown
	default:
		return TrendFlat
	}
}

// settle absorbs float noise so 69.99999999999999 lands on a 70 floor.
func settle(pct float64) float64 {
	return math.Round(pct*1e6) / 1e6
}

// roundHalfUp rounds half toward +Inf and saturates at the int range, so
// huge or infinite percentages stay ordered instead of wrapping.
func roundHalfUp(x float64) int {
	r := math.Floor(x + 0.5)
	switch {
	case math.IsNaN(r):
		return 0
	case r >= maxIntFloat:
		return math.MaxInt
	case r < -maxIntFloat:
		return math.MinInt
	}
	return int(r)
}

// maxIntFloat is 2^63, the first float64 above math.MaxInt.
const maxIntFloat = float64(1 << 63)

// Evaluation is the derived view of a metric at a point in time.
type Evaluation struct {
	Status             Status      `json:"status"`
	PercentageOfTarget int         `json:"percentage_of_target"`
	Trend              Trend       `json:"trend"`
	Pace               *PaceResult `json:"pace,omitempty"`
}

// Evaluate derives status, percentage and trend for m. on_track metrics are
// judged on pace through their cadence period; all other modes use StatusFor.
func Evaluate(m types.Metric, now time.Time) Evaluation {
	th := thresholdsOrDefault(m.Thresholds)

	ev := Evaluation{
		PercentageOfTarget: PercentageOfTarget(m.CurrentValue, m.TargetValue),
		Trend:              TrendDirection(m.CurrentValue, m.PreviousValue),
	}

	if m.ComparisonMode == types.ModeOnTrack {
		pace := Pace(m.CurrentValue, m.TargetValue, m.Cadence, now)
		ev.Pace = &pace
		ev.Status = paceStatus(pace, m.TargetValue, th)
		return ev
	}

	ev.Status = StatusFor(m.CurrentValue, m.TargetValue, th, m.ComparisonMode)
	return ev
}

func thresholdsOrDefault(th types.Thresholds) types.Thresholds {
	if th == (types.Thresholds{}) {
		return types.DefaultThresholds
	}
	return th
}
