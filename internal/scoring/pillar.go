package scoring

import (
	"time"

	"github.com/hyperengineering/pillars/internal/types"
)

// PillarScore is the rounded mean of PercentageOfTarget over the key-result
// metrics. Leading indicators and quality metrics are informational and do
// not count. No key results scores 0.
func PillarScore(metrics []types.Metric) int {
	var total float64
	n := 0
	for _, m := range metrics {
		if m.MetricType != types.MetricKeyResult {
			continue
		}
		total += float64(PercentageOfTarget(m.CurrentValue, m.TargetValue))
		n++
	}
	if n == 0 {
		return 0
	}
	return roundHalfUp(total / float64(n))
}

// PillarStatus buckets a pillar score against the pillar's own thresholds.
func PillarStatus(score int, th types.Thresholds) Status {
	return Bucket(float64(score), thresholdsOrDefault(th))
}

// MetricEvaluation is a metric together with its derived evaluation.
type MetricEvaluation struct {
	types.Metric
	Evaluation Evaluation `json:"evaluation"`
}

// PillarEvaluation is a pillar with its score, status and evaluated metrics.
type PillarEvaluation struct {
	types.Pillar
	Score   int                `json:"score"`
	Status  Status             `json:"status"`
	Metrics []MetricEvaluation `json:"metrics"`
}

// EvaluatePillar scores p from metrics and evaluates each metric at now.
// Metrics keep their given order.
func EvaluatePillar(p types.Pillar, metrics []types.Metric, now time.Time) PillarEvaluation {
	score := PillarScore(metrics)
	ev := PillarEvaluation{
		Pillar:  p,
		Score:   score,
		Status:  PillarStatus(score, p.Thresholds),
		Metrics: make([]MetricEvaluation, 0, len(metrics)),
	}
	for _, m := range metrics {
		ev.Metrics = append(ev.Metrics, MetricEvaluation{Metric: m, Evaluation: Evaluate(m, now)})
	}
	return ev
}
