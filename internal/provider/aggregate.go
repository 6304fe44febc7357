package provider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/hyperengineering/pillars/internal/types"
)

// Result is the outcome of one aggregated query.
type Result struct {
	// Value is the reduced scalar. An empty value set reduces to 0.
	Value float64 `json:"value"`

	// Matched is the number of records the query returned (after the cap).
	Matched int `json:"matched"`

	// Discarded counts extracted values that were empty or non-numeric and
	// therefore left out of the aggregate.
	Discarded int `json:"discarded"`
}

// aggregator accumulates matched records and their coerced values.
type aggregator struct {
	method    types.AggregationMethod
	values    []float64
	matched   int
	discarded int
}

func newAggregator(method types.AggregationMethod) *aggregator {
	return &aggregator{method: method}
}

// match records one matched record. For non-count methods the raw field
// value is coerced; failures are counted and otherwise ignored.
func (a *aggregator) match(raw any, coerce func(any) (float64, bool)) {
	a.matched++
	if a.method == types.AggregateCount {
		return
	}
	if v, ok := coerce(raw); ok {
		a.values = append(a.values, v)
		return
	}
	a.discarded++
}

func (a *aggregator) result() *Result {
	if a.method == types.AggregateCount {
		return &Result{Value: float64(a.matched), Matched: a.matched}
	}
	return &Result{
		Value:     Reduce(a.method, a.values),
		Matched:   a.matched,
		Discarded: a.discarded,
	}
}

// Reduce applies the aggregation method to values. Every method yields 0 for
// an empty set.
func Reduce(method types.AggregationMethod, values []float64) float64 {
	if method == types.AggregateCount {
		return float64(len(values))
	}
	if len(values) == 0 {
		return 0
	}

	switch method {
	case types.AggregateAverage:
		return sum(values) / float64(len(values))
	case types.AggregateMax:
		m := values[0]
		for _, v := range values[1:] {
			m = math.Max(m, v)
		}
		return m
	case types.AggregateMin:
		m := values[0]
		for _, v := range values[1:] {
			m = math.Min(m, v)
		}
		return m
	default:
		return sum(values)
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// CoerceNumber converts a decoded JSON value to a float. Numeric strings are
// parsed; empty strings, NaN, infinities, booleans and anything else fail.
func CoerceNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return finite(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return finite(f)
	default:
		return 0, false
	}
}

// currencyStripper removes currency symbols, grouping commas and spaces.
var currencyStripper = strings.NewReplacer(
	"$", "", "€", "", "£", "", "¥", "", "₹", "",
	",", "", " ", "", "\u00a0", "",
)

// CoerceFormatted is CoerceNumber for display-formatted cells such as
// "$1,200.50".
func CoerceFormatted(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		return CoerceNumber(currencyStripper.Replace(s))
	}
	return CoerceNumber(v)
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
