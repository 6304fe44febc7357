package provider

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/hyperengineering/pillars/internal/types"
)

func TestReduce(t *testing.T) {
	values := []float64{4, 10, 1}

	tests := []struct {
		method types.AggregationMethod
		want   float64
	}{
		{types.AggregateSum, 15},
		{types.AggregateAverage, 5},
		{types.AggregateMax, 10},
		{types.AggregateMin, 1},
		{types.AggregateCount, 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			if got := Reduce(tt.method, values); got != tt.want {
				t.Errorf("Reduce(%s) = %v, want %v", tt.method, got, tt.want)
			}
		})
	}
}

func TestReduce_EmptyIsZero(t *testing.T) {
	for _, m := range types.AggregationMethods {
		if got := Reduce(types.AggregationMethod(m), nil); got != 0 {
			t.Errorf("Reduce(%s, nil) = %v, want 0", m, got)
		}
	}
}

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float", 12.5, 12.5, true},
		{"int", 7, 7, true},
		{"json number", json.Number("3.25"), 3.25, true},
		{"numeric string", " 42 ", 42, true},
		{"negative string", "-1.5", -1.5, true},
		{"empty string", "", 0, false},
		{"blank string", "   ", 0, false},
		{"word", "bad", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
		{"nan", math.NaN(), 0, false},
		{"inf string", "Inf", 0, false},
		{"currency not stripped", "$5", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceNumber(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("CoerceNumber(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCoerceFormatted(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{"$1,200.50", 1200.5, true},
		{"€ 3 000", 3000, true},
		{"£99", 99, true},
		{"1 500", 1500, true},
		{"12%", 0, false},
		{"n/a", 0, false},
		{"", 0, false},
		{float64(8), 8, true},
	}

	for _, tt := range tests {
		got, ok := CoerceFormatted(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("CoerceFormatted(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAggregator_DiscardsNonNumeric(t *testing.T) {
	// Given: an average over [10, "20", "bad", ""]
	agg := newAggregator(types.AggregateAverage)
	for _, raw := range []any{10.0, "20", "bad", ""} {
		agg.match(raw, CoerceNumber)
	}

	// When: the result is taken
	res := agg.result()

	// Then: only the two numeric values participate
	if res.Value != 15 {
		t.Errorf("Value = %v, want 15", res.Value)
	}
	if res.Matched != 4 {
		t.Errorf("Matched = %d, want 4", res.Matched)
	}
	if res.Discarded != 2 {
		t.Errorf("Discarded = %d, want 2", res.Discarded)
	}
}

func TestAggregator_CountIgnoresValues(t *testing.T) {
	agg := newAggregator(types.AggregateCount)
	for _, raw := range []any{nil, "bad", 3.0} {
		agg.match(raw, CoerceNumber)
	}

	res := agg.result()
	if res.Value != 3 || res.Discarded != 0 {
		t.Errorf("got %+v, want value 3 with nothing discarded", res)
	}
}
