package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/hyperengineering/pillars/internal/scoring"
	"github.com/hyperengineering/pillars/internal/types"
)

var (
	greenStatus  = color.New(color.FgGreen, color.Bold)
	yellowStatus = color.New(color.FgYellow)
	redStatus    = color.New(color.FgRed, color.Bold)
)

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusLabel renders a status in its traffic-light color. Colors are
// dropped when color.NoColor is set.
func statusLabel(s scoring.Status) string {
	switch s {
	case scoring.Green:
		return greenStatus.Sprint("GREEN")
	case scoring.Yellow:
		return yellowStatus.Sprint("YELLOW")
	case scoring.Red:
		return redStatus.Sprint("RED")
	default:
		return string(s)
	}
}

func trendArrow(t scoring.Trend) string {
	switch t {
	case scoring.TrendUp:
		return "▲"
	case scoring.TrendDown:
		return "▼"
	default:
		return "="
	}
}

// formatValue renders a metric value according to its display format.
func formatValue(v float64, f types.Format, unit string) string {
	var s string
	switch f {
	case types.FormatCurrency:
		s = fmt.Sprintf("%.2f", v)
	case types.FormatPercentage:
		s = strconv.FormatFloat(v, 'f', -1, 64) + "%"
	default:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if unit != "" {
		s += " " + unit
	}
	return s
}
