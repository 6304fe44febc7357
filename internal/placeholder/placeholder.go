// Package placeholder substitutes symbolic date tokens in mapping queries.
//
// Resolution is purely textual: the resolver knows nothing about JSON or JQL
// and must run before a query is parsed or sent. Unknown tokens are left as-is.
package placeholder

import (
	"sort"
	"strings"
	"time"
)

// DateLayout is the format every token resolves to.
const DateLayout = "2006-01-02"

const (
	CurrentDate         = "CURRENT_DATE"
	CurrentMonthStart   = "CURRENT_MONTH_START"
	CurrentMonthEnd     = "CURRENT_MONTH_END"
	LastMonthStart      = "LAST_MONTH_START"
	LastMonthEnd        = "LAST_MONTH_END"
	CurrentQuarterStart = "CURRENT_QUARTER_START"
	CurrentQuarterEnd   = "CURRENT_QUARTER_END"
	LastQuarterStart    = "LAST_QUARTER_START"
	LastQuarterEnd      = "LAST_QUARTER_END"
	CurrentYearStart    = "CURRENT_YEAR_START"
	CurrentYearEnd      = "CURRENT_YEAR_END"
	LastYearStart       = "LAST_YEAR_START"
	LastYearEnd         = "LAST_YEAR_END"
	YTDStart            = "YTD_START"
)

// Resolve replaces every recognized token in query with its date relative to now.
func Resolve(query string, now time.Time) string {
	values := Values(now)

	// Longest tokens first so no token can shadow a longer one sharing its prefix.
	tokens := Tokens()
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })

	pairs := make([]string, 0, len(tokens)*2)
	for _, tok := range tokens {
		pairs = append(pairs, tok, values[tok])
	}
	return strings.NewReplacer(pairs...).Replace(query)
}

// Tokens returns every supported token in alphabetical order.
func Tokens() []string {
	return []string{
		CurrentDate,
		CurrentMonthEnd,
		CurrentMonthStart,
		CurrentQuarterEnd,
		CurrentQuarterStart,
		CurrentYearEnd,
		CurrentYearStart,
		LastMonthEnd,
		LastMonthStart,
		LastQuarterEnd,
		LastQuarterStart,
		LastYearEnd,
		LastYearStart,
		YTDStart,
	}
}

// Values returns the resolved date for every token, anchored to now.
func Values(now time.Time) map[string]string {
	loc := now.Location()
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	lastMonthStart := monthStart.AddDate(0, -1, 0)

	// Quarters cover months [0-2], [3-5], [6-8], [9-11] counted from January.
	qStartMonth := time.Month((int(m)-1)/3*3 + 1)
	quarterStart := time.Date(y, qStartMonth, 1, 0, 0, 0, 0, loc)
	lastQuarterStart := quarterStart.AddDate(0, -3, 0)

	yearStart := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)

	return map[string]string{
		CurrentDate:         format(today),
		CurrentMonthStart:   format(monthStart),
		CurrentMonthEnd:     format(endOfMonth(y, m, loc)),
		LastMonthStart:      format(lastMonthStart),
		LastMonthEnd:        format(monthStart.AddDate(0, 0, -1)),
		CurrentQuarterStart: format(quarterStart),
		CurrentQuarterEnd:   format(quarterStart.AddDate(0, 3, -1)),
		LastQuarterStart:    format(lastQuarterStart),
		LastQuarterEnd:      format(quarterStart.AddDate(0, 0, -1)),
		CurrentYearStart:    format(yearStart),
		CurrentYearEnd:      format(time.Date(y, time.December, 31, 0, 0, 0, 0, loc)),
		LastYearStart:       format(time.Date(y-1, time.January, 1, 0, 0, 0, 0, loc)),
		LastYearEnd:         format(time.Date(y-1, time.December, 31, 0, 0, 0, 0, loc)),
		YTDStart:            format(yearStart),
	}
}

// endOfMonth returns the last calendar day of month m in year y.
func endOfMonth(y int, m time.Month, loc *time.Location) time.Time {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc)
}

func format(t time.Time) string {
	return t.Format(DateLayout)
}
