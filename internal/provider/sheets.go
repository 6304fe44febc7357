package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hyperengineering/pillars/internal/types"
)

const (
	sheetsName           = "Google Sheets"
	sheetsDefaultBaseURL = "https://sheets.googleapis.com"
)

// Sheets reads a cell range through the Sheets v4 values API.
type Sheets struct {
	baseURL       string
	apiKey        string
	accessToken   string
	spreadsheetID string
	http          *http.Client
	maxRecords    int
}

var _ Client = (*Sheets)(nil)

// SheetsQuery is the JSON query shape of a spreadsheet mapping.
type SheetsQuery struct {
	SpreadsheetID    string `json:"spreadsheetId,omitempty"`
	Range            string `json:"range"`
	ValueColumnIndex *int   `json:"valueColumnIndex,omitempty"`
	HasHeaderRow     bool   `json:"hasHeaderRow,omitempty"`
}

// NewSheets builds a client from a config carrying api_key or access_token.
// spreadsheet_id is the default used when a query names none.
func NewSheets(cfg types.IntegrationConfig, opts Options) (*Sheets, error) {
	key, token := cfg.Get("api_key"), cfg.Get("access_token")
	if key == "" && token == "" {
		return nil, fmt.Errorf("%w: %s requires api_key or access_token", ErrMissingCredentials, sheetsName)
	}
	return &Sheets{
		baseURL:       baseURL(cfg, opts.SheetsBaseURL, sheetsDefaultBaseURL),
		apiKey:        key,
		accessToken:   token,
		spreadsheetID: cfg.Get("spreadsheet_id"),
		http:          opts.httpClient(),
		maxRecords:    opts.maxRecords(),
	}, nil
}

func (s *Sheets) auth(req *http.Request) {
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}
}

func (s *Sheets) endpoint(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if s.apiKey != "" {
		params.Set("key", s.apiKey)
	}
	return s.baseURL + path + "?" + params.Encode()
}

// TestConnection fetches the default spreadsheet's ID. Without a configured
// spreadsheet there is nothing to probe and the check fails.
func (s *Sheets) TestConnection(ctx context.Context) bool {
	if s.spreadsheetID == "" {
		return false
	}
	params := url.Values{}
	params.Set("fields", "spreadsheetId")
	return probe(ctx, s.http, s.endpoint("/v4/spreadsheets/"+url.PathEscape(s.spreadsheetID), params), s.auth)
}

type sheetsValuesResponse struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

// ExecuteQueryWithAggregation reads the query's range and aggregates one
// column. Fully blank rows are ignored and count as no record.
func (s *Sheets) ExecuteQueryWithAggregation(ctx context.Context, query string, method types.AggregationMethod, valueField string) (*Result, error) {
	var q SheetsQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if q.Range == "" {
		return nil, fmt.Errorf("%w: range is required", ErrInvalidQuery)
	}
	id := q.SpreadsheetID
	if id == "" {
		id = s.spreadsheetID
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no spreadsheetId in query or integration config", ErrInvalidQuery)
	}

	var resp sheetsValuesResponse
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s", url.PathEscape(id), url.PathEscape(q.Range))
	if err := doJSON(ctx, s.http, sheetsName, http.MethodGet, s.endpoint(path, nil), nil, s.auth, &resp); err != nil {
		return nil, err
	}

	rows := resp.Values
	var header []any
	if q.HasHeaderRow && len(rows) > 0 {
		header, rows = rows[0], rows[1:]
	}

	agg := newAggregator(method)
	col := 0
	if method != types.AggregateCount {
		var err error
		if col, err = valueColumn(q, header, valueField); err != nil {
			return nil, err
		}
	}

	for _, row := range rows {
		if agg.matched >= s.maxRecords {
			break
		}
		if blankRow(row) {
			continue
		}
		var cell any
		if col < len(row) {
			cell = row[col]
		}
		agg.match(cell, CoerceFormatted)
	}

	return agg.result(), nil
}

// valueColumn resolves the zero-based column to aggregate, relative to the
// first column of the range. An explicit valueColumnIndex wins; otherwise
// valueField may be a header name, a column letter or a numeric index.
func valueColumn(q SheetsQuery, header []any, valueField string) (int, error) {
	if q.ValueColumnIndex != nil {
		if *q.ValueColumnIndex < 0 {
			return 0, fmt.Errorf("%w: negative valueColumnIndex", ErrInvalidQuery)
		}
		return *q.ValueColumnIndex, nil
	}

	field := strings.TrimSpace(valueField)
	if field == "" {
		return 0, nil
	}

	for i, h := range header {
		if name, ok := h.(string); ok && strings.EqualFold(strings.TrimSpace(name), field) {
			return i, nil
		}
	}

	if idx, ok := columnIndex(field); ok {
		start, _ := columnIndex(rangeStartColumn(q.Range))
		if idx < start {
			return 0, fmt.Errorf("%w: column %s is outside range %s", ErrInvalidQuery, field, q.Range)
		}
		return idx - start, nil
	}

	if n, err := strconv.Atoi(field); err == nil && n >= 0 {
		return n, nil
	}

	return 0, fmt.Errorf("%w: value field %q matches no header or column", ErrInvalidQuery, valueField)
}

// columnIndex converts a column letter such as "A" or "AB" to a zero-based index.
func columnIndex(letters string) (int, bool) {
	if letters == "" || len(letters) > 3 {
		return 0, false
	}
	n := 0
	for _, r := range strings.ToUpper(letters) {
		if r < 'A' || r > 'Z' {
			return 0, false
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1, true
}

// rangeStartColumn returns the leading column letters of an A1 range, or "A"
// when the range names a whole sheet. Without a "!" only a span such as
// "B2:D" is read as cells, since "Q1" or "ARR" are also valid sheet names.
func rangeStartColumn(a1 string) string {
	cells := a1
	qualified := false
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		cells, qualified = a1[i+1:], true
	}
	end := 0
	for end < len(cells) {
		c := cells[end]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			end++
			continue
		}
		break
	}
	// Columns stop at XFD; a longer run of letters is a sheet name.
	if end == 0 || end > 3 {
		return "A"
	}
	rest := cells[end:]
	switch {
	case strings.HasPrefix(rest, ":") || (strings.Contains(rest, ":") && allDigitsBefore(rest, ':')):
	case qualified && rest != "" && allDigitsBefore(rest, 0):
	default:
		return "A"
	}
	return cells[:end]
}

// allDigitsBefore reports whether s is digits up to the first stop byte, or
// entirely digits when stop is 0.
func allDigitsBefore(s string, stop byte) bool {
	if stop != 0 {
		if i := strings.IndexByte(s, stop); i >= 0 {
			s = s[:i]
		}
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func blankRow(row []any) bool {
	for _, cell := range row {
		switch v := cell.(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}
