// Package provider implements the remote aggregation clients: one per
// integration type, each able to run a provider-native filtered query and
// reduce the matching records to a single number.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hyperengineering/pillars/internal/filter"
	"github.com/hyperengineering/pillars/internal/types"
)

const (
	// DefaultMaxRecords caps how many records one query may aggregate.
	DefaultMaxRecords = 10000

	// pageSize is the per-request page size used by paginating clients.
	pageSize = 100

	defaultTimeout = 30 * time.Second
)

var (
	// ErrUnsupportedType is returned for an integration type with no client.
	ErrUnsupportedType = errors.New("unsupported integration type")

	// ErrMissingCredentials is returned when required config keys are absent.
	ErrMissingCredentials = errors.New("missing integration credentials")

	// ErrInvalidQuery is returned when a mapping query cannot be translated.
	ErrInvalidQuery = errors.New("invalid provider query")
)

// Client is the capability every remote aggregation client offers.
type Client interface {
	// TestConnection is a lightweight auth probe. It fails closed: any error
	// or non-2xx response reports false.
	TestConnection(ctx context.Context) bool

	// ExecuteQueryWithAggregation runs query and reduces the matched records
	// with method. valueField is ignored for count.
	ExecuteQueryWithAggregation(ctx context.Context, query string, method types.AggregationMethod, valueField string) (*Result, error)
}

// PropertyLister is implemented by clients that expose filterable property metadata.
type PropertyLister interface {
	Properties(ctx context.Context, objectType string) ([]Property, error)
}

// Property describes one filterable field of a provider object type.
type Property struct {
	Name      string              `json:"name"`
	Label     string              `json:"label"`
	Type      filter.PropertyType `json:"type"`
	Operators []filter.Operator   `json:"operators"`
	Options   []PropertyOption    `json:"options,omitempty"`
}

// PropertyOption is one allowed value of an enumerated property.
type PropertyOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Options configure client construction.
type Options struct {
	HTTPClient *http.Client
	MaxRecords int
	Cache      *MetadataCache

	// Base URL overrides, used when the integration config carries no base_url.
	HubSpotBaseURL string
	JiraBaseURL    string
	SheetsBaseURL  string
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (o Options) maxRecords() int {
	if o.MaxRecords > 0 {
		return o.MaxRecords
	}
	return DefaultMaxRecords
}

// New returns the client for the integration's type.
func New(in *types.Integration, opts Options) (Client, error) {
	switch in.Type {
	case types.IntegrationCRM:
		return NewHubSpot(in.Config, opts)
	case types.IntegrationIssueTracker:
		return NewJira(in.Config, opts)
	case types.IntegrationSpreadsheet:
		return NewSheets(in.Config, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, in.Type)
	}
}

// Factory builds clients for integrations. It lets callers swap in fakes.
type Factory interface {
	Client(in *types.Integration) (Client, error)
}

// DefaultFactory builds real provider clients with fixed options.
type DefaultFactory struct {
	Options Options
}

// Client implements Factory.
func (f DefaultFactory) Client(in *types.Integration) (Client, error) {
	return New(in, f.Options)
}

// baseURL picks the integration's base_url, then the option override, then the default.
func baseURL(cfg types.IntegrationConfig, override, def string) string {
	if v := cfg.Get("base_url"); v != "" {
		return trimSlash(v)
	}
	if override != "" {
		return trimSlash(override)
	}
	return def
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
