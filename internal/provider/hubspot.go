package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hyperengineering/pillars/internal/filter"
	"github.com/hyperengineering/pillars/internal/types"
)

const (
	hubSpotName           = "HubSpot"
	hubSpotDefaultBaseURL = "https://api.hubapi.com"

	// DefaultObjectType is searched when a CRM query names no object type.
	DefaultObjectType = "deals"
)

// HubSpot searches CRM objects through the v3 search API.
type HubSpot struct {
	baseURL    string
	token      string
	http       *http.Client
	maxRecords int
	cache      *MetadataCache
}

var (
	_ Client         = (*HubSpot)(nil)
	_ PropertyLister = (*HubSpot)(nil)
)

// NewHubSpot builds a client from an integration config carrying access_token.
func NewHubSpot(cfg types.IntegrationConfig, opts Options) (*HubSpot, error) {
	token := cfg.Get("access_token")
	if token == "" {
		return nil, fmt.Errorf("%w: %s requires access_token", ErrMissingCredentials, hubSpotName)
	}
	return &HubSpot{
		baseURL:    baseURL(cfg, opts.HubSpotBaseURL, hubSpotDefaultBaseURL),
		token:      token,
		http:       opts.httpClient(),
		maxRecords: opts.maxRecords(),
		cache:      opts.Cache,
	}, nil
}

func (h *HubSpot) auth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+h.token)
}

// TestConnection fetches a single contact.
func (h *HubSpot) TestConnection(ctx context.Context) bool {
	return probe(ctx, h.http, h.baseURL+"/crm/v3/objects/contacts?limit=1", h.auth)
}

type hubSpotFilter struct {
	PropertyName string   `json:"propertyName"`
	Operator     string   `json:"operator"`
	Value        string   `json:"value,omitempty"`
	Values       []string `json:"values,omitempty"`
}

type hubSpotFilterGroup struct {
	Filters []hubSpotFilter `json:"filters"`
}

type hubSpotSearchRequest struct {
	FilterGroups []hubSpotFilterGroup `json:"filterGroups"`
	Properties   []string             `json:"properties,omitempty"`
	Limit        int                  `json:"limit"`
	After        string               `json:"after,omitempty"`
}

type hubSpotSearchResponse struct {
	Total   int `json:"total"`
	Results []struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	} `json:"results"`
	Paging *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

var hubSpotOperators = map[filter.Operator]string{
	filter.OpEq:  "EQ",
	filter.OpNeq: "NEQ",
	filter.OpGt:  "GT",
	filter.OpGte: "GTE",
	filter.OpLt:  "LT",
	filter.OpLte: "LTE",
}

// hubSpotFilters translates canonical conditions into one AND filter group.
// Multi-value eq and neq become IN and NOT_IN.
func hubSpotFilters(conditions []filter.Condition) ([]hubSpotFilterGroup, error) {
	filters := make([]hubSpotFilter, 0, len(conditions))
	for _, c := range conditions {
		op, ok := hubSpotOperators[c.Operator]
		if !ok {
			return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, c.Operator)
		}
		f := hubSpotFilter{PropertyName: c.Property, Operator: op}
		switch {
		case len(c.Values) == 1:
			f.Value = c.Values[0]
		case c.Operator == filter.OpEq:
			f.Operator, f.Values = "IN", c.Values
		case c.Operator == filter.OpNeq:
			f.Operator, f.Values = "NOT_IN", c.Values
		default:
			return nil, fmt.Errorf("%w: operator %q on %q takes one value", ErrInvalidQuery, c.Operator, c.Property)
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		return []hubSpotFilterGroup{}, nil
	}
	return []hubSpotFilterGroup{{Filters: filters}}, nil
}

// ExecuteQueryWithAggregation runs a canonical JSON query against the search
// API, paging until exhausted or the record cap is reached.
func (h *HubSpot) ExecuteQueryWithAggregation(ctx context.Context, query string, method types.AggregationMethod, valueField string) (*Result, error) {
	q, err := filter.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	objectType := q.ObjectType
	if objectType == "" {
		objectType = DefaultObjectType
	}

	groups, err := hubSpotFilters(q.Conditions)
	if err != nil {
		return nil, err
	}

	req := hubSpotSearchRequest{FilterGroups: groups, Limit: pageSize}
	if method != types.AggregateCount && valueField != "" {
		req.Properties = []string{valueField}
	}

	endpoint := fmt.Sprintf("%s/crm/v3/objects/%s/search", h.baseURL, url.PathEscape(objectType))
	agg := newAggregator(method)

	for agg.matched < h.maxRecords {
		var resp hubSpotSearchResponse
		if err := doJSON(ctx, h.http, hubSpotName, http.MethodPost, endpoint, req, h.auth, &resp); err != nil {
			return nil, err
		}

		for _, rec := range resp.Results {
			if agg.matched >= h.maxRecords {
				break
			}
			agg.match(rec.Properties[valueField], CoerceNumber)
		}

		if resp.Paging == nil || resp.Paging.Next == nil || resp.Paging.Next.After == "" || len(resp.Results) == 0 {
			break
		}
		req.After = resp.Paging.Next.After
	}

	return agg.result(), nil
}

type hubSpotPropertiesResponse struct {
	Results []struct {
		Name    string `json:"name"`
		Label   string `json:"label"`
		Type    string `json:"type"`
		Hidden  bool   `json:"hidden"`
		Options []struct {
			Label  string `json:"label"`
			Value  string `json:"value"`
			Hidden bool   `json:"hidden"`
		} `json:"options"`
	} `json:"results"`
}

// Properties lists the visible properties of objectType, served from the
// metadata cache when fresh.
func (h *HubSpot) Properties(ctx context.Context, objectType string) ([]Property, error) {
	if objectType == "" {
		objectType = DefaultObjectType
	}
	key := CacheKey{Provider: string(types.IntegrationCRM), ObjectType: objectType}
	if props, ok := h.cache.Get(key); ok {
		return props, nil
	}

	var resp hubSpotPropertiesResponse
	endpoint := fmt.Sprintf("%s/crm/v3/properties/%s", h.baseURL, url.PathEscape(objectType))
	if err := doJSON(ctx, h.http, hubSpotName, http.MethodGet, endpoint, nil, h.auth, &resp); err != nil {
		return nil, err
	}

	props := make([]Property, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Hidden {
			continue
		}
		pt := hubSpotPropertyType(r.Type)
		p := Property{Name: r.Name, Label: r.Label, Type: pt, Operators: filter.OperatorsFor(pt)}
		for _, o := range r.Options {
			if !o.Hidden {
				p.Options = append(p.Options, PropertyOption{Label: o.Label, Value: o.Value})
			}
		}
		props = append(props, p)
	}

	h.cache.Set(key, props)
	return props, nil
}

func hubSpotPropertyType(t string) filter.PropertyType {
	switch t {
	case "number":
		return filter.TypeNumber
	case "date":
		return filter.TypeDate
	case "datetime":
		return filter.TypeDateTime
	case "enumeration":
		return filter.TypeEnumeration
	case "bool":
		return filter.TypeBool
	default:
		return filter.TypeString
	}
}
