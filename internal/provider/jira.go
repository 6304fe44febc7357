package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hyperengineering/pillars/internal/filter"
	"github.com/hyperengineering/pillars/internal/types"
)

const jiraName = "Jira"

// Jira runs JQL searches against the Jira Cloud REST API.
type Jira struct {
	baseURL    string
	email      string
	apiToken   string
	http       *http.Client
	maxRecords int
	cache      *MetadataCache
}

var (
	_ Client         = (*Jira)(nil)
	_ PropertyLister = (*Jira)(nil)
)

// NewJira builds a client from a config carrying email, api_token and either
// base_url or domain.
func NewJira(cfg types.IntegrationConfig, opts Options) (*Jira, error) {
	email, token := cfg.Get("email"), cfg.Get("api_token")
	if email == "" || token == "" {
		return nil, fmt.Errorf("%w: %s requires email and api_token", ErrMissingCredentials, jiraName)
	}

	def := ""
	if domain := cfg.Get("domain"); domain != "" {
		def = "https://" + domain + ".atlassian.net"
	}
	base := baseURL(cfg, opts.JiraBaseURL, def)
	if base == "" {
		return nil, fmt.Errorf("%w: %s requires base_url or domain", ErrMissingCredentials, jiraName)
	}

	return &Jira{
		baseURL:    base,
		email:      email,
		apiToken:   token,
		http:       opts.httpClient(),
		maxRecords: opts.maxRecords(),
		cache:      opts.Cache,
	}, nil
}

func (j *Jira) auth(req *http.Request) {
	req.SetBasicAuth(j.email, j.apiToken)
}

// TestConnection fetches the authenticated user.
func (j *Jira) TestConnection(ctx context.Context) bool {
	return probe(ctx, j.http, j.baseURL+"/rest/api/3/myself", j.auth)
}

type jiraSearchResponse struct {
	Issues []struct {
		Key    string         `json:"key"`
		Fields map[string]any `json:"fields"`
	} `json:"issues"`
	NextPageToken string `json:"nextPageToken"`
	IsLast        bool   `json:"isLast"`
}

// ExecuteQueryWithAggregation runs a JQL string, following page tokens until
// the last page or the record cap.
func (j *Jira) ExecuteQueryWithAggregation(ctx context.Context, query string, method types.AggregationMethod, valueField string) (*Result, error) {
	jql := strings.TrimSpace(query)
	if jql == "" {
		return nil, fmt.Errorf("%w: empty JQL", ErrInvalidQuery)
	}

	fields := "key"
	if method != types.AggregateCount && valueField != "" {
		fields = valueField
	}

	agg := newAggregator(method)
	token := ""

	for agg.matched < j.maxRecords {
		params := url.Values{}
		params.Set("jql", jql)
		params.Set("maxResults", strconv.Itoa(pageSize))
		params.Set("fields", fields)
		if token != "" {
			params.Set("nextPageToken", token)
		}

		var resp jiraSearchResponse
		endpoint := j.baseURL + "/rest/api/3/search/jql?" + params.Encode()
		if err := doJSON(ctx, j.http, jiraName, http.MethodGet, endpoint, nil, j.auth, &resp); err != nil {
			return nil, err
		}

		for _, issue := range resp.Issues {
			if agg.matched >= j.maxRecords {
				break
			}
			agg.match(issue.Fields[valueField], coerceJiraField)
		}

		if resp.IsLast || resp.NextPageToken == "" || len(resp.Issues) == 0 {
			break
		}
		token = resp.NextPageToken
	}

	return agg.result(), nil
}

// coerceJiraField accepts plain numbers, numeric strings and option objects
// such as {"value": "5"} used by select custom fields.
func coerceJiraField(v any) (float64, bool) {
	if obj, ok := v.(map[string]any); ok {
		return CoerceNumber(obj["value"])
	}
	return CoerceNumber(v)
}

type jiraField struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Searchable bool   `json:"searchable"`
	Schema     *struct {
		Type string `json:"type"`
	} `json:"schema"`
}

// Properties lists searchable issue fields. Jira has a single object type so
// objectType only namespaces the cache entry.
func (j *Jira) Properties(ctx context.Context, objectType string) ([]Property, error) {
	if objectType == "" {
		objectType = "issue"
	}
	key := CacheKey{Provider: string(types.IntegrationIssueTracker), ObjectType: objectType}
	if props, ok := j.cache.Get(key); ok {
		return props, nil
	}

	var fields []jiraField
	if err := doJSON(ctx, j.http, jiraName, http.MethodGet, j.baseURL+"/rest/api/3/field", nil, j.auth, &fields); err != nil {
		return nil, err
	}

	props := make([]Property, 0, len(fields))
	for _, f := range fields {
		if !f.Searchable {
			continue
		}
		pt := filter.TypeString
		if f.Schema != nil {
			pt = jiraPropertyType(f.Schema.Type)
		}
		props = append(props, Property{Name: f.ID, Label: f.Name, Type: pt, Operators: filter.OperatorsFor(pt)})
	}

	j.cache.Set(key, props)
	return props, nil
}

func jiraPropertyType(t string) filter.PropertyType {
	switch t {
	case "number":
		return filter.TypeNumber
	case "date":
		return filter.TypeDate
	case "datetime":
		return filter.TypeDateTime
	case "option", "priority", "status", "issuetype", "resolution":
		return filter.TypeEnumeration
	default:
		return filter.TypeString
	}
}
