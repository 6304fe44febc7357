// Package e2e exercises the assembled service: real SQLite store, real
// provider clients and the full router, with the remote providers replaced
// by local HTTP fakes.
package e2e

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hyperengineering/pillars/internal/api"
	"github.com/hyperengineering/pillars/internal/metrics"
	"github.com/hyperengineering/pillars/internal/provider"
	"github.com/hyperengineering/pillars/internal/store"
	pillarsync "github.com/hyperengineering/pillars/internal/sync"
)

const (
	testAPIKey    = "e2e-test-api-key"
	hubSpotToken  = "hubspot-secret-token"
	jiraEmail     = "ops@example.com"
	jiraAPIToken  = "jira-secret-token"
	failingJQLTag = "FAIL_ME"
)

// --- Provider fakes ---

// hubSpotDeal is one record served by the fake search API.
type hubSpotDeal struct {
	ID         string
	Properties map[string]any
}

// fakeHubSpot serves the contacts probe and a paged deals search.
type fakeHubSpot struct {
	mu       sync.Mutex
	deals    []hubSpotDeal
	pageSize int
	requests []map[string]any
}

func (f *fakeHubSpot) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /crm/v3/objects/contacts", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		writeJSON(w, map[string]any{"results": []any{}})
	})
	mux.HandleFunc("POST /crm/v3/objects/deals/search", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"message":"bad body"}`, http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.requests = append(f.requests, body)
		deals := f.deals
		size := f.pageSize
		f.mu.Unlock()

		start := 0
		if after, ok := body["after"].(string); ok && after != "" {
			fmt.Sscanf(after, "%d", &start)
		}
		end := min(start+size, len(deals))

		results := make([]map[string]any, 0, end-start)
		for _, d := range deals[start:end] {
			results = append(results, map[string]any{"id": d.ID, "properties": d.Properties})
		}
		resp := map[string]any{"total": len(deals), "results": results}
		if end < len(deals) {
			resp["paging"] = map[string]any{"next": map[string]any{"after": fmt.Sprintf("%d", end)}}
		}
		writeJSON(w, resp)
	})
	return mux
}

func (f *fakeHubSpot) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+hubSpotToken {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"message": "Authentication credentials not found"})
		return false
	}
	return true
}

// searchRequests returns the decoded search bodies received so far.
func (f *fakeHubSpot) searchRequests() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.requests...)
}

// fakeJira serves the auth probe and a single-page JQL search. A JQL
// containing failingJQLTag is answered with a 500.
type fakeJira struct {
	issues []map[string]any
}

func (f *fakeJira) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/api/3/myself", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"accountId": "abc"})
	})
	mux.HandleFunc("GET /rest/api/3/search/jql", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.Contains(r.URL.Query().Get("jql"), failingJQLTag) {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]any{"errorMessages": []string{"search backend unavailable"}})
			return
		}
		issues := make([]map[string]any, 0, len(f.issues))
		for i, fields := range f.issues {
			issues = append(issues, map[string]any{"key": fmt.Sprintf("OPS-%d", i+1), "fields": fields})
		}
		writeJSON(w, map[string]any{"issues": issues, "isLast": true})
	})
	return mux
}

func (f *fakeJira) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	return ok && user == jiraEmail && pass == jiraAPIToken
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// --- Service under test ---

type testServer struct {
	router  http.Handler
	db      *sql.DB
	hubspot *fakeHubSpot
	jira    *fakeJira
}

// setupServer assembles the service the way cmd/pillars does, against a
// fresh SQLite file and local provider fakes.
func setupServer(t *testing.T) *testServer {
	t.Helper()

	hub := &fakeHubSpot{pageSize: 2}
	hubSrv := httptest.NewServer(hub.handler())
	t.Cleanup(hubSrv.Close)

	jira := &fakeJira{}
	jiraSrv := httptest.NewServer(jira.handler())
	t.Cleanup(jiraSrv.Close)

	dbPath := filepath.Join(t.TempDir(), "pillars.db")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := metrics.New()
	cache := provider.NewMetadataCache(0, nil)
	factory := provider.DefaultFactory{Options: provider.Options{
		Cache:          cache,
		HubSpotBaseURL: hubSrv.URL,
		JiraBaseURL:    jiraSrv.URL,
	}}
	orch := pillarsync.NewOrchestrator(s, factory,
		pillarsync.WithConcurrency(2),
		pillarsync.WithRecorder(m),
	)
	h := api.NewHandler(s, orch, factory, testAPIKey, "e2e", api.WithMetadataCache(cache))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open inspection db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &testServer{
		router:  api.NewRouter(h, m, m.Handler()),
		db:      db,
		hubspot: hub,
		jira:    jira,
	}
}

// request sends an authenticated request and returns status and body.
func (s *testServer) request(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

// mustRequest sends a request, fails unless the status matches, and decodes
// the body into out when out is non-nil.
func (s *testServer) mustRequest(t *testing.T, method, path string, body any, want int, out any) {
	t.Helper()
	code, data := s.request(t, method, path, body)
	if code != want {
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, code, want, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decode: %v (%s)", method, path, err, data)
		}
	}
}

// --- Fixture builders ---

type idResponse struct {
	ID string `json:"id"`
}

func (s *testServer) createPillar(t *testing.T, name string) string {
	t.Helper()
	var out idResponse
	s.mustRequest(t, http.MethodPost, "/api/v1/pillars", map[string]any{"name": name}, http.StatusCreated, &out)
	return out.ID
}

func (s *testServer) createMetric(t *testing.T, pillarID, name string, target float64, source string) string {
	t.Helper()
	var out idResponse
	s.mustRequest(t, http.MethodPost, "/api/v1/metrics", map[string]any{
		"pillar_id":    pillarID,
		"name":         name,
		"target_value": target,
		"data_source":  source,
	}, http.StatusCreated, &out)
	return out.ID
}

func (s *testServer) saveHubSpot(t *testing.T) {
	t.Helper()
	s.mustRequest(t, http.MethodPost, "/api/v1/integrations/crm", map[string]any{
		"config": map[string]string{"access_token": hubSpotToken},
	}, http.StatusOK, nil)
}

func (s *testServer) saveJira(t *testing.T) {
	t.Helper()
	s.mustRequest(t, http.MethodPost, "/api/v1/integrations/issue_tracker", map[string]any{
		"config": map[string]string{"email": jiraEmail, "api_token": jiraAPIToken, "domain": "acme"},
	}, http.StatusOK, nil)
}

func (s *testServer) createMapping(t *testing.T, integrationType string, mapping map[string]any) string {
	t.Helper()
	if _, ok := mapping["is_active"]; !ok {
		mapping["is_active"] = true
	}
	var out idResponse
	s.mustRequest(t, http.MethodPost, "/api/v1/integrations/"+integrationType+"/mappings", mapping, http.StatusCreated, &out)
	return out.ID
}

// --- DB inspection ---

type syncLogRow struct {
	Status          string
	RecordsFetched  int
	RecordsUpdated  int
	MappingsFailed  int
	ValuesDiscarded int
	ErrorMessage    sql.NullString
	Completed       bool
}

func syncLogRows(t *testing.T, db *sql.DB) []syncLogRow {
	t.Helper()
	rows, err := db.Query(`SELECT status, records_fetched, records_updated, mappings_failed,
		values_discarded, error_message, completed_at IS NOT NULL FROM sync_logs ORDER BY started_at`)
	if err != nil {
		t.Fatalf("query sync_logs: %v", err)
	}
	defer rows.Close()

	var out []syncLogRow
	for rows.Next() {
		var r syncLogRow
		if err := rows.Scan(&r.Status, &r.RecordsFetched, &r.RecordsUpdated, &r.MappingsFailed,
			&r.ValuesDiscarded, &r.ErrorMessage, &r.Completed); err != nil {
			t.Fatalf("scan sync_logs row: %v", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate sync_logs: %v", err)
	}
	return out
}
