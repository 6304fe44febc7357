package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/pillars/internal/provider"
	"github.com/hyperengineering/pillars/internal/store"
	"github.com/hyperengineering/pillars/internal/types"
)

// do sends an authenticated request through the router.
func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.store.pillars = []types.Pillar{{ID: "p1"}, {ID: "p2"}}
	env.store.metrics = []types.Metric{{ID: "m1"}}

	// Health is public: no Authorization header.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody[types.HealthResponse](t, w)
	if resp.Status != "healthy" || resp.Version != "1.0.0" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.PillarCount != 2 || resp.MetricCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", resp.PillarCount, resp.MetricCount)
	}
}

func TestHealth_StoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.store.statsErr = errors.New("disk gone")

	w := env.do(t, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if strings.Contains(w.Body.String(), "disk gone") {
		t.Error("internal error leaked to client")
	}
}

func TestPlaceholders(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/placeholders", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody[PlaceholdersResponse](t, w)
	if resp.Date != "2024-05-15" {
		t.Errorf("date = %q, want 2024-05-15", resp.Date)
	}
	got := make(map[string]string, len(resp.Placeholders))
	for _, p := range resp.Placeholders {
		got[p.Token] = p.Value
	}
	want := map[string]string{
		"CURRENT_MONTH_START":   "2024-05-01",
		"CURRENT_QUARTER_START": "2024-04-01",
		"LAST_MONTH_END":        "2024-04-30",
	}
	for tok, v := range want {
		if got[tok] != v {
			t.Errorf("%s = %q, want %q", tok, got[tok], v)
		}
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testAPIKey, http.StatusUnauthorized},
		{"valid token", "Bearer " + testAPIKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/pillars", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && strings.Contains(w.Body.String(), testAPIKey) {
				t.Error("API key leaked in response")
			}
		})
	}
}

func TestAuthMiddleware_EmptyKeyDisablesAuth(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pillars", nil)
	w := httptest.NewRecorder()
	AuthMiddleware("")(next).ServeHTTP(w, req)

	if !called {
		t.Error("handler not called with auth disabled")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"bearer abc", ""},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", tt.header)
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	RecoveryMiddleware(next).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("panic value leaked to client")
	}
}

type recordedRequest struct {
	method, route string
	code          int
}

type mockObserver struct {
	got []recordedRequest
}

func (o *mockObserver) ObserveRequest(method, route string, code int, d time.Duration) {
	o.got = append(o.got, recordedRequest{method, route, code})
}

func TestLoggingMiddleware_ObservesRoutePattern(t *testing.T) {
	// Given a router with an observer
	env := newTestEnv(t)
	obs := &mockObserver{}
	h := NewHandler(env.store, env.syncer, env.factory, testAPIKey, "1.0.0")
	router := NewRouter(h, obs, nil)
	env.store.pillars = []types.Pillar{{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV"}}

	// When a parameterized route is hit
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pillars/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	router.ServeHTTP(httptest.NewRecorder(), req)

	// Then the pattern, not the raw path, is recorded
	if len(obs.got) != 1 {
		t.Fatalf("observed %d requests, want 1", len(obs.got))
	}
	got := obs.got[0]
	if got.route != "/api/v1/pillars/{id}" || got.code != http.StatusOK || got.method != http.MethodGet {
		t.Errorf("observed %+v", got)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.store, env.syncer, env.factory, testAPIKey, "1.0.0")
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pillars_up 1\n")
	})
	router := NewRouter(h, nil, metrics)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pillars_up") {
		t.Errorf("status = %d, body = %q", w.Code, w.Body.String())
	}
}

func TestIntegrationTypeMiddleware_UnknownType(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/integrations/salesforce", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	p := decodeBody[Problem](t, w)
	if p.Detail != "Unknown integration type" {
		t.Errorf("detail = %q", p.Detail)
	}
}

func TestIntegrationTypeFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := IntegrationTypeFromContext(req.Context()); ok {
		t.Error("empty context reported a type")
	}
	ctx := WithIntegrationType(req.Context(), types.IntegrationSpreadsheet)
	got, ok := IntegrationTypeFromContext(ctx)
	if !ok || got != types.IntegrationSpreadsheet {
		t.Errorf("got %q, %v", got, ok)
	}
}

func TestMapStoreError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrInvalidReference, http.StatusUnprocessableEntity},
		{store.ErrAlreadyCompleted, http.StatusConflict},
		{provider.ErrInvalidQuery, http.StatusBadRequest},
		{errors.New("sql: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			w := httptest.NewRecorder()
			MapStoreError(w, req, tt.err)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("content type = %q", ct)
			}
			if strings.Contains(w.Body.String(), "connection reset") {
				t.Error("internal error leaked")
			}
		})
	}
}

func TestMapProviderError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	w := httptest.NewRecorder()
	MapProviderError(w, req, &provider.APIError{Provider: "hubspot", Status: 401, Message: "expired token"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("api error status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if !strings.Contains(w.Body.String(), "expired token") {
		t.Errorf("provider message missing from %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	MapProviderError(w, req, provider.ErrMissingCredentials)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing credentials status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWriteProblem_UnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	WriteProblem(w, req, http.StatusTeapot, "short and stout")

	p := decodeBody[Problem](t, w)
	if p.Status != http.StatusTeapot || p.Title != http.StatusText(http.StatusTeapot) || p.Instance != "/x" {
		t.Errorf("problem = %+v", p)
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/pillars", "{not json")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
