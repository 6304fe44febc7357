package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/pillars/internal/api"
	"github.com/hyperengineering/pillars/internal/placeholder"
	"github.com/hyperengineering/pillars/internal/scoring"
	"github.com/hyperengineering/pillars/internal/types"
)

// filterValue returns the value of the first filter on property in a
// captured HubSpot search body.
func filterValue(t *testing.T, body map[string]any, property string) string {
	t.Helper()
	groups, _ := body["filterGroups"].([]any)
	for _, g := range groups {
		filters, _ := g.(map[string]any)["filters"].([]any)
		for _, f := range filters {
			fm := f.(map[string]any)
			if fm["propertyName"] == property {
				v, _ := fm["value"].(string)
				return v
			}
		}
	}
	t.Fatalf("no filter on %q in %v", property, body)
	return ""
}

func TestCRMSync_EndToEnd(t *testing.T) {
	// Given: a pillar with one key result fed by a HubSpot sum mapping
	srv := setupServer(t)
	srv.hubspot.deals = []hubSpotDeal{
		{ID: "1", Properties: map[string]any{"amount": "1000"}},
		{ID: "2", Properties: map[string]any{"amount": "2500.5"}},
		{ID: "3", Properties: map[string]any{"amount": ""}},
		{ID: "4", Properties: map[string]any{"amount": "500"}},
	}

	pillarID := srv.createPillar(t, "Revenue")
	metricID := srv.createMetric(t, pillarID, "Closed won this month", 5000, "crm")
	srv.saveHubSpot(t)
	srv.createMapping(t, "crm", map[string]any{
		"metric_id":          metricID,
		"query":              `{"dealstage":"closedwon","closedate":{"gte":"CURRENT_MONTH_START"}}`,
		"aggregation_method": "sum",
		"value_field":        "amount",
	})

	// When: a sync runs
	before := time.Now().UTC()
	var resp api.SyncResponse
	srv.mustRequest(t, http.MethodPost, "/api/v1/integrations/crm/sync", nil, http.StatusOK, &resp)
	after := time.Now().UTC()

	// Then: both pages were fetched and the empty amount was discarded
	if !resp.Success || resp.RecordsFetched != 1 || resp.RecordsUpdated != 1 || resp.MappingsFailed != 0 {
		t.Errorf("sync response = %+v", resp)
	}
	if resp.ValuesDiscarded != 1 {
		t.Errorf("valuesDiscarded = %d, want 1", resp.ValuesDiscarded)
	}
	if resp.SyncLogID == "" {
		t.Error("syncLogId is empty")
	}

	reqs := srv.hubspot.searchRequests()
	if len(reqs) != 2 {
		t.Fatalf("HubSpot received %d search requests, want 2", len(reqs))
	}
	if reqs[1]["after"] != "2" {
		t.Errorf("second page after = %v, want \"2\"", reqs[1]["after"])
	}

	// Then: the placeholder reached HubSpot as a concrete date
	got := filterValue(t, reqs[0], "closedate")
	want1 := placeholder.Values(before)[placeholder.CurrentMonthStart]
	want2 := placeholder.Values(after)[placeholder.CurrentMonthStart]
	if got != want1 && got != want2 {
		t.Errorf("closedate filter = %q, want %q", got, want1)
	}
	if filterValue(t, reqs[0], "dealstage") != "closedwon" {
		t.Error("dealstage filter not forwarded")
	}

	// Then: the metric carries the aggregate and is scored against its target
	var metric scoring.MetricEvaluation
	srv.mustRequest(t, http.MethodGet, "/api/v1/metrics/"+metricID, nil, http.StatusOK, &metric)
	if metric.CurrentValue != 4000.5 {
		t.Errorf("current_value = %v, want 4000.5", metric.CurrentValue)
	}
	if metric.Evaluation.PercentageOfTarget != 80 || metric.Evaluation.Status != scoring.Yellow {
		t.Errorf("evaluation = %+v, want 80%% yellow", metric.Evaluation)
	}

	var pillar scoring.PillarEvaluation
	srv.mustRequest(t, http.MethodGet, "/api/v1/pillars/"+pillarID, nil, http.StatusOK, &pillar)
	if pillar.Score != 80 || pillar.Status != scoring.Yellow {
		t.Errorf("pillar = %d/%s, want 80/yellow", pillar.Score, pillar.Status)
	}

	// Then: the sync log was closed in the database
	logs := syncLogRows(t, srv.db)
	if len(logs) != 1 {
		t.Fatalf("got %d sync logs, want 1", len(logs))
	}
	l := logs[0]
	if l.Status != string(types.SyncSuccess) || !l.Completed {
		t.Errorf("log status = %s completed=%v", l.Status, l.Completed)
	}
	if l.RecordsFetched != 1 || l.RecordsUpdated != 1 || l.ValuesDiscarded != 1 {
		t.Errorf("log counters = %+v", l)
	}

	// Then: the integration reports its last sync
	var in types.Integration
	srv.mustRequest(t, http.MethodGet, "/api/v1/integrations/crm", nil, http.StatusOK, &in)
	if in.LastSyncStatus == nil || *in.LastSyncStatus != types.SyncSuccess || in.LastSyncAt == nil {
		t.Errorf("integration last sync = %v at %v", in.LastSyncStatus, in.LastSyncAt)
	}
}

func TestJiraSync_PartialFailure(t *testing.T) {
	// Given: two Jira mappings, one of which the backend rejects
	srv := setupServer(t)
	srv.jira.issues = []map[string]any{
		{"summary": "a"}, {"summary": "b"}, {"summary": "c"},
	}

	pillarID := srv.createPillar(t, "Delivery")
	okMetric := srv.createMetric(t, pillarID, "Issues shipped", 4, "issue_tracker")
	badMetric := srv.createMetric(t, pillarID, "Incidents", 10, "issue_tracker")
	srv.saveJira(t)
	srv.createMapping(t, "issue_tracker", map[string]any{
		"metric_id":          okMetric,
		"query":              "project = OPS AND resolved >= CURRENT_MONTH_START",
		"aggregation_method": "count",
	})
	srv.createMapping(t, "issue_tracker", map[string]any{
		"metric_id":          badMetric,
		"query":              "project = " + failingJQLTag,
		"aggregation_method": "count",
	})

	// When: a sync runs
	var resp api.SyncResponse
	srv.mustRequest(t, http.MethodPost, "/api/v1/integrations/issue_tracker/sync", nil, http.StatusOK, &resp)

	// Then: the run succeeds with one failed mapping
	if resp.RecordsUpdated != 1 || resp.MappingsFailed != 1 || resp.RecordsFetched != 1 {
		t.Errorf("sync response = %+v", resp)
	}

	var ok scoring.MetricEvaluation
	srv.mustRequest(t, http.MethodGet, "/api/v1/metrics/"+okMetric, nil, http.StatusOK, &ok)
	if ok.CurrentValue != 3 {
		t.Errorf("shipped current_value = %v, want 3", ok.CurrentValue)
	}
	var bad scoring.MetricEvaluation
	srv.mustRequest(t, http.MethodGet, "/api/v1/metrics/"+badMetric, nil, http.StatusOK, &bad)
	if bad.CurrentValue != 0 {
		t.Errorf("failed mapping changed metric to %v", bad.CurrentValue)
	}

	logs := syncLogRows(t, srv.db)
	if len(logs) != 1 {
		t.Fatalf("got %d sync logs, want 1", len(logs))
	}
	if logs[0].Status != string(types.SyncSuccess) || logs[0].MappingsFailed != 1 {
		t.Errorf("log = %+v", logs[0])
	}

	// Then: the log is listed through the API
	var listed struct {
		Logs []types.SyncLog `json:"logs"`
	}
	srv.mustRequest(t, http.MethodGet, "/api/v1/integrations/issue_tracker/sync-logs", nil, http.StatusOK, &listed)
	if len(listed.Logs) != 1 || listed.Logs[0].ID != resp.SyncLogID {
		t.Errorf("sync-logs = %+v, want one log %s", listed.Logs, resp.SyncLogID)
	}
}

func TestSync_NotConfigured(t *testing.T) {
	srv := setupServer(t)

	code, body := srv.request(t, http.MethodPost, "/api/v1/integrations/spreadsheet/sync", nil)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", code, body)
	}
	var problem map[string]any
	if err := json.Unmarshal(body, &problem); err != nil {
		t.Fatal(err)
	}
	if msg, _ := problem["error"].(string); msg == "" {
		t.Errorf("body has no error field: %s", body)
	}
	if logs := syncLogRows(t, srv.db); len(logs) != 0 {
		t.Errorf("got %d sync logs for an unconfigured integration", len(logs))
	}
}

func TestSaveIntegration_RejectsBadCredentials(t *testing.T) {
	srv := setupServer(t)

	code, body := srv.request(t, http.MethodPost, "/api/v1/integrations/crm", map[string]any{
		"config": map[string]string{"access_token": "wrong"},
	})
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", code, body)
	}

	code, _ = srv.request(t, http.MethodGet, "/api/v1/integrations/crm", nil)
	if code != http.StatusNotFound {
		t.Errorf("rejected integration was stored (GET status %d)", code)
	}
}

func TestSaveIntegration_MaskedSecretRoundTrip(t *testing.T) {
	// Given: a saved HubSpot integration
	srv := setupServer(t)
	srv.saveHubSpot(t)

	// When: the masked config is read back and saved unchanged
	var in types.Integration
	srv.mustRequest(t, http.MethodGet, "/api/v1/integrations/crm", nil, http.StatusOK, &in)
	if in.Config["access_token"] != types.MaskedSecret {
		t.Fatalf("access_token = %q, want masked", in.Config["access_token"])
	}
	srv.mustRequest(t, http.MethodPost, "/api/v1/integrations/crm", map[string]any{
		"name":   "Sales CRM",
		"config": in.Config,
	}, http.StatusOK, nil)

	// Then: the stored token still authenticates against HubSpot
	pillarID := srv.createPillar(t, "Pipeline")
	metricID := srv.createMetric(t, pillarID, "Open deals", 10, "crm")
	srv.hubspot.deals = []hubSpotDeal{{ID: "1"}, {ID: "2"}}
	srv.createMapping(t, "crm", map[string]any{
		"metric_id":          metricID,
		"query":              `{"dealstage":{"neq":"closedlost"}}`,
		"aggregation_method": "count",
	})

	var resp api.SyncResponse
	srv.mustRequest(t, http.MethodPost, "/api/v1/integrations/crm/sync", nil, http.StatusOK, &resp)
	if resp.RecordsUpdated != 1 {
		t.Errorf("sync after re-save = %+v, want one update", resp)
	}

	var raw string
	if err := srv.db.QueryRow(`SELECT name FROM integrations WHERE type = 'crm'`).Scan(&raw); err != nil {
		t.Fatalf("read integration: %v", err)
	}
	if raw != "Sales CRM" {
		t.Errorf("name = %q, want Sales CRM", raw)
	}
}

func TestPrometheusMetrics_ExposeSyncRuns(t *testing.T) {
	srv := setupServer(t)
	srv.saveHubSpot(t)
	srv.mustRequest(t, http.MethodPost, "/api/v1/integrations/crm/sync", nil, http.StatusOK, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	out := w.Body.String()
	for _, want := range []string{
		`pillars_sync_runs_total{integration_type="crm",status="success"} 1`,
		"pillars_http_requests_total",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func TestAuth_RequiredOnAPIRoutes(t *testing.T) {
	srv := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pillars", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}
