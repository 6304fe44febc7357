package provider

import (
	"errors"
	"testing"

	"github.com/hyperengineering/pillars/internal/types"
)

func TestNew_SelectsClientByType(t *testing.T) {
	tests := []struct {
		typ    types.IntegrationType
		config types.IntegrationConfig
		check  func(Client) bool
	}{
		{types.IntegrationCRM, types.IntegrationConfig{"access_token": "t"}, func(c Client) bool { _, ok := c.(*HubSpot); return ok }},
		{types.IntegrationIssueTracker, types.IntegrationConfig{"email": "e", "api_token": "t", "domain": "d"}, func(c Client) bool { _, ok := c.(*Jira); return ok }},
		{types.IntegrationSpreadsheet, types.IntegrationConfig{"api_key": "k"}, func(c Client) bool { _, ok := c.(*Sheets); return ok }},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			c, err := New(&types.Integration{Type: tt.typ, Config: tt.config}, Options{})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if !tt.check(c) {
				t.Errorf("wrong client type %T", c)
			}
		})
	}
}

func TestNew_UnsupportedType(t *testing.T) {
	_, err := New(&types.Integration{Type: "erp"}, Options{})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestBaseURLPrecedence(t *testing.T) {
	cfg := types.IntegrationConfig{"base_url": "https://config.example/"}

	if got := baseURL(cfg, "https://override.example", "https://default"); got != "https://config.example" {
		t.Errorf("config base_url should win, got %s", got)
	}
	if got := baseURL(nil, "https://override.example/", "https://default"); got != "https://override.example" {
		t.Errorf("override should beat default, got %s", got)
	}
	if got := baseURL(nil, "", "https://default"); got != "https://default" {
		t.Errorf("default expected, got %s", got)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"hubspot", `{"status":"error","message":"bad token","errors":[{"message":"x"}]}`, "bad token"},
		{"jira messages and fields", `{"errorMessages":["one"],"errors":{"summary":"required","assignee":"unknown"}}`, "one; assignee: unknown; summary: required"},
		{"google", `{"error":{"code":400,"message":"Unable to parse range"}}`, "Unable to parse range"},
		{"string error", `{"error":"invalid_grant"}`, "invalid_grant"},
		{"plain text", `Service Unavailable`, "Service Unavailable"},
		{"empty json", `{}`, "500 Internal Server Error"},
		{"empty body", ``, "500 Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorMessage([]byte(tt.body), "500 Internal Server Error"); got != tt.want {
				t.Errorf("errorMessage = %q, want %q", got, tt.want)
			}
		})
	}
}
