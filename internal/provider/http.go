package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from a provider, carrying the provider's
// own error message.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Message)
}

// requestFunc decorates an outgoing request with provider auth.
type requestFunc func(*http.Request)

// doJSON sends a request and decodes a 2xx JSON response into out.
func doJSON(ctx context.Context, client *http.Client, provider, method, url string, body any, auth requestFunc, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", provider, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		auth(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: provider, Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

// errorMessage pulls the human-readable message out of the error body shapes
// used by HubSpot ({"message"}), Jira ({"errorMessages", "errors"}) and
// Google ({"error": {"message"}}).
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Message       string          `json:"message"`
		ErrorMessages []string        `json:"errorMessages"`
		Errors        json.RawMessage `json:"errors"`
		Error         json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		if s := strings.TrimSpace(string(raw)); s != "" {
			return s
		}
		return fallback
	}

	if body.Message != "" {
		return body.Message
	}
	msgs := append([]string{}, body.ErrorMessages...)
	var fieldErrs map[string]string
	if len(body.Errors) > 0 && json.Unmarshal(body.Errors, &fieldErrs) == nil {
		fields := make([]string, 0, len(fieldErrs))
		for field := range fieldErrs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			msgs = append(msgs, field+": "+fieldErrs[field])
		}
	}
	if len(msgs) > 0 {
		return strings.Join(msgs, "; ")
	}
	if len(body.Error) > 0 {
		var g struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &g) == nil && g.Message != "" {
			return g.Message
		}
		var s string
		if json.Unmarshal(body.Error, &s) == nil && s != "" {
			return s
		}
	}
	return fallback
}

// probe issues a GET and reports whether it returned 2xx. Any failure,
// including transport errors, counts as invalid credentials.
func probe(ctx context.Context, client *http.Client, url string, auth requestFunc) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	if auth != nil {
		auth(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
