package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/pillars/internal/filter"
	"github.com/hyperengineering/pillars/internal/provider"
	"github.com/hyperengineering/pillars/internal/store"
	pillarsync "github.com/hyperengineering/pillars/internal/sync"
	"github.com/hyperengineering/pillars/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusUnauthorized:        {"https://pillars.dev/errors/unauthorized", "Unauthorized"},
	http.StatusBadRequest:          {"https://pillars.dev/errors/bad-request", "Bad Request"},
	http.StatusNotFound:            {"https://pillars.dev/errors/not-found", "Not Found"},
	http.StatusConflict:            {"https://pillars.dev/errors/conflict", "Conflict"},
	http.StatusUnprocessableEntity: {"https://pillars.dev/errors/validation-error", "Validation Error"},
	http.StatusInternalServerError: {"https://pillars.dev/errors/internal-error", "Internal Server Error"},
	http.StatusBadGateway:          {"https://pillars.dev/errors/upstream-error", "Bad Gateway"},
	http.StatusServiceUnavailable:  {"https://pillars.dev/errors/service-unavailable", "Service Unavailable"},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{typeURI: "https://pillars.dev/errors/unknown", title: http.StatusText(status)}
	}
	return Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, status, newProblem(r, status, detail))
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

// SyncProblem is the failure body of a sync request. Error repeats the sync
// failure message for clients that read only that field.
type SyncProblem struct {
	Problem
	Error string `json:"error"`
}

// SyncFailedMessage is sent for sync failures the caller cannot act on.
const SyncFailedMessage = "Sync failed; see server logs"

// WriteSyncProblem maps a sync failure to a status and writes it. Client
// errors carry the sync error message; a 500 carries SyncFailedMessage so
// internal details stay in the log.
func WriteSyncProblem(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := SyncFailedMessage
	switch {
	case errors.Is(err, pillarsync.ErrIntegrationNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, provider.ErrMissingCredentials), errors.Is(err, provider.ErrUnsupportedType):
		status, msg = http.StatusBadRequest, err.Error()
	}
	writeProblemBody(w, status, SyncProblem{
		Problem: newProblem(r, status, msg),
		Error:   msg,
	})
}

// MapStoreError converts domain errors to Problem Details responses.
func MapStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, store.ErrInvalidReference):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Referenced resource does not exist")
	case errors.Is(err, store.ErrAlreadyCompleted):
		WriteProblem(w, r, http.StatusConflict, "Sync log already completed")
	case errors.Is(err, filter.ErrInvalidQuery), errors.Is(err, provider.ErrInvalidQuery):
		WriteProblem(w, r, http.StatusBadRequest, "Invalid query")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

// MapProviderError converts a remote provider failure into a 502 whose
// detail carries the provider's own message.
func MapProviderError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *provider.APIError
	switch {
	case errors.As(err, &apiErr):
		WriteProblem(w, r, http.StatusBadGateway, apiErr.Error())
	case errors.Is(err, provider.ErrMissingCredentials), errors.Is(err, provider.ErrUnsupportedType):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
	default:
		WriteProblem(w, r, http.StatusBadGateway, "Provider request failed")
	}
}
