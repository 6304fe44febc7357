package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/pillars/internal/provider"
	"github.com/hyperengineering/pillars/internal/store"
	"github.com/hyperengineering/pillars/internal/types"
	"github.com/hyperengineering/pillars/internal/validation"
)

// defaultIntegrationNames name integrations saved without a name.
var defaultIntegrationNames = map[types.IntegrationType]string{
	types.IntegrationCRM:          "HubSpot",
	types.IntegrationIssueTracker: "Jira",
	types.IntegrationSpreadsheet:  "Google Sheets",
}

// IntegrationRequest is the body of POST /integrations/{type}.
type IntegrationRequest struct {
	Name     string                  `json:"name"`
	Config   types.IntegrationConfig `json:"config"`
	IsActive *bool                   `json:"is_active"`
}

// GetIntegration handles GET /api/v1/integrations/{type}. Credentials are masked.
func (h *Handler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	in, ok := h.loadIntegration(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, in.Masked())
}

// SaveIntegration handles POST /api/v1/integrations/{type}
//
// Credentials submitted as the mask placeholder keep their stored value.
// The config is only persisted after a successful connection test.
func (h *Handler) SaveIntegration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := mustIntegrationType(ctx)

	var req IntegrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := types.Integration{Type: t, Name: strings.TrimSpace(req.Name), Config: req.Config, IsActive: true}
	if in.Name == "" {
		in.Name = defaultIntegrationNames[t]
	}
	if req.IsActive != nil {
		in.IsActive = *req.IsActive
	}

	existing, err := h.store.GetIntegrationByType(ctx, t)
	switch {
	case err == nil:
		in.Config = in.Config.MergeSecrets(existing.Config)
	case !errors.Is(err, store.ErrNotFound):
		MapStoreError(w, r, err)
		return
	}

	if errs := validation.ValidateIntegration(t, in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	client, err := h.clients.Client(&in)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !client.TestConnection(ctx) {
		slog.Warn("integration connection test failed",
			"component", "api",
			"action", "save_integration",
			"integration_type", t,
		)
		WriteProblem(w, r, http.StatusBadRequest, "Connection test failed; check credentials")
		return
	}

	saved, err := h.store.SaveIntegration(ctx, in)
	if err != nil {
		slog.Error("save integration failed",
			"component", "api",
			"action", "save_integration",
			"integration_type", t,
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	// Credentials may have changed what the provider exposes.
	h.cache.InvalidateProvider(string(t))

	slog.Info("integration saved",
		"component", "api",
		"action", "save_integration",
		"integration_type", t,
		"is_active", saved.IsActive,
	)
	writeJSON(w, http.StatusOK, saved.Masked())
}

// ListProperties handles GET /api/v1/integrations/{type}/properties?objectType=
func (h *Handler) ListProperties(w http.ResponseWriter, r *http.Request) {
	in, ok := h.loadIntegration(w, r)
	if !ok {
		return
	}

	client, err := h.clients.Client(in)
	if err != nil {
		MapProviderError(w, r, err)
		return
	}
	lister, ok := client.(provider.PropertyLister)
	if !ok {
		WriteProblem(w, r, http.StatusNotFound, "Integration type does not expose properties")
		return
	}

	props, err := lister.Properties(r.Context(), r.URL.Query().Get("objectType"))
	if err != nil {
		slog.Warn("list properties failed",
			"component", "api",
			"action", "list_properties",
			"integration_type", in.Type,
			"error", err,
		)
		MapProviderError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Properties []provider.Property `json:"properties"`
	}{Properties: props})
}

// InvalidateProperties handles DELETE /api/v1/integrations/{type}/properties.
// With ?objectType= only that object type is dropped.
func (h *Handler) InvalidateProperties(w http.ResponseWriter, r *http.Request) {
	t := mustIntegrationType(r.Context())
	if ot := r.URL.Query().Get("objectType"); ot != "" {
		h.cache.Invalidate(provider.CacheKey{Provider: string(t), ObjectType: ot})
	} else {
		h.cache.InvalidateProvider(string(t))
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMappings handles GET /api/v1/integrations/{type}/mappings
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	in, ok := h.loadIntegration(w, r)
	if !ok {
		return
	}
	mappings, err := h.store.ListMappings(r.Context(), in.ID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Mappings []types.IntegrationMapping `json:"mappings"`
	}{Mappings: mappings})
}

// CreateMapping handles POST /api/v1/integrations/{type}/mappings
func (h *Handler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	in, ok := h.loadIntegration(w, r)
	if !ok {
		return
	}

	var req types.IntegrationMapping
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IntegrationID == "" {
		req.IntegrationID = in.ID
	}
	if errs := h.validateMapping(in, req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	m, err := h.store.CreateMapping(r.Context(), req)
	if err != nil {
		slog.Error("create mapping failed",
			"component", "api",
			"action", "create_mapping",
			"integration_type", in.Type,
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	slog.Info("mapping created",
		"component", "api",
		"action", "create_mapping",
		"mapping_id", m.ID,
		"metric_id", m.MetricID,
	)
	writeJSON(w, http.StatusCreated, m)
}

// UpdateMapping handles PUT /api/v1/integrations/{type}/mappings/{id}
func (h *Handler) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	in, ok := h.loadIntegration(w, r)
	if !ok {
		return
	}
	current, ok := h.loadMapping(w, r, in)
	if !ok {
		return
	}

	var req types.IntegrationMapping
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = current.ID
	req.IntegrationID = current.IntegrationID
	if errs := h.validateMapping(in, req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	m, err := h.store.UpdateMapping(r.Context(), req)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteMapping handles DELETE /api/v1/integrations/{type}/mappings/{id}
func (h *Handler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	in, ok := h.loadIntegration(w, r)
	if !ok {
		return
	}
	m, ok := h.loadMapping(w, r, in)
	if !ok {
		return
	}
	if err := h.store.DeleteMapping(r.Context(), m.ID); err != nil {
		MapStoreError(w, r, err)
		return
	}

	slog.Info("mapping deleted",
		"component", "api",
		"action", "delete_mapping",
		"mapping_id", m.ID,
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) validateMapping(in *types.Integration, m types.IntegrationMapping) []validation.ValidationError {
	errs := validation.ValidateMapping(in.Type, m)
	if m.IntegrationID != "" && m.IntegrationID != in.ID {
		errs = append(errs, validation.ValidationError{
			Field:   "integration_id",
			Message: "does not match the integration in the path",
		})
	}
	return errs
}

// loadIntegration resolves the integration named by the path, writing a 404
// when it is not configured.
func (h *Handler) loadIntegration(w http.ResponseWriter, r *http.Request) (*types.Integration, bool) {
	in, err := h.store.GetIntegrationByType(r.Context(), mustIntegrationType(r.Context()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, "Integration not configured")
			return nil, false
		}
		MapStoreError(w, r, err)
		return nil, false
	}
	return in, true
}

// loadMapping resolves {id} and checks it belongs to in.
func (h *Handler) loadMapping(w http.ResponseWriter, r *http.Request, in *types.Integration) (*types.IntegrationMapping, bool) {
	m, err := h.store.GetMapping(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapStoreError(w, r, err)
		return nil, false
	}
	if m.IntegrationID != in.ID {
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
		return nil, false
	}
	return m, true
}
