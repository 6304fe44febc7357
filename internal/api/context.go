package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/pillars/internal/types"
)

// integrationTypeContextKey is the context key for the resolved integration type.
type integrationTypeContextKey struct{}

// WithIntegrationType returns a new context with the integration type attached.
func WithIntegrationType(ctx context.Context, t types.IntegrationType) context.Context {
	return context.WithValue(ctx, integrationTypeContextKey{}, t)
}

// IntegrationTypeFromContext extracts the integration type from the context.
// The second result is false when none was attached.
func IntegrationTypeFromContext(ctx context.Context) (types.IntegrationType, bool) {
	t, ok := ctx.Value(integrationTypeContextKey{}).(types.IntegrationType)
	return t, ok && t != ""
}

// mustIntegrationType extracts the integration type or panics.
// Use only behind IntegrationTypeMiddleware.
func mustIntegrationType(ctx context.Context) types.IntegrationType {
	t, ok := IntegrationTypeFromContext(ctx)
	if !ok {
		panic("integration type not in context: middleware misconfiguration")
	}
	return t
}

// IntegrationTypeMiddleware validates the {type} URL parameter and attaches
// it to the request context. Unknown types are 404.
func IntegrationTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := types.IntegrationType(chi.URLParam(r, "type"))
		if !t.Valid() {
			WriteProblem(w, r, http.StatusNotFound, "Unknown integration type")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIntegrationType(r.Context(), t)))
	})
}
