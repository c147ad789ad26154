package http

import (
	"context"
	"net/http"
)

// Validator resolves an API key to its fleet; auth.Authenticator implements it.
type Validator interface {
	Validate(ctx context.Context, apiKey string) (string, error)
}

type fleetKey struct{}

// FleetID returns the fleet the request's API key belongs to.
func FleetID(ctx context.Context) string {
	id, _ := ctx.Value(fleetKey{}).(string)
	return id
}

type AuthMiddleware struct {
	auth Validator
}

func NewAuthMiddleware(a Validator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing X-API-Key header")
			return
		}

		fleetID, err := m.auth.Validate(r.Context(), apiKey)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), fleetKey{}, fleetID)))
	})
}
