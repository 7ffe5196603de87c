package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"salonora.app/internal/audit"
	"salonora.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth verifies the bearer token on protected paths and attaches the
// principal before any handler runs. Handlers reach data only through
// TenantContextManager.Run, which activates the tenant scope ahead of the
// first query.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.gate.ValidateAccessToken(r.Context(), token)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = audit.WithActor(ctx, principal.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
