package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"salonora.app/internal/auth"
	"salonora.app/internal/obs"
)

// ReadyProbe checks backing-store readiness (DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth core.
type API struct {
	mux        *http.ServeMux
	gate       *auth.AuthenticationGate
	rotator    *auth.TokenRotationEngine
	tenants    *auth.TenantContextManager
	store      auth.Store
	readyProbe ReadyProbe
	version    string
}

// New wires routes. All /v1/auth endpoints are public by scheme; everything
// else behind the mux requires a bearer token (see withAuth).
func New(gate *auth.AuthenticationGate, rotator *auth.TokenRotationEngine, tenants *auth.TenantContextManager, store auth.Store, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		gate:       gate,
		rotator:    rotator,
		tenants:    tenants,
		store:      store,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware-wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	h = obs.Instrument(h)
	return h
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": a.version})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Response helpers ----------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeAuthError collapses authentication failures to the small set of
// deliberately uninformative responses. Detail lives in server-side logs.
func writeAuthError(w http.ResponseWriter, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", retryAfterSeconds(locked.Until))
		respondError(w, http.StatusTooManyRequests, "account temporarily locked")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrTokenReuse),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, auth.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden")
	default:
		respondError(w, http.StatusInternalServerError, "authentication error")
	}
}

func retryAfterSeconds(until time.Time) string {
	secs := int(time.Until(until).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
