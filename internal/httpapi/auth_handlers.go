package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"salonora.app/internal/audit"
	"salonora.app/internal/auth"
)

type loginRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	TenantID *string `json:"tenant_id,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type principalResponse struct {
	UserID      string   `json:"user_id"`
	TenantID    *string  `json:"tenant_id"`
	RoleID      string   `json:"role_id"`
	Permissions []string `json:"permissions"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	meta := issueMetaFromRequest(r)
	pair, principal, err := a.gate.Login(r.Context(), req.Email, req.Password, req.TenantID, meta)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{
		"user_id": principal.UserID,
	})
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	pair, _, err := a.rotator.Rotate(r.Context(), req.RefreshToken, issueMetaFromRequest(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := a.rotator.RevokeByValue(r.Context(), req.RefreshToken); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleMe echoes the verified principal. The lookup of the caller's own row
// runs inside the activated tenant scope; the row-filtering layer sees the
// session variable before the query.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var user *auth.User
	err := a.tenants.Run(r.Context(), principal, func(s auth.Store) error {
		var err error
		user, err = s.Users().FindByID(r.Context(), principal.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			// Token outlived the account.
			writeAuthError(w, auth.ErrInvalidToken)
			return
		}
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, principalResponse{
		UserID:      user.ID,
		TenantID:    principal.TenantID,
		RoleID:      principal.RoleID,
		Permissions: principal.Permissions,
	})
}

func toTokenResponse(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        pair.ExpiresIn(time.Now()),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func issueMetaFromRequest(r *http.Request) auth.IssueMeta {
	return auth.IssueMeta{
		DeviceInfo: strings.TrimSpace(r.UserAgent()),
		IPAddress:  clientIP(r),
	}
}
