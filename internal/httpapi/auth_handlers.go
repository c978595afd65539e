package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gatekit.org/internal/auth"
	"gatekit.org/internal/token"
)

type credentialRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type tokenGrantResponse struct {
	TokenType        string    `json:"token_type"`
	AccessToken      string    `json:"access_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type sessionGrantResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// credentialsFromRequest accepts either a JSON body or an HTTP Basic
// Authorization header.
func credentialsFromRequest(w http.ResponseWriter, r *http.Request) (name, password string, err error) {
	if header := r.Header.Get(authHeader); strings.HasPrefix(strings.ToLower(strings.TrimSpace(header)), strings.ToLower(basicScheme)) {
		return extractBasicCredentials(header)
	}
	var req credentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return "", "", err
	}
	return req.Name, req.Password, nil
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	name, password, err := credentialsFromRequest(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	identity, err := a.credentials.Register(r.Context(), name, password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateIdentity):
			writeError(w, r, http.StatusConflict, "identity already exists")
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	a.audit(r.Context(), "auth.identity.register", "identity", identity.ID, map[string]string{
		"name": identity.Name,
	})
	w.Header().Set("Location", "/v1/identities/"+identity.ID)
	writeJSON(w, http.StatusCreated, registerResponse{ID: identity.ID, Name: identity.Name})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	name, password, err := credentialsFromRequest(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	identity, err := a.credentials.Verify(r.Context(), name, password)
	if err != nil {
		// One answer for every failure mode; the audit trail keeps the
		// distinction.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	grant := strings.TrimSpace(r.URL.Query().Get("grant"))
	switch grant {
	case "", "token":
		principal, err := a.engine.Principal(r.Context(), identity.ID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "login failed")
			return
		}
		access, refresh, err := a.tokens.IssuePair(r.Context(), identity.ID, principal.Roles, principal.PermissionKeys())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "login failed")
			return
		}
		a.audit(r.Context(), "auth.token.issued", "identity", identity.ID, map[string]string{
			"name": identity.Name,
		})
		writeJSON(w, http.StatusOK, tokenGrantResponse{
			TokenType:        "Bearer",
			AccessToken:      access.Raw,
			ExpiresAt:        access.ExpiresAt,
			RefreshToken:     refresh.Raw,
			RefreshExpiresAt: refresh.ExpiresAt,
		})
	case "session":
		if a.sessions == nil {
			writeError(w, r, http.StatusServiceUnavailable, "sessions disabled")
			return
		}
		sess, err := a.sessions.Create(r.Context(), identity.ID, map[string]string{
			"ip": clientIP(r),
		})
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "login failed")
			return
		}
		a.audit(r.Context(), "auth.session.created", "identity", identity.ID, map[string]string{
			"name": identity.Name,
		})
		writeJSON(w, http.StatusOK, sessionGrantResponse{
			SessionID: sess.ID,
			ExpiresAt: sess.ExpiresAt,
		})
	default:
		writeError(w, r, http.StatusBadRequest, "grant must be token or session")
	}
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	access, refresh, err := a.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrRefreshReused):
			a.audit(r.Context(), "auth.token.refresh_reused", "token", "", nil)
			writeError(w, r, http.StatusUnauthorized, "refresh token reused")
		default:
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		}
		return
	}

	writeJSON(w, http.StatusOK, tokenGrantResponse{
		TokenType:        "Bearer",
		AccessToken:      access.Raw,
		ExpiresAt:        access.ExpiresAt,
		RefreshToken:     refresh.Raw,
		RefreshExpiresAt: refresh.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if sid := strings.TrimSpace(r.Header.Get(sessionHeader)); sid != "" {
		if err := a.sessions.Revoke(r.Context(), sid); err != nil {
			writeError(w, r, http.StatusInternalServerError, "logout failed")
			return
		}
	}
	if raw, ok := auth.TokenFromContext(r.Context()); ok {
		if claims, err := a.tokens.Validate(r.Context(), raw); err == nil {
			_ = a.tokens.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time)
		}
	}
	// Optional body naming the refresh token retires its family too.
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err == nil && req.RefreshToken != "" {
		_ = a.tokens.RevokeRefresh(r.Context(), req.RefreshToken)
	}

	a.audit(r.Context(), "auth.logout", "identity", principal.Identity.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	identity, err := a.store.Identities(r.Context()).Find(r.Context(), principal.Identity.ID)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.credentials.ChangeCredential(r.Context(), identity.Name, req.OldPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredential):
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "password change failed")
		}
		return
	}

	a.audit(r.Context(), "auth.credential.changed", "identity", identity.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":      true,
		"identity_id": principal.Identity.ID,
		"roles":       principal.Roles,
		"permissions": principal.PermissionKeys(),
	})
}
