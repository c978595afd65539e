package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"gatekit.org/internal/auth"
	"gatekit.org/internal/token"
)

const (
	authHeader    = "Authorization"
	bearerScheme  = "Bearer "
	basicScheme   = "Basic "
	sessionHeader = "X-Session-ID"
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// withAuth authenticates every non-public request, via bearer token or
// session, and attaches the resolved principal to the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if sid := strings.TrimSpace(r.Header.Get(sessionHeader)); sid != "" {
			principal, err := a.authenticateSession(r.Context(), sid)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.Validate(r.Context(), raw)
		if err != nil {
			switch {
			case errors.Is(err, token.ErrExpired):
				writeError(w, r, http.StatusUnauthorized, "token expired")
			case errors.Is(err, token.ErrRevoked):
				writeError(w, r, http.StatusUnauthorized, "token revoked")
			default:
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			}
			return
		}

		principal := principalFromClaims(claims)
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticateSession validates the session and resolves the principal
// fresh from the store, so role changes apply immediately.
func (a *API) authenticateSession(ctx context.Context, sessionID string) (auth.Principal, error) {
	if a.sessions == nil {
		return auth.Principal{}, errors.New("sessions disabled")
	}
	sess, err := a.sessions.Validate(ctx, sessionID)
	if err != nil {
		return auth.Principal{}, errors.New("invalid session")
	}
	principal, err := a.engine.Principal(ctx, sess.IdentityID)
	if err != nil {
		return auth.Principal{}, errors.New("invalid session")
	}
	return principal, nil
}

// principalFromClaims trusts the signed claim set. Permissions were
// computed at issuance; they do not track later role changes.
func principalFromClaims(claims *token.Claims) auth.Principal {
	perms := make(map[string]struct{}, len(claims.Permissions))
	for _, p := range claims.Permissions {
		perms[p] = struct{}{}
	}
	return auth.Principal{
		Identity:    &auth.Identity{ID: claims.Subject, Status: auth.IdentityStatusActive},
		Roles:       claims.Roles,
		Permissions: perms,
	}
}

// ensurePermissions writes a 401/403 and returns false unless the request's
// principal holds every listed permission. Token requests are decided on
// the signed claim set; session requests go through the engine, which reads
// the current role data.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || principal.Identity == nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	_, bearer := auth.TokenFromContext(r.Context())
	for _, perm := range perms {
		var err error
		if bearer {
			err = auth.CheckClaims(principal.PermissionKeys(), perm)
		} else {
			err = a.engine.Check(r.Context(), principal.Identity.ID, perm)
		}
		if err != nil {
			writeError(w, r, http.StatusForbidden, "permission denied")
			return false
		}
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearerScheme):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

// extractBasicCredentials parses an HTTP Basic Authorization header into a
// name/password pair.
func extractBasicCredentials(header string) (name, password string, err error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(basicScheme)) {
		return "", "", errors.New("invalid authorization scheme")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(basicScheme):]))
	if err != nil {
		return "", "", errors.New("malformed basic credentials")
	}
	name, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", errors.New("malformed basic credentials")
	}
	return name, password, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
