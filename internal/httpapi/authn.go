package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatekey.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth decodes the bearer access token and attaches the embedded
// authorization snapshot to the request context. Requests without a
// valid token never reach the wrapped handler.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		_, snap, err := a.codec.DecodeSnapshot(token)
		if err != nil {
			writeKindError(w, r, err)
			return
		}
		ctx := identity.ContextWithSnapshot(r.Context(), snap)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission wraps withAuth-protected handlers with the
// permission gate. Empty perm restricts the route to superusers.
func (a *API) requirePermission(perm string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := identity.Require(r.Context(), perm); err != nil {
			writeKindError(w, r, err)
			return
		}
		next(w, r)
	}
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
