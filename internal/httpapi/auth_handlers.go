package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gatekey.org/internal/identity"
	"gatekey.org/internal/obs"
)

type loginRequest struct {
	PlatformID string `json:"platform_id"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	ProfileID    string `json:"profile_id"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type logoutRequest struct {
	ProfileID    string `json:"profile_id"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type credentialsResponse struct {
	AccessToken      string                         `json:"access_token"`
	RefreshToken     string                         `json:"refresh_token"`
	AccessExpiresAt  time.Time                      `json:"access_expires_at"`
	RefreshExpiresAt time.Time                      `json:"refresh_expires_at"`
	Snapshot         identity.AuthorizationSnapshot `json:"snapshot"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.PlatformID = strings.TrimSpace(req.PlatformID)
	req.Email = strings.TrimSpace(req.Email)
	if req.PlatformID == "" || req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "platform_id, email and password are required")
		return
	}

	creds, err := a.svc.Login(r.Context(), identity.LoginInput{
		PlatformID: req.PlatformID,
		Email:      req.Email,
		Password:   req.Password,
		ClientIP:   clientIP(r),
	})
	if err != nil {
		obs.CountAuth("login", identity.KindOf(err).String())
		writeKindError(w, r, err)
		return
	}
	obs.CountAuth("login", "ok")

	a.setAuthCookies(w, creds)
	writeJSON(w, http.StatusOK, toCredentialsResponse(creds))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Browser clients carry the refresh token in the cookie instead of
	// the body.
	if req.RefreshToken == "" {
		if c, err := r.Cookie(RefreshCookieName); err == nil {
			req.RefreshToken = c.Value
		}
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	creds, err := a.svc.Refresh(r.Context(), identity.RefreshInput{
		ProfileID:    strings.TrimSpace(req.ProfileID),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ClientIP:     clientIP(r),
	})
	if err != nil {
		obs.CountAuth("refresh", identity.KindOf(err).String())
		writeKindError(w, r, err)
		return
	}
	obs.CountAuth("refresh", "ok")

	a.setAuthCookies(w, creds)
	writeJSON(w, http.StatusOK, toCredentialsResponse(creds))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.AccessToken == "" {
		if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
			req.AccessToken = token
		}
	}
	if req.AccessToken == "" {
		writeError(w, r, http.StatusBadRequest, "access_token is required")
		return
	}

	err := a.svc.Logout(r.Context(), identity.LogoutInput{
		ProfileID:    strings.TrimSpace(req.ProfileID),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		obs.CountAuth("logout", identity.KindOf(err).String())
		writeKindError(w, r, err)
		return
	}
	obs.CountAuth("logout", "ok")

	http.SetCookie(w, BuildRefreshCookie("", 0))
	http.SetCookie(w, BuildCSRFCookie("", 0))
	w.WriteHeader(http.StatusNoContent)
}

// handleMe echoes the snapshot carried by the presented access token.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	snap, ok := identity.SnapshotFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no authenticated identity on request")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRevokeAll invalidates every live pair for a profile. Superuser
// only.
func (a *API) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	snap, _ := identity.SnapshotFromContext(r.Context())
	if err := a.svc.RevokeAll(r.Context(), snap.PlatformID, profileID); err != nil {
		writeKindError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setAuthCookies(w http.ResponseWriter, creds identity.Credentials) {
	ttl := a.svc.RefreshTTL()
	http.SetCookie(w, BuildRefreshCookie(creds.RefreshToken, ttl))
	http.SetCookie(w, BuildCSRFCookie(uuid.NewString(), ttl))
}

func toCredentialsResponse(creds identity.Credentials) credentialsResponse {
	return credentialsResponse{
		AccessToken:      creds.AccessToken,
		RefreshToken:     creds.RefreshToken,
		AccessExpiresAt:  creds.AccessExpiresAt,
		RefreshExpiresAt: creds.RefreshExpiresAt,
		Snapshot:         creds.Snapshot,
	}
}
