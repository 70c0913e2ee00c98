package httpapi

import (
	"net/http"
	"time"
)

const (
	// RefreshCookieName carries the refresh token, scoped to the
	// refresh endpoint only.
	RefreshCookieName = "gatekey_refresh"
	// CSRFCookieName is script-readable so browser clients can echo it
	// back in a header.
	CSRFCookieName = "gatekey_csrf"

	refreshCookiePath = "/v1/auth/refresh"
)

// BuildRefreshCookie returns the refresh-token cookie descriptor.
// Attributes are fixed: HTTP-only, secure, SameSite=Strict, path
// limited to the refresh endpoint. A non-positive maxAge produces the
// deletion form (empty value, MaxAge -1).
func BuildRefreshCookie(token string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(maxAge.Seconds()),
	}
	if maxAge <= 0 {
		c.Value = ""
		c.MaxAge = -1
	}
	return c
}

// BuildCSRFCookie returns the CSRF cookie descriptor: site-wide,
// secure, SameSite=Strict, readable by script. Same deletion idiom as
// the refresh cookie.
func BuildCSRFCookie(token string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(maxAge.Seconds()),
	}
	if maxAge <= 0 {
		c.Value = ""
		c.MaxAge = -1
	}
	return c
}
