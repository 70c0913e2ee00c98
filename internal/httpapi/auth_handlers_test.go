package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatekey.org/internal/identity"
)

// --- fakes backing the lifecycle manager ---

type memPlatformStore struct{ platforms map[string]identity.Platform }

func (s *memPlatformStore) Find(_ context.Context, id string) (identity.Platform, error) {
	p, ok := s.platforms[id]
	if !ok {
		return identity.Platform{}, identity.ErrNotFound
	}
	return p, nil
}

type memProfileStore struct{ profiles map[string]identity.Profile }

func (s *memProfileStore) Find(_ context.Context, id string) (identity.Profile, error) {
	for _, p := range s.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return identity.Profile{}, identity.ErrNotFound
}

func (s *memProfileStore) FindByEmail(_ context.Context, email string) (identity.Profile, error) {
	p, ok := s.profiles[email]
	if !ok {
		return identity.Profile{}, identity.ErrNotFound
	}
	return p, nil
}

func (s *memProfileStore) UpdateLoginState(_ context.Context, profileID string, attempts int, lastLogin *time.Time) error {
	for email, p := range s.profiles {
		if p.ID == profileID {
			p.LoginAttempts = attempts
			p.LastLogin = lastLogin
			s.profiles[email] = p
		}
	}
	return nil
}

type memGrantStore struct{ rows []identity.GrantRow }

func (s *memGrantStore) GrantsFor(_ context.Context, _, _ string) ([]identity.GrantRow, error) {
	return s.rows, nil
}

type memTokenStore struct{ records map[string]*identity.PersistedTokenPair }

func (s *memTokenStore) Create(_ context.Context, rec *identity.PersistedTokenPair) error {
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memTokenStore) FindByAccessToken(_ context.Context, token string) (identity.PersistedTokenPair, error) {
	for _, rec := range s.records {
		if rec.AccessToken == token {
			return *rec, nil
		}
	}
	return identity.PersistedTokenPair{}, identity.ErrNotFound
}

func (s *memTokenStore) FindByRefreshToken(_ context.Context, token string) (identity.PersistedTokenPair, error) {
	for _, rec := range s.records {
		if rec.RefreshToken == token {
			return *rec, nil
		}
	}
	return identity.PersistedTokenPair{}, identity.ErrNotFound
}

func (s *memTokenStore) Rotate(_ context.Context, id, accessToken, refreshToken string) error {
	rec, ok := s.records[id]
	if !ok || rec.Revoked() {
		return identity.ErrNotFound
	}
	rec.AccessToken = accessToken
	rec.RefreshToken = refreshToken
	return nil
}

func (s *memTokenStore) SoftDelete(_ context.Context, id string) error {
	rec, ok := s.records[id]
	if !ok || rec.Revoked() {
		return identity.ErrNotFound
	}
	now := time.Now().UTC()
	rec.DeletedAt = &now
	return nil
}

func (s *memTokenStore) RevokeAllForProfile(_ context.Context, platformID, profileID string) error {
	now := time.Now().UTC()
	for _, rec := range s.records {
		if rec.PlatformID == platformID && rec.ProfileID == profileID && !rec.Revoked() {
			rec.DeletedAt = &now
		}
	}
	return nil
}

// --- fixture ---

var cachedHash string

func testAPI(t *testing.T, grants []identity.GrantRow) *API {
	t.Helper()
	if cachedHash == "" {
		h, err := identity.HashPassword("correct-horse")
		if err != nil {
			t.Fatal(err)
		}
		cachedHash = h
	}
	codec, err := identity.NewCodec([]byte("handler-test-key"), "gatekey-test")
	if err != nil {
		t.Fatal(err)
	}
	last := time.Now().Add(-time.Hour)
	profiles := &memProfileStore{profiles: map[string]identity.Profile{
		"a@b.c": {
			ID:           "prof-1",
			Email:        "a@b.c",
			PasswordHash: cachedHash,
			Validated:    true,
			LastLogin:    &last,
		},
	}}
	snapshots, err := identity.NewSnapshotBuilder(&memGrantStore{rows: grants}, "")
	if err != nil {
		t.Fatal(err)
	}
	svc, err := identity.NewService(identity.Deps{
		Codec:     codec,
		State:     identity.NewStateEvaluator(),
		Snapshots: snapshots,
		Platforms: &memPlatformStore{platforms: map[string]identity.Platform{"plat-1": {ID: "plat-1", Name: "Acme"}}},
		Profiles:  profiles,
		Tokens:    &memTokenStore{records: make(map[string]*identity.PersistedTokenPair)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return New(svc, codec, ReadyProbe{}, "test")
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func loginFor(t *testing.T, a *API) credentialsResponse {
	t.Helper()
	rr := doJSON(t, a.router, http.MethodPost, "/v1/auth/login", map[string]string{
		"platform_id": "plat-1", "email": "a@b.c", "password": "correct-horse",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	var creds credentialsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &creds); err != nil {
		t.Fatal(err)
	}
	return creds
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- tests ---

func TestLoginEndpointIssuesTokensAndCookies(t *testing.T) {
	a := testAPI(t, []identity.GrantRow{
		{RoleID: "r1", RoleName: "EDITOR", PermissionID: "p1", PermissionName: "A_READ"},
	})
	rr := doJSON(t, a.router, http.MethodPost, "/v1/auth/login", map[string]string{
		"platform_id": "plat-1", "email": "a@b.c", "password": "correct-horse",
	}, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var creds credentialsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &creds); err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		t.Fatal("expected both tokens in response")
	}
	if !creds.Snapshot.HasPermission("A_READ") {
		t.Fatalf("snapshot missing grants: %+v", creds.Snapshot)
	}

	cookies := rr.Result().Cookies()
	refresh := cookieByName(cookies, RefreshCookieName)
	if refresh == nil || refresh.Value != creds.RefreshToken {
		t.Fatalf("refresh cookie not set correctly: %+v", refresh)
	}
	if csrf := cookieByName(cookies, CSRFCookieName); csrf == nil || csrf.Value == "" || csrf.HttpOnly {
		t.Fatalf("csrf cookie not set correctly: %+v", csrf)
	}
}

func TestLoginEndpointRejectsBadPassword(t *testing.T) {
	a := testAPI(t, nil)
	rr := doJSON(t, a.router, http.MethodPost, "/v1/auth/login", map[string]string{
		"platform_id": "plat-1", "email": "a@b.c", "password": "wrong",
	}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLoginEndpointRejectsUnknownPlatform(t *testing.T) {
	a := testAPI(t, nil)
	rr := doJSON(t, a.router, http.MethodPost, "/v1/auth/login", map[string]string{
		"platform_id": "nope", "email": "a@b.c", "password": "correct-horse",
	}, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestLoginEndpointValidatesBody(t *testing.T) {
	a := testAPI(t, nil)
	rr := doJSON(t, a.router, http.MethodPost, "/v1/auth/login", map[string]string{
		"email": "a@b.c",
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRefreshEndpointAcceptsCookie(t *testing.T) {
	a := testAPI(t, nil)
	creds := loginFor(t, a)

	rr := doJSON(t, a.router, http.MethodPost, "/v1/auth/refresh", map[string]string{
		"profile_id": "prof-1",
	}, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: creds.RefreshToken})
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var next credentialsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &next); err != nil {
		t.Fatal(err)
	}
	if next.RefreshToken == creds.RefreshToken {
		t.Fatal("refresh token not rotated")
	}
}

func TestRefreshEndpointUnknownTokenIs404(t *testing.T) {
	a := testAPI(t, nil)
	creds := loginFor(t, a)

	// Rotate once so the original string goes stale.
	first := doJSON(t, a.router, http.MethodPost, "/v1/auth/refresh", map[string]string{
		"profile_id": "prof-1", "refresh_token": creds.RefreshToken,
	}, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("priming refresh failed: %d", first.Code)
	}

	rr := doJSON(t, a.router, http.MethodPost, "/v1/auth/refresh", map[string]string{
		"profile_id": "prof-1", "refresh_token": creds.RefreshToken,
	}, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for stale token, got %d", rr.Code)
	}
}

func TestLogoutEndpointClearsCookies(t *testing.T) {
	a := testAPI(t, nil)
	creds := loginFor(t, a)

	rr := doJSON(t, a.router, http.MethodPost, "/v1/auth/logout", map[string]string{
		"profile_id": "prof-1", "access_token": creds.AccessToken,
	}, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	refresh := cookieByName(rr.Result().Cookies(), RefreshCookieName)
	if refresh == nil || refresh.Value != "" || refresh.MaxAge != -1 {
		t.Fatalf("refresh cookie not cleared: %+v", refresh)
	}

	// Replaying the revoked pair is a 401, not a 404.
	rr2 := doJSON(t, a.router, http.MethodPost, "/v1/auth/logout", map[string]string{
		"profile_id": "prof-1", "access_token": creds.AccessToken,
	}, nil)
	if rr2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked pair, got %d", rr2.Code)
	}
}

func TestMeEndpointEchoesSnapshot(t *testing.T) {
	a := testAPI(t, []identity.GrantRow{
		{RoleID: "r1", RoleName: "EDITOR", PermissionID: "p1", PermissionName: "A_READ"},
	})
	creds := loginFor(t, a)

	rr := doJSON(t, a.router, http.MethodGet, "/v1/auth/me", nil, func(r *http.Request) {
		r.Header.Set(authHeader, bearer+creds.AccessToken)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var snap identity.AuthorizationSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ProfileID != "prof-1" || !snap.HasPermission("A_READ") {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestMeEndpointRequiresBearer(t *testing.T) {
	a := testAPI(t, nil)
	rr := doJSON(t, a.router, http.MethodGet, "/v1/auth/me", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestMeEndpointRejectsForeignToken(t *testing.T) {
	a := testAPI(t, nil)
	other, err := identity.NewCodec([]byte("a-different-key"), "gatekey-test")
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := other.EncodeSnapshot(identity.AuthorizationSnapshot{ProfileID: "p"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rr := doJSON(t, a.router, http.MethodGet, "/v1/auth/me", nil, func(r *http.Request) {
		r.Header.Set(authHeader, bearer+token)
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRevokeAllIsSuperUserOnly(t *testing.T) {
	a := testAPI(t, []identity.GrantRow{
		{RoleID: "r1", RoleName: "EDITOR", PermissionID: "p1", PermissionName: "A_READ"},
	})
	creds := loginFor(t, a)

	rr := doJSON(t, a.router, http.MethodPost, "/v1/profiles/prof-1/revoke", nil, func(r *http.Request) {
		r.Header.Set(authHeader, bearer+creds.AccessToken)
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-superuser, got %d", rr.Code)
	}
}

func TestRevokeAllAsSuperUser(t *testing.T) {
	a := testAPI(t, []identity.GrantRow{
		{RoleID: "r1", RoleName: "SUPER_ADMIN", PermissionID: "p1", PermissionName: "A_READ"},
	})
	creds := loginFor(t, a)

	rr := doJSON(t, a.router, http.MethodPost, "/v1/profiles/prof-1/revoke", nil, func(r *http.Request) {
		r.Header.Set(authHeader, bearer+creds.AccessToken)
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	// The pair issued before the revoke no longer refreshes.
	rr2 := doJSON(t, a.router, http.MethodPost, "/v1/auth/refresh", map[string]string{
		"profile_id": "prof-1", "refresh_token": creds.RefreshToken,
	}, nil)
	if rr2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked pair, got %d", rr2.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	a := testAPI(t, nil)
	rr := doJSON(t, a.router, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	rr = doJSON(t, a.router, http.MethodGet, "/readyz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}
}
