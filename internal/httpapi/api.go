package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"gatekey.org/internal/identity"
	"gatekey.org/internal/obs"
)

// ReadyProbe pings the backing stores for /readyz.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP boundary over the token lifecycle manager.
type API struct {
	router     chi.Router
	svc        *identity.Service
	codec      *identity.Codec
	readyProbe ReadyProbe
	version    string
}

// New wires the routes. svc and codec are required.
func New(svc *identity.Service, codec *identity.Codec, rp ReadyProbe, version string) *API {
	a := &API{
		router:     chi.NewRouter(),
		svc:        svc,
		codec:      codec,
		readyProbe: rp,
		version:    version,
	}

	r := a.router
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Post("/v1/auth/login", a.handleLogin)
	r.Post("/v1/auth/refresh", a.handleRefresh)
	r.Post("/v1/auth/logout", a.handleLogout)
	r.With(a.withAuth).Get("/v1/auth/me", a.handleMe)
	r.With(a.withAuth).Post("/v1/profiles/{profileID}/revoke", a.requirePermission("", a.handleRevokeAll))

	return a
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = Logging(h)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatekey-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gatekey-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeKindError maps the domain error taxonomy onto HTTP statuses.
// Only the transport layer knows about status codes.
func writeKindError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFromKind(identity.KindOf(err)), publicMessage(err))
}

func statusFromKind(k identity.Kind) int {
	switch k {
	case identity.KindBadCredentials,
		identity.KindTokenExpired,
		identity.KindTokenInvalid,
		identity.KindClaimMissing,
		identity.KindTokenDeleted,
		identity.KindNotAuthenticated,
		identity.KindNotAuthorized:
		return http.StatusUnauthorized
	case identity.KindPlatformInactive,
		identity.KindProfileInactive,
		identity.KindProfileNotValidated,
		identity.KindProfileStale,
		identity.KindProfileLocked,
		identity.KindForbidden:
		return http.StatusForbidden
	case identity.KindTokenNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps internal errors out of response bodies.
func publicMessage(err error) string {
	if identity.KindOf(err) == identity.KindUnknown {
		return "internal error"
	}
	var e *identity.Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
