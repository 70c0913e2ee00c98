package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// Audit event names emitted by the lifecycle manager.
const (
	EventLogin         = "identity.login"
	EventLoginDenied   = "identity.login.denied"
	EventRefresh       = "identity.refresh"
	EventRefreshDenied = "identity.refresh.denied"
	EventLogout        = "identity.logout"
	EventLogoutDenied  = "identity.logout.denied"
	EventRevokeAll     = "identity.revoke_all"
)

// Service orchestrates login, refresh and logout over the codec, the
// account state gate, the snapshot builder and the token store. Each
// call is an independent unit of work; the persisted token store is the
// only shared mutable state.
type Service struct {
	codec     *Codec
	state     *StateEvaluator
	snapshots *SnapshotBuilder
	platforms PlatformStore
	profiles  ProfileStore
	tokens    TokenStore
	audit     AuditSink

	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithAudit sets the audit sink. Without one, events are dropped.
func WithAudit(sink AuditSink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.audit = sink
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// Deps bundles the collaborators required by NewService.
type Deps struct {
	Codec     *Codec
	State     *StateEvaluator
	Snapshots *SnapshotBuilder
	Platforms PlatformStore
	Profiles  ProfileStore
	Tokens    TokenStore
}

// NewService constructs the lifecycle manager.
func NewService(deps Deps, opts ...ServiceOption) (*Service, error) {
	switch {
	case deps.Codec == nil:
		return nil, errors.New("identity: codec is required")
	case deps.State == nil:
		return nil, errors.New("identity: state evaluator is required")
	case deps.Snapshots == nil:
		return nil, errors.New("identity: snapshot builder is required")
	case deps.Platforms == nil:
		return nil, errors.New("identity: platform store is required")
	case deps.Profiles == nil:
		return nil, errors.New("identity: profile store is required")
	case deps.Tokens == nil:
		return nil, errors.New("identity: token store is required")
	}
	s := &Service{
		codec:      deps.Codec,
		state:      deps.State,
		snapshots:  deps.Snapshots,
		platforms:  deps.Platforms,
		profiles:   deps.Profiles,
		tokens:     deps.Tokens,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoginInput carries the credentials submitted to Login.
type LoginInput struct {
	PlatformID string
	Email      string
	Password   string
	ClientIP   string
}

// RefreshInput carries the persisted pair presented for rotation.
type RefreshInput struct {
	ProfileID    string
	AccessToken  string
	RefreshToken string
	ClientIP     string
}

// LogoutInput carries the pair being revoked.
type LogoutInput struct {
	ProfileID    string
	AccessToken  string
	RefreshToken string
}

// Credentials is the issued pair plus the snapshot embedded in it.
type Credentials struct {
	TokenPair
	Snapshot AuthorizationSnapshot
}

// Login authenticates the submitted credentials against the account
// state gate, builds a fresh snapshot, issues an access/refresh pair
// and persists it. The attempt counter mutation is persisted on both
// the bad-password path and the success path.
func (s *Service) Login(ctx context.Context, in LoginInput) (Credentials, error) {
	platform, err := s.platforms.Find(ctx, in.PlatformID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = E(KindPlatformInactive, "platform is inactive")
		}
		return Credentials{}, s.deny(ctx, EventLoginDenied, "", in.ClientIP, err)
	}
	profile, err := s.profiles.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = E(KindBadCredentials, "invalid credentials")
		}
		return Credentials{}, s.deny(ctx, EventLoginDenied, "", in.ClientIP, err)
	}

	if err := s.state.Evaluate(platform, &profile, in.Password); err != nil {
		if IsKind(err, KindBadCredentials) {
			if uerr := s.profiles.UpdateLoginState(ctx, profile.ID, profile.LoginAttempts, profile.LastLogin); uerr != nil {
				return Credentials{}, uerr
			}
		}
		return Credentials{}, s.deny(ctx, EventLoginDenied, profile.ID, in.ClientIP, err)
	}
	if err := s.profiles.UpdateLoginState(ctx, profile.ID, 0, profile.LastLogin); err != nil {
		return Credentials{}, err
	}

	snap, err := s.snapshots.Build(ctx, platform, profile)
	if err != nil {
		return Credentials{}, err
	}
	creds, err := s.mint(ctx, snap, in.ClientIP)
	if err != nil {
		return Credentials{}, err
	}
	s.record(ctx, EventLogin, profile.ID, map[string]any{
		"platform_id": platform.ID,
		"client_ip":   in.ClientIP,
	})
	return creds, nil
}

// Refresh validates the presented refresh token, looks the persisted
// pair up by exact string match and rotates it in place. The old
// strings become permanently unresolvable because lookups are exact.
// Two concurrent refreshes of the same token race benignly: first
// writer wins, the second sees a stale-row mismatch.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (Credentials, error) {
	if _, _, err := s.codec.DecodeSnapshot(in.RefreshToken); err != nil {
		return Credentials{}, s.deny(ctx, EventRefreshDenied, "", in.ClientIP, err)
	}
	rec, err := s.lookupPair(ctx, in.ProfileID, in.RefreshToken, s.tokens.FindByRefreshToken)
	if err != nil {
		return Credentials{}, s.deny(ctx, EventRefreshDenied, in.ProfileID, in.ClientIP, err)
	}

	platform, err := s.platforms.Find(ctx, rec.PlatformID)
	if err != nil {
		return Credentials{}, err
	}
	profile, err := s.profiles.Find(ctx, rec.ProfileID)
	if err != nil {
		return Credentials{}, err
	}
	snap, err := s.snapshots.Build(ctx, platform, profile)
	if err != nil {
		return Credentials{}, err
	}

	pair, err := s.encodePair(snap)
	if err != nil {
		return Credentials{}, err
	}
	if err := s.tokens.Rotate(ctx, rec.ID, pair.AccessToken, pair.RefreshToken); err != nil {
		return Credentials{}, err
	}
	s.record(ctx, EventRefresh, profile.ID, map[string]any{
		"platform_id": platform.ID,
		"client_ip":   in.ClientIP,
	})
	return Credentials{TokenPair: pair, Snapshot: snap}, nil
}

// Logout validates the presented access token, looks the persisted pair
// up by exact string match and soft-deletes it, preserving the row for
// the audit trail.
func (s *Service) Logout(ctx context.Context, in LogoutInput) error {
	if _, _, err := s.codec.DecodeSnapshot(in.AccessToken); err != nil {
		return s.deny(ctx, EventLogoutDenied, "", "", err)
	}
	rec, err := s.lookupPair(ctx, in.ProfileID, in.AccessToken, s.tokens.FindByAccessToken)
	if err != nil {
		return s.deny(ctx, EventLogoutDenied, in.ProfileID, "", err)
	}
	if err := s.tokens.SoftDelete(ctx, rec.ID); err != nil {
		return err
	}
	s.record(ctx, EventLogout, rec.ProfileID, map[string]any{
		"platform_id": rec.PlatformID,
	})
	return nil
}

// RevokeAll soft-deletes every live pair for (platform, profile), e.g.
// after a password change.
func (s *Service) RevokeAll(ctx context.Context, platformID, profileID string) error {
	if err := s.tokens.RevokeAllForProfile(ctx, platformID, profileID); err != nil {
		return err
	}
	s.record(ctx, EventRevokeAll, profileID, map[string]any{
		"platform_id": platformID,
	})
	return nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *Service) lookupPair(ctx context.Context, profileID, token string, find func(context.Context, string) (PersistedTokenPair, error)) (PersistedTokenPair, error) {
	rec, err := find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PersistedTokenPair{}, E(KindTokenNotFound, "token is not on record")
		}
		return PersistedTokenPair{}, err
	}
	if rec.Revoked() {
		// Revoked is distinct from absent: replay of a revoked token
		// is a security signal, a never-issued one is client error.
		return PersistedTokenPair{}, E(KindTokenDeleted, "token has been revoked")
	}
	if profileID != "" && rec.ProfileID != profileID {
		return PersistedTokenPair{}, E(KindTokenNotFound, "token is not on record")
	}
	return rec, nil
}

func (s *Service) mint(ctx context.Context, snap AuthorizationSnapshot, clientIP string) (Credentials, error) {
	pair, err := s.encodePair(snap)
	if err != nil {
		return Credentials{}, err
	}
	rec := &PersistedTokenPair{
		ID:           uuid.NewString(),
		PlatformID:   snap.PlatformID,
		ProfileID:    snap.ProfileID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		IPAddress:    clientIP,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return Credentials{}, err
	}
	return Credentials{TokenPair: pair, Snapshot: snap}, nil
}

func (s *Service) encodePair(snap AuthorizationSnapshot) (TokenPair, error) {
	access, accessExp, err := s.codec.EncodeSnapshot(snap, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.EncodeSnapshot(snap, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// deny audits a failure and passes the error through. Subject is empty
// when the failure could not be attributed to a profile.
func (s *Service) deny(ctx context.Context, event, subject, clientIP string, err error) error {
	fields := map[string]any{"reason": KindOf(err).String()}
	if clientIP != "" {
		fields["client_ip"] = clientIP
	}
	s.record(ctx, event, subject, fields)
	return err
}

func (s *Service) record(ctx context.Context, event, subject string, fields map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, event, subject, fields)
}
