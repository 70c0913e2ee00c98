package identity

import (
	"context"
	"time"
)

// PlatformStore reads tenant records owned by the admin catalog.
type PlatformStore interface {
	Find(ctx context.Context, id string) (Platform, error)
}

// ProfileStore reads end-user records and persists the login-state
// mutations made by the account state gate.
type ProfileStore interface {
	Find(ctx context.Context, id string) (Profile, error)
	FindByEmail(ctx context.Context, email string) (Profile, error)
	UpdateLoginState(ctx context.Context, profileID string, attempts int, lastLogin *time.Time) error
}

// GrantStore is the association-lookup collaborator: one call returns
// the flat role×permission join projection for (platform, profile).
type GrantStore interface {
	GrantsFor(ctx context.Context, platformID, profileID string) ([]GrantRow, error)
}

// TokenStore persists issued token pairs. Lookups are by exact token
// string and must return soft-deleted rows too: the lifecycle manager
// distinguishes a revoked pair from one that never existed.
type TokenStore interface {
	Create(ctx context.Context, rec *PersistedTokenPair) error
	FindByAccessToken(ctx context.Context, token string) (PersistedTokenPair, error)
	FindByRefreshToken(ctx context.Context, token string) (PersistedTokenPair, error)
	Rotate(ctx context.Context, id, accessToken, refreshToken string) error
	SoftDelete(ctx context.Context, id string) error
	RevokeAllForProfile(ctx context.Context, platformID, profileID string) error
}

// AuditSink consumes authentication events fire-and-forget. Subject is
// empty when a failure could not be attributed to a profile.
type AuditSink interface {
	Record(ctx context.Context, event, subject string, fields map[string]any)
}
