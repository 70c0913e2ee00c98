package identity

import "time"

// Platform is a tenant application whose end users authenticate through
// this service. The admin catalog owns the full record; the core only
// reads it to confirm the tenant is still alive.
type Platform struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the platform has been soft-deleted.
func (p Platform) Deleted() bool { return p.DeletedAt != nil }

// Profile is an end-user identity. LoginAttempts and LastLogin are
// mutated by the account state gate; everything else belongs to the
// external profile-management flows.
type Profile struct {
	ID            string
	Email         string
	PasswordHash  string
	Status        string
	Validated     bool
	LoginAttempts int
	LastLogin     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Deleted reports whether the profile has been soft-deleted.
func (p Profile) Deleted() bool { return p.DeletedAt != nil }

// RoleGrant is a role held by a profile on a platform.
type RoleGrant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PermissionGrant is a permission granted through a role.
type PermissionGrant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GrantRow is one role×permission pair as returned by the association
// join. A role carrying three permissions arrives as three rows sharing
// the same role fields.
type GrantRow struct {
	RoleID         string
	RoleName       string
	PermissionID   string
	PermissionName string
}

// AuthorizationSnapshot is the point-in-time set of grants embedded
// verbatim inside a signed token. It is built at issuance and refresh
// only, never re-derived from storage per request.
type AuthorizationSnapshot struct {
	PlatformID   string            `json:"platform_id"`
	PlatformName string            `json:"platform_name"`
	ProfileID    string            `json:"profile_id"`
	Email        string            `json:"email"`
	Validated    bool              `json:"validated"`
	Deleted      bool              `json:"deleted"`
	Roles        []RoleGrant       `json:"roles"`
	Permissions  []PermissionGrant `json:"permissions"`
	IsSuperUser  bool              `json:"is_super_user"`
}

// HasPermission reports whether the snapshot carries the named grant.
func (s AuthorizationSnapshot) HasPermission(name string) bool {
	for _, p := range s.Permissions {
		if p.Name == name {
			return true
		}
	}
	return false
}

// TokenPair is the issued access/refresh credential pair returned to
// the caller.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// PersistedTokenPair is the durable record behind an issued pair.
// Rotation overwrites the token strings in place; revocation sets
// DeletedAt instead of removing the row.
type PersistedTokenPair struct {
	ID           string
	PlatformID   string
	ProfileID    string
	AccessToken  string
	RefreshToken string
	IPAddress    string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// Revoked reports whether the pair has been soft-deleted.
func (r PersistedTokenPair) Revoked() bool { return r.DeletedAt != nil }
