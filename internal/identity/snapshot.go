package identity

import (
	"context"
	"errors"
)

// DefaultSuperUserRole is the reserved role name that bypasses
// per-permission checks.
const DefaultSuperUserRole = "SUPER_ADMIN"

// SnapshotBuilder assembles the authorization snapshot embedded into
// issued tokens. It queries the grant association store exactly once
// per build.
type SnapshotBuilder struct {
	grants        GrantStore
	superUserRole string
}

// NewSnapshotBuilder constructs a SnapshotBuilder. An empty
// superUserRole falls back to DefaultSuperUserRole.
func NewSnapshotBuilder(grants GrantStore, superUserRole string) (*SnapshotBuilder, error) {
	if grants == nil {
		return nil, errors.New("identity: grant store is required")
	}
	if superUserRole == "" {
		superUserRole = DefaultSuperUserRole
	}
	return &SnapshotBuilder{grants: grants, superUserRole: superUserRole}, nil
}

// Build queries the association store for (platform, profile) and folds
// the flat role×permission rows into the snapshot. Rows arrive one per
// pair, so a role with several permissions repeats in the role list;
// duplicates are kept as delivered because permission checks only test
// membership.
func (b *SnapshotBuilder) Build(ctx context.Context, platform Platform, profile Profile) (AuthorizationSnapshot, error) {
	rows, err := b.grants.GrantsFor(ctx, platform.ID, profile.ID)
	if err != nil {
		return AuthorizationSnapshot{}, err
	}
	snap := AuthorizationSnapshot{
		PlatformID:   platform.ID,
		PlatformName: platform.Name,
		ProfileID:    profile.ID,
		Email:        profile.Email,
		Validated:    profile.Validated,
		Deleted:      profile.Deleted(),
	}
	for _, row := range rows {
		snap.Roles = append(snap.Roles, RoleGrant{ID: row.RoleID, Name: row.RoleName})
		snap.Permissions = append(snap.Permissions, PermissionGrant{ID: row.PermissionID, Name: row.PermissionName})
		if row.RoleName == b.superUserRole {
			snap.IsSuperUser = true
		}
	}
	return snap, nil
}
