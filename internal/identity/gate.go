package identity

import "context"

// Require checks the current request's authorization snapshot against a
// required permission name. An empty permission restricts the operation
// to superusers. Superuser short-circuits to allow.
func Require(ctx context.Context, permission string) error {
	snap, ok := SnapshotFromContext(ctx)
	if !ok {
		return E(KindNotAuthenticated, "no authenticated identity on request")
	}
	if snap.IsSuperUser {
		return nil
	}
	if permission == "" {
		return E(KindForbidden, "operation is restricted to superusers")
	}
	if snap.Permissions == nil {
		return E(KindNotAuthorized, "credential carries no permission grants")
	}
	if !snap.HasPermission(permission) {
		return Ef(KindForbidden, "missing permission %s", permission)
	}
	return nil
}
