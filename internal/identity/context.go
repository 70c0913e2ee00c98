package identity

import "context"

type snapshotContextKey struct{}

// ContextWithSnapshot attaches the authenticated snapshot to the
// context. The transport boundary calls this after decoding the bearer
// access token.
func ContextWithSnapshot(ctx context.Context, snap AuthorizationSnapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey{}, &snap)
}

// SnapshotFromContext extracts the authenticated snapshot, if any.
func SnapshotFromContext(ctx context.Context) (AuthorizationSnapshot, bool) {
	if ctx == nil {
		return AuthorizationSnapshot{}, false
	}
	v, ok := ctx.Value(snapshotContextKey{}).(*AuthorizationSnapshot)
	if !ok || v == nil {
		return AuthorizationSnapshot{}, false
	}
	return *v, true
}
