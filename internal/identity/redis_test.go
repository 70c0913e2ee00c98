package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisFixture(t *testing.T) (*RedisTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisTokenStore(rdb, time.Hour), mr
}

func redisRecord(id string) *PersistedTokenPair {
	return &PersistedTokenPair{
		ID:           id,
		PlatformID:   "plat-1",
		ProfileID:    "prof-1",
		AccessToken:  "at-" + id,
		RefreshToken: "rt-" + id,
		IPAddress:    "10.0.0.1",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestRedisCreateAndFind(t *testing.T) {
	store, _ := newRedisFixture(t)
	ctx := context.Background()

	if err := store.Create(ctx, redisRecord("tok-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byAccess, err := store.FindByAccessToken(ctx, "at-tok-1")
	if err != nil {
		t.Fatalf("FindByAccessToken: %v", err)
	}
	if byAccess.ID != "tok-1" || byAccess.ProfileID != "prof-1" {
		t.Fatalf("unexpected record: %+v", byAccess)
	}

	byRefresh, err := store.FindByRefreshToken(ctx, "rt-tok-1")
	if err != nil {
		t.Fatalf("FindByRefreshToken: %v", err)
	}
	if byRefresh.ID != "tok-1" {
		t.Fatalf("unexpected record: %+v", byRefresh)
	}

	if _, err := store.FindByAccessToken(ctx, "never-issued"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisRotateDropsOldStrings(t *testing.T) {
	store, _ := newRedisFixture(t)
	ctx := context.Background()

	if err := store.Create(ctx, redisRecord("tok-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Rotate(ctx, "tok-1", "at-new", "rt-new"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	rec, err := store.FindByRefreshToken(ctx, "rt-new")
	if err != nil {
		t.Fatalf("new string does not resolve: %v", err)
	}
	if rec.ID != "tok-1" || rec.AccessToken != "at-new" {
		t.Fatalf("rotation did not reuse the record: %+v", rec)
	}

	if _, err := store.FindByRefreshToken(ctx, "rt-tok-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old refresh string still resolves: %v", err)
	}
	if _, err := store.FindByAccessToken(ctx, "at-tok-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old access string still resolves: %v", err)
	}
}

func TestRedisRotateMissingOrRevoked(t *testing.T) {
	store, _ := newRedisFixture(t)
	ctx := context.Background()

	if err := store.Rotate(ctx, "ghost", "a", "r"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing record, got %v", err)
	}

	if err := store.Create(ctx, redisRecord("tok-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.SoftDelete(ctx, "tok-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.Rotate(ctx, "tok-1", "a", "r"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for revoked record, got %v", err)
	}
}

func TestRedisSoftDeleteKeepsRecordResolvable(t *testing.T) {
	store, _ := newRedisFixture(t)
	ctx := context.Background()

	if err := store.Create(ctx, redisRecord("tok-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.SoftDelete(ctx, "tok-1"); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	rec, err := store.FindByAccessToken(ctx, "at-tok-1")
	if err != nil {
		t.Fatalf("revoked record must stay resolvable: %v", err)
	}
	if !rec.Revoked() {
		t.Fatalf("record not marked revoked: %+v", rec)
	}

	if err := store.SoftDelete(ctx, "tok-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double revoke should be ErrNotFound, got %v", err)
	}
}

func TestRedisRevokeAllForProfile(t *testing.T) {
	store, _ := newRedisFixture(t)
	ctx := context.Background()

	if err := store.Create(ctx, redisRecord("tok-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, redisRecord("tok-2")); err != nil {
		t.Fatal(err)
	}
	other := redisRecord("tok-3")
	other.ProfileID = "prof-2"
	if err := store.Create(ctx, other); err != nil {
		t.Fatal(err)
	}

	if err := store.RevokeAllForProfile(ctx, "plat-1", "prof-1"); err != nil {
		t.Fatalf("RevokeAllForProfile: %v", err)
	}

	for _, token := range []string{"at-tok-1", "at-tok-2"} {
		rec, err := store.FindByAccessToken(ctx, token)
		if err != nil {
			t.Fatalf("lookup %s: %v", token, err)
		}
		if !rec.Revoked() {
			t.Fatalf("%s not revoked", token)
		}
	}
	rec, err := store.FindByAccessToken(ctx, "at-tok-3")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Revoked() {
		t.Fatal("other profile's pair must stay live")
	}
}

func TestRedisRecordsExpire(t *testing.T) {
	store, mr := newRedisFixture(t)
	ctx := context.Background()

	if err := store.Create(ctx, redisRecord("tok-1")); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Hour)

	if _, err := store.FindByAccessToken(ctx, "at-tok-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestRedisRevokeAllForMissingProfileIsNoop(t *testing.T) {
	store, _ := newRedisFixture(t)
	if err := store.RevokeAllForProfile(context.Background(), "plat-x", "prof-x"); err != nil {
		t.Fatalf("expected noop, got %v", err)
	}
}
