package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ TokenStore = (*RedisTokenStore)(nil)

// RedisTokenStore keeps issued pairs in Redis: the record under
// token:pair:<id>, plus exact-string index keys mapping each token to
// the record id and a per-profile set for bulk revocation. Records
// expire on their own once past the refresh window; soft-deleted
// records stay resolvable until then so revoked-token replay is still
// distinguishable from an unknown token.
type RedisTokenStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// RedisTokenStoreOption configures a RedisTokenStore.
type RedisTokenStoreOption func(*RedisTokenStore)

// WithRedisClock overrides the time source.
func WithRedisClock(fn func() time.Time) RedisTokenStoreOption {
	return func(s *RedisTokenStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewRedisTokenStore constructs the store. ttl should cover the refresh
// token lifetime; keys vanish after it.
func NewRedisTokenStore(rdb *redis.Client, ttl time.Duration, opts ...RedisTokenStoreOption) *RedisTokenStore {
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	s := &RedisTokenStore{rdb: rdb, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func pairKey(id string) string       { return "token:pair:" + id }
func accessKey(token string) string  { return "token:access:" + token }
func refreshKey(token string) string { return "token:refresh:" + token }

func profileKey(platform, profile string) string {
	return "token:profile:" + platform + ":" + profile
}

type redisPair struct {
	ID           string     `json:"id"`
	PlatformID   string     `json:"platform_id"`
	ProfileID    string     `json:"profile_id"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	IPAddress    string     `json:"ip_address,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

func (s *RedisTokenStore) Create(ctx context.Context, rec *PersistedTokenPair) error {
	raw, err := json.Marshal(redisPair(*rec))
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, pairKey(rec.ID), raw, s.ttl)
	pipe.Set(ctx, accessKey(rec.AccessToken), rec.ID, s.ttl)
	pipe.Set(ctx, refreshKey(rec.RefreshToken), rec.ID, s.ttl)
	pipe.SAdd(ctx, profileKey(rec.PlatformID, rec.ProfileID), rec.ID)
	pipe.Expire(ctx, profileKey(rec.PlatformID, rec.ProfileID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisTokenStore) FindByAccessToken(ctx context.Context, token string) (PersistedTokenPair, error) {
	return s.findByIndex(ctx, accessKey(token))
}

func (s *RedisTokenStore) FindByRefreshToken(ctx context.Context, token string) (PersistedTokenPair, error) {
	return s.findByIndex(ctx, refreshKey(token))
}

func (s *RedisTokenStore) findByIndex(ctx context.Context, key string) (PersistedTokenPair, error) {
	id, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return PersistedTokenPair{}, ErrNotFound
	}
	if err != nil {
		return PersistedTokenPair{}, err
	}
	return s.load(ctx, id)
}

func (s *RedisTokenStore) load(ctx context.Context, id string) (PersistedTokenPair, error) {
	raw, err := s.rdb.Get(ctx, pairKey(id)).Bytes()
	if err == redis.Nil {
		return PersistedTokenPair{}, ErrNotFound
	}
	if err != nil {
		return PersistedTokenPair{}, err
	}
	var p redisPair
	if err := json.Unmarshal(raw, &p); err != nil {
		return PersistedTokenPair{}, fmt.Errorf("decode token pair %s: %w", id, err)
	}
	return PersistedTokenPair(p), nil
}

// Rotate replaces the token strings in place. Old index keys are
// removed so the superseded strings stop resolving.
func (s *RedisTokenStore) Rotate(ctx context.Context, id, accessToken, refreshToken string) error {
	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if rec.Revoked() {
		return ErrNotFound
	}
	old := rec
	rec.AccessToken = accessToken
	rec.RefreshToken = refreshToken
	raw, err := json.Marshal(redisPair(rec))
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, accessKey(old.AccessToken), refreshKey(old.RefreshToken))
	pipe.Set(ctx, pairKey(id), raw, s.ttl)
	pipe.Set(ctx, accessKey(accessToken), id, s.ttl)
	pipe.Set(ctx, refreshKey(refreshToken), id, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisTokenStore) SoftDelete(ctx context.Context, id string) error {
	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if rec.Revoked() {
		return ErrNotFound
	}
	return s.markDeleted(ctx, rec)
}

func (s *RedisTokenStore) RevokeAllForProfile(ctx context.Context, platformID, profileID string) error {
	ids, err := s.rdb.SMembers(ctx, profileKey(platformID, profileID)).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		rec, err := s.load(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return err
		}
		if rec.Revoked() {
			continue
		}
		if err := s.markDeleted(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// markDeleted sets DeletedAt on the record. Index keys stay so lookups
// keep resolving the revoked pair until natural expiry.
func (s *RedisTokenStore) markDeleted(ctx context.Context, rec PersistedTokenPair) error {
	now := s.now().UTC()
	rec.DeletedAt = &now
	raw, err := json.Marshal(redisPair(rec))
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, pairKey(rec.ID), raw, redis.KeepTTL).Err()
}
