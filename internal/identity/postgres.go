package identity

import (
	"context"
	"database/sql"
	"time"
)

var (
	_ PlatformStore = (*PGPlatformStore)(nil)
	_ ProfileStore  = (*PGProfileStore)(nil)
	_ GrantStore    = (*PGGrantStore)(nil)
	_ TokenStore    = (*PGTokenStore)(nil)
)

// PGStores bundles the PostgreSQL-backed store implementations over a
// single *sql.DB.
type PGStores struct {
	Platforms *PGPlatformStore
	Profiles  *PGProfileStore
	Grants    *PGGrantStore
	Tokens    *PGTokenStore
}

// NewPGStores wires all stores onto db.
func NewPGStores(db *sql.DB) *PGStores {
	return &PGStores{
		Platforms: &PGPlatformStore{db: db},
		Profiles:  &PGProfileStore{db: db},
		Grants:    &PGGrantStore{db: db},
		Tokens:    &PGTokenStore{db: db},
	}
}

// Platform store -----------------------------------------------------------

type PGPlatformStore struct{ db *sql.DB }

func NewPGPlatformStore(db *sql.DB) *PGPlatformStore { return &PGPlatformStore{db: db} }

func (s *PGPlatformStore) Find(ctx context.Context, id string) (Platform, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at, deleted_at from platforms where id=$1`, id)
	var p Platform
	if err := row.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
		if err == sql.ErrNoRows {
			return Platform{}, ErrNotFound
		}
		return Platform{}, err
	}
	return p, nil
}

// Profile store ------------------------------------------------------------

type PGProfileStore struct{ db *sql.DB }

func NewPGProfileStore(db *sql.DB) *PGProfileStore { return &PGProfileStore{db: db} }

const profileColumns = `id, email, password_hash, status, validated, login_attempts, last_login, created_at, updated_at, deleted_at`

func scanProfile(row *sql.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Status, &p.Validated,
		&p.LoginAttempts, &p.LastLogin, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	return p, err
}

func (s *PGProfileStore) Find(ctx context.Context, id string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`select `+profileColumns+` from profiles where id=$1`, id))
}

func (s *PGProfileStore) FindByEmail(ctx context.Context, email string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`select `+profileColumns+` from profiles where email=$1`, email))
}

func (s *PGProfileStore) UpdateLoginState(ctx context.Context, profileID string, attempts int, lastLogin *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update profiles set login_attempts=$2, last_login=$3, updated_at=now() where id=$1`,
		profileID, attempts, lastLogin)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Grant store --------------------------------------------------------------

// PGGrantStore resolves the role×permission association join in one
// query. Row order follows the join; duplicates are the caller's
// concern.
type PGGrantStore struct{ db *sql.DB }

func NewPGGrantStore(db *sql.DB) *PGGrantStore { return &PGGrantStore{db: db} }

func (s *PGGrantStore) GrantsFor(ctx context.Context, platformID, profileID string) ([]GrantRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.id, r.name, p.id, p.name
		   from profile_roles pr
		   join roles r on r.id = pr.role_id
		   join role_permissions rp on rp.role_id = r.id
		   join permissions p on p.id = rp.permission_id
		  where pr.platform_id = $1 and pr.profile_id = $2
		  order by r.name, p.name`,
		platformID, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []GrantRow
	for rows.Next() {
		var g GrantRow
		if err := rows.Scan(&g.RoleID, &g.RoleName, &g.PermissionID, &g.PermissionName); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// Token store --------------------------------------------------------------

// PGTokenStore persists issued pairs. Lookups deliberately do not
// filter on deleted_at: revoked rows must surface so the caller can
// tell replay of a revoked token from a token that never existed.
type PGTokenStore struct{ db *sql.DB }

func NewPGTokenStore(db *sql.DB) *PGTokenStore { return &PGTokenStore{db: db} }

const tokenColumns = `id, platform_id, profile_id, access_token, refresh_token, ip_address, created_at, deleted_at`

func scanTokenPair(row *sql.Row) (PersistedTokenPair, error) {
	var r PersistedTokenPair
	err := row.Scan(&r.ID, &r.PlatformID, &r.ProfileID, &r.AccessToken,
		&r.RefreshToken, &r.IPAddress, &r.CreatedAt, &r.DeletedAt)
	if err == sql.ErrNoRows {
		return PersistedTokenPair{}, ErrNotFound
	}
	return r, err
}

func (s *PGTokenStore) Create(ctx context.Context, rec *PersistedTokenPair) error {
	_, err := s.db.ExecContext(ctx,
		`insert into token_pairs(id, platform_id, profile_id, access_token, refresh_token, ip_address, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.PlatformID, rec.ProfileID, rec.AccessToken, rec.RefreshToken, rec.IPAddress, rec.CreatedAt)
	return err
}

func (s *PGTokenStore) FindByAccessToken(ctx context.Context, token string) (PersistedTokenPair, error) {
	return scanTokenPair(s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from token_pairs where access_token=$1`, token))
}

func (s *PGTokenStore) FindByRefreshToken(ctx context.Context, token string) (PersistedTokenPair, error) {
	return scanTokenPair(s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from token_pairs where refresh_token=$1`, token))
}

func (s *PGTokenStore) Rotate(ctx context.Context, id, accessToken, refreshToken string) error {
	res, err := s.db.ExecContext(ctx,
		`update token_pairs set access_token=$2, refresh_token=$3 where id=$1 and deleted_at is null`,
		id, accessToken, refreshToken)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGTokenStore) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update token_pairs set deleted_at=now() where id=$1 and deleted_at is null`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGTokenStore) RevokeAllForProfile(ctx context.Context, platformID, profileID string) error {
	_, err := s.db.ExecContext(ctx,
		`update token_pairs set deleted_at=now()
		  where platform_id=$1 and profile_id=$2 and deleted_at is null`,
		platformID, profileID)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
