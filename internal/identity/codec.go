package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// EmailTokenTTL bounds the lifetime of email-verification and
// password-reset links.
const EmailTokenTTL = 15 * time.Minute

// Codec signs and verifies the service's credentials: single-claim email
// tokens for verification/reset links and snapshot tokens carrying the
// full authorization state. The symmetric key is loaded from
// configuration at process start and passed in by reference; the codec
// never logs it. Signature and expiry checks are unconditional.
type Codec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec around the process-wide signing key.
func NewCodec(key []byte, issuer string, opts ...CodecOption) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("identity: signing key is required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("identity: issuer is required")
	}
	c := &Codec{key: key, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type emailClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type snapshotClaims struct {
	Snapshot *AuthorizationSnapshot `json:"snapshot,omitempty"`
	jwt.RegisteredClaims
}

// EncodeEmail signs a token carrying a single email claim, expiring
// after EmailTokenTTL.
func (c *Codec) EncodeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", errors.New("email is required")
	}
	now := c.now().UTC()
	claims := emailClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(EmailTokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// DecodeEmail verifies signature and expiry and returns the email claim.
func (c *Codec) DecodeEmail(token string) (string, error) {
	var claims emailClaims
	if err := c.parse(token, &claims); err != nil {
		return "", err
	}
	if claims.Email == "" {
		return "", E(KindClaimMissing, "token carries no email claim")
	}
	return claims.Email, nil
}

// DecodeEmailLenient returns the decoded email, or the raw input
// unchanged when the token cannot be trusted. Best-effort logging paths
// only; never use the result for trust decisions.
func (c *Codec) DecodeEmailLenient(token string) string {
	email, err := c.DecodeEmail(token)
	if err != nil {
		return token
	}
	return email
}

// EncodeSnapshot signs a token embedding the full authorization
// snapshot as a structured claim. A non-positive ttl produces an
// already-expired token.
func (c *Codec) EncodeSnapshot(snap AuthorizationSnapshot, ttl time.Duration) (string, time.Time, error) {
	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := snapshotClaims{
		Snapshot: &snap,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   snap.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// DecodeSnapshot verifies signature and expiry and returns the subject
// email along with the embedded snapshot.
func (c *Codec) DecodeSnapshot(token string) (string, AuthorizationSnapshot, error) {
	var claims snapshotClaims
	if err := c.parse(token, &claims); err != nil {
		return "", AuthorizationSnapshot{}, err
	}
	if claims.Snapshot == nil {
		return "", AuthorizationSnapshot{}, E(KindClaimMissing, "token carries no snapshot claim")
	}
	return claims.Subject, *claims.Snapshot, nil
}

func (c *Codec) parse(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return E(KindTokenInvalid, "token is empty")
	}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenMalformed):
		return E(KindTokenInvalid, "token signature or shape is invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return E(KindTokenExpired, "token has expired")
	default:
		return E(KindTokenInvalid, "token failed validation")
	}
}
