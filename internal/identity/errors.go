package identity

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a looked-up row does not exist.
var ErrNotFound = errors.New("identity: not found")

// Kind classifies a failure of the identity subsystem. The HTTP status
// mapping lives at the transport boundary; the core only knows kinds.
type Kind int

const (
	KindUnknown Kind = iota

	// Account-state failures. Reported before any credential check.
	KindPlatformInactive
	KindProfileInactive
	KindProfileNotValidated
	KindProfileStale
	KindProfileLocked
	KindBadCredentials

	// Credential failures.
	KindTokenExpired
	KindTokenInvalid
	KindClaimMissing
	KindTokenNotFound
	KindTokenDeleted

	// Authorization failures.
	KindNotAuthenticated
	KindNotAuthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindPlatformInactive:
		return "platform_inactive"
	case KindProfileInactive:
		return "profile_inactive"
	case KindProfileNotValidated:
		return "profile_not_validated"
	case KindProfileStale:
		return "profile_stale"
	case KindProfileLocked:
		return "profile_locked"
	case KindBadCredentials:
		return "bad_credentials"
	case KindTokenExpired:
		return "token_expired"
	case KindTokenInvalid:
		return "token_invalid"
	case KindClaimMissing:
		return "claim_missing"
	case KindTokenNotFound:
		return "token_not_found"
	case KindTokenDeleted:
		return "token_deleted"
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindNotAuthorized:
		return "not_authorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is a tagged failure carrying a kind and a human-readable reason.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return "identity: " + e.Kind.String()
	}
	return "identity: " + e.Msg
}

// E builds an Error with the given kind and message.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef builds an Error with a formatted message.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from err, or KindUnknown when err is
// not an identity failure (storage errors propagate untagged).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
