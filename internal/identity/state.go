package identity

import "time"

const (
	// DefaultLockoutThreshold is the failed-login count at which a
	// profile locks.
	DefaultLockoutThreshold = 5

	// DefaultStalenessWindow is how long a profile may go without a
	// login before it is considered stale.
	DefaultStalenessWindow = 45 * 24 * time.Hour
)

// StateEvaluator decides whether a login may proceed and mutates the
// profile's attempt counter and last-login stamp. It holds no storage;
// the caller persists the mutated profile.
type StateEvaluator struct {
	lockoutThreshold int
	stalenessWindow  time.Duration
	now              func() time.Time
}

// StateOption configures StateEvaluator behavior.
type StateOption func(*StateEvaluator)

// WithLockoutThreshold overrides the failed-login lockout threshold.
func WithLockoutThreshold(n int) StateOption {
	return func(e *StateEvaluator) {
		if n > 0 {
			e.lockoutThreshold = n
		}
	}
}

// WithStalenessWindow overrides the login staleness window.
func WithStalenessWindow(d time.Duration) StateOption {
	return func(e *StateEvaluator) {
		if d > 0 {
			e.stalenessWindow = d
		}
	}
}

// WithStateClock overrides the time source (useful for tests).
func WithStateClock(fn func() time.Time) StateOption {
	return func(e *StateEvaluator) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewStateEvaluator constructs a StateEvaluator with defaults.
func NewStateEvaluator(opts ...StateOption) *StateEvaluator {
	e := &StateEvaluator{
		lockoutThreshold: DefaultLockoutThreshold,
		stalenessWindow:  DefaultStalenessWindow,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the login gate in order, failing fast. Account-state
// checks all precede the password comparison so a locked, stale or
// unvalidated profile never learns whether the password was right.
// On a password mismatch LoginAttempts increments by one; on success it
// resets to zero and LastLogin advances to now.
func (e *StateEvaluator) Evaluate(platform Platform, profile *Profile, password string) error {
	if platform.Deleted() {
		return E(KindPlatformInactive, "platform is inactive")
	}
	if profile.Deleted() {
		return E(KindProfileInactive, "profile is inactive")
	}
	if !profile.Validated {
		return E(KindProfileNotValidated, "profile email has not been validated")
	}
	// A nil LastLogin means the profile never logged in: not yet
	// activated rather than stale, so it falls through to the lockout
	// check.
	if profile.LastLogin != nil && e.now().Sub(*profile.LastLogin) > e.stalenessWindow {
		return E(KindProfileStale, "profile has been inactive too long")
	}
	if profile.LoginAttempts >= e.lockoutThreshold {
		return E(KindProfileLocked, "profile is locked after too many failed logins")
	}
	if err := VerifyPassword(profile.PasswordHash, password); err != nil {
		profile.LoginAttempts++
		return E(KindBadCredentials, "invalid credentials")
	}
	profile.LoginAttempts = 0
	now := e.now().UTC()
	profile.LastLogin = &now
	return nil
}
