package exchange

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/webbook/contactbook/internal/platform/ratelimiter"
)

// ErrRateLimited is returned when a caller exceeds the allowed rate of
// password-verification attempts against a protected NFC tag or an inbound
// device-link request.
var ErrRateLimited = errors.New("exchange: rate limit exceeded")

// PasswordAttemptLimiter throttles repeated password/ciphertext-decoding
// attempts keyed per tag or per link, so a lost or stolen NFC tag (or a
// flood of forged device-link requests) can't be brute-forced at line
// speed. It's a thin, domain-named wrapper around the generic
// ratelimiter.MapLimiter.
type PasswordAttemptLimiter struct {
	limiter *ratelimiter.MapLimiter
}

// NewPasswordAttemptLimiter builds a limiter allowing rps sustained attempts
// per key with a burst of burst, evicting idle keys after idleTTL.
func NewPasswordAttemptLimiter(rps float64, burst int, idleTTL time.Duration) *PasswordAttemptLimiter {
	return &PasswordAttemptLimiter{limiter: ratelimiter.New(rps, burst, idleTTL)}
}

// Allow reports whether another attempt against mailboxID is permitted at
// now. A nil receiver (no limiter configured) always allows, matching
// MapLimiter's own nil-safe behavior.
func (l *PasswordAttemptLimiter) Allow(mailboxID [32]byte, now time.Time) bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow(hex.EncodeToString(mailboxID[:]), now)
}

// VerifyPasswordLimited wraps NFCTag.VerifyPassword with per-tag throttling:
// it checks the limiter before touching the PBKDF2 verifier so a tag under
// active brute-force can't even spend the CPU on repeated derivations.
func (t NFCTag) VerifyPasswordLimited(limiter *PasswordAttemptLimiter, password []byte, now time.Time) (bool, error) {
	if !limiter.Allow(t.MailboxID, now) {
		return false, ErrRateLimited
	}
	return t.VerifyPassword(password), nil
}
