package exchange

import (
	"testing"
	"time"
)

func TestPasswordAttemptLimiterThrottlesPerMailbox(t *testing.T) {
	limiter := NewPasswordAttemptLimiter(1, 2, time.Minute)
	var mailbox [32]byte
	mailbox[0] = 0x01
	now := time.Now().UTC()

	if !limiter.Allow(mailbox, now) {
		t.Fatalf("expected first attempt allowed")
	}
	if !limiter.Allow(mailbox, now) {
		t.Fatalf("expected second attempt allowed within burst")
	}
	if limiter.Allow(mailbox, now) {
		t.Fatalf("expected third attempt within the same instant to be throttled")
	}

	var otherMailbox [32]byte
	otherMailbox[0] = 0x02
	if !limiter.Allow(otherMailbox, now) {
		t.Fatalf("expected a different mailbox to have its own independent budget")
	}
}

func TestNilPasswordAttemptLimiterAlwaysAllows(t *testing.T) {
	var limiter *PasswordAttemptLimiter
	var mailbox [32]byte
	if !limiter.Allow(mailbox, time.Now().UTC()) {
		t.Fatalf("nil limiter should always allow")
	}
}

func TestVerifyPasswordLimitedRejectsAfterBudgetExhausted(t *testing.T) {
	signingPub, signingPriv := genSigningKeypair(t)
	_, exchangePub := genExchangeKeypair(t)
	var mailbox [32]byte
	mailbox[0] = 0x03

	tag, err := NewProtectedNFCTag(signingPub, exchangePub, "relay://example", mailbox, []byte("correct horse"))
	if err != nil {
		t.Fatalf("NewProtectedNFCTag: %v", err)
	}
	encoded := EncodeNFCTag(tag, signingPriv)
	decoded, err := DecodeNFCTag(encoded)
	if err != nil {
		t.Fatalf("DecodeNFCTag: %v", err)
	}

	limiter := NewPasswordAttemptLimiter(1, 1, time.Minute)
	now := time.Now().UTC()

	ok, err := decoded.VerifyPasswordLimited(limiter, []byte("wrong"), now)
	if err != nil {
		t.Fatalf("unexpected error on first attempt: %v", err)
	}
	if ok {
		t.Fatalf("expected wrong password to fail verification")
	}

	_, err = decoded.VerifyPasswordLimited(limiter, []byte("correct horse"), now)
	if err != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited once burst exhausted, got %v", err)
	}
}
