package crypto

import "errors"

// ErrSkipTooLarge is returned when a caller asks the chain to fast-forward
// past its remaining safety budget.
var ErrSkipTooLarge = errors.New("chain: skip distance exceeds safety budget")

// chainSkipBudget bounds a single skip_to(n) call to the same ceiling as
// RatchetState.SkippedKeys (MaxSkipped, spec's MAX_SKIPPED=1000): skip_to's
// "remaining safety budget" is the same budget the skipped-key map enforces,
// not an independent, looser one.
const chainSkipBudget = MaxSkipped

const (
	chainKeyLabel   = "WebBook_Chain_ChainKey"
	messageKeyLabel = "WebBook_Chain_MessageKey"
)

// ChainKey is one link of a symmetric KDF chain. Ratchet() derives the next
// chain key and the message key for the current position in one call.
type ChainKey struct {
	key SymmetricKey
}

// MessageKey is single-use key material consumed by exactly one AEAD call.
type MessageKey struct {
	key  SymmetricKey
	used bool
}

func NewChainKey(seed SymmetricKey) ChainKey {
	return ChainKey{key: seed}
}

// Ratchet derives (message_key, next_chain_key) via two distinct HKDF labels.
func (c ChainKey) Ratchet() (MessageKey, ChainKey) {
	msgBytes := HKDFDeriveKey(nil, c.key.Bytes(), []byte(messageKeyLabel))
	nextBytes := HKDFDeriveKey(nil, c.key.Bytes(), []byte(chainKeyLabel))
	msgKey, _ := KeyFromBytes(msgBytes)
	nextKey, _ := KeyFromBytes(nextBytes)
	return MessageKey{key: msgKey}, ChainKey{key: nextKey}
}

// SkipTo ratchets n times, returning every derived message key in order along
// with the chain key positioned after the nth step. It fails closed once n
// exceeds the safety budget, which bounds how much CPU/memory an attacker can
// force a peer to spend replaying stale ratchet headers.
func (c ChainKey) SkipTo(n int) ([]MessageKey, ChainKey, error) {
	if n < 0 {
		return nil, c, nil
	}
	if n > chainSkipBudget {
		return nil, ChainKey{}, ErrSkipTooLarge
	}
	keys := make([]MessageKey, 0, n)
	cur := c
	for i := 0; i < n; i++ {
		var mk MessageKey
		mk, cur = cur.Ratchet()
		keys = append(keys, mk)
	}
	return keys, cur, nil
}

func (k *ChainKey) Zero() {
	k.key.Zero()
}

// Consume returns the raw key bytes and marks the message key used; calling
// it twice on the same value is a programmer error the caller must not make,
// but the used flag lets higher layers assert it.
func (m *MessageKey) Consume() ([]byte, error) {
	if m.used {
		return nil, errors.New("crypto: message key already consumed")
	}
	m.used = true
	return m.key.Bytes(), nil
}

func (m *MessageKey) Bytes() []byte {
	return m.key.Bytes()
}

func (m *MessageKey) Zero() {
	m.key.Zero()
}
