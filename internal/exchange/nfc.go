package exchange

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/webbook/contactbook/internal/crypto"
)

var ErrWrongPassword = errors.New("exchange: nfc tag password does not match")

// NFCTag is the payload written to an NFC tag (spec §4.6 "NFC open tag" /
// "NFC protected tag"): identity + exchange public keys, a relay mailbox to
// address the owner, and (for protected tags) a PBKDF2 password verifier.
type NFCTag struct {
	SigningPublicKey  []byte
	ExchangePublicKey []byte
	RelayURL          string
	MailboxID         [32]byte
	Protected         bool
	PasswordSalt      [16]byte // only meaningful when Protected
	PasswordVerifier  []byte   // only meaningful when Protected
}

// NewOpenNFCTag builds an unsigned open-tag payload; call EncodeNFCTag to
// sign and serialize it.
func NewOpenNFCTag(signingPub, exchangePub []byte, relayURL string, mailboxID [32]byte) NFCTag {
	return NFCTag{
		SigningPublicKey:  append([]byte(nil), signingPub...),
		ExchangePublicKey: append([]byte(nil), exchangePub...),
		RelayURL:          relayURL,
		MailboxID:         mailboxID,
	}
}

// NewProtectedNFCTag builds an unsigned protected-tag payload whose
// verifier is PBKDF2(salt, password, 100_000) per spec §4.6.
func NewProtectedNFCTag(signingPub, exchangePub []byte, relayURL string, mailboxID [32]byte, password []byte) (NFCTag, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return NFCTag{}, err
	}
	tag := NFCTag{
		SigningPublicKey:  append([]byte(nil), signingPub...),
		ExchangePublicKey: append([]byte(nil), exchangePub...),
		RelayURL:          relayURL,
		MailboxID:         mailboxID,
		Protected:         true,
		PasswordSalt:      salt,
	}
	tag.PasswordVerifier = crypto.PBKDF2SHA256(salt[:], password)
	return tag, nil
}

// VerifyPassword reports whether password matches an NFCTag's stored
// verifier. Always true for open tags.
func (t NFCTag) VerifyPassword(password []byte) bool {
	if !t.Protected {
		return true
	}
	candidate := crypto.PBKDF2SHA256(t.PasswordSalt[:], password)
	return constantTimeEqual(candidate, t.PasswordVerifier)
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

func (t NFCTag) payloadBytes() []byte {
	buf := make([]byte, 0, 128+len(t.RelayURL))
	buf = append(buf, t.SigningPublicKey...)
	buf = append(buf, t.ExchangePublicKey...)
	var urlLen [2]byte
	binary.BigEndian.PutUint16(urlLen[:], uint16(len(t.RelayURL)))
	buf = append(buf, urlLen[:]...)
	buf = append(buf, []byte(t.RelayURL)...)
	buf = append(buf, t.MailboxID[:]...)
	if t.Protected {
		buf = append(buf, t.PasswordSalt[:]...)
		buf = append(buf, t.PasswordVerifier...)
	}
	return buf
}

// EncodeNFCTag signs and serializes tag to the bytes written on the
// physical NFC tag.
func EncodeNFCTag(tag NFCTag, signingPriv ed25519.PrivateKey) []byte {
	magic := MagicNFCOpen
	if tag.Protected {
		magic = MagicNFCProtected
	}
	return signEnvelope(magic, tag.payloadBytes(), signingPriv)
}

// DecodeNFCTag parses and signature-verifies a tag read from an NFC chip.
// The signing key used for verification is the one embedded in the payload
// itself, matching the QR token's self-certifying shape.
func DecodeNFCTag(data []byte) (NFCTag, error) {
	if len(data) < 5 {
		return NFCTag{}, ErrInvalidFormat
	}
	var magic [4]byte
	copy(magic[:], data[:4])
	protected := magic == MagicNFCProtected
	if magic != MagicNFCOpen && magic != MagicNFCProtected {
		return NFCTag{}, ErrInvalidFormat
	}

	minLen := 5 + 32
	if len(data) < minLen+32 {
		return NFCTag{}, ErrInvalidFormat
	}
	signingPub := append([]byte(nil), data[5:37]...)

	payload, err := verifyEnvelope(magic, data, ed25519.PublicKey(signingPub))
	if err != nil {
		return NFCTag{}, err
	}

	if len(payload) < 32+32+2 {
		return NFCTag{}, ErrInvalidFormat
	}
	exchangePub := append([]byte(nil), payload[32:64]...)
	urlLen := int(binary.BigEndian.Uint16(payload[64:66]))
	offset := 66
	if len(payload) < offset+urlLen+32 {
		return NFCTag{}, ErrInvalidFormat
	}
	relayURL := string(payload[offset : offset+urlLen])
	offset += urlLen
	var mailboxID [32]byte
	copy(mailboxID[:], payload[offset:offset+32])
	offset += 32

	tag := NFCTag{
		SigningPublicKey:  signingPub,
		ExchangePublicKey: exchangePub,
		RelayURL:          relayURL,
		MailboxID:         mailboxID,
		Protected:         protected,
	}
	if protected {
		if len(payload) < offset+16+32 {
			return NFCTag{}, ErrInvalidFormat
		}
		copy(tag.PasswordSalt[:], payload[offset:offset+16])
		offset += 16
		tag.PasswordVerifier = append([]byte(nil), payload[offset:offset+32]...)
	}
	return tag, nil
}
