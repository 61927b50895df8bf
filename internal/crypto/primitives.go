// Package crypto implements the cryptographic primitives, chain/message key
// ratchet, X3DH agreement, and Double Ratchet state machine shared by every
// higher-level component that needs confidentiality or authenticity.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidKey        = errors.New("invalid key material")
	ErrCrypto            = errors.New("crypto operation failed")
	ErrUnsupportedFormat = errors.New("unsupported ciphertext format")
)

// AEADVersion selects the algorithm behind the self-describing ciphertext
// framing required by spec: version_byte ‖ nonce ‖ ciphertext ‖ tag.
type AEADVersion byte

const (
	AEADVersionXChaCha20Poly1305 AEADVersion = 1
)

// SymmetricKey is 32 bytes of key material that must never outlive its use.
// Equality is constant-time; Zero overwrites the backing array.
type SymmetricKey [32]byte

func (k *SymmetricKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

func (k SymmetricKey) Equal(other SymmetricKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

func (k SymmetricKey) Bytes() []byte {
	return append([]byte(nil), k[:]...)
}

func KeyFromBytes(b []byte) (SymmetricKey, error) {
	var k SymmetricKey
	if len(b) != 32 {
		return k, ErrInvalidKey
	}
	copy(k[:], b)
	return k, nil
}

// Encrypt produces version(1) ‖ nonce(24) ‖ ciphertext‖tag under XChaCha20-Poly1305.
func Encrypt(key SymmetricKey, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, byte(AEADVersionXChaCha20Poly1305))
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, additionalData)
	return out, nil
}

// Decrypt reverses Encrypt, rejecting any version byte it does not recognize.
func Decrypt(key SymmetricKey, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < 1 {
		return nil, ErrUnsupportedFormat
	}
	switch AEADVersion(ciphertext[0]) {
	case AEADVersionXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key.Bytes())
		if err != nil {
			return nil, err
		}
		rest := ciphertext[1:]
		if len(rest) < aead.NonceSize() {
			return nil, ErrUnsupportedFormat
		}
		nonce, ct := rest[:aead.NonceSize()], rest[aead.NonceSize():]
		plaintext, err := aead.Open(nil, nonce, ct, additionalData)
		if err != nil {
			return nil, ErrCrypto
		}
		return plaintext, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// Sign produces a 64-byte Ed25519 signature over msg.
func Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Verify reports whether sig is a valid Ed25519 signature of msg under pk.
func Verify(pk ed25519.PublicKey, msg, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk, msg, sig)
}

// DH computes an X25519 shared secret.
func DH(sk, pk []byte) ([]byte, error) {
	if len(sk) != 32 || len(pk) != 32 {
		return nil, ErrInvalidKey
	}
	out, err := curve25519.X25519(sk, pk)
	if err != nil {
		return nil, ErrCrypto
	}
	return out, nil
}

// GenerateX25519Keypair returns a fresh X25519 keypair.
func GenerateX25519Keypair() (priv, pub []byte, err error) {
	priv = make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pub, err = X25519PublicFromPrivate(priv)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// X25519PublicFromPrivate computes the public half of an X25519 scalar by
// multiplying it against the curve's fixed basepoint.
func X25519PublicFromPrivate(priv []byte) ([]byte, error) {
	if len(priv) != 32 {
		return nil, ErrInvalidKey
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, ErrCrypto
	}
	return pub, nil
}

// HKDFDeriveKey derives a single 32-byte key. salt may be nil.
func HKDFDeriveKey(salt, ikm, info []byte) []byte {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, 32)
	_, _ = io.ReadFull(reader, out)
	return out
}

// HKDFDeriveKeyPair derives two independent 32-byte keys from one call,
// matching spec's HKDF.derive_key_pair contract.
func HKDFDeriveKeyPair(salt, ikm, info []byte) (a, b []byte) {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, 64)
	_, _ = io.ReadFull(reader, out)
	return out[:32], out[32:]
}

// PBKDF2SHA256 derives a 32-byte key per spec §4.1: 100,000 iterations.
func PBKDF2SHA256(salt, password []byte) []byte {
	return pbkdf2.Key(password, salt, 100_000, 32, sha256.New)
}
