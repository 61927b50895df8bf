// Package identity implements master-seed-derived signing/exchange keys,
// the signed device registry, and password-encrypted identity backups
// (spec §3 "Identity", §3 "Device registry", §4.4).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blake2b"

	"github.com/mr-tron/base58"

	"github.com/webbook/contactbook/internal/crypto"
)

var (
	ErrInvalidSeed       = errors.New("identity: invalid master seed")
	ErrInvalidPublicID   = errors.New("identity: invalid public id")
	ErrIdentityMismatch  = errors.New("identity: public_id does not match signing key")
)

const publicIDPrefix = "wbk1"

// NewMasterSeed generates a fresh 32-byte master seed.
func NewMasterSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// DeriveDeviceKeys derives (device_id, signing keypair, exchange keypair)
// deterministically from (master_seed, device_index) via three
// domain-separated HKDF calls (spec §4.4).
func DeriveDeviceKeys(masterSeed []byte, deviceIndex uint32) (DerivedKeys, error) {
	if len(masterSeed) != 32 {
		return DerivedKeys{}, ErrInvalidSeed
	}
	var idxBytes [4]byte
	binary.LittleEndian.PutUint32(idxBytes[:], deviceIndex)
	base := crypto.HKDFDeriveKey(nil, append(append([]byte(nil), masterSeed...), idxBytes[:]...), []byte("webbook/device/base/v1"))

	signingSeed := crypto.HKDFDeriveKey(nil, base, []byte("webbook/device/signing/v1"))
	exchangeSeed := crypto.HKDFDeriveKey(nil, base, []byte("webbook/device/exchange/v1"))
	deviceID := crypto.HKDFDeriveKey(nil, base, []byte("webbook/device/id/v1"))

	signingPriv := ed25519.NewKeyFromSeed(signingSeed)
	signingPub := signingPriv.Public().(ed25519.PublicKey)

	exchangePub, err := crypto.X25519PublicFromPrivate(exchangeSeed)
	if err != nil {
		return DerivedKeys{}, err
	}

	return DerivedKeys{
		DeviceID:           deviceID,
		SigningPublicKey:   append([]byte(nil), signingPub...),
		SigningPrivateKey:  append([]byte(nil), signingPriv...),
		ExchangePublicKey:  exchangePub,
		ExchangePrivateKey: append([]byte(nil), exchangeSeed...),
	}, nil
}

// BuildPublicID derives the human-readable identity public_id from a signing
// public key: blake2b-256 hash, base58 encoding, fixed prefix.
func BuildPublicID(signingPublicKey []byte) (string, error) {
	if len(signingPublicKey) != ed25519.PublicKeySize {
		return "", ErrInvalidPublicID
	}
	sum := blake2b.Sum256(signingPublicKey)
	return publicIDPrefix + base58.Encode(sum[:]), nil
}

// VerifyPublicID reports whether id was built from signingPublicKey.
func VerifyPublicID(id string, signingPublicKey []byte) (bool, error) {
	expected, err := BuildPublicID(signingPublicKey)
	if err != nil {
		return false, err
	}
	return id == expected, nil
}
