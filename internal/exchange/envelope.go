// Package exchange implements the three pairing transports (QR, NFC,
// device-link) that bootstrap an X3DH agreement, plus their shared
// magic/version/signature envelope (spec §4.6).
package exchange

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"time"
)

// Magic bytes identifying each wire payload. Wrong magic is always rejected
// before any other field is trusted.
var (
	MagicQR               = [4]byte{'V', 'B', 'E', 'X'}
	MagicNFCOpen           = [4]byte{'V', 'B', 'M', 'B'}
	MagicNFCProtected      = [4]byte{'V', 'B', 'N', 'P'}
	MagicDeviceLink        = [4]byte{'W', 'B', 'D', 'L'}
)

const protocolVersion = 1

const exchangeExpirySeconds = 300

var (
	ErrInvalidFormat         = errors.New("exchange: invalid payload format")
	ErrInvalidProtocolVersion = errors.New("exchange: unsupported protocol version")
	ErrInvalidSignature      = errors.New("exchange: signature does not verify")
	ErrTokenExpired          = errors.New("exchange: token has expired")
)

// signEnvelope signs magic‖version‖payload with priv and appends the
// 64-byte signature, matching spec's "signature over the prior bytes" rule.
func signEnvelope(magic [4]byte, payload []byte, priv ed25519.PrivateKey) []byte {
	unsigned := make([]byte, 0, 5+len(payload)+ed25519.SignatureSize)
	unsigned = append(unsigned, magic[:]...)
	unsigned = append(unsigned, protocolVersion)
	unsigned = append(unsigned, payload...)
	sig := ed25519.Sign(priv, unsigned)
	return append(unsigned, sig...)
}

// verifyEnvelope checks magic, version, and signature, returning the
// payload bytes (between the 5-byte header and the trailing signature) on
// success.
func verifyEnvelope(wantMagic [4]byte, data []byte, pub ed25519.PublicKey) ([]byte, error) {
	if len(data) < 5+ed25519.SignatureSize {
		return nil, ErrInvalidFormat
	}
	var gotMagic [4]byte
	copy(gotMagic[:], data[:4])
	if gotMagic != wantMagic {
		return nil, ErrInvalidFormat
	}
	if data[4] != protocolVersion {
		return nil, ErrInvalidProtocolVersion
	}
	signedLen := len(data) - ed25519.SignatureSize
	signed, sig := data[:signedLen], data[signedLen:]
	if !ed25519.Verify(pub, signed, sig) {
		return nil, ErrInvalidSignature
	}
	return data[5:signedLen], nil
}

func isExpired(timestamp time.Time, now time.Time) bool {
	return now.After(timestamp.Add(exchangeExpirySeconds * time.Second))
}

func putUint64BE(b []byte, v uint64) {
	binary.BigEndian.PutUint64(b, v)
}

func getUint64BE(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
