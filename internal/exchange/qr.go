package exchange

import (
	"crypto/ed25519"
	"crypto/rand"
	"time"

	"github.com/webbook/contactbook/internal/crypto"
)

// QRToken is the payload scanned from a pairing QR code (spec §4.6 "QR
// exchange", magic "VBEX"): signing_pub(32) ‖ exchange_pub(32) ‖
// timestamp(8 BE) ‖ nonce(16).
type QRToken struct {
	SigningPublicKey  []byte
	ExchangePublicKey []byte
	Timestamp         time.Time
	Nonce             [16]byte
}

// EncodeQRToken signs and serializes a QRToken, ready to be rendered as a QR
// image by an external collaborator.
func EncodeQRToken(token QRToken, signingPriv ed25519.PrivateKey) ([]byte, error) {
	if len(token.SigningPublicKey) != 32 || len(token.ExchangePublicKey) != 32 {
		return nil, ErrInvalidFormat
	}
	payload := make([]byte, 0, 32+32+8+16)
	payload = append(payload, token.SigningPublicKey...)
	payload = append(payload, token.ExchangePublicKey...)
	var ts [8]byte
	putUint64BE(ts[:], uint64(token.Timestamp.UTC().Unix()))
	payload = append(payload, ts[:]...)
	payload = append(payload, token.Nonce[:]...)
	return signEnvelope(MagicQR, payload, signingPriv), nil
}

// NewQRToken builds a fresh token for the current identity, with a random
// nonce and the current timestamp.
func NewQRToken(signingPub, exchangePub []byte) (QRToken, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return QRToken{}, err
	}
	return QRToken{
		SigningPublicKey:  append([]byte(nil), signingPub...),
		ExchangePublicKey: append([]byte(nil), exchangePub...),
		Timestamp:         time.Now().UTC(),
		Nonce:             nonce,
	}, nil
}

// DecodeQRToken verifies the envelope signature against the signing key
// embedded in the payload itself (the QR token is self-certifying: the
// scanner trusts it because the signature matches the signing_pub it also
// carries) and checks the 300-second expiry window.
func DecodeQRToken(data []byte, now time.Time) (QRToken, error) {
	if len(data) < 5+32 {
		return QRToken{}, ErrInvalidFormat
	}
	candidatePub := append([]byte(nil), data[5:37]...)
	payload, err := verifyEnvelope(MagicQR, data, ed25519.PublicKey(candidatePub))
	if err != nil {
		return QRToken{}, err
	}
	if len(payload) != 32+32+8+16 {
		return QRToken{}, ErrInvalidFormat
	}
	token := QRToken{
		SigningPublicKey:  append([]byte(nil), payload[0:32]...),
		ExchangePublicKey: append([]byte(nil), payload[32:64]...),
		Timestamp:         time.Unix(int64(getUint64BE(payload[64:72])), 0).UTC(),
	}
	copy(token.Nonce[:], payload[72:88])
	if isExpired(token.Timestamp, now) {
		return QRToken{}, ErrTokenExpired
	}
	return token, nil
}

// InitiateFromQR runs the X3DH initiator role against a scanned token: the
// scanner is the initiator, the token's owner is the responder (spec §4.6).
func InitiateFromQR(ourX3DH crypto.X3DHKeypair, token QRToken) (shared, ephemeralPub []byte, err error) {
	return crypto.X3DHInitiate(ourX3DH, token.ExchangePublicKey)
}

// RespondToQR runs the X3DH responder role: the token's owner, upon
// receiving the scanner's static exchange key and ephemeral public key via
// the relay, derives the same shared secret.
func RespondToQR(ourX3DH crypto.X3DHKeypair, theirExchangePub, theirEphemeralPub []byte) ([]byte, error) {
	return crypto.X3DHRespond(ourX3DH, theirExchangePub, theirEphemeralPub)
}
