package exchange

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/webbook/contactbook/internal/crypto"
	"github.com/webbook/contactbook/pkg/models"
)

// DeviceLinkQR is displayed on an already-registered device for a new
// device to scan (spec §4.6 "Device link", magic "WBDL"): a random link_key
// used to symmetrically encrypt the seed transfer, plus the identity's
// signing key so the new device knows whose identity it is joining.
type DeviceLinkQR struct {
	IdentityPublicKey []byte
	LinkKey           []byte
	Timestamp         time.Time
}

// NewDeviceLinkQR generates a fresh link_key and timestamp.
func NewDeviceLinkQR(identitySigningPub []byte) (DeviceLinkQR, error) {
	linkKey := make([]byte, 32)
	if _, err := rand.Read(linkKey); err != nil {
		return DeviceLinkQR{}, err
	}
	return DeviceLinkQR{
		IdentityPublicKey: append([]byte(nil), identitySigningPub...),
		LinkKey:           linkKey,
		Timestamp:         time.Now().UTC(),
	}, nil
}

// Encode signs and serializes the QR for display.
func (qr DeviceLinkQR) Encode(signingPriv ed25519.PrivateKey) []byte {
	payload := make([]byte, 0, 32+32+8)
	payload = append(payload, qr.IdentityPublicKey...)
	payload = append(payload, qr.LinkKey...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(qr.Timestamp.Unix()))
	payload = append(payload, ts[:]...)
	return signEnvelope(MagicDeviceLink, payload, signingPriv)
}

// DecodeDeviceLinkQR verifies the envelope (self-certifying, as with
// QRToken) and checks the 300s expiry window (spec §9 resolves the "300-600
// second" range to a fixed 300s everywhere).
func DecodeDeviceLinkQR(data []byte, now time.Time) (DeviceLinkQR, error) {
	if len(data) < 5+32 {
		return DeviceLinkQR{}, ErrInvalidFormat
	}
	identityPub := append([]byte(nil), data[5:37]...)
	payload, err := verifyEnvelope(MagicDeviceLink, data, ed25519.PublicKey(identityPub))
	if err != nil {
		return DeviceLinkQR{}, err
	}
	if len(payload) != 32+32+8 {
		return DeviceLinkQR{}, ErrInvalidFormat
	}
	ts := time.Unix(int64(binary.BigEndian.Uint64(payload[64:72])), 0).UTC()
	qr := DeviceLinkQR{
		IdentityPublicKey: identityPub,
		LinkKey:           append([]byte(nil), payload[32:64]...),
		Timestamp:         ts,
	}
	if isExpired(qr.Timestamp, now) {
		return DeviceLinkQR{}, ErrTokenExpired
	}
	return qr, nil
}

// DeviceLinkRequest is what the new device sends, encrypted under link_key.
type DeviceLinkRequest struct {
	DeviceName string    `json:"device_name"`
	Nonce      []byte    `json:"nonce"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewDeviceLinkRequest(deviceName string) (DeviceLinkRequest, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return DeviceLinkRequest{}, err
	}
	return DeviceLinkRequest{DeviceName: deviceName, Nonce: nonce, Timestamp: time.Now().UTC()}, nil
}

func EncryptDeviceLinkRequest(req DeviceLinkRequest, linkKey []byte) ([]byte, error) {
	key, err := crypto.KeyFromBytes(linkKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return crypto.Encrypt(key, plaintext, nil)
}

func DecryptDeviceLinkRequest(ciphertext, linkKey []byte) (DeviceLinkRequest, error) {
	key, err := crypto.KeyFromBytes(linkKey)
	if err != nil {
		return DeviceLinkRequest{}, err
	}
	plaintext, err := crypto.Decrypt(key, ciphertext, nil)
	if err != nil {
		return DeviceLinkRequest{}, err
	}
	var req DeviceLinkRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return DeviceLinkRequest{}, ErrInvalidFormat
	}
	if req.DeviceName == "" {
		return DeviceLinkRequest{}, ErrInvalidFormat
	}
	return req, nil
}

// DeviceLinkResponse is what the existing device sends back, encrypted
// under the same link_key: the master seed, display name, the new device's
// assigned index, the re-signed registry, and an optional sync snapshot.
type DeviceLinkResponse struct {
	MasterSeed      []byte                `json:"master_seed"`
	DisplayName     string                `json:"display_name"`
	DeviceIndex     uint32                `json:"device_index"`
	Registry        models.DeviceRegistry `json:"registry"`
	SyncPayloadJSON string                `json:"sync_payload_json,omitempty"`
}

func EncryptDeviceLinkResponse(resp DeviceLinkResponse, linkKey []byte) ([]byte, error) {
	key, err := crypto.KeyFromBytes(linkKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return crypto.Encrypt(key, plaintext, nil)
}

func DecryptDeviceLinkResponse(ciphertext, linkKey []byte) (DeviceLinkResponse, error) {
	key, err := crypto.KeyFromBytes(linkKey)
	if err != nil {
		return DeviceLinkResponse{}, err
	}
	plaintext, err := crypto.Decrypt(key, ciphertext, nil)
	if err != nil {
		return DeviceLinkResponse{}, err
	}
	var resp DeviceLinkResponse
	if err := json.Unmarshal(plaintext, &resp); err != nil {
		return DeviceLinkResponse{}, ErrInvalidFormat
	}
	return resp, nil
}
