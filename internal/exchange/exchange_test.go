package exchange

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/webbook/contactbook/internal/crypto"
)

func genSigningKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	return pub, priv
}

func genExchangeKeypair(t *testing.T) (priv, pub []byte) {
	t.Helper()
	priv, pub, err := crypto.GenerateX25519Keypair()
	if err != nil {
		t.Fatalf("generate exchange key: %v", err)
	}
	return priv, pub
}

func TestQRTokenEncodeDecodeRoundTrip(t *testing.T) {
	signingPub, signingPriv := genSigningKeypair(t)
	_, exchangePub := genExchangeKeypair(t)

	token, err := NewQRToken(signingPub, exchangePub)
	if err != nil {
		t.Fatalf("NewQRToken: %v", err)
	}
	encoded, err := EncodeQRToken(token, signingPriv)
	if err != nil {
		t.Fatalf("EncodeQRToken: %v", err)
	}
	decoded, err := DecodeQRToken(encoded, token.Timestamp.Add(time.Second))
	if err != nil {
		t.Fatalf("DecodeQRToken: %v", err)
	}
	if string(decoded.SigningPublicKey) != string(signingPub) {
		t.Fatalf("signing public key mismatch")
	}
	if string(decoded.ExchangePublicKey) != string(exchangePub) {
		t.Fatalf("exchange public key mismatch")
	}
}

func TestQRTokenRejectsExpired(t *testing.T) {
	signingPub, signingPriv := genSigningKeypair(t)
	_, exchangePub := genExchangeKeypair(t)
	token, _ := NewQRToken(signingPub, exchangePub)
	encoded, _ := EncodeQRToken(token, signingPriv)

	future := token.Timestamp.Add(301 * time.Second)
	if _, err := DecodeQRToken(encoded, future); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestQRTokenRejectsTamperedSignature(t *testing.T) {
	signingPub, signingPriv := genSigningKeypair(t)
	_, exchangePub := genExchangeKeypair(t)
	token, _ := NewQRToken(signingPub, exchangePub)
	encoded, _ := EncodeQRToken(token, signingPriv)
	encoded[len(encoded)-1] ^= 0xFF

	if _, err := DecodeQRToken(encoded, token.Timestamp); err == nil {
		t.Fatalf("expected signature verification failure")
	}
}

func TestQRExchangeDerivesSharedSecret(t *testing.T) {
	// Responder displays the QR; scanner initiates X3DH against it.
	responderSigningPub, _ := genSigningKeypair(t)
	responderExchangePriv, responderExchangePub := genExchangeKeypair(t)

	token, err := NewQRToken(responderSigningPub, responderExchangePub)
	if err != nil {
		t.Fatalf("NewQRToken: %v", err)
	}

	scannerExchangePriv, scannerExchangePub := genExchangeKeypair(t)
	scannerStatic := crypto.X3DHKeypair{Private: scannerExchangePriv, Public: scannerExchangePub}
	scannerShared, ephemeralPub, err := InitiateFromQR(scannerStatic, token)
	if err != nil {
		t.Fatalf("InitiateFromQR: %v", err)
	}

	responderStatic := crypto.X3DHKeypair{Private: responderExchangePriv, Public: responderExchangePub}
	responderShared, err := RespondToQR(responderStatic, scannerExchangePub, ephemeralPub)
	if err != nil {
		t.Fatalf("RespondToQR: %v", err)
	}

	if string(scannerShared) != string(responderShared) {
		t.Fatalf("shared secrets do not match")
	}
}

func TestNFCOpenTagEncodeDecodeRoundTrip(t *testing.T) {
	signingPub, signingPriv := genSigningKeypair(t)
	_, exchangePub := genExchangeKeypair(t)
	var mailbox [32]byte
	copy(mailbox[:], []byte("mailbox-identifier-0123456789ab"))

	tag := NewOpenNFCTag(signingPub, exchangePub, "https://relay.example/m", mailbox)
	encoded := EncodeNFCTag(tag, signingPriv)
	decoded, err := DecodeNFCTag(encoded)
	if err != nil {
		t.Fatalf("DecodeNFCTag: %v", err)
	}
	if decoded.Protected {
		t.Fatalf("expected open tag")
	}
	if decoded.RelayURL != tag.RelayURL {
		t.Fatalf("relay url mismatch")
	}
	if !decoded.VerifyPassword(nil) {
		t.Fatalf("open tag must always verify")
	}
}

func TestNFCProtectedTagPasswordVerification(t *testing.T) {
	signingPub, signingPriv := genSigningKeypair(t)
	_, exchangePub := genExchangeKeypair(t)
	var mailbox [32]byte

	tag, err := NewProtectedNFCTag(signingPub, exchangePub, "https://relay.example/m", mailbox, []byte("correct horse"))
	if err != nil {
		t.Fatalf("NewProtectedNFCTag: %v", err)
	}
	encoded := EncodeNFCTag(tag, signingPriv)
	decoded, err := DecodeNFCTag(encoded)
	if err != nil {
		t.Fatalf("DecodeNFCTag: %v", err)
	}
	if !decoded.Protected {
		t.Fatalf("expected protected tag")
	}
	if !decoded.VerifyPassword([]byte("correct horse")) {
		t.Fatalf("expected correct password to verify")
	}
	if decoded.VerifyPassword([]byte("wrong password")) {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestNFCTagRejectsTamperedMagic(t *testing.T) {
	signingPub, signingPriv := genSigningKeypair(t)
	_, exchangePub := genExchangeKeypair(t)
	var mailbox [32]byte

	tag := NewOpenNFCTag(signingPub, exchangePub, "https://relay.example/m", mailbox)
	encoded := EncodeNFCTag(tag, signingPriv)
	encoded[0] ^= 0xFF

	if _, err := DecodeNFCTag(encoded); err != ErrInvalidFormat {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestIntroductionOpenTagRoundTrip(t *testing.T) {
	signingPub, _ := genSigningKeypair(t)
	ownerExchangePriv, ownerExchangePub := genExchangeKeypair(t)
	var mailbox [32]byte
	tag := NewOpenNFCTag(signingPub, ownerExchangePub, "https://relay.example/m", mailbox)

	senderSigningPub, _ := genSigningKeypair(t)
	plaintext := []byte(`{"display_name":"Reader"}`)
	intro, err := CreateIntroduction(tag, senderSigningPub, plaintext, nil)
	if err != nil {
		t.Fatalf("CreateIntroduction: %v", err)
	}

	recovered, err := DecryptWithExchangeKey(intro, ownerExchangePriv, tag, nil)
	if err != nil {
		t.Fatalf("DecryptWithExchangeKey: %v", err)
	}
	if string(recovered) != string(plaintext) {
		t.Fatalf("plaintext mismatch")
	}
}

func TestIntroductionProtectedTagRoundTripAndWrongPassword(t *testing.T) {
	signingPub, _ := genSigningKeypair(t)
	ownerExchangePriv, ownerExchangePub := genExchangeKeypair(t)
	var mailbox [32]byte
	tag, err := NewProtectedNFCTag(signingPub, ownerExchangePub, "https://relay.example/m", mailbox, []byte("s3cret"))
	if err != nil {
		t.Fatalf("NewProtectedNFCTag: %v", err)
	}

	senderSigningPub, _ := genSigningKeypair(t)
	plaintext := []byte(`{"display_name":"Reader"}`)
	intro, err := CreateIntroduction(tag, senderSigningPub, plaintext, []byte("s3cret"))
	if err != nil {
		t.Fatalf("CreateIntroduction: %v", err)
	}

	recovered, err := DecryptWithExchangeKey(intro, ownerExchangePriv, tag, []byte("s3cret"))
	if err != nil {
		t.Fatalf("DecryptWithExchangeKey: %v", err)
	}
	if string(recovered) != string(plaintext) {
		t.Fatalf("plaintext mismatch")
	}

	if _, err := DecryptWithExchangeKey(intro, ownerExchangePriv, tag, []byte("wrong")); err != ErrIntroductionDecryptFailed {
		t.Fatalf("expected ErrIntroductionDecryptFailed, got %v", err)
	}
}

func TestDeviceLinkQREncodeDecodeRoundTrip(t *testing.T) {
	identityPub, identityPriv := genSigningKeypair(t)

	qr, err := NewDeviceLinkQR(identityPub)
	if err != nil {
		t.Fatalf("NewDeviceLinkQR: %v", err)
	}
	encoded := qr.Encode(identityPriv)
	decoded, err := DecodeDeviceLinkQR(encoded, qr.Timestamp.Add(time.Second))
	if err != nil {
		t.Fatalf("DecodeDeviceLinkQR: %v", err)
	}
	if string(decoded.LinkKey) != string(qr.LinkKey) {
		t.Fatalf("link key mismatch")
	}
	if string(decoded.IdentityPublicKey) != string(identityPub) {
		t.Fatalf("identity public key mismatch")
	}
}

func TestDeviceLinkQRRejectsExpired(t *testing.T) {
	identityPub, identityPriv := genSigningKeypair(t)
	qr, _ := NewDeviceLinkQR(identityPub)
	encoded := qr.Encode(identityPriv)

	future := qr.Timestamp.Add(301 * time.Second)
	if _, err := DecodeDeviceLinkQR(encoded, future); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestDeviceLinkRequestResponseFlow(t *testing.T) {
	identityPub, identityPriv := genSigningKeypair(t)
	qr, err := NewDeviceLinkQR(identityPub)
	if err != nil {
		t.Fatalf("NewDeviceLinkQR: %v", err)
	}
	linkKey := qr.LinkKey

	req, err := NewDeviceLinkRequest("new-laptop")
	if err != nil {
		t.Fatalf("NewDeviceLinkRequest: %v", err)
	}
	reqCiphertext, err := EncryptDeviceLinkRequest(req, linkKey)
	if err != nil {
		t.Fatalf("EncryptDeviceLinkRequest: %v", err)
	}

	decodedReq, err := DecryptDeviceLinkRequest(reqCiphertext, linkKey)
	if err != nil {
		t.Fatalf("DecryptDeviceLinkRequest: %v", err)
	}
	if decodedReq.DeviceName != "new-laptop" {
		t.Fatalf("device name mismatch")
	}

	masterSeed := make([]byte, 32)
	for i := range masterSeed {
		masterSeed[i] = byte(i)
	}
	resp := DeviceLinkResponse{
		MasterSeed:  masterSeed,
		DisplayName: "Ada",
		DeviceIndex: 1,
	}
	respCiphertext, err := EncryptDeviceLinkResponse(resp, linkKey)
	if err != nil {
		t.Fatalf("EncryptDeviceLinkResponse: %v", err)
	}
	decodedResp, err := DecryptDeviceLinkResponse(respCiphertext, linkKey)
	if err != nil {
		t.Fatalf("DecryptDeviceLinkResponse: %v", err)
	}
	if decodedResp.DisplayName != "Ada" || decodedResp.DeviceIndex != 1 {
		t.Fatalf("response mismatch: %+v", decodedResp)
	}
	if string(decodedResp.MasterSeed) != string(masterSeed) {
		t.Fatalf("master seed mismatch")
	}

	// A different link_key must not decrypt either message.
	otherQR, _ := NewDeviceLinkQR(identityPub)
	if _, err := DecryptDeviceLinkRequest(reqCiphertext, otherQR.LinkKey); err == nil {
		t.Fatalf("expected decryption failure under wrong link_key")
	}
	_ = identityPriv
}

func TestDeviceLinkRequestRejectsEmptyDeviceName(t *testing.T) {
	linkKey := make([]byte, 32)
	req := DeviceLinkRequest{DeviceName: "", Timestamp: time.Now().UTC()}
	ciphertext, err := EncryptDeviceLinkRequest(req, linkKey)
	if err != nil {
		t.Fatalf("EncryptDeviceLinkRequest: %v", err)
	}
	if _, err := DecryptDeviceLinkRequest(ciphertext, linkKey); err != ErrInvalidFormat {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}
