package exchange

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"github.com/webbook/contactbook/internal/crypto"
)

const nfcIntroInfo = "WebBook_NFC_Intro"

var ErrIntroductionDecryptFailed = errors.New("exchange: introduction decryption failed")

// Introduction is the ciphertext a reader leaves in an NFC tag owner's relay
// mailbox: ephemeral_public_key(32) ‖ nonce(12) ‖ ciphertext, encrypting the
// reader's contact card under a key derived from an ECDH with the tag's
// published exchange key (spec §4.6 "Introduction").
type Introduction struct {
	SenderSigningPublicKey []byte // nil for anonymous open-tag introductions
	EphemeralPublicKey     []byte
	Nonce                  []byte
	Ciphertext             []byte
}

// CreateIntroduction encrypts plaintext (the sender's serialized contact
// card) to tag's published exchange key. password is non-empty only for
// protected tags, and is mixed into the HKDF salt via PBKDF2 using the tag's
// own salt.
func CreateIntroduction(tag NFCTag, senderSigningPub []byte, plaintext, password []byte) (Introduction, error) {
	ephPriv, ephPub, err := crypto.GenerateX25519Keypair()
	if err != nil {
		return Introduction{}, err
	}
	shared, err := crypto.DH(ephPriv, tag.ExchangePublicKey)
	if err != nil {
		return Introduction{}, err
	}

	salt := introSalt(tag, password)
	key := crypto.HKDFDeriveKey(salt, shared, []byte(nfcIntroInfo))

	block, err := aes.NewCipher(key)
	if err != nil {
		return Introduction{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Introduction{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Introduction{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	var senderKey []byte
	if len(senderSigningPub) > 0 {
		senderKey = append([]byte(nil), senderSigningPub...)
	}
	return Introduction{
		SenderSigningPublicKey: senderKey,
		EphemeralPublicKey:     ephPub,
		Nonce:                  nonce,
		Ciphertext:             ciphertext,
	}, nil
}

// DecryptWithExchangeKey recovers the plaintext card using the tag owner's
// stored X25519 private key, the key generated alongside the tag at
// creation time (spec §4.6/§9: the deprecated "regenerate from fresh randomness"
// path is not implemented; this is the only decrypt path).
func DecryptWithExchangeKey(intro Introduction, exchangePriv []byte, tag NFCTag, password []byte) ([]byte, error) {
	shared, err := crypto.DH(exchangePriv, intro.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}
	salt := introSalt(tag, password)
	key := crypto.HKDFDeriveKey(salt, shared, []byte(nfcIntroInfo))

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, intro.Nonce, intro.Ciphertext, nil)
	if err != nil {
		return nil, ErrIntroductionDecryptFailed
	}
	return plaintext, nil
}

func introSalt(tag NFCTag, password []byte) []byte {
	if !tag.Protected || len(password) == 0 {
		return make([]byte, 32)
	}
	return crypto.PBKDF2SHA256(tag.PasswordSalt[:], password)
}
