package identity

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptBackup and DecryptBackup implement the password-encrypted
// IdentityBackup blob (spec §3: "a password-encrypted blob (password-based
// KDF + AEAD) containing the master seed and display name"). The
// argon2id + XChaCha20-Poly1305 envelope shape matches the teacher's
// seed-encryption idiom.
const (
	backupEnvelopeVersion = 1
	backupArgonTime       = uint32(2)
	backupArgonMemoryKB   = uint32(64 * 1024)
	backupArgonThreads    = uint8(1)
)

var ErrInvalidBackupPassword = errors.New("identity: invalid backup password")

func EncryptBackup(masterSeed []byte, displayName string, password []byte) (*BackupEnvelope, error) {
	plaintext, err := json.Marshal(backupPlaintext{
		MasterSeed:  masterSeed,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := argon2.IDKey(password, salt, backupArgonTime, backupArgonMemoryKB, backupArgonThreads, chacha20poly1305.KeySize)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &BackupEnvelope{
		Version:     backupEnvelopeVersion,
		KDF:         "argon2id",
		KDFTime:     backupArgonTime,
		KDFMemoryKB: backupArgonMemoryKB,
		KDFThreads:  backupArgonThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	}, nil
}

func DecryptBackup(env *BackupEnvelope, password []byte) (masterSeed []byte, displayName string, err error) {
	if env.Version != backupEnvelopeVersion {
		return nil, "", fmt.Errorf("identity: unsupported backup version %d", env.Version)
	}
	if env.KDF != "argon2id" {
		return nil, "", fmt.Errorf("identity: unsupported backup kdf %q", env.KDF)
	}
	key := argon2.IDKey(password, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, "", err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, "", ErrInvalidBackupPassword
	}

	var payload backupPlaintext
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, "", err
	}
	return payload.MasterSeed, payload.DisplayName, nil
}

// MarshalBackup and UnmarshalBackup turn a BackupEnvelope into the opaque
// bytes handed to the host by export_backup/import_backup (spec §6).
func MarshalBackup(env *BackupEnvelope) ([]byte, error) {
	return json.Marshal(env)
}

func UnmarshalBackup(b []byte) (*BackupEnvelope, error) {
	var env BackupEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
