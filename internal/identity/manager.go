package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tyler-smith/go-bip39"

	"github.com/webbook/contactbook/pkg/models"
)

var (
	ErrDisplayNameInvalid = errors.New("identity: display_name must be 1-100 characters")
	ErrPasswordRequired   = errors.New("identity: password is required")
	ErrPasswordLocked     = errors.New("identity: password attempts are temporarily locked")
	ErrNotInitialized     = errors.New("identity: not initialized")
)

// Manager owns one identity's master seed, device registry, and backup
// lifecycle. It is the component-4 entry point used by the orchestrator
// façade. All mutating methods are safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	logger *slog.Logger

	masterSeed   []byte
	identity     models.Identity
	signingPriv  ed25519.PrivateKey
	exchangePriv []byte
	registry     models.DeviceRegistry

	failedAttempts int
	lockedUntil    time.Time
	now            func() time.Time
}

// CreateIdentity generates a fresh master seed and primary device.
func CreateIdentity(displayName string, logger *slog.Logger) (*Manager, error) {
	seed, err := NewMasterSeed()
	if err != nil {
		return nil, err
	}
	return newManagerFromSeed(seed, displayName, logger)
}

// ImportFromBackup restores an identity from a password-encrypted backup
// blob produced by ExportBackup (spec §6 import_backup).
func ImportFromBackup(backupBytes []byte, password string, logger *slog.Logger) (*Manager, error) {
	env, err := UnmarshalBackup(backupBytes)
	if err != nil {
		return nil, err
	}
	seed, displayName, err := DecryptBackup(env, []byte(password))
	if err != nil {
		return nil, err
	}
	return newManagerFromSeed(seed, displayName, logger)
}

// ImportFromMnemonic restores an identity from a BIP-39 mnemonic that
// directly encodes the master seed's entropy (a supplemented recovery path
// beyond spec's password-backup operation, following the teacher's
// mnemonic-based seed lifecycle).
func ImportFromMnemonic(mnemonic, displayName string, logger *slog.Logger) (*Manager, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("identity: invalid mnemonic")
	}
	seed, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	if len(seed) != 32 {
		return nil, ErrInvalidSeed
	}
	return newManagerFromSeed(seed, displayName, logger)
}

// NewManagerFromLinkedDevice builds a Manager for a device that joined an
// existing identity via the device-link flow: it derives keys for
// deviceIndex from the shared seed but, unlike CreateIdentity, adopts the
// registry handed to it in the link response rather than minting a new one
// (spec §9 example 4: device B's derivation of device_id/signing/exchange
// from (seed, 1, …) matches the registry entry device A already signed).
// The identity signing keypair, and so the public_id, is the index-0 one
// shared by every device; the exchange keypair is deviceIndex's own.
func NewManagerFromLinkedDevice(seed []byte, deviceIndex uint32, displayName string, registry models.DeviceRegistry, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	keys, err := DeriveDeviceKeys(seed, deviceIndex)
	if err != nil {
		return nil, err
	}
	rootKeys, err := DeriveDeviceKeys(seed, 0)
	if err != nil {
		return nil, err
	}
	publicID, err := BuildPublicID(rootKeys.SigningPublicKey)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		logger:     logger,
		masterSeed: append([]byte(nil), seed...),
		identity: models.Identity{
			PublicID:          publicID,
			SigningPublicKey:  rootKeys.SigningPublicKey,
			ExchangePublicKey: keys.ExchangePublicKey,
			DisplayName:       strings.TrimSpace(displayName),
			CreatedAt:         time.Now().UTC(),
			DeviceIndex:       deviceIndex,
		},
		signingPriv:  ed25519.PrivateKey(rootKeys.SigningPrivateKey),
		exchangePriv: keys.ExchangePrivateKey,
		registry:     registry,
		now:          time.Now,
	}
	m.logger.Debug("identity joined via device link", "public_id", publicID, "device_index", deviceIndex)
	return m, nil
}

func newManagerFromSeed(seed []byte, displayName string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || len(displayName) > 100 {
		return nil, ErrDisplayNameInvalid
	}
	keys, err := DeriveDeviceKeys(seed, 0)
	if err != nil {
		return nil, err
	}
	publicID, err := BuildPublicID(keys.SigningPublicKey)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	primary := newRegisteredDevice(keys, 0, "primary", now)
	registry, err := NewRegistry(ed25519.PrivateKey(keys.SigningPrivateKey), primary)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		logger: logger,
		masterSeed: append([]byte(nil), seed...),
		identity: models.Identity{
			PublicID:          publicID,
			SigningPublicKey:  keys.SigningPublicKey,
			ExchangePublicKey: keys.ExchangePublicKey,
			DisplayName:       displayName,
			CreatedAt:         now,
			DeviceIndex:       0,
		},
		signingPriv:  ed25519.PrivateKey(keys.SigningPrivateKey),
		exchangePriv: keys.ExchangePrivateKey,
		registry:     registry,
		now:          time.Now,
	}
	m.logger.Debug("identity created", "public_id", publicID)
	return m, nil
}

func (m *Manager) Identity() models.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := m.identity
	id.SigningPublicKey = append([]byte(nil), id.SigningPublicKey...)
	id.ExchangePublicKey = append([]byte(nil), id.ExchangePublicKey...)
	return id
}

func (m *Manager) PublicID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity.PublicID
}

func (m *Manager) UpdateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return ErrDisplayNameInvalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity.DisplayName = name
	return nil
}

// SigningKeypair returns the primary device's signing keypair.
func (m *Manager) SigningKeypair() (ed25519.PublicKey, ed25519.PrivateKey) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(ed25519.PublicKey(nil), m.identity.SigningPublicKey...),
		append(ed25519.PrivateKey(nil), m.signingPriv...)
}

// ExchangeKeypair returns this device's X25519 exchange keypair: the primary
// device's for an identity created or restored here, the linked device's own
// for a Manager built by NewManagerFromLinkedDevice.
func (m *Manager) ExchangeKeypair() (priv, pub []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.exchangePriv...), append([]byte(nil), m.identity.ExchangePublicKey...)
}

func (m *Manager) Registry() models.DeviceRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry
}

// CurrentDeviceID returns the device id of the registry entry matching this
// manager's own device index (the device this process is running as).
func (m *Manager) CurrentDeviceID() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.registry.Devices {
		if d.DeviceIndex == m.identity.DeviceIndex {
			return append([]byte(nil), d.DeviceID...)
		}
	}
	return nil
}

// MasterSeedForDeviceLink returns a copy of the master seed for transfer to
// a newly linked device. It exists solely for the device-link response flow
// (spec §4.6/§9 example 4): the caller MUST encrypt it under the link_key
// before it leaves process memory and MUST NOT log or persist it raw.
func (m *Manager) MasterSeedForDeviceLink() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.masterSeed...)
}

// AddDevice derives keys for the next device index, adds it to the signed
// registry, and returns both the new device entry and the keys the new
// device will need (used by the device-link response, spec §4.6).
func (m *Manager) AddDevice(name string) (models.RegisteredDevice, DerivedKeys, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, err := DeriveDeviceKeys(m.masterSeed, m.registry.NextDeviceIndex)
	if err != nil {
		return models.RegisteredDevice{}, DerivedKeys{}, err
	}
	dev := newRegisteredDevice(keys, m.registry.NextDeviceIndex, name, time.Now().UTC())
	next, err := AddDevice(m.registry, m.signingPriv, dev)
	if err != nil {
		return models.RegisteredDevice{}, DerivedKeys{}, err
	}
	m.registry = next
	return dev, keys, nil
}

func (m *Manager) RevokeDevice(deviceID []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := RevokeDevice(m.registry, m.signingPriv, deviceID)
	if err != nil {
		return err
	}
	m.registry = next
	return nil
}

// ExportBackup produces the password-encrypted backup blob (spec §6
// export_backup).
func (m *Manager) ExportBackup(password string) ([]byte, error) {
	if strings.TrimSpace(password) == "" {
		return nil, ErrPasswordRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, err := EncryptBackup(m.masterSeed, m.identity.DisplayName, []byte(password))
	if err != nil {
		return nil, err
	}
	return MarshalBackup(env)
}

// ExportMnemonic returns the BIP-39 mnemonic directly encoding the master
// seed, for human-memorable recovery outside the password-backup path.
func (m *Manager) ExportMnemonic() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bip39.NewMnemonic(m.masterSeed)
}

func (m *Manager) VerifyBackupPassword(backupBytes []byte, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureUnlocked(); err != nil {
		return err
	}
	env, err := UnmarshalBackup(backupBytes)
	if err != nil {
		return err
	}
	if _, _, err := DecryptBackup(env, []byte(password)); err != nil {
		m.onFailedPasswordAttempt()
		return err
	}
	m.resetPasswordAttemptState()
	return nil
}

func (m *Manager) ensureUnlocked() error {
	nowFn := m.now
	if nowFn == nil {
		nowFn = time.Now
	}
	if m.lockedUntil.IsZero() {
		return nil
	}
	if nowFn().Before(m.lockedUntil) {
		return ErrPasswordLocked
	}
	return nil
}

// passwordAttemptLockThreshold mirrors the teacher's seed lifecycle: the
// first couple of mistyped passwords do not trigger a lockout, only
// persistent failure does.
const passwordAttemptLockThreshold = 3

func (m *Manager) onFailedPasswordAttempt() {
	nowFn := m.now
	if nowFn == nil {
		nowFn = time.Now
	}
	m.failedAttempts++
	if m.failedAttempts < passwordAttemptLockThreshold {
		return
	}
	m.lockedUntil = nowFn().Add(failedAttemptBackoff(m.failedAttempts - passwordAttemptLockThreshold + 1))
}

func (m *Manager) resetPasswordAttemptState() {
	m.failedAttempts = 0
	m.lockedUntil = time.Time{}
}

// failedAttemptBackoff mirrors the teacher's password-lockout schedule:
// 1s, 2s, 4s... capped at 32s.
func failedAttemptBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}
