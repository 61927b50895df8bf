// Package storage implements the encrypted, SQLite-backed persistence layer
// for the contact book engine (spec §4.9): contacts, own card, identity
// backup, pending updates, per-contact ratchets, device registry, per-device
// sync state, and the local version vector, all behind a versioned
// MigrationRunner.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/webbook/contactbook/internal/crypto"
	"github.com/webbook/contactbook/pkg/models"
)

var (
	ErrNotFound = errors.New("storage: not found")
)

// Store is the SQLite-backed repository. A single encryption_key protects
// every sensitive column; Open runs the full migration list before
// returning.
type Store struct {
	db  *sql.DB
	key crypto.SymmetricKey
}

// Open opens (creating if necessary) a database file at path and brings its
// schema up to date.
func Open(path string, key crypto.SymmetricKey) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, key: key}
	if err := (MigrationRunner{}).Run(db, key, migrations()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens an in-memory database, primarily for tests. It uses a
// shared-cache DSN, so every OpenInMemory call in one process sees the same
// database.
func OpenInMemory(key crypto.SymmetricKey) (*Store, error) {
	return Open("file::memory:?cache=shared", key)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	return crypto.Encrypt(s.key, plaintext, nil)
}

func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	return crypto.Decrypt(s.key, ciphertext, nil)
}

// --- Contacts ---------------------------------------------------------

// SaveContact upserts a contact (spec §4.9 "save_contact is an upsert").
func (s *Store) SaveContact(c models.Contact) error {
	cardJSON, err := json.Marshal(c.Card)
	if err != nil {
		return err
	}
	cardEncrypted, err := s.encrypt(cardJSON)
	if err != nil {
		return err
	}
	sharedKeyEncrypted, err := s.encrypt(c.SharedKey)
	if err != nil {
		return err
	}
	rulesJSON, err := json.Marshal(c.VisibilityRules)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO contacts
			(id, signing_public_key, display_name, card_encrypted, shared_key_encrypted,
			 visibility_rules_json, exchange_timestamp, fingerprint_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			signing_public_key = excluded.signing_public_key,
			display_name = excluded.display_name,
			card_encrypted = excluded.card_encrypted,
			shared_key_encrypted = excluded.shared_key_encrypted,
			visibility_rules_json = excluded.visibility_rules_json,
			exchange_timestamp = excluded.exchange_timestamp,
			fingerprint_verified = excluded.fingerprint_verified
	`,
		c.ContactID, c.SigningPublicKey, c.Card.DisplayName, cardEncrypted, sharedKeyEncrypted,
		string(rulesJSON), c.ExchangeTimestamp.UTC().Unix(), boolToInt(c.FingerprintVerified),
	)
	return err
}

// LoadContact returns ErrNotFound when id is unknown (spec §4.9
// "load_contact returns None for missing").
func (s *Store) LoadContact(id string) (models.Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, signing_public_key, card_encrypted, shared_key_encrypted,
		       visibility_rules_json, exchange_timestamp, fingerprint_verified
		FROM contacts WHERE id = ?
	`, id)
	return s.scanContact(row)
}

func (s *Store) scanContact(row *sql.Row) (models.Contact, error) {
	var (
		contactID, rulesJSON                    string
		signingPub, cardEncrypted, sharedKeyEnc []byte
		exchangeTS                              int64
		fingerprintVerified                     int
	)
	err := row.Scan(&contactID, &signingPub, &cardEncrypted, &sharedKeyEnc, &rulesJSON, &exchangeTS, &fingerprintVerified)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Contact{}, ErrNotFound
	}
	if err != nil {
		return models.Contact{}, err
	}
	return s.decodeContact(contactID, signingPub, cardEncrypted, sharedKeyEnc, rulesJSON, exchangeTS, fingerprintVerified)
}

func (s *Store) decodeContact(contactID string, signingPub, cardEncrypted, sharedKeyEnc []byte, rulesJSON string, exchangeTS int64, fingerprintVerified int) (models.Contact, error) {
	cardJSON, err := s.decrypt(cardEncrypted)
	if err != nil {
		return models.Contact{}, err
	}
	var card models.Card
	if err := json.Unmarshal(cardJSON, &card); err != nil {
		return models.Contact{}, err
	}
	sharedKey, err := s.decrypt(sharedKeyEnc)
	if err != nil {
		return models.Contact{}, err
	}
	var rules map[string]models.VisibilityRule
	if strings.TrimSpace(rulesJSON) != "" {
		if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
			return models.Contact{}, err
		}
	}
	return models.Contact{
		ContactID:           contactID,
		SigningPublicKey:    append([]byte(nil), signingPub...),
		Card:                card,
		SharedKey:           sharedKey,
		VisibilityRules:     rules,
		FingerprintVerified: fingerprintVerified != 0,
		ExchangeTimestamp:   time.Unix(exchangeTS, 0).UTC(),
	}, nil
}

// ListContacts returns every contact ordered by display name.
func (s *Store) ListContacts() ([]models.Contact, error) {
	rows, err := s.db.Query(`
		SELECT id, signing_public_key, card_encrypted, shared_key_encrypted,
		       visibility_rules_json, exchange_timestamp, fingerprint_verified
		FROM contacts ORDER BY display_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Contact, 0)
	for rows.Next() {
		var (
			contactID, rulesJSON                    string
			signingPub, cardEncrypted, sharedKeyEnc []byte
			exchangeTS                              int64
			fingerprintVerified                     int
		)
		if err := rows.Scan(&contactID, &signingPub, &cardEncrypted, &sharedKeyEnc, &rulesJSON, &exchangeTS, &fingerprintVerified); err != nil {
			return nil, err
		}
		c, err := s.decodeContact(contactID, signingPub, cardEncrypted, sharedKeyEnc, rulesJSON, exchangeTS, fingerprintVerified)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchContacts does a case-insensitive substring match over display_name.
func (s *Store) SearchContacts(substring string) ([]models.Contact, error) {
	all, err := s.ListContacts()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(substring)
	out := make([]models.Contact, 0, len(all))
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Card.DisplayName), needle) {
			out = append(out, c)
		}
	}
	return out, nil
}

// DeleteContact also deletes the associated ratchet row (spec §4.9).
func (s *Store) DeleteContact(id string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(`DELETE FROM contact_ratchets WHERE contact_id = ?`, id); err != nil {
		tx.Rollback()
		return false, err
	}
	if _, err := tx.Exec(`DELETE FROM pending_updates WHERE contact_id = ?`, id); err != nil {
		tx.Rollback()
		return false, err
	}
	if _, err := tx.Exec(`DELETE FROM visibility_overrides WHERE contact_id = ?`, id); err != nil {
		tx.Rollback()
		return false, err
	}
	res, err := tx.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- Own card -----------------------------------------------------------

func (s *Store) SaveOwnCard(card models.Card) error {
	cardJSON, err := json.Marshal(card)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO own_card (id, card_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET card_json = excluded.card_json, updated_at = excluded.updated_at
	`, string(cardJSON), time.Now().UTC().Unix())
	return err
}

func (s *Store) LoadOwnCard() (models.Card, error) {
	var cardJSON string
	err := s.db.QueryRow(`SELECT card_json FROM own_card WHERE id = 1`).Scan(&cardJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Card{}, ErrNotFound
	}
	if err != nil {
		return models.Card{}, err
	}
	var card models.Card
	if err := json.Unmarshal([]byte(cardJSON), &card); err != nil {
		return models.Card{}, err
	}
	return card, nil
}

// --- Identity backup ------------------------------------------------------

func (s *Store) SaveIdentityBackup(publicID string, backupBytes []byte) error {
	encrypted, err := s.encrypt(backupBytes)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO identity_backup (id, public_id, backup_data_encrypted, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET public_id = excluded.public_id,
			backup_data_encrypted = excluded.backup_data_encrypted, updated_at = excluded.updated_at
	`, publicID, encrypted, time.Now().UTC().Unix())
	return err
}

func (s *Store) LoadIdentityBackup() (publicID string, backupBytes []byte, err error) {
	var encrypted []byte
	err = s.db.QueryRow(`SELECT public_id, backup_data_encrypted FROM identity_backup WHERE id = 1`).Scan(&publicID, &encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	backupBytes, err = s.decrypt(encrypted)
	return publicID, backupBytes, err
}

// --- Ratchet state --------------------------------------------------------

// SaveRatchetState serializes state's full snapshot (including skipped_keys)
// and encrypts it before writing (spec §4.9).
func (s *Store) SaveRatchetState(contactID string, state *crypto.RatchetState, isInitiator bool) error {
	snapJSON, err := json.Marshal(state.Snapshot())
	if err != nil {
		return err
	}
	encrypted, err := s.encrypt(snapJSON)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO contact_ratchets (contact_id, ratchet_state_encrypted, is_initiator, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			ratchet_state_encrypted = excluded.ratchet_state_encrypted,
			is_initiator = excluded.is_initiator,
			updated_at = excluded.updated_at
	`, contactID, encrypted, boolToInt(isInitiator), time.Now().UTC().Unix())
	return err
}

func (s *Store) LoadRatchetState(contactID string) (*crypto.RatchetState, bool, error) {
	var encrypted []byte
	var isInitiator int
	err := s.db.QueryRow(
		`SELECT ratchet_state_encrypted, is_initiator FROM contact_ratchets WHERE contact_id = ?`,
		contactID,
	).Scan(&encrypted, &isInitiator)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	snapJSON, err := s.decrypt(encrypted)
	if err != nil {
		return nil, false, err
	}
	var snap crypto.RatchetSnapshot
	if err := json.Unmarshal(snapJSON, &snap); err != nil {
		return nil, false, err
	}
	state, err := crypto.RatchetStateFromSnapshot(snap)
	if err != nil {
		return nil, false, err
	}
	return state, isInitiator != 0, nil
}

// --- Device registry -------------------------------------------------------

func (s *Store) SaveDeviceRegistry(registry models.DeviceRegistry) error {
	registryJSON, err := json.Marshal(registry)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO device_registry (id, registry_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET registry_json = excluded.registry_json, updated_at = excluded.updated_at
	`, string(registryJSON), time.Now().UTC().Unix())
	return err
}

func (s *Store) LoadDeviceRegistry() (models.DeviceRegistry, error) {
	var registryJSON string
	err := s.db.QueryRow(`SELECT registry_json FROM device_registry WHERE id = 1`).Scan(&registryJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeviceRegistry{}, ErrNotFound
	}
	if err != nil {
		return models.DeviceRegistry{}, err
	}
	var registry models.DeviceRegistry
	if err := json.Unmarshal([]byte(registryJSON), &registry); err != nil {
		return models.DeviceRegistry{}, err
	}
	return registry, nil
}

// --- Visibility labels and overrides ---------------------------------------

func (s *Store) SaveVisibilityLabel(label models.VisibilityLabel) error {
	memberJSON, err := json.Marshal(label.MemberIDs)
	if err != nil {
		return err
	}
	fieldsJSON, err := json.Marshal(label.VisibleFields)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO visibility_labels (id, name, member_ids_json, visible_fields_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			member_ids_json = excluded.member_ids_json,
			visible_fields_json = excluded.visible_fields_json,
			updated_at = excluded.updated_at
	`, label.ID, label.Name, string(memberJSON), string(fieldsJSON), label.CreatedAt.UTC().Unix(), label.UpdatedAt.UTC().Unix())
	return err
}

func (s *Store) DeleteVisibilityLabel(id string) error {
	_, err := s.db.Exec(`DELETE FROM visibility_labels WHERE id = ?`, id)
	return err
}

func (s *Store) ListVisibilityLabels() ([]models.VisibilityLabel, error) {
	rows, err := s.db.Query(`SELECT id, name, member_ids_json, visible_fields_json, created_at, updated_at FROM visibility_labels`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.VisibilityLabel, 0)
	for rows.Next() {
		var (
			id, name, memberJSON, fieldsJSON string
			createdAt, updatedAt            int64
		)
		if err := rows.Scan(&id, &name, &memberJSON, &fieldsJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		label := models.VisibilityLabel{ID: id, Name: name, CreatedAt: time.Unix(createdAt, 0).UTC(), UpdatedAt: time.Unix(updatedAt, 0).UTC()}
		if err := json.Unmarshal([]byte(memberJSON), &label.MemberIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &label.VisibleFields); err != nil {
			return nil, err
		}
		out = append(out, label)
	}
	return out, rows.Err()
}

func (s *Store) SetVisibilityOverride(contactID, fieldID string, visible bool) error {
	_, err := s.db.Exec(`
		INSERT INTO visibility_overrides (contact_id, field_id, visible) VALUES (?, ?, ?)
		ON CONFLICT(contact_id, field_id) DO UPDATE SET visible = excluded.visible
	`, contactID, fieldID, boolToInt(visible))
	return err
}

func (s *Store) ClearVisibilityOverride(contactID, fieldID string) error {
	_, err := s.db.Exec(`DELETE FROM visibility_overrides WHERE contact_id = ? AND field_id = ?`, contactID, fieldID)
	return err
}

func (s *Store) ListVisibilityOverrides(contactID string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT field_id, visible FROM visibility_overrides WHERE contact_id = ?`, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var fieldID string
		var visible int
		if err := rows.Scan(&fieldID, &visible); err != nil {
			return nil, err
		}
		out[fieldID] = visible != 0
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
