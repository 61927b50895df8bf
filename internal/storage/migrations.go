package storage

import (
	"database/sql"

	"github.com/webbook/contactbook/internal/crypto"
)

// migrations is the full v1-v8 schema history (spec §4.9). v2 is a callback
// migration because it re-encrypts every stored ciphertext column under a
// uniform AEAD version using the live storage key; golang-migrate's SQL-file
// model has no slot for that, which is why this package ports the bespoke
// runner instead (see migration.go).
func migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "baseline", Action: MigrationAction{SQL: baselineSchemaSQL}},
		{Version: 2, Name: "reencrypt_uniform_aead", Action: MigrationAction{Callback: reencryptUniformAEAD}},
		{Version: 3, Name: "replay_nonce_table", Action: MigrationAction{SQL: `
			CREATE TABLE IF NOT EXISTS replay_nonces (
				contact_id TEXT NOT NULL,
				nonce BLOB NOT NULL,
				seen_at INTEGER NOT NULL,
				PRIMARY KEY (contact_id, nonce)
			);
		`}},
		{Version: 4, Name: "contact_flags_and_limits", Action: MigrationAction{SQL: `
			ALTER TABLE contacts ADD COLUMN flags_json TEXT;
			ALTER TABLE contacts ADD COLUMN personal_note_encrypted BLOB;
			ALTER TABLE contacts ADD COLUMN avatar_encrypted BLOB;
			CREATE TABLE IF NOT EXISTS contact_limits (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				max_contacts INTEGER NOT NULL DEFAULT 0
			);
		`}},
		{Version: 5, Name: "consent_and_audit_log", Action: MigrationAction{SQL: `
			CREATE TABLE IF NOT EXISTS consent_records (
				contact_id TEXT PRIMARY KEY,
				granted_at INTEGER,
				revoked_at INTEGER
			);
			CREATE TABLE IF NOT EXISTS audit_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event TEXT NOT NULL,
				detail_json TEXT,
				created_at INTEGER NOT NULL
			);
		`}},
		{Version: 6, Name: "device_sync_checkpoints", Action: MigrationAction{SQL: `
			CREATE TABLE IF NOT EXISTS device_sync_checkpoints (
				device_id TEXT PRIMARY KEY,
				last_acked_version INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			);
		`}},
		{Version: 7, Name: "ttl_index", Action: MigrationAction{SQL: `
			CREATE INDEX IF NOT EXISTS idx_pending_updates_retry_at ON pending_updates(retry_at);
			CREATE INDEX IF NOT EXISTS idx_replay_nonces_seen_at ON replay_nonces(seen_at);
		`}},
		{Version: 8, Name: "recovery_and_rate_limit", Action: MigrationAction{SQL: `
			CREATE TABLE IF NOT EXISTS recovery_responses (
				request_id TEXT PRIMARY KEY,
				response_encrypted BLOB NOT NULL,
				created_at INTEGER NOT NULL
			);
			CREATE TABLE IF NOT EXISTS rate_limits (
				bucket TEXT PRIMARY KEY,
				count INTEGER NOT NULL DEFAULT 0,
				window_started_at INTEGER NOT NULL
			);
		`}},
	}
}

const baselineSchemaSQL = `
CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	signing_public_key BLOB NOT NULL,
	display_name TEXT NOT NULL,
	card_encrypted BLOB NOT NULL,
	shared_key_encrypted BLOB NOT NULL,
	visibility_rules_json TEXT,
	exchange_timestamp INTEGER NOT NULL,
	fingerprint_verified INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS own_card (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	card_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS identity_backup (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	public_id TEXT NOT NULL,
	backup_data_encrypted BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_updates (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL,
	update_type TEXT NOT NULL,
	ciphertext BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	last_error TEXT,
	retry_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_pending_contact ON pending_updates(contact_id);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_updates(status);

CREATE TABLE IF NOT EXISTS contact_ratchets (
	contact_id TEXT PRIMARY KEY REFERENCES contacts(id),
	ratchet_state_encrypted BLOB NOT NULL,
	is_initiator INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS device_registry (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	registry_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS device_sync_state (
	device_id TEXT PRIMARY KEY,
	queue_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS local_version_vector (
	device_id TEXT PRIMARY KEY,
	counter INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS visibility_labels (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	member_ids_json TEXT NOT NULL,
	visible_fields_json TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS visibility_overrides (
	contact_id TEXT NOT NULL,
	field_id TEXT NOT NULL,
	visible INTEGER NOT NULL,
	PRIMARY KEY (contact_id, field_id)
);

CREATE TABLE IF NOT EXISTS delivery_records (
	update_id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL,
	delivered_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS retry_queue (
	update_id TEXT PRIMARY KEY,
	retry_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS per_device_deliveries (
	device_id TEXT NOT NULL,
	update_id TEXT NOT NULL,
	delivered INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (device_id, update_id)
);

CREATE TABLE IF NOT EXISTS field_validations (
	field_id TEXT PRIMARY KEY,
	validated INTEGER NOT NULL DEFAULT 0,
	validated_at INTEGER
);

CREATE TABLE IF NOT EXISTS ux_state (
	key TEXT PRIMARY KEY,
	value_json TEXT NOT NULL
);
`

// reencryptUniformAEAD re-wraps every AEAD ciphertext column under the
// current symmetric key's version byte. Stored ciphertexts are already
// self-describing (version‖nonce‖ciphertext‖tag, see crypto.Encrypt), so a
// column written by a prior AEAD version is decrypted then re-encrypted with
// the engine's current scheme; columns already on the current version are
// left untouched.
func reencryptUniformAEAD(tx *sql.Tx, key crypto.SymmetricKey) error {
	type column struct{ table, idCol, col string }
	columns := []column{
		{"contacts", "id", "card_encrypted"},
		{"contacts", "id", "shared_key_encrypted"},
		{"contact_ratchets", "contact_id", "ratchet_state_encrypted"},
		{"identity_backup", "id", "backup_data_encrypted"},
	}
	for _, c := range columns {
		rows, err := tx.Query(`SELECT ` + c.idCol + `, ` + c.col + ` FROM ` + c.table)
		if err != nil {
			return err
		}
		type pending struct {
			id  any
			ct  []byte
		}
		var toUpdate []pending
		for rows.Next() {
			var id any
			var ct []byte
			if err := rows.Scan(&id, &ct); err != nil {
				rows.Close()
				return err
			}
			toUpdate = append(toUpdate, pending{id: id, ct: ct})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, p := range toUpdate {
			if len(p.ct) > 0 && crypto.AEADVersion(p.ct[0]) == crypto.AEADVersionXChaCha20Poly1305 {
				continue
			}
			plaintext, err := crypto.Decrypt(key, p.ct, nil)
			if err != nil {
				return err
			}
			reencrypted, err := crypto.Encrypt(key, plaintext, nil)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				`UPDATE `+c.table+` SET `+c.col+` = ? WHERE `+c.idCol+` = ?`,
				reencrypted, p.id,
			); err != nil {
				return err
			}
		}
	}
	return nil
}
