package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/webbook/contactbook/internal/crypto"
)

// MigrationAction is either a pure SQL statement or a Go callback that needs
// the live storage key (for a data re-encryption sweep), matching spec §4.9.
type MigrationAction struct {
	SQL      string
	Callback func(tx *sql.Tx, key crypto.SymmetricKey) error
}

// Migration is one versioned schema step. Versions MUST be strictly
// increasing across a migration list.
type Migration struct {
	Version int
	Name    string
	Action  MigrationAction
}

// MigrationError reports a failed migration step; the database remains at
// its pre-migration version (spec §7 Migration(version,name,reason)).
type MigrationError struct {
	Version int
	Name    string
	Reason  string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("storage: migration v%d %q failed: %s", e.Version, e.Name, e.Reason)
}

// MigrationRunner applies pending migrations inside a single transaction,
// in strictly increasing version order. The transaction is opened with
// db.Begin, so SQLite's default deferred locking applies; it is not taken
// with BEGIN EXCLUSIVE.
type MigrationRunner struct{}

func (MigrationRunner) Run(db *sql.DB, key crypto.SymmetricKey, migrations []Migration) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return err
	}

	current, err := currentSchemaVersion(db)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	for i := 1; i < len(pending); i++ {
		if pending[i-1].Version >= pending[i].Version {
			return &MigrationError{
				Version: pending[i].Version,
				Name:    pending[i].Name,
				Reason:  fmt.Sprintf("out of order after v%d", pending[i-1].Version),
			}
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}

	for _, m := range pending {
		var stepErr error
		switch {
		case m.Action.SQL != "":
			_, stepErr = tx.Exec(m.Action.SQL)
		case m.Action.Callback != nil:
			stepErr = m.Action.Callback(tx, key)
		}
		if stepErr != nil {
			tx.Rollback()
			return &MigrationError{Version: m.Version, Name: m.Name, Reason: stepErr.Error()}
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
			m.Version, time.Now().UTC().Unix(),
		); err != nil {
			tx.Rollback()
			return &MigrationError{Version: m.Version, Name: m.Name, Reason: err.Error()}
		}
	}

	return tx.Commit()
}

func currentSchemaVersion(db *sql.DB) (int, error) {
	var exists bool
	if err := db.QueryRow(
		`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
	).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
