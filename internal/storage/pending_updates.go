package storage

import (
	"database/sql"
	"time"

	"github.com/webbook/contactbook/pkg/models"
)

// SavePendingUpdate upserts one queued outbound update (spec §4.10).
func (s *Store) SavePendingUpdate(u models.PendingUpdate) error {
	var retryAt sql.NullInt64
	if !u.RetryAt.IsZero() {
		retryAt = sql.NullInt64{Int64: u.RetryAt.UTC().Unix(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO pending_updates
			(id, contact_id, update_type, ciphertext, created_at, retry_count, status, last_error, retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contact_id = excluded.contact_id,
			update_type = excluded.update_type,
			ciphertext = excluded.ciphertext,
			retry_count = excluded.retry_count,
			status = excluded.status,
			last_error = excluded.last_error,
			retry_at = excluded.retry_at
	`, u.UpdateID, u.ContactID, string(u.UpdateType), u.Ciphertext, u.CreatedAt.UTC().Unix(),
		u.RetryCount, string(u.Status), nullableString(u.LastError), retryAt)
	return err
}

// DeletePendingUpdate removes an update by id (used by mark_delivered).
func (s *Store) DeletePendingUpdate(updateID string) error {
	_, err := s.db.Exec(`DELETE FROM pending_updates WHERE id = ?`, updateID)
	return err
}

// ListPendingUpdates returns every queued update for one contact, ordered by
// insertion (created_at).
func (s *Store) ListPendingUpdates(contactID string) ([]models.PendingUpdate, error) {
	rows, err := s.db.Query(`
		SELECT id, contact_id, update_type, ciphertext, created_at, retry_count, status, last_error, retry_at
		FROM pending_updates WHERE contact_id = ? ORDER BY created_at
	`, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPendingUpdates(rows)
}

// ListAllPendingUpdates returns every queued update, ordered by insertion.
func (s *Store) ListAllPendingUpdates() ([]models.PendingUpdate, error) {
	rows, err := s.db.Query(`
		SELECT id, contact_id, update_type, ciphertext, created_at, retry_count, status, last_error, retry_at
		FROM pending_updates ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPendingUpdates(rows)
}

func scanPendingUpdates(rows *sql.Rows) ([]models.PendingUpdate, error) {
	out := make([]models.PendingUpdate, 0)
	for rows.Next() {
		var (
			u                  models.PendingUpdate
			updateType, status string
			createdAt          int64
			lastError          sql.NullString
			retryAt            sql.NullInt64
		)
		if err := rows.Scan(&u.UpdateID, &u.ContactID, &updateType, &u.Ciphertext, &createdAt,
			&u.RetryCount, &status, &lastError, &retryAt); err != nil {
			return nil, err
		}
		u.UpdateType = models.UpdateType(updateType)
		u.Status = models.PendingUpdateStatus(status)
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		if lastError.Valid {
			u.LastError = lastError.String
		}
		if retryAt.Valid {
			u.RetryAt = time.Unix(retryAt.Int64, 0).UTC()
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
