package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/webbook/contactbook/pkg/models"
)

// SaveDeviceSyncState persists one device's pending-item queue (spec §4.11).
func (s *Store) SaveDeviceSyncState(deviceID string, queue []models.SyncItem) error {
	queueJSON, err := json.Marshal(queue)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO device_sync_state (device_id, queue_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET queue_json = excluded.queue_json, updated_at = excluded.updated_at
	`, deviceID, string(queueJSON), time.Now().UTC().Unix())
	return err
}

// LoadDeviceSyncState returns one device's queued items, or ErrNotFound.
func (s *Store) LoadDeviceSyncState(deviceID string) ([]models.SyncItem, error) {
	var queueJSON string
	err := s.db.QueryRow(`SELECT queue_json FROM device_sync_state WHERE device_id = ?`, deviceID).Scan(&queueJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var queue []models.SyncItem
	if err := json.Unmarshal([]byte(queueJSON), &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// ListDeviceSyncStates returns every tracked device's queue, keyed by device id.
func (s *Store) ListDeviceSyncStates() (map[string][]models.SyncItem, error) {
	rows, err := s.db.Query(`SELECT device_id, queue_json FROM device_sync_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]models.SyncItem)
	for rows.Next() {
		var deviceID, queueJSON string
		if err := rows.Scan(&deviceID, &queueJSON); err != nil {
			return nil, err
		}
		var queue []models.SyncItem
		if err := json.Unmarshal([]byte(queueJSON), &queue); err != nil {
			return nil, err
		}
		out[deviceID] = queue
	}
	return out, rows.Err()
}

// DeleteDeviceSyncState removes a device's tracked queue (device revocation).
func (s *Store) DeleteDeviceSyncState(deviceID string) error {
	_, err := s.db.Exec(`DELETE FROM device_sync_state WHERE device_id = ?`, deviceID)
	return err
}

// SaveVersionVector persists the local causality vector.
func (s *Store) SaveVersionVector(vector models.VersionVector) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM local_version_vector`); err != nil {
		tx.Rollback()
		return err
	}
	for deviceID, counter := range vector {
		if _, err := tx.Exec(
			`INSERT INTO local_version_vector (device_id, counter) VALUES (?, ?)`,
			deviceID, counter,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadVersionVector returns the persisted causality vector, or an empty one
// if nothing has been saved yet.
func (s *Store) LoadVersionVector() (models.VersionVector, error) {
	rows, err := s.db.Query(`SELECT device_id, counter FROM local_version_vector`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	vector := make(models.VersionVector)
	for rows.Next() {
		var deviceID string
		var counter uint64
		if err := rows.Scan(&deviceID, &counter); err != nil {
			return nil, err
		}
		vector[deviceID] = counter
	}
	return vector, rows.Err()
}
