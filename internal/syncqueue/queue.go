// Package syncqueue implements the pending-update queue that buffers
// outbound card and visibility changes until they can be delivered to a
// contact (spec §4.10).
package syncqueue

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/webbook/contactbook/internal/contactcard"
	"github.com/webbook/contactbook/internal/storage"
	"github.com/webbook/contactbook/pkg/models"
)

var ErrNoChanges = errors.New("syncqueue: no changes to queue")

const (
	retryBaseDelay = 30 * time.Second
	retryMaxShift  = 6
)

// Queue wraps a storage.Store with the queue/retry/coalesce operations of
// spec §4.10. It holds no in-memory state of its own; every call reads and
// writes through to storage.
type Queue struct {
	store *storage.Store
	now   func() time.Time
}

func New(store *storage.Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

// QueueCardUpdate computes the delta between old and new and enqueues it,
// rejecting an empty delta with ErrNoChanges.
func (q *Queue) QueueCardUpdate(contactID string, old, new models.Card, version int) (string, error) {
	delta := contactcard.Compute(old, new, version, q.now().UTC())
	if delta.IsEmpty() {
		return "", ErrNoChanges
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		return "", err
	}
	updateID := uuid.NewString()
	update := models.PendingUpdate{
		UpdateID:   updateID,
		ContactID:  contactID,
		UpdateType: models.UpdateTypeCardUpdate,
		Ciphertext: payload,
		CreatedAt:  q.now().UTC(),
		Status:     models.PendingUpdateStatusPending,
	}
	if err := q.store.SavePendingUpdate(update); err != nil {
		return "", err
	}
	return updateID, nil
}

// QueueCiphertext enqueues an already ratchet-encrypted wire payload
// directly, skipping the built-in delta computation QueueCardUpdate
// performs. Used by propagation, where each contact needs its own
// visibility-filtered, signed, then ratchet-encrypted delta rather than the
// raw old/new diff.
func (q *Queue) QueueCiphertext(contactID string, updateType models.UpdateType, ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", ErrNoChanges
	}
	updateID := uuid.NewString()
	update := models.PendingUpdate{
		UpdateID:   updateID,
		ContactID:  contactID,
		UpdateType: updateType,
		Ciphertext: ciphertext,
		CreatedAt:  q.now().UTC(),
		Status:     models.PendingUpdateStatusPending,
	}
	if err := q.store.SavePendingUpdate(update); err != nil {
		return "", err
	}
	return updateID, nil
}

// QueueVisibilityChange enqueues a change to which fields are visible to a
// contact.
func (q *Queue) QueueVisibilityChange(contactID string, visibleFields []string) (string, error) {
	payload, err := json.Marshal(visibleFields)
	if err != nil {
		return "", err
	}
	updateID := uuid.NewString()
	update := models.PendingUpdate{
		UpdateID:   updateID,
		ContactID:  contactID,
		UpdateType: models.UpdateTypeVisibilityChange,
		Ciphertext: payload,
		CreatedAt:  q.now().UTC(),
		Status:     models.PendingUpdateStatusPending,
	}
	if err := q.store.SavePendingUpdate(update); err != nil {
		return "", err
	}
	return updateID, nil
}

// MarkDelivered removes an update from the queue.
func (q *Queue) MarkDelivered(updateID string) error {
	return q.store.DeletePendingUpdate(updateID)
}

// MarkFailed records a capped exponential backoff: 30s, 60s, 120s, ... up to
// ~32 minutes at retryCount≥6 (spec §4.10).
func (q *Queue) MarkFailed(update models.PendingUpdate, errMsg string, retryCount int) error {
	shift := retryCount
	if shift > retryMaxShift {
		shift = retryMaxShift
	}
	delay := retryBaseDelay * time.Duration(1<<shift)
	update.Status = models.PendingUpdateStatusFailed
	update.LastError = errMsg
	update.RetryCount = retryCount
	update.RetryAt = q.now().UTC().Add(delay)
	return q.store.SavePendingUpdate(update)
}

// GetReadyForRetry returns entries with status Pending, or Failed whose
// RetryAt has passed; Sending entries are excluded.
func (q *Queue) GetReadyForRetry() ([]models.PendingUpdate, error) {
	all, err := q.store.ListAllPendingUpdates()
	if err != nil {
		return nil, err
	}
	now := q.now().UTC()
	out := make([]models.PendingUpdate, 0, len(all))
	for _, u := range all {
		switch u.Status {
		case models.PendingUpdateStatusPending:
			out = append(out, u)
		case models.PendingUpdateStatusFailed:
			if !u.RetryAt.After(now) {
				out = append(out, u)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RetryAt.Equal(out[j].RetryAt) {
			return out[i].RetryAt.Before(out[j].RetryAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CoalesceUpdates merges ≥2 pending card_update entries for a contact into
// one unsigned update, keeping version = max(versions) and a fresh
// timestamp. Returns "" if fewer than two card_update entries exist.
// Non-card update types are left untouched. The merged delta is unsigned;
// callers MUST sign it before transmission (spec §4.7/§4.10).
func (q *Queue) CoalesceUpdates(contactID string) (string, error) {
	pending, err := q.store.ListPendingUpdates(contactID)
	if err != nil {
		return "", err
	}
	var cardUpdates []models.PendingUpdate
	for _, u := range pending {
		if u.UpdateType == models.UpdateTypeCardUpdate {
			cardUpdates = append(cardUpdates, u)
		}
	}
	if len(cardUpdates) < 2 {
		return "", nil
	}

	var merged contactcard.CardDelta
	for _, u := range cardUpdates {
		var delta contactcard.CardDelta
		if err := json.Unmarshal(u.Ciphertext, &delta); err != nil {
			continue
		}
		if delta.Version > merged.Version {
			merged.Version = delta.Version
		}
		merged.Changes = append(merged.Changes, delta.Changes...)
	}
	if len(merged.Changes) == 0 {
		return "", nil
	}
	merged.Timestamp = q.now().UTC()
	merged.Signature = nil

	payload, err := json.Marshal(merged)
	if err != nil {
		return "", err
	}
	for _, u := range cardUpdates {
		if err := q.store.DeletePendingUpdate(u.UpdateID); err != nil {
			return "", err
		}
	}
	mergedID := uuid.NewString()
	mergedUpdate := models.PendingUpdate{
		UpdateID:   mergedID,
		ContactID:  contactID,
		UpdateType: models.UpdateTypeCardUpdate,
		Ciphertext: payload,
		CreatedAt:  merged.Timestamp,
		Status:     models.PendingUpdateStatusPending,
	}
	if err := q.store.SavePendingUpdate(mergedUpdate); err != nil {
		return "", err
	}
	return mergedID, nil
}

// SyncState is the per-contact aggregate returned by SyncStatus.
type SyncState struct {
	Kind         string    `json:"kind"` // "synced" | "pending" | "syncing" | "failed"
	LastSync     time.Time `json:"last_sync,omitempty"`
	QueuedCount  int       `json:"queued_count,omitempty"`
	LastAttempt  time.Time `json:"last_attempt,omitempty"`
	Error        string    `json:"error,omitempty"`
	RetryAt      time.Time `json:"retry_at,omitempty"`
}

// SyncStatus aggregates every contact's pending updates to one SyncState
// (spec §4.10): Syncing beats Failed beats Pending beats Synced, with the
// first Failed entry (by insertion order) winning the tie-break.
func (q *Queue) SyncStatus() (map[string]SyncState, error) {
	all, err := q.store.ListAllPendingUpdates()
	if err != nil {
		return nil, err
	}
	byContact := make(map[string][]models.PendingUpdate)
	order := make([]string, 0)
	for _, u := range all {
		if _, ok := byContact[u.ContactID]; !ok {
			order = append(order, u.ContactID)
		}
		byContact[u.ContactID] = append(byContact[u.ContactID], u)
	}
	out := make(map[string]SyncState, len(order))
	for _, contactID := range order {
		out[contactID] = computeSyncState(byContact[contactID])
	}
	return out, nil
}

func computeSyncState(updates []models.PendingUpdate) SyncState {
	if len(updates) == 0 {
		return SyncState{Kind: "synced"}
	}
	for _, u := range updates {
		if u.Status == models.PendingUpdateStatusSending {
			return SyncState{Kind: "syncing"}
		}
	}
	for _, u := range updates {
		if u.Status == models.PendingUpdateStatusFailed {
			return SyncState{Kind: "failed", Error: u.LastError, RetryAt: u.RetryAt}
		}
	}
	return SyncState{Kind: "pending", QueuedCount: len(updates)}
}
