// Package devicesync orchestrates synchronization between devices that
// belong to the same identity: queuing SyncItems per device, tracking a
// local version vector, last-write-wins conflict resolution, and full-sync
// snapshots for newly linked devices (spec §4.11).
package devicesync

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/webbook/contactbook/internal/crypto"
	"github.com/webbook/contactbook/internal/storage"
	"github.com/webbook/contactbook/pkg/models"
)

// deviceSyncInfo is the domain-separation label for inter-device key
// derivation, matching the HKDF info string every linked device derives.
const deviceSyncInfo = "WebBook_DeviceSync"

var ErrUnknownDevice = errors.New("devicesync: unknown device")

// Orchestrator tracks per-device pending queues and the local version vector
// for one identity's set of linked devices. It persists through store on
// every mutation, so a fresh Load reconstructs the same state.
type Orchestrator struct {
	store           *storage.Store
	currentDeviceID string
	exchangePriv    []byte
	registry        models.DeviceRegistry
	queues          map[string][]models.SyncItem
	versionVector   models.VersionVector
	fieldTimestamps map[string]time.Time
	now             func() time.Time
}

// New creates an orchestrator seeded with sync state for every other active
// device in the registry.
func New(store *storage.Store, currentDeviceID, exchangePriv []byte, registry models.DeviceRegistry) *Orchestrator {
	o := &Orchestrator{
		store:           store,
		currentDeviceID: encodeDeviceID(currentDeviceID),
		exchangePriv:    exchangePriv,
		registry:        registry,
		queues:          make(map[string][]models.SyncItem),
		versionVector:   make(models.VersionVector),
		fieldTimestamps: make(map[string]time.Time),
		now:             time.Now,
	}
	for _, d := range registry.Devices {
		id := encodeDeviceID(d.DeviceID)
		if d.Revoked || id == o.currentDeviceID {
			continue
		}
		o.queues[id] = nil
	}
	return o
}

// Load creates an orchestrator and restores persisted queue/version-vector
// state from storage.
func Load(store *storage.Store, currentDeviceID, exchangePriv []byte, registry models.DeviceRegistry) (*Orchestrator, error) {
	o := New(store, currentDeviceID, exchangePriv, registry)

	states, err := store.ListDeviceSyncStates()
	if err != nil {
		return nil, err
	}
	for deviceID, queue := range states {
		o.queues[deviceID] = queue
	}

	vector, err := store.LoadVersionVector()
	if err != nil {
		return nil, err
	}
	if len(vector) > 0 {
		o.versionVector = vector
	}
	return o, nil
}

func encodeDeviceID(id []byte) string {
	return hex.EncodeToString(id)
}

// RecordLocalChange queues item for every other linked device and advances
// the local version vector.
func (o *Orchestrator) RecordLocalChange(item models.SyncItem) error {
	o.fieldTimestamps[ConflictKey(item)] = item.Timestamp

	o.versionVector[o.currentDeviceID]++

	for deviceID := range o.queues {
		o.queues[deviceID] = append(o.queues[deviceID], item)
	}

	for deviceID, queue := range o.queues {
		if err := o.store.SaveDeviceSyncState(deviceID, queue); err != nil {
			return err
		}
	}
	return o.store.SaveVersionVector(o.versionVector)
}

// PendingForDevice returns the queued items awaiting delivery to a device.
func (o *Orchestrator) PendingForDevice(deviceID []byte) []models.SyncItem {
	return o.queues[encodeDeviceID(deviceID)]
}

// DevicesWithPending returns the hex-encoded ids of every device with a
// non-empty queue.
func (o *Orchestrator) DevicesWithPending() []string {
	var out []string
	for deviceID, queue := range o.queues {
		if len(queue) > 0 {
			out = append(out, deviceID)
		}
	}
	return out
}

// MarkSynced truncates a device's queue to the items after the acked
// position: version is the count of items the device has confirmed
// receiving, counted from the front of the queue in enqueue order.
func (o *Orchestrator) MarkSynced(deviceID []byte, version uint64) error {
	id := encodeDeviceID(deviceID)
	queue, ok := o.queues[id]
	if !ok {
		return nil
	}
	if version >= uint64(len(queue)) {
		queue = nil
	} else {
		queue = queue[version:]
	}
	o.queues[id] = queue
	return o.store.SaveDeviceSyncState(id, queue)
}

// AddDevice starts tracking a newly linked device.
func (o *Orchestrator) AddDevice(deviceID []byte) {
	id := encodeDeviceID(deviceID)
	if _, ok := o.queues[id]; !ok {
		o.queues[id] = nil
	}
}

// RemoveDevice stops tracking a revoked device.
func (o *Orchestrator) RemoveDevice(deviceID []byte) error {
	id := encodeDeviceID(deviceID)
	delete(o.queues, id)
	return o.store.DeleteDeviceSyncState(id)
}

// VersionVector returns the local causality vector.
func (o *Orchestrator) VersionVector() models.VersionVector {
	return o.versionVector
}

// --- Inter-device encryption -----------------------------------------------

// EncryptForDevice derives a shared key with the target device's exchange
// public key via X25519 + HKDF and seals plaintext under it.
func (o *Orchestrator) EncryptForDevice(targetExchangePub, plaintext []byte) ([]byte, error) {
	key, err := o.deriveSharedKey(targetExchangePub)
	if err != nil {
		return nil, err
	}
	return crypto.Encrypt(key, plaintext, nil)
}

// DecryptFromDevice reverses EncryptForDevice using the sender's exchange
// public key.
func (o *Orchestrator) DecryptFromDevice(senderExchangePub, ciphertext []byte) ([]byte, error) {
	key, err := o.deriveSharedKey(senderExchangePub)
	if err != nil {
		return nil, err
	}
	return crypto.Decrypt(key, ciphertext, nil)
}

func (o *Orchestrator) deriveSharedKey(theirExchangePub []byte) (crypto.SymmetricKey, error) {
	shared, err := crypto.DH(o.exchangePriv, theirExchangePub)
	if err != nil {
		return crypto.SymmetricKey{}, err
	}
	derived := crypto.HKDFDeriveKey(nil, shared, []byte(deviceSyncInfo))
	return crypto.KeyFromBytes(derived)
}

// --- Conflict resolution ----------------------------------------------------

// ConflictKey maps a SyncItem to the key two items conflict on: items
// sharing a key are resolved last-write-wins, items with different keys are
// independent and both apply.
func ConflictKey(item models.SyncItem) string {
	switch item.Kind {
	case models.SyncItemContactAdded, models.SyncItemContactRemoved:
		return "contact:" + item.ContactID
	case models.SyncItemCardUpdated:
		return "field:" + item.FieldLabel
	case models.SyncItemVisibilityChanged:
		return "visibility:" + item.ContactID
	default:
		return "unknown:" + item.ContactID
	}
}

// ProcessIncoming applies last-write-wins conflict resolution to items
// received from another device: an item only applies if its timestamp is
// strictly newer than the last one seen for its conflict key.
func (o *Orchestrator) ProcessIncoming(items []models.SyncItem) []models.SyncItem {
	applied := make([]models.SyncItem, 0, len(items))
	for _, item := range items {
		key := ConflictKey(item)
		local, seen := o.fieldTimestamps[key]
		if seen && !item.Timestamp.After(local) {
			continue
		}
		o.fieldTimestamps[key] = item.Timestamp
		applied = append(applied, item)
	}
	return applied
}

// --- Full-sync snapshots -----------------------------------------------------

// FullSyncPayload is the complete local state sent to a newly linked device.
type FullSyncPayload struct {
	Contacts    []models.Contact `json:"contacts"`
	OwnCard     models.Card      `json:"own_card"`
	Version     uint64           `json:"version"`
}

// CreateFullSyncPayload snapshots every contact and the own card for a
// newly linked device.
func (o *Orchestrator) CreateFullSyncPayload() (FullSyncPayload, error) {
	contacts, err := o.store.ListContacts()
	if err != nil {
		return FullSyncPayload{}, err
	}
	ownCard, err := o.store.LoadOwnCard()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return FullSyncPayload{}, err
	}
	return FullSyncPayload{
		Contacts: contacts,
		OwnCard:  ownCard,
		Version:  o.versionVector[o.currentDeviceID],
	}, nil
}

// ApplyFullSyncPayload replaces local own-card and contact state with a
// payload received during device linking, then advances the local version.
func (o *Orchestrator) ApplyFullSyncPayload(payload FullSyncPayload) error {
	if payload.OwnCard.DisplayName != "" || len(payload.OwnCard.Fields) > 0 {
		if err := o.store.SaveOwnCard(payload.OwnCard); err != nil {
			return err
		}
	}
	for _, contact := range payload.Contacts {
		if err := o.store.SaveContact(contact); err != nil {
			return err
		}
	}
	o.versionVector[o.currentDeviceID]++
	return o.store.SaveVersionVector(o.versionVector)
}

// ApplyIncomingItem mutates local storage to reflect one already-resolved
// SyncItem (ContactAdded carries a JSON-encoded models.Contact).
func (o *Orchestrator) ApplyIncomingItem(item models.SyncItem) error {
	switch item.Kind {
	case models.SyncItemContactAdded:
		var contact models.Contact
		if err := json.Unmarshal(item.ContactData, &contact); err != nil {
			return err
		}
		return o.store.SaveContact(contact)
	case models.SyncItemContactRemoved:
		_, err := o.store.DeleteContact(item.ContactID)
		return err
	case models.SyncItemCardUpdated:
		card, err := o.store.LoadOwnCard()
		if err != nil {
			return err
		}
		for i := range card.Fields {
			if card.Fields[i].Label == item.FieldLabel {
				card.Fields[i].Value = item.NewValue
				break
			}
		}
		return o.store.SaveOwnCard(card)
	case models.SyncItemVisibilityChanged:
		contact, err := o.store.LoadContact(item.ContactID)
		if err != nil {
			return err
		}
		rule := contact.VisibilityRules[item.FieldLabel]
		if item.IsVisible {
			rule.Visibility = models.VisibilityEveryone
		} else {
			rule.Visibility = models.VisibilityNobody
		}
		if contact.VisibilityRules == nil {
			contact.VisibilityRules = make(map[string]models.VisibilityRule)
		}
		contact.VisibilityRules[item.FieldLabel] = rule
		return o.store.SaveContact(contact)
	default:
		return nil
	}
}
