package devicesync

import (
	"testing"
	"time"

	"github.com/webbook/contactbook/internal/crypto"
	"github.com/webbook/contactbook/internal/storage"
	"github.com/webbook/contactbook/pkg/models"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	var raw [32]byte
	key, err := crypto.KeyFromBytes(raw[:])
	if err != nil {
		t.Fatalf("KeyFromBytes: %v", err)
	}
	s, err := storage.Open(t.TempDir()+"/devicesync.db", key)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRegistry(deviceIDs ...[]byte) models.DeviceRegistry {
	reg := models.DeviceRegistry{}
	for i, id := range deviceIDs {
		reg.Devices = append(reg.Devices, models.RegisteredDevice{
			DeviceID:    id,
			DeviceIndex: uint32(i),
			DeviceName:  "device",
		})
	}
	return reg
}

func TestRecordLocalChangeQueuesForOtherDevices(t *testing.T) {
	store := openTestStore(t)
	current := []byte{1}
	other := []byte{2}
	registry := testRegistry(current, other)

	o := New(store, current, make([]byte, 32), registry)
	item := models.SyncItem{Kind: models.SyncItemCardUpdated, Timestamp: time.Now(), FieldLabel: "email", NewValue: "a@b.com"}

	if err := o.RecordLocalChange(item); err != nil {
		t.Fatalf("RecordLocalChange: %v", err)
	}

	pending := o.PendingForDevice(other)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending item for other device, got %d", len(pending))
	}
	if len(o.PendingForDevice(current)) != 0 {
		t.Fatalf("did not expect items queued for the current device")
	}
	if o.VersionVector()[encodeDeviceID(current)] != 1 {
		t.Fatalf("expected version vector to advance")
	}
}

func TestMarkSyncedTruncatesQueue(t *testing.T) {
	store := openTestStore(t)
	current := []byte{1}
	other := []byte{2}
	o := New(store, current, make([]byte, 32), testRegistry(current, other))

	for i := 0; i < 3; i++ {
		item := models.SyncItem{Kind: models.SyncItemCardUpdated, Timestamp: time.Now(), FieldLabel: "email"}
		if err := o.RecordLocalChange(item); err != nil {
			t.Fatalf("RecordLocalChange: %v", err)
		}
	}
	if len(o.PendingForDevice(other)) != 3 {
		t.Fatalf("expected 3 queued items")
	}
	if err := o.MarkSynced(other, 2); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if len(o.PendingForDevice(other)) != 1 {
		t.Fatalf("expected 1 remaining item after acking 2, got %d", len(o.PendingForDevice(other)))
	}
}

func TestLoadRestoresPersistedState(t *testing.T) {
	store := openTestStore(t)
	current := []byte{1}
	other := []byte{2}
	registry := testRegistry(current, other)

	o := New(store, current, make([]byte, 32), registry)
	item := models.SyncItem{Kind: models.SyncItemContactAdded, Timestamp: time.Now(), ContactID: "c1"}
	if err := o.RecordLocalChange(item); err != nil {
		t.Fatalf("RecordLocalChange: %v", err)
	}

	reloaded, err := Load(store, current, make([]byte, 32), registry)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reloaded.PendingForDevice(other)) != 1 {
		t.Fatalf("expected persisted queue to survive reload")
	}
	if reloaded.VersionVector()[encodeDeviceID(current)] != 1 {
		t.Fatalf("expected persisted version vector to survive reload")
	}
}

func TestProcessIncomingLastWriteWins(t *testing.T) {
	store := openTestStore(t)
	current := []byte{1}
	o := New(store, current, make([]byte, 32), testRegistry(current))

	older := models.SyncItem{Kind: models.SyncItemCardUpdated, FieldLabel: "email", NewValue: "old@example.com", Timestamp: time.Unix(100, 0)}
	newer := models.SyncItem{Kind: models.SyncItemCardUpdated, FieldLabel: "email", NewValue: "new@example.com", Timestamp: time.Unix(200, 0)}

	applied := o.ProcessIncoming([]models.SyncItem{older})
	if len(applied) != 1 {
		t.Fatalf("expected the first write to apply")
	}

	applied = o.ProcessIncoming([]models.SyncItem{older})
	if len(applied) != 0 {
		t.Fatalf("expected a stale duplicate to be rejected")
	}

	applied = o.ProcessIncoming([]models.SyncItem{newer})
	if len(applied) != 1 {
		t.Fatalf("expected a newer write to apply")
	}
}

func TestProcessIncomingIndependentKeysBothApply(t *testing.T) {
	store := openTestStore(t)
	current := []byte{1}
	o := New(store, current, make([]byte, 32), testRegistry(current))

	email := models.SyncItem{Kind: models.SyncItemCardUpdated, FieldLabel: "email", Timestamp: time.Unix(100, 0)}
	phone := models.SyncItem{Kind: models.SyncItemCardUpdated, FieldLabel: "phone", Timestamp: time.Unix(100, 0)}

	applied := o.ProcessIncoming([]models.SyncItem{email, phone})
	if len(applied) != 2 {
		t.Fatalf("expected independent conflict keys to both apply, got %d", len(applied))
	}
}

func TestEncryptDecryptForDeviceRoundTrip(t *testing.T) {
	store := openTestStore(t)
	aliceExchangePriv := make([]byte, 32)
	aliceExchangePriv[0] = 1
	bobExchangePriv := make([]byte, 32)
	bobExchangePriv[0] = 2

	alicePub, err := crypto.X25519PublicFromPrivate(aliceExchangePriv)
	if err != nil {
		t.Fatalf("alice pub: %v", err)
	}
	bobPub, err := crypto.X25519PublicFromPrivate(bobExchangePriv)
	if err != nil {
		t.Fatalf("bob pub: %v", err)
	}

	alice := New(store, []byte{1}, aliceExchangePriv, testRegistry([]byte{1}))
	bob := New(store, []byte{2}, bobExchangePriv, testRegistry([]byte{2}))

	ciphertext, err := alice.EncryptForDevice(bobPub, []byte("hello bob"))
	if err != nil {
		t.Fatalf("EncryptForDevice: %v", err)
	}
	plaintext, err := bob.DecryptFromDevice(alicePub, ciphertext)
	if err != nil {
		t.Fatalf("DecryptFromDevice: %v", err)
	}
	if string(plaintext) != "hello bob" {
		t.Fatalf("plaintext mismatch: %q", plaintext)
	}
}

func TestFullSyncPayloadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	current := []byte{1}
	o := New(store, current, make([]byte, 32), testRegistry(current))

	card := models.Card{DisplayName: "Alice", Fields: []models.ContactField{
		{FieldID: "f1", FieldType: models.FieldTypeEmail, Label: "email", Value: "alice@example.com"},
	}}
	if err := store.SaveOwnCard(card); err != nil {
		t.Fatalf("SaveOwnCard: %v", err)
	}
	contact := models.Contact{
		ContactID:         "contact-1",
		SigningPublicKey:  make([]byte, 32),
		Card:              models.Card{DisplayName: "Bob"},
		SharedKey:         make([]byte, 32),
		ExchangeTimestamp: time.Now().UTC(),
	}
	if err := store.SaveContact(contact); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}

	payload, err := o.CreateFullSyncPayload()
	if err != nil {
		t.Fatalf("CreateFullSyncPayload: %v", err)
	}
	if payload.OwnCard.DisplayName != "Alice" || len(payload.Contacts) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	store2 := openTestStore(t)
	o2 := New(store2, []byte{9}, make([]byte, 32), testRegistry([]byte{9}))
	if err := o2.ApplyFullSyncPayload(payload); err != nil {
		t.Fatalf("ApplyFullSyncPayload: %v", err)
	}
	loadedCard, err := store2.LoadOwnCard()
	if err != nil {
		t.Fatalf("LoadOwnCard: %v", err)
	}
	if loadedCard.DisplayName != "Alice" {
		t.Fatalf("own card not applied: %+v", loadedCard)
	}
	loadedContact, err := store2.LoadContact("contact-1")
	if err != nil {
		t.Fatalf("LoadContact: %v", err)
	}
	if loadedContact.Card.DisplayName != "Bob" {
		t.Fatalf("contact not applied: %+v", loadedContact)
	}
}
