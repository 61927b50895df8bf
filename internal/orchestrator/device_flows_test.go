package orchestrator

import (
	"testing"
	"time"

	"github.com/webbook/contactbook/internal/platform/ratelimiter"
)

func TestDeviceLinkFullHandshake(t *testing.T) {
	primaryStore := newTestStore(t, 60)
	primary, err := Bootstrap(primaryStore, "Alice", Options{})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := primary.AddContact(newTestContact("friend-1", "Friend")); err != nil {
		t.Fatalf("AddContact: %v", err)
	}

	qrBytes, linkKey, err := primary.InitializeDeviceLink()
	if err != nil {
		t.Fatalf("InitializeDeviceLink: %v", err)
	}

	requestCiphertext, joinLinkKey, err := JoinDeviceLinkQR(qrBytes, "Alice's Laptop", time.Now().UTC())
	if err != nil {
		t.Fatalf("JoinDeviceLinkQR: %v", err)
	}
	if string(joinLinkKey) != string(linkKey) {
		t.Fatalf("link_key mismatch between QR and join")
	}

	responseCiphertext, err := primary.ProcessDeviceLink(requestCiphertext, linkKey)
	if err != nil {
		t.Fatalf("ProcessDeviceLink: %v", err)
	}

	secondStore := newTestStore(t, 61)
	joined, err := CompleteDeviceLink(secondStore, responseCiphertext, linkKey, Options{})
	if err != nil {
		t.Fatalf("CompleteDeviceLink: %v", err)
	}
	if joined.PublicID() != primary.PublicID() {
		t.Fatalf("joined device has different public_id: got %s want %s", joined.PublicID(), primary.PublicID())
	}

	joinedContact, err := joined.GetContact("friend-1")
	if err != nil {
		t.Fatalf("expected synced contact on joined device: %v", err)
	}
	if joinedContact.Card.DisplayName != "Friend" {
		t.Fatalf("unexpected synced contact: %+v", joinedContact)
	}

	devices := primary.ActiveDevices()
	if len(devices) != 2 {
		t.Fatalf("expected 2 active devices after link, got %d", len(devices))
	}
}

func TestProcessDeviceLinkThrottlesRepeatedAttemptsPerLinkKey(t *testing.T) {
	store := newTestStore(t, 65)
	o, err := Bootstrap(store, "Alice", Options{
		LinkRequestLimiter: ratelimiter.New(1, 1, time.Minute),
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	qrBytes, linkKey, err := o.InitializeDeviceLink()
	if err != nil {
		t.Fatalf("InitializeDeviceLink: %v", err)
	}
	requestCiphertext, _, err := JoinDeviceLinkQR(qrBytes, "Second Device", time.Now().UTC())
	if err != nil {
		t.Fatalf("JoinDeviceLinkQR: %v", err)
	}

	if _, err := o.ProcessDeviceLink(requestCiphertext, linkKey); err != nil {
		t.Fatalf("first ProcessDeviceLink: %v", err)
	}
	_, err = o.ProcessDeviceLink(requestCiphertext, linkKey)
	if !Is(err, KindRateLimited) {
		t.Fatalf("expected KindRateLimited on repeated attempt, got %v", err)
	}
}

func TestRevokeDeviceRemovesFromRegistry(t *testing.T) {
	primaryStore := newTestStore(t, 62)
	primary, err := Bootstrap(primaryStore, "Alice", Options{})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	qrBytes, linkKey, err := primary.InitializeDeviceLink()
	if err != nil {
		t.Fatalf("InitializeDeviceLink: %v", err)
	}
	requestCiphertext, _, err := JoinDeviceLinkQR(qrBytes, "Second Device", time.Now().UTC())
	if err != nil {
		t.Fatalf("JoinDeviceLinkQR: %v", err)
	}
	if _, err := primary.ProcessDeviceLink(requestCiphertext, linkKey); err != nil {
		t.Fatalf("ProcessDeviceLink: %v", err)
	}

	devices := primary.ActiveDevices()
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices before revoke, got %d", len(devices))
	}
	secondDeviceID := devices[1].DeviceID
	if err := primary.RevokeDevice(secondDeviceID); err != nil {
		t.Fatalf("RevokeDevice: %v", err)
	}
	if len(primary.ActiveDevices()) != 1 {
		t.Fatalf("expected 1 active device after revoke")
	}
}

func TestCreateFullSyncSnapshotRoundTrip(t *testing.T) {
	a, _ := newTestOrchestrator(t, 63, "Alice")
	if err := a.AddContact(newTestContact("friend-1", "Friend")); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	payload, err := a.CreateFullSyncSnapshot()
	if err != nil {
		t.Fatalf("CreateFullSyncSnapshot: %v", err)
	}
	if len(payload.Contacts) != 1 {
		t.Fatalf("expected 1 contact in snapshot, got %d", len(payload.Contacts))
	}

	b, _ := newTestOrchestrator(t, 64, "Bob")
	if err := b.ApplyFullSyncSnapshot(payload); err != nil {
		t.Fatalf("ApplyFullSyncSnapshot: %v", err)
	}
	if _, err := b.GetContact("friend-1"); err != nil {
		t.Fatalf("expected contact applied on b: %v", err)
	}
}
