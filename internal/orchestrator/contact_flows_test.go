package orchestrator

import (
	"testing"

	"github.com/webbook/contactbook/internal/identity"
	"github.com/webbook/contactbook/pkg/models"
)

func newTestContact(id string, displayName string) models.Contact {
	return models.Contact{
		ContactID:        id,
		SigningPublicKey: []byte("0123456789012345678901234567890a")[:32],
		Card:             models.Card{DisplayName: displayName},
	}
}

func TestAddGetListRemoveContact(t *testing.T) {
	o, _ := newTestOrchestrator(t, 10, "Alice")

	c := newTestContact("contact-1", "Bob")
	if err := o.AddContact(c); err != nil {
		t.Fatalf("AddContact: %v", err)
	}

	got, err := o.GetContact("contact-1")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if got.Card.DisplayName != "Bob" {
		t.Fatalf("unexpected contact: %+v", got)
	}

	all, err := o.ListContacts()
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(all))
	}

	found, err := o.SearchContacts("bo")
	if err != nil {
		t.Fatalf("SearchContacts: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected search to find 1 contact, got %d", len(found))
	}

	if err := o.RemoveContact("contact-1"); err != nil {
		t.Fatalf("RemoveContact: %v", err)
	}
	if _, err := o.GetContact("contact-1"); err == nil {
		t.Fatalf("expected error getting removed contact")
	} else if !Is(err, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestAddContactRequiresContactID(t *testing.T) {
	o, _ := newTestOrchestrator(t, 11, "Alice")
	err := o.AddContact(models.Contact{})
	if err == nil {
		t.Fatalf("expected error for empty contact_id")
	}
	if !Is(err, KindInvalidInput) {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestRemoveContactNotFound(t *testing.T) {
	o, _ := newTestOrchestrator(t, 12, "Alice")
	err := o.RemoveContact("nope")
	if !Is(err, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestRemoveContactClearsLabelMembership(t *testing.T) {
	o, _ := newTestOrchestrator(t, 13, "Alice")
	if err := o.AddContact(newTestContact("contact-1", "Bob")); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	label, err := o.CreateLabel("friends")
	if err != nil {
		t.Fatalf("CreateLabel: %v", err)
	}
	if err := o.AddLabelMember(label.ID, "contact-1"); err != nil {
		t.Fatalf("AddLabelMember: %v", err)
	}
	if err := o.RemoveContact("contact-1"); err != nil {
		t.Fatalf("RemoveContact: %v", err)
	}
	labels := o.Labels()
	if labels[0].MemberIDs["contact-1"] {
		t.Fatalf("expected contact-1 removed from label membership")
	}
}

func TestVerifyContactFingerprintMatchAndMismatch(t *testing.T) {
	o, _ := newTestOrchestrator(t, 14, "Alice")

	bobMgr, err := identity.CreateIdentity("Bob", nil)
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	bobPub, _ := bobMgr.SigningKeypair()

	if err := o.AddContact(models.Contact{
		ContactID:        "bob",
		SigningPublicKey: bobPub,
		Card:             models.Card{DisplayName: "Bob"},
	}); err != nil {
		t.Fatalf("AddContact: %v", err)
	}

	ok, err := o.VerifyContactFingerprint("bob", bobMgr.PublicID())
	if err != nil {
		t.Fatalf("VerifyContactFingerprint: %v", err)
	}
	if !ok {
		t.Fatalf("expected fingerprint to match")
	}
	contact, err := o.GetContact("bob")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if !contact.FingerprintVerified {
		t.Fatalf("expected FingerprintVerified set after match")
	}

	ok, err = o.VerifyContactFingerprint("bob", "wrong-fingerprint")
	if err != nil {
		t.Fatalf("VerifyContactFingerprint mismatch: unexpected error %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch to report false, not error")
	}
}
