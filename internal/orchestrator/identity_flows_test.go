package orchestrator

import (
	"errors"
	"testing"
)

func TestBootstrapSeedsIdentityAndOwnCard(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1, "Alice")
	if o.PublicID() == "" {
		t.Fatalf("expected non-empty public id")
	}
	card, err := o.OwnCard()
	if err != nil {
		t.Fatalf("OwnCard: %v", err)
	}
	if card.DisplayName != "Alice" {
		t.Fatalf("expected seeded display_name Alice, got %q", card.DisplayName)
	}
}

func TestBootstrapRejectsExistingIdentity(t *testing.T) {
	store := newTestStore(t, 2)
	if _, err := Bootstrap(store, "Alice", Options{}); err != nil {
		t.Fatalf("first Bootstrap: %v", err)
	}
	_, err := Bootstrap(store, "Alice Again", Options{})
	if err == nil {
		t.Fatalf("expected error on second Bootstrap")
	}
	if !Is(err, KindAlreadyInit) {
		t.Fatalf("expected KindAlreadyInit, got %v", err)
	}
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists in chain, got %v", err)
	}
}

func TestOpenWithNoBackupReturnsNotInitialized(t *testing.T) {
	store := newTestStore(t, 3)
	_, err := Open(store, "whatever", Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !Is(err, KindNotInitialized) {
		t.Fatalf("expected KindNotInitialized, got %v", err)
	}
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized in chain, got %v", err)
	}
}

func TestExportBackupThenOpenRestoresIdentity(t *testing.T) {
	o, store := newTestOrchestrator(t, 4, "Carol")
	if _, err := o.ExportBackup("hunter2hunter2"); err != nil {
		t.Fatalf("ExportBackup: %v", err)
	}

	reopened, err := Open(store, "hunter2hunter2", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.PublicID() != o.PublicID() {
		t.Fatalf("public_id mismatch after Open: got %s want %s", reopened.PublicID(), o.PublicID())
	}
}

func TestOpenWrongPasswordFails(t *testing.T) {
	o, store := newTestOrchestrator(t, 5, "Dave")
	if _, err := o.ExportBackup("correct password"); err != nil {
		t.Fatalf("ExportBackup: %v", err)
	}
	if _, err := Open(store, "wrong password", Options{}); err == nil {
		t.Fatalf("expected error for wrong password")
	}
}

func TestUpdateDisplayNameValidatesInput(t *testing.T) {
	o, _ := newTestOrchestrator(t, 6, "Eve")
	if err := o.UpdateDisplayName(""); err == nil {
		t.Fatalf("expected error for empty display_name")
	}
	if err := o.UpdateDisplayName("Evelyn"); err != nil {
		t.Fatalf("UpdateDisplayName: %v", err)
	}
	if o.Identity().DisplayName != "Evelyn" {
		t.Fatalf("display_name not updated")
	}
}
