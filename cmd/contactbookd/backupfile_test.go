package main

import (
	"path/filepath"
	"testing"

	"github.com/webbook/contactbook/internal/crypto"
	"github.com/webbook/contactbook/internal/identity"
	"github.com/webbook/contactbook/internal/orchestrator"
	"github.com/webbook/contactbook/internal/storage"
	"github.com/webbook/contactbook/internal/testutil/fsperm"
)

func TestWriteBackupFileCreatesPrivateDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "identity.backup")

	if err := writeBackupFile(path, "correct horse battery staple", []byte("backup-blob")); err != nil {
		t.Fatalf("writeBackupFile: %v", err)
	}
	fsperm.AssertPrivateDirPerm(t, filepath.Join(dir, "nested"))
}

func TestRestoreFromBackupFileRoundTrips(t *testing.T) {
	storeKey, err := crypto.KeyFromBytes(crypto.PBKDF2SHA256([]byte("salt"), []byte("pass")))
	if err != nil {
		t.Fatalf("KeyFromBytes: %v", err)
	}
	store, err := storage.Open(filepath.Join(t.TempDir(), "contactbook.db"), storeKey)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	mgr, err := identity.CreateIdentity("alice", nil)
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	blob, err := mgr.ExportBackup("swordfish")
	if err != nil {
		t.Fatalf("ExportBackup: %v", err)
	}

	path := filepath.Join(t.TempDir(), "backups", "identity.backup")
	if err := writeBackupFile(path, "swordfish", blob); err != nil {
		t.Fatalf("writeBackupFile: %v", err)
	}

	o, err := restoreFromBackupFile(store, path, "swordfish", orchestrator.Options{}, nil)
	if err != nil {
		t.Fatalf("restoreFromBackupFile: %v", err)
	}
	if o.PublicID() != mgr.PublicID() {
		t.Fatalf("restored public id = %s, want %s", o.PublicID(), mgr.PublicID())
	}
	if !orchestrator.HasIdentity(store) {
		t.Fatal("expected restored identity to persist an identity_backup row")
	}
}

func TestRestoreFromBackupFileRejectsWrongPassword(t *testing.T) {
	mgr, err := identity.CreateIdentity("bob", nil)
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	blob, err := mgr.ExportBackup("swordfish")
	if err != nil {
		t.Fatalf("ExportBackup: %v", err)
	}

	path := filepath.Join(t.TempDir(), "identity.backup")
	if err := writeBackupFile(path, "swordfish", blob); err != nil {
		t.Fatalf("writeBackupFile: %v", err)
	}

	storeKey, err := crypto.KeyFromBytes(crypto.PBKDF2SHA256([]byte("salt"), []byte("pass")))
	if err != nil {
		t.Fatalf("KeyFromBytes: %v", err)
	}
	store, err := storage.Open(filepath.Join(t.TempDir(), "contactbook.db"), storeKey)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	if _, err := restoreFromBackupFile(store, path, "wrong password", orchestrator.Options{}, nil); err == nil {
		t.Fatal("expected error for wrong password")
	}
}
