package main

import (
	"encoding/json"
	"log/slog"

	"github.com/webbook/contactbook/internal/identity"
	"github.com/webbook/contactbook/internal/orchestrator"
	"github.com/webbook/contactbook/internal/securestore"
	"github.com/webbook/contactbook/internal/storage"
)

// writeBackupFile persists an encrypted copy of an identity backup blob to
// disk under its own argon2id-derived key, so an operator can move an
// identity to a new host by copying a file instead of the database.
func writeBackupFile(path, password string, backupBytes []byte) error {
	return securestore.WriteEncryptedJSON(path, password, backupBytes)
}

// restoreFromBackupFile rehydrates an identity from a file written by
// writeBackupFile when storage itself holds no identity yet.
func restoreFromBackupFile(store *storage.Store, path, password string, opts orchestrator.Options, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	raw, err := securestore.ReadDecryptedFile(path, password)
	if err != nil {
		return nil, err
	}
	var backupBytes []byte
	if err := json.Unmarshal(raw, &backupBytes); err != nil {
		return nil, err
	}
	mgr, err := identity.ImportFromBackup(backupBytes, password, logger)
	if err != nil {
		return nil, err
	}
	o, err := orchestrator.New(store, mgr, opts)
	if err != nil {
		return nil, err
	}
	if err := store.SaveDeviceRegistry(mgr.Registry()); err != nil {
		return nil, err
	}
	if err := store.SaveIdentityBackup(mgr.PublicID(), backupBytes); err != nil {
		return nil, err
	}
	return o, nil
}
