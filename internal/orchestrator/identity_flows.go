package orchestrator

import (
	"errors"

	"github.com/webbook/contactbook/internal/devicesync"
	"github.com/webbook/contactbook/internal/identity"
	"github.com/webbook/contactbook/internal/storage"
	"github.com/webbook/contactbook/pkg/models"
)

// Bootstrap creates a fresh identity and wires it into a new Orchestrator,
// persisting the device registry so a later HasIdentity() call finds it
// (spec §6 create_identity).
func Bootstrap(store *storage.Store, displayName string, opts Options) (*Orchestrator, error) {
	if HasIdentity(store) {
		return nil, wrap(KindAlreadyInit, ErrAlreadyExists)
	}
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	mgr, err := identity.CreateIdentity(displayName, logger)
	if err != nil {
		return nil, wrap(KindInvalidInput, err)
	}
	o, err := New(store, mgr, opts)
	if err != nil {
		return nil, err
	}
	if err := store.SaveDeviceRegistry(mgr.Registry()); err != nil {
		return nil, wrap(KindStorage, err)
	}
	if err := store.SaveOwnCard(models.Card{DisplayName: displayName}); err != nil {
		return nil, wrap(KindStorage, err)
	}
	return o, nil
}

// HasIdentity reports whether storage already holds an initialized device
// registry (spec §6 has_identity).
func HasIdentity(store *storage.Store) bool {
	_, err := store.LoadDeviceRegistry()
	return err == nil
}

// PublicID returns the wrapped identity's public id (spec §6 public_id).
func (o *Orchestrator) PublicID() string {
	return o.identity.PublicID()
}

// UpdateDisplayName changes the identity's display name (spec §6
// update_display_name).
func (o *Orchestrator) UpdateDisplayName(name string) error {
	return withMetricsErr(o, "update_display_name", func() error {
		if err := o.identity.UpdateDisplayName(name); err != nil {
			return wrap(KindInvalidInput, err)
		}
		return nil
	})
}

// ExportBackup produces a password-encrypted backup blob and persists it to
// storage's identity_backup table so a later Open call on the same database
// can restore the identity without the host having to hold onto the blob
// itself (spec §6 export_backup; storage §4.9 identity_backup table).
func (o *Orchestrator) ExportBackup(password string) ([]byte, error) {
	return withMetrics(o, "export_backup", func() ([]byte, error) {
		blob, err := o.identity.ExportBackup(password)
		if err != nil {
			return nil, wrap(KindInvalidInput, err)
		}
		if err := o.store.SaveIdentityBackup(o.identity.PublicID(), blob); err != nil {
			return nil, wrap(KindStorage, err)
		}
		return blob, nil
	})
}

// Open restores an identity previously persisted by ExportBackup and wires
// it into a new Orchestrator, for resuming a session on process restart
// (spec §6 export/import_backup). Returns KindNotInitialized if storage
// holds no identity backup yet.
func Open(store *storage.Store, password string, opts Options) (*Orchestrator, error) {
	_, backupBytes, err := store.LoadIdentityBackup()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, wrap(KindNotInitialized, ErrNotInitialized)
	}
	if err != nil {
		return nil, wrap(KindStorage, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	mgr, err := identity.ImportFromBackup(backupBytes, password, logger)
	if err != nil {
		return nil, wrap(KindInvalidInput, err)
	}
	return New(store, mgr, opts)
}

// ImportBackup replaces the wrapped identity with one restored from a
// password-encrypted backup blob (spec §6 import_backup). The orchestrator
// rewires its identity-derived state (device registry, device-sync
// orchestrator) around the restored identity; storage content (contacts,
// own card, pending updates) is left untouched.
func (o *Orchestrator) ImportBackup(backupBytes []byte, password string) error {
	return withMetricsErr(o, "import_backup", func() error {
		mgr, err := identity.ImportFromBackup(backupBytes, password, o.logger)
		if err != nil {
			return wrap(KindInvalidInput, err)
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		o.identity = mgr
		if err := o.store.SaveDeviceRegistry(mgr.Registry()); err != nil {
			return wrap(KindStorage, err)
		}
		exchangePriv, _ := mgr.ExchangeKeypair()
		deviceOrch, err := devicesync.Load(o.store, mgr.CurrentDeviceID(), exchangePriv, mgr.Registry())
		if err != nil {
			return wrap(KindStorage, err)
		}
		o.devices = deviceOrch
		return nil
	})
}

// Identity returns the wrapped identity's public model (spec §6 models).
func (o *Orchestrator) Identity() models.Identity {
	return o.identity.Identity()
}
