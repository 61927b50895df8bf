package orchestrator

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/webbook/contactbook/internal/identity"
	"github.com/webbook/contactbook/internal/storage"
	"github.com/webbook/contactbook/pkg/models"
)

var errContactIDRequired = errors.New("orchestrator: contact_id is required")

// AddContact upserts a freshly paired contact and fires ContactAdded (spec
// §6 add_contact).
func (o *Orchestrator) AddContact(contact models.Contact) error {
	return withMetricsErr(o, "add_contact", func() error {
		if contact.ContactID == "" {
			return wrap(KindInvalidInput, errContactIDRequired)
		}
		if err := o.store.SaveContact(contact); err != nil {
			return wrap(KindStorage, err)
		}
		contactData, err := json.Marshal(contact)
		if err != nil {
			return wrap(KindInvalidInput, err)
		}
		if err := o.devices.RecordLocalChange(models.SyncItem{
			Kind:        models.SyncItemContactAdded,
			Timestamp:   time.Now().UTC(),
			ContactID:   contact.ContactID,
			ContactData: contactData,
		}); err != nil {
			return wrap(KindStorage, err)
		}
		o.dispatch(Event{Kind: EventContactAdded, ContactID: contact.ContactID})
		return nil
	})
}

// GetContact loads a single contact by id (spec §6 get_contact).
func (o *Orchestrator) GetContact(contactID string) (models.Contact, error) {
	return withMetrics(o, "get_contact", func() (models.Contact, error) {
		c, err := o.store.LoadContact(contactID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return models.Contact{}, wrap(KindNotFound, err)
			}
			return models.Contact{}, wrap(KindStorage, err)
		}
		return c, nil
	})
}

// ListContacts returns every known contact (spec §6 list_contacts).
func (o *Orchestrator) ListContacts() ([]models.Contact, error) {
	return withMetrics(o, "list_contacts", func() ([]models.Contact, error) {
		list, err := o.store.ListContacts()
		if err != nil {
			return nil, wrap(KindStorage, err)
		}
		return list, nil
	})
}

// SearchContacts performs a case-insensitive display-name substring search
// (spec §6 search_contacts).
func (o *Orchestrator) SearchContacts(substring string) ([]models.Contact, error) {
	return withMetrics(o, "search_contacts", func() ([]models.Contact, error) {
		list, err := o.store.SearchContacts(substring)
		if err != nil {
			return nil, wrap(KindStorage, err)
		}
		return list, nil
	})
}

// RemoveContact deletes a contact along with its ratchet, pending updates,
// and label memberships (spec §3 "destroyed by explicit removal"; §6
// remove_contact).
func (o *Orchestrator) RemoveContact(contactID string) error {
	return withMetricsErr(o, "remove_contact", func() error {
		removed, err := o.store.DeleteContact(contactID)
		if err != nil {
			return wrap(KindStorage, err)
		}
		if !removed {
			return wrap(KindNotFound, storage.ErrNotFound)
		}
		for _, label := range o.labels.Labels() {
			if err := o.labels.RemoveMember(label.ID, contactID); err != nil {
				continue
			}
			updated, ok := o.labels.Label(label.ID)
			if !ok {
				continue
			}
			if err := o.store.SaveVisibilityLabel(updated); err != nil {
				return wrap(KindStorage, err)
			}
		}
		if err := o.devices.RecordLocalChange(models.SyncItem{
			Kind:      models.SyncItemContactRemoved,
			Timestamp: time.Now().UTC(),
			ContactID: contactID,
		}); err != nil {
			return wrap(KindStorage, err)
		}
		o.dispatch(Event{Kind: EventContactRemoved, ContactID: contactID})
		return nil
	})
}

// VerifyContactFingerprint compares a human-confirmed fingerprint (the
// identity public_id derived from the contact's signing key, read aloud or
// scanned out of band) against the stored contact and marks it verified on
// a match (spec §6 verify_contact_fingerprint).
func (o *Orchestrator) VerifyContactFingerprint(contactID, confirmedFingerprint string) (bool, error) {
	return withMetrics(o, "verify_contact_fingerprint", func() (bool, error) {
		contact, err := o.store.LoadContact(contactID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return false, wrap(KindNotFound, err)
			}
			return false, wrap(KindStorage, err)
		}
		expected, err := identity.BuildPublicID(contact.SigningPublicKey)
		if err != nil {
			return false, wrap(KindCrypto, err)
		}
		if expected != confirmedFingerprint {
			return false, nil
		}
		contact.FingerprintVerified = true
		if err := o.store.SaveContact(contact); err != nil {
			return false, wrap(KindStorage, err)
		}
		return true, nil
	})
}
