package orchestrator

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"time"

	"github.com/webbook/contactbook/internal/contactcard"
	"github.com/webbook/contactbook/internal/crypto"
	"github.com/webbook/contactbook/internal/syncqueue"
	"github.com/webbook/contactbook/pkg/models"
)

// PropagateCardUpdate computes the delta between oldCard and newCard, then
// for every contact: filters it to that contact's visible fields, signs the
// filtered delta, ratchet-encrypts it, and enqueues the ciphertext for
// delivery (spec §6 propagate_card_update, data flow in §2). Contacts whose
// filtered delta is empty (nothing they're allowed to see changed) are
// skipped. Returns the number of contacts a ciphertext was queued for.
func (o *Orchestrator) PropagateCardUpdate(oldCard, newCard models.Card) (int, error) {
	return withMetrics(o, "propagate_card_update", func() (int, error) {
		delta := contactcard.Compute(oldCard, newCard, 0, time.Now().UTC())
		if delta.IsEmpty() {
			return 0, nil
		}
		contacts, err := o.store.ListContacts()
		if err != nil {
			return 0, wrap(KindStorage, err)
		}
		_, signingPriv := o.identity.SigningKeypair()

		queued := 0
		for _, contact := range contacts {
			visible := func(fieldID string) bool {
				return o.labels.EffectiveVisibility(contact.ContactID, fieldID, contact.VisibilityRules)
			}
			filtered := contactcard.FilterForContact(delta, visible)
			if filtered.IsEmpty() {
				continue
			}
			signed := contactcard.Sign(filtered, signingPriv)
			plaintext, err := json.Marshal(signed)
			if err != nil {
				return queued, wrap(KindCrypto, err)
			}
			ratchet, isInitiator, err := o.ratchetFor(contact.ContactID)
			if err != nil {
				continue // not yet paired with a live ratchet; nothing to send over
			}
			msg, err := ratchet.Encrypt(plaintext)
			if err != nil {
				return queued, wrap(KindCrypto, err)
			}
			if err := o.store.SaveRatchetState(contact.ContactID, ratchet, isInitiator); err != nil {
				return queued, wrap(KindStorage, err)
			}
			wire := crypto.MarshalRatchetMessage(msg)
			if _, err := o.queue.QueueCiphertext(contact.ContactID, models.UpdateTypeCardUpdate, wire); err != nil {
				if errors.Is(err, syncqueue.ErrNoChanges) {
					continue
				}
				return queued, wrap(KindStorage, err)
			}
			queued++
		}
		return queued, nil
	})
}

// ProcessCardUpdate decrypts an inbound ratchet ciphertext from a contact,
// verifies the signed delta against the contact's signing key, applies it to
// the stored snapshot of that contact's card, and returns the field labels
// that changed (spec §6 process_card_update).
func (o *Orchestrator) ProcessCardUpdate(contactID string, ciphertext []byte) ([]string, error) {
	return withMetrics(o, "process_card_update", func() ([]string, error) {
		contact, err := o.store.LoadContact(contactID)
		if err != nil {
			return nil, wrap(KindNotFound, err)
		}
		ratchet, isInitiator, err := o.ratchetFor(contactID)
		if err != nil {
			return nil, err
		}
		msg, err := crypto.UnmarshalRatchetMessage(ciphertext)
		if err != nil {
			return nil, wrap(KindInvalidFormat, err)
		}
		plaintext, err := ratchet.Decrypt(msg)
		if err != nil {
			switch {
			case errors.Is(err, crypto.ErrTooManySkipped):
				return nil, wrap(KindTooManySkipped, err)
			case errors.Is(err, crypto.ErrDuplicateMessage):
				return nil, wrap(KindDuplicateMessage, err)
			default:
				return nil, wrap(KindCrypto, err)
			}
		}
		if err := o.store.SaveRatchetState(contactID, ratchet, isInitiator); err != nil {
			return nil, wrap(KindStorage, err)
		}

		var delta contactcard.CardDelta
		if err := json.Unmarshal(plaintext, &delta); err != nil {
			return nil, wrap(KindInvalidFormat, err)
		}
		if !contactcard.Verify(delta, ed25519.PublicKey(contact.SigningPublicKey)) {
			return nil, wrap(KindSignatureInvalid, errCardDeltaSignatureInvalid)
		}
		newCard, err := contactcard.Apply(contact.Card, delta)
		if err != nil {
			return nil, wrap(KindInvalidState, err)
		}
		contact.Card = newCard
		if err := o.store.SaveContact(contact); err != nil {
			return nil, wrap(KindStorage, err)
		}

		changed := changedLabels(delta, newCard)
		o.dispatch(Event{Kind: EventContactUpdated, ContactID: contactID, ChangedFields: changed})
		return changed, nil
	})
}

var errCardDeltaSignatureInvalid = errors.New("orchestrator: card delta signature does not verify")
