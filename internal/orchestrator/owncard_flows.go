package orchestrator

import (
	"time"

	"github.com/webbook/contactbook/internal/contactcard"
	"github.com/webbook/contactbook/pkg/models"
)

// OwnCard returns the current own card (spec §6 own_card).
func (o *Orchestrator) OwnCard() (models.Card, error) {
	return withMetrics(o, "own_card", func() (models.Card, error) {
		card, err := o.store.LoadOwnCard()
		if err != nil {
			return models.Card{}, wrap(KindStorage, err)
		}
		return card, nil
	})
}

// UpdateOwnCard replaces the own card, computes which field labels changed,
// queues the delta for every contact, and fires OwnCardUpdated (spec §6
// update_own_card).
func (o *Orchestrator) UpdateOwnCard(newCard models.Card) ([]string, error) {
	return withMetrics(o, "update_own_card", func() ([]string, error) {
		if err := contactcard.ValidateCard(newCard); err != nil {
			return nil, wrap(KindInvalidInput, err)
		}
		oldCard, err := o.store.LoadOwnCard()
		if err != nil {
			return nil, wrap(KindStorage, err)
		}
		delta := contactcard.Compute(oldCard, newCard, 0, time.Now().UTC())
		if delta.IsEmpty() {
			return nil, wrap(KindNoChanges, ErrNoOwnCardChanges)
		}
		if err := o.store.SaveOwnCard(newCard); err != nil {
			return nil, wrap(KindStorage, err)
		}

		changed := changedLabels(delta, newCard)
		if err := o.recordCardFieldChanges(changed, newCard); err != nil {
			return nil, wrap(KindStorage, err)
		}
		o.dispatch(Event{Kind: EventOwnCardUpdated, ChangedFields: changed})
		return changed, nil
	})
}

// AddOwnField appends a field to the own card and returns the updated card.
func (o *Orchestrator) AddOwnField(field models.ContactField) (models.Card, error) {
	return withMetrics(o, "add_own_field", func() (models.Card, error) {
		card, err := o.store.LoadOwnCard()
		if err != nil {
			return models.Card{}, wrap(KindStorage, err)
		}
		card.Fields = append(card.Fields, field)
		if err := o.store.SaveOwnCard(card); err != nil {
			return models.Card{}, wrap(KindStorage, err)
		}
		if err := o.devices.RecordLocalChange(models.SyncItem{
			Kind:       models.SyncItemCardUpdated,
			Timestamp:  time.Now().UTC(),
			FieldLabel: field.Label,
			NewValue:   field.Value,
		}); err != nil {
			return models.Card{}, wrap(KindStorage, err)
		}
		return card, nil
	})
}

// RemoveOwnField removes the first own-card field with the given label.
func (o *Orchestrator) RemoveOwnField(label string) (models.Card, error) {
	return withMetrics(o, "remove_own_field", func() (models.Card, error) {
		card, err := o.store.LoadOwnCard()
		if err != nil {
			return models.Card{}, wrap(KindStorage, err)
		}
		for i, f := range card.Fields {
			if f.Label == label {
				card.Fields = append(card.Fields[:i], card.Fields[i+1:]...)
				break
			}
		}
		if err := o.store.SaveOwnCard(card); err != nil {
			return models.Card{}, wrap(KindStorage, err)
		}
		if err := o.devices.RecordLocalChange(models.SyncItem{
			Kind:       models.SyncItemCardUpdated,
			Timestamp:  time.Now().UTC(),
			FieldLabel: label,
			NewValue:   "",
		}); err != nil {
			return models.Card{}, wrap(KindStorage, err)
		}
		return card, nil
	})
}

// recordCardFieldChanges queues one SyncItem per changed own-card field label
// for the identity's other devices, so UpdateOwnCard's delta converges
// incrementally instead of only at the next full-sync snapshot.
func (o *Orchestrator) recordCardFieldChanges(changed []string, card models.Card) error {
	byLabel := make(map[string]string, len(card.Fields)+1)
	byLabel["display_name"] = card.DisplayName
	for _, f := range card.Fields {
		byLabel[f.Label] = f.Value
	}
	now := time.Now().UTC()
	for _, label := range changed {
		if err := o.devices.RecordLocalChange(models.SyncItem{
			Kind:       models.SyncItemCardUpdated,
			Timestamp:  now,
			FieldLabel: label,
			NewValue:   byLabel[label],
		}); err != nil {
			return err
		}
	}
	return nil
}

func changedLabels(delta contactcard.CardDelta, card models.Card) []string {
	byID := make(map[string]string, len(card.Fields))
	for _, f := range card.Fields {
		byID[f.FieldID] = f.Label
	}
	seen := make(map[string]bool, len(delta.Changes))
	var out []string
	for _, c := range delta.Changes {
		var label string
		switch c.Kind {
		case contactcard.ChangeDisplayNameChanged:
			label = "display_name"
		case contactcard.ChangeAdded:
			label = c.Field.Label
		default:
			label = byID[c.FieldID]
			if label == "" {
				label = c.FieldID
			}
		}
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}
