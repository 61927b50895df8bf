package orchestrator

import (
	"time"

	"github.com/webbook/contactbook/pkg/models"
)

// CreateLabel creates a new visibility label and persists it (spec §4.8/§6).
func (o *Orchestrator) CreateLabel(name string) (models.VisibilityLabel, error) {
	return withMetrics(o, "create_label", func() (models.VisibilityLabel, error) {
		label, err := o.labels.CreateLabel(name)
		if err != nil {
			return models.VisibilityLabel{}, wrap(KindInvalidInput, err)
		}
		if err := o.store.SaveVisibilityLabel(label); err != nil {
			return models.VisibilityLabel{}, wrap(KindStorage, err)
		}
		return label, nil
	})
}

// DeleteLabel removes a label from both memory and storage.
func (o *Orchestrator) DeleteLabel(labelID string) error {
	return withMetricsErr(o, "delete_label", func() error {
		if err := o.labels.DeleteLabel(labelID); err != nil {
			return wrap(KindNotFound, err)
		}
		if err := o.store.DeleteVisibilityLabel(labelID); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}

// RenameLabel renames a label and persists the updated record.
func (o *Orchestrator) RenameLabel(labelID, name string) error {
	return withMetricsErr(o, "rename_label", func() error {
		if err := o.labels.RenameLabel(labelID, name); err != nil {
			return wrap(KindInvalidInput, err)
		}
		label, _ := o.labels.Label(labelID)
		if err := o.store.SaveVisibilityLabel(label); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}

// Labels returns every visibility label.
func (o *Orchestrator) Labels() []models.VisibilityLabel {
	return o.labels.Labels()
}

// AddLabelMember adds a contact to a label and persists the membership.
func (o *Orchestrator) AddLabelMember(labelID, contactID string) error {
	return withMetricsErr(o, "add_label_member", func() error {
		if err := o.labels.AddMember(labelID, contactID); err != nil {
			return wrap(KindNotFound, err)
		}
		label, _ := o.labels.Label(labelID)
		if err := o.store.SaveVisibilityLabel(label); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}

// RemoveLabelMember removes a contact from a label and persists it.
func (o *Orchestrator) RemoveLabelMember(labelID, contactID string) error {
	return withMetricsErr(o, "remove_label_member", func() error {
		if err := o.labels.RemoveMember(labelID, contactID); err != nil {
			return wrap(KindNotFound, err)
		}
		label, _ := o.labels.Label(labelID)
		if err := o.store.SaveVisibilityLabel(label); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}

// SetLabelFieldVisible sets whether fieldID is visible to every member of
// labelID, and persists the updated label.
func (o *Orchestrator) SetLabelFieldVisible(labelID, fieldID string, visible bool) error {
	return withMetricsErr(o, "set_label_field_visible", func() error {
		if err := o.labels.SetFieldVisible(labelID, fieldID, visible); err != nil {
			return wrap(KindNotFound, err)
		}
		label, _ := o.labels.Label(labelID)
		if err := o.store.SaveVisibilityLabel(label); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}

// SetVisibilityOverride records a per-contact, per-field override that
// outranks every label and VisibilityRules entry (spec §4.8 SetOverride).
func (o *Orchestrator) SetVisibilityOverride(contactID, fieldID string, visible bool) error {
	return withMetricsErr(o, "set_visibility_override", func() error {
		o.labels.SetOverride(contactID, fieldID, visible)
		if err := o.store.SetVisibilityOverride(contactID, fieldID, visible); err != nil {
			return wrap(KindStorage, err)
		}
		if err := o.devices.RecordLocalChange(models.SyncItem{
			Kind:       models.SyncItemVisibilityChanged,
			Timestamp:  time.Now().UTC(),
			ContactID:  contactID,
			FieldLabel: fieldID,
			IsVisible:  visible,
		}); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}

// ClearVisibilityOverride removes a previously set override, falling back to
// label/rule resolution for that pair.
func (o *Orchestrator) ClearVisibilityOverride(contactID, fieldID string) error {
	return withMetricsErr(o, "clear_visibility_override", func() error {
		o.labels.ClearOverride(contactID, fieldID)
		if err := o.store.ClearVisibilityOverride(contactID, fieldID); err != nil {
			return wrap(KindStorage, err)
		}
		contact, err := o.store.LoadContact(contactID)
		if err != nil {
			return wrap(KindStorage, err)
		}
		effective := o.labels.EffectiveVisibility(contactID, fieldID, contact.VisibilityRules)
		if err := o.devices.RecordLocalChange(models.SyncItem{
			Kind:       models.SyncItemVisibilityChanged,
			Timestamp:  time.Now().UTC(),
			ContactID:  contactID,
			FieldLabel: fieldID,
			IsVisible:  effective,
		}); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}

// GetEffectiveFieldVisibility resolves whether fieldID is currently visible
// to contactID under the override > label > rule precedence (spec §4.8).
func (o *Orchestrator) GetEffectiveFieldVisibility(contactID, fieldID string) (bool, error) {
	return withMetrics(o, "get_effective_field_visibility", func() (bool, error) {
		contact, err := o.store.LoadContact(contactID)
		if err != nil {
			return false, wrap(KindNotFound, err)
		}
		return o.labels.EffectiveVisibility(contactID, fieldID, contact.VisibilityRules), nil
	})
}
