// Package visibility implements per-field visibility rules, local-only
// labels, and per-contact overrides, with the override > label > rule
// precedence algorithm (spec §3 "Visibility rules"/"Visibility labels",
// §4.8).
package visibility

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webbook/contactbook/pkg/models"
)

const MaxLabels = 50

var (
	ErrInvalidLabelName = errors.New("visibility: label name must be 1-50 characters")
	ErrLabelLimit        = errors.New("visibility: identity already has the maximum of 50 labels")
	ErrLabelNotFound     = errors.New("visibility: label not found")
)

// LabelManager owns every VisibilityLabel for one identity plus the
// per-contact field overrides that take precedence over them.
type LabelManager struct {
	labels    map[string]models.VisibilityLabel
	overrides map[string]map[string]bool // contact_id -> field_id -> visible
}

func NewLabelManager() *LabelManager {
	return &LabelManager{
		labels:    make(map[string]models.VisibilityLabel),
		overrides: make(map[string]map[string]bool),
	}
}

// CreateLabel adds a new label, enforcing the name-length and 50-label cap
// invariants.
func (m *LabelManager) CreateLabel(name string) (models.VisibilityLabel, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return models.VisibilityLabel{}, ErrInvalidLabelName
	}
	if len(m.labels) >= MaxLabels {
		return models.VisibilityLabel{}, ErrLabelLimit
	}
	now := time.Now().UTC()
	label := models.VisibilityLabel{
		ID:            uuid.NewString(),
		Name:          name,
		MemberIDs:     make(map[string]bool),
		VisibleFields: make(map[string]bool),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.labels[label.ID] = label
	return label, nil
}

func (m *LabelManager) DeleteLabel(labelID string) error {
	if _, ok := m.labels[labelID]; !ok {
		return ErrLabelNotFound
	}
	delete(m.labels, labelID)
	return nil
}

func (m *LabelManager) RenameLabel(labelID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return ErrInvalidLabelName
	}
	label, ok := m.labels[labelID]
	if !ok {
		return ErrLabelNotFound
	}
	label.Name = name
	label.UpdatedAt = time.Now().UTC()
	m.labels[labelID] = label
	return nil
}

func (m *LabelManager) Label(labelID string) (models.VisibilityLabel, bool) {
	label, ok := m.labels[labelID]
	return label, ok
}

func (m *LabelManager) Labels() []models.VisibilityLabel {
	out := make([]models.VisibilityLabel, 0, len(m.labels))
	for _, l := range m.labels {
		out = append(out, l)
	}
	return out
}

func (m *LabelManager) AddMember(labelID, contactID string) error {
	label, ok := m.labels[labelID]
	if !ok {
		return ErrLabelNotFound
	}
	label.MemberIDs[contactID] = true
	label.UpdatedAt = time.Now().UTC()
	m.labels[labelID] = label
	return nil
}

func (m *LabelManager) RemoveMember(labelID, contactID string) error {
	label, ok := m.labels[labelID]
	if !ok {
		return ErrLabelNotFound
	}
	delete(label.MemberIDs, contactID)
	label.UpdatedAt = time.Now().UTC()
	m.labels[labelID] = label
	return nil
}

func (m *LabelManager) SetFieldVisible(labelID, fieldID string, visible bool) error {
	label, ok := m.labels[labelID]
	if !ok {
		return ErrLabelNotFound
	}
	if visible {
		label.VisibleFields[fieldID] = true
	} else {
		delete(label.VisibleFields, fieldID)
	}
	label.UpdatedAt = time.Now().UTC()
	m.labels[labelID] = label
	return nil
}

// SetOverride records a per-contact, per-field override that outranks every
// label and the contact's own VisibilityRules entry.
func (m *LabelManager) SetOverride(contactID, fieldID string, visible bool) {
	byField, ok := m.overrides[contactID]
	if !ok {
		byField = make(map[string]bool)
		m.overrides[contactID] = byField
	}
	byField[fieldID] = visible
}

// ClearOverride removes a previously set override, falling back to label/rule
// resolution for that (contact_id, field_id) pair.
func (m *LabelManager) ClearOverride(contactID, fieldID string) {
	if byField, ok := m.overrides[contactID]; ok {
		delete(byField, fieldID)
		if len(byField) == 0 {
			delete(m.overrides, contactID)
		}
	}
}

// visibleFieldsViaLabels returns the union of visible_fields across every
// label containing contactID (spec §4.8).
func (m *LabelManager) visibleFieldsViaLabels(contactID string) map[string]bool {
	out := make(map[string]bool)
	for _, label := range m.labels {
		if !label.MemberIDs[contactID] {
			continue
		}
		for fieldID := range label.VisibleFields {
			out[fieldID] = true
		}
	}
	return out
}

// EffectiveVisibility resolves (contact_id, field_id) per spec §4.8's
// strict precedence: override > label membership > the contact's own
// VisibilityRules entry.
func (m *LabelManager) EffectiveVisibility(contactID, fieldID string, rules map[string]models.VisibilityRule) bool {
	if byField, ok := m.overrides[contactID]; ok {
		if visible, ok := byField[fieldID]; ok {
			return visible
		}
	}
	if m.visibleFieldsViaLabels(contactID)[fieldID] {
		return true
	}
	rule, ok := rules[fieldID]
	if !ok {
		return true // default for an unlisted field is Everyone
	}
	switch rule.Visibility {
	case models.VisibilityEveryone:
		return true
	case models.VisibilityNobody:
		return false
	case models.VisibilityContacts:
		for _, id := range rule.ContactIDs {
			if id == contactID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// VisibleFieldSet computes the full set of field_ids visible to contactID,
// starting from label membership then applying overrides (true adds, false
// removes), per spec §4.8's visible_fields_via_labels description. Unlike
// EffectiveVisibility (which also consults per-field VisibilityRules), this
// is a label+override-only view; PropagateCardUpdate filters with
// EffectiveVisibility, not with this set.
func (m *LabelManager) VisibleFieldSet(contactID string) map[string]bool {
	set := m.visibleFieldsViaLabels(contactID)
	if byField, ok := m.overrides[contactID]; ok {
		for fieldID, visible := range byField {
			if visible {
				set[fieldID] = true
			} else {
				delete(set, fieldID)
			}
		}
	}
	return set
}
