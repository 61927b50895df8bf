package contactcard

import (
	"github.com/google/uuid"

	"github.com/webbook/contactbook/pkg/models"
)

// NewField creates a ContactField with a fresh, stable field_id. The
// field_id never changes for the lifetime of the field, including across
// value edits (spec §3 "Contact card").
func NewField(fieldType models.FieldType, label, value string) models.ContactField {
	return models.ContactField{
		FieldID:   uuid.NewString(),
		FieldType: fieldType,
		Label:     label,
		Value:     value,
	}
}
