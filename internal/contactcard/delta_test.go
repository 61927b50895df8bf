package contactcard

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/webbook/contactbook/pkg/models"
)

func sampleCard() models.Card {
	return models.Card{
		DisplayName: "Alice",
		Fields: []models.ContactField{
			NewField(models.FieldTypeEmail, "email", "alice@example.com"),
			NewField(models.FieldTypePhone, "phone", "555-1000"),
		},
	}
}

func TestComputeNoChangesIsEmpty(t *testing.T) {
	card := sampleCard()
	delta := Compute(card, card, 1, time.Now())
	if !delta.IsEmpty() {
		t.Fatalf("expected empty delta for identical cards, got %+v", delta)
	}
}

func TestComputeDetectsAllChangeKinds(t *testing.T) {
	old := sampleCard()
	newCard := models.Card{
		DisplayName: "Alice Smith",
		Fields: []models.ContactField{
			{FieldID: old.Fields[0].FieldID, FieldType: models.FieldTypeEmail, Label: "email", Value: "alice@new.example"},
			NewField(models.FieldTypeWebsite, "site", "https://example.com"),
		},
	}
	delta := Compute(old, newCard, 2, time.Now())
	if delta.IsEmpty() {
		t.Fatalf("expected non-empty delta")
	}

	var sawDisplayName, sawModified, sawRemoved, sawAdded bool
	for _, c := range delta.Changes {
		switch c.Kind {
		case ChangeDisplayNameChanged:
			sawDisplayName = true
			if c.NewDisplayName != "Alice Smith" {
				t.Fatalf("wrong new display name: %s", c.NewDisplayName)
			}
		case ChangeModified:
			sawModified = true
			if c.FieldID != old.Fields[0].FieldID {
				t.Fatalf("modified wrong field")
			}
		case ChangeRemoved:
			sawRemoved = true
			if c.FieldID != old.Fields[1].FieldID {
				t.Fatalf("removed wrong field")
			}
		case ChangeAdded:
			sawAdded = true
		}
	}
	if !sawDisplayName || !sawModified || !sawRemoved || !sawAdded {
		t.Fatalf("missing expected change kinds: %+v", delta.Changes)
	}
}

func TestApplyRoundTrip(t *testing.T) {
	old := sampleCard()
	newCard := models.Card{
		DisplayName: "Alice Smith",
		Fields: []models.ContactField{
			{FieldID: old.Fields[0].FieldID, FieldType: models.FieldTypeEmail, Label: "email", Value: "alice@new.example"},
			NewField(models.FieldTypeWebsite, "site", "https://example.com"),
		},
	}
	delta := Compute(old, newCard, 1, time.Now())
	applied, err := Apply(old, delta)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.DisplayName != newCard.DisplayName {
		t.Fatalf("display name not applied")
	}
	if len(applied.Fields) != 2 {
		t.Fatalf("expected 2 fields after apply, got %d", len(applied.Fields))
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	old := sampleCard()
	newCard := sampleCard()
	newCard.DisplayName = "Alice B."
	delta := Compute(old, newCard, 1, time.Now())

	signed := Sign(delta, priv)
	if !Verify(signed, pub) {
		t.Fatalf("expected signature to verify")
	}

	tampered := signed
	tampered.Version = signed.Version + 1
	if Verify(tampered, pub) {
		t.Fatalf("expected tampered delta to fail verification")
	}
}

func TestFilterForContactKeepsDisplayNameAlwaysAndFiltersFields(t *testing.T) {
	old := sampleCard()
	newCard := sampleCard()
	newCard.DisplayName = "Alice B."
	newCard.Fields[0].Value = "alice@changed.example"
	delta := Compute(old, newCard, 1, time.Now())

	emailFieldID := old.Fields[0].FieldID
	filtered := FilterForContact(delta, func(fieldID string) bool {
		return fieldID != emailFieldID
	})

	var sawDisplayName bool
	for _, c := range filtered.Changes {
		if c.Kind == ChangeDisplayNameChanged {
			sawDisplayName = true
		}
		if c.Kind == ChangeModified && c.FieldID == emailFieldID {
			t.Fatalf("expected email field change to be filtered out")
		}
	}
	if !sawDisplayName {
		t.Fatalf("expected display_name change to always be retained")
	}
	if filtered.Signature != nil {
		t.Fatalf("expected filtered delta to be unsigned")
	}
}

func TestValidateCardRejectsEmptyOrDuplicateLabel(t *testing.T) {
	if err := ValidateCard(models.Card{DisplayName: "  "}); err == nil {
		t.Fatalf("expected error for blank display name")
	}
	card := models.Card{
		DisplayName: "Bob",
		Fields: []models.ContactField{
			NewField(models.FieldTypeEmail, "contact", "a@example.com"),
			NewField(models.FieldTypePhone, "contact", "555-2000"),
		},
	}
	if err := ValidateCard(card); err == nil {
		t.Fatalf("expected error for duplicate label")
	}
}
