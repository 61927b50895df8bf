// Package contactcard implements contact card field models and the delta
// compute/apply/sign/verify/filter pipeline (spec §3 "Contact card", §4.7).
package contactcard

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	"github.com/webbook/contactbook/pkg/models"
)

var (
	ErrInvalidDisplayName = errors.New("contactcard: display_name must be 1-100 characters after trim")
	ErrDuplicateLabel      = errors.New("contactcard: field label must be unique within a card")
	ErrInvalidSignature    = errors.New("contactcard: delta signature does not verify")
	ErrFieldNotFound       = errors.New("contactcard: field_id not found")
)

// ChangeKind discriminates the four variants of FieldChange (spec §4.7).
type ChangeKind string

const (
	ChangeAdded              ChangeKind = "added"
	ChangeModified           ChangeKind = "modified"
	ChangeRemoved            ChangeKind = "removed"
	ChangeDisplayNameChanged ChangeKind = "display_name_changed"
)

// FieldChange is one entry of a CardDelta. Only the fields relevant to Kind
// are populated; the rest are zero.
type FieldChange struct {
	Kind           ChangeKind          `json:"kind"`
	Field          models.ContactField `json:"field,omitempty"`
	FieldID        string              `json:"field_id,omitempty"`
	NewValue       string              `json:"new_value,omitempty"`
	NewDisplayName string              `json:"new_display_name,omitempty"`
}

// CardDelta is the signed, compact record of per-field changes between two
// card states (spec §4.7).
type CardDelta struct {
	Version   int           `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Changes   []FieldChange `json:"changes"`
	Signature []byte        `json:"signature,omitempty"`
}

// IsEmpty reports whether the delta has no changes; callers should skip
// queuing/propagating an empty delta (spec §4.7 rule 5, §4.10 NoChanges).
func (d CardDelta) IsEmpty() bool {
	return len(d.Changes) == 0
}

// ValidateCard checks the spec's display_name and label-uniqueness
// invariants (spec §3 "Contact card").
func ValidateCard(card models.Card) error {
	if strings.TrimSpace(card.DisplayName) == "" || len(card.DisplayName) > 100 {
		return ErrInvalidDisplayName
	}
	seen := make(map[string]struct{}, len(card.Fields))
	for _, f := range card.Fields {
		if _, dup := seen[f.Label]; dup {
			return ErrDuplicateLabel
		}
		seen[f.Label] = struct{}{}
	}
	return nil
}

// Compute yields the deterministic delta between old and new per spec §4.7:
// display_name changes first, then Modified for shared field_ids whose value
// differs, then Removed for field_ids only in old, then Added for field_ids
// only in new. An unchanged pair yields an empty delta (no signature, no
// timestamp) so callers can test IsEmpty() without inspecting time.
func Compute(old, new models.Card, version int, now time.Time) CardDelta {
	var changes []FieldChange

	if old.DisplayName != new.DisplayName {
		changes = append(changes, FieldChange{Kind: ChangeDisplayNameChanged, NewDisplayName: new.DisplayName})
	}

	oldByID := indexByFieldID(old.Fields)
	newByID := indexByFieldID(new.Fields)

	for id, oldField := range oldByID {
		if newField, ok := newByID[id]; ok {
			if oldField.Value != newField.Value {
				changes = append(changes, FieldChange{Kind: ChangeModified, FieldID: id, NewValue: newField.Value})
			}
		}
	}
	for id := range oldByID {
		if _, ok := newByID[id]; !ok {
			changes = append(changes, FieldChange{Kind: ChangeRemoved, FieldID: id})
		}
	}
	for id, newField := range newByID {
		if _, ok := oldByID[id]; !ok {
			changes = append(changes, FieldChange{Kind: ChangeAdded, Field: newField})
		}
	}

	if len(changes) == 0 {
		return CardDelta{}
	}
	return CardDelta{Version: version, Timestamp: now, Changes: changes}
}

func indexByFieldID(fields []models.ContactField) map[string]models.ContactField {
	out := make(map[string]models.ContactField, len(fields))
	for _, f := range fields {
		out[f.FieldID] = f
	}
	return out
}

// Apply replays delta's changes onto base, returning the resulting card.
// base is never mutated.
func Apply(base models.Card, delta CardDelta) (models.Card, error) {
	result := models.Card{
		DisplayName: base.DisplayName,
		Fields:      append([]models.ContactField(nil), base.Fields...),
	}
	for _, change := range delta.Changes {
		switch change.Kind {
		case ChangeDisplayNameChanged:
			result.DisplayName = change.NewDisplayName
		case ChangeModified:
			idx := findFieldIndex(result.Fields, change.FieldID)
			if idx < 0 {
				return models.Card{}, ErrFieldNotFound
			}
			result.Fields[idx].Value = change.NewValue
		case ChangeRemoved:
			// Tolerated on a missing field_id: idempotent so a delta replayed
			// after restore doesn't fail on an already-removed field.
			idx := findFieldIndex(result.Fields, change.FieldID)
			if idx < 0 {
				continue
			}
			result.Fields = append(result.Fields[:idx], result.Fields[idx+1:]...)
		case ChangeAdded:
			result.Fields = append(result.Fields, change.Field)
		}
	}
	return result, nil
}

func findFieldIndex(fields []models.ContactField, fieldID string) int {
	for i, f := range fields {
		if f.FieldID == fieldID {
			return i
		}
	}
	return -1
}

// FilterForContact returns a new, UNSIGNED delta containing only the changes
// visible(fieldID) allows, except DisplayNameChanged which is always kept
// (spec §4.7). Callers MUST re-sign the returned delta before transmitting
// it to that recipient; the original signature is never carried over because
// it was computed over the unfiltered change set.
func FilterForContact(delta CardDelta, visible func(fieldID string) bool) CardDelta {
	filtered := CardDelta{Version: delta.Version, Timestamp: delta.Timestamp}
	for _, change := range delta.Changes {
		switch change.Kind {
		case ChangeDisplayNameChanged:
			filtered.Changes = append(filtered.Changes, change)
		case ChangeAdded:
			if visible(change.Field.FieldID) {
				filtered.Changes = append(filtered.Changes, change)
			}
		case ChangeModified, ChangeRemoved:
			if visible(change.FieldID) {
				filtered.Changes = append(filtered.Changes, change)
			}
		}
	}
	return filtered
}

// Sign signs delta (typically already filtered for one recipient) and
// returns a copy carrying the signature. Per spec §4.7/§9, implementations
// MUST sign the filtered, per-recipient delta rather than the unfiltered
// one.
func Sign(delta CardDelta, priv ed25519.PrivateKey) CardDelta {
	signed := delta
	signed.Signature = ed25519.Sign(priv, signingBytes(delta))
	return signed
}

// Verify reports whether delta's signature was produced by pub over exactly
// delta's own (already-filtered, if applicable) contents.
func Verify(delta CardDelta, pub ed25519.PublicKey) bool {
	if len(delta.Signature) != ed25519.SignatureSize {
		return false
	}
	unsigned := delta
	unsigned.Signature = nil
	return ed25519.Verify(pub, signingBytes(unsigned), delta.Signature)
}

// signingBytes canonically encodes a delta's content, ignoring any
// signature field, so Sign and Verify always agree on what was signed.
func signingBytes(delta CardDelta) []byte {
	buf := make([]byte, 0, 128)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(delta.Version))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], uint64(delta.Timestamp.UTC().UnixNano()))
	buf = append(buf, tmp[:]...)
	for _, c := range delta.Changes {
		buf = append(buf, []byte(c.Kind)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(c.FieldID)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(c.NewValue)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(c.NewDisplayName)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(c.Field.FieldID)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(c.Field.Label)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(c.Field.Value)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(c.Field.FieldType)...)
		buf = append(buf, 0)
	}
	return buf
}
