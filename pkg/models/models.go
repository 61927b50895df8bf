// Package models holds the data-model types shared across the contact book
// engine's components, mirroring spec §3.
package models

import "time"

// Identity is the root of a user's cryptographic material (spec §3
// "Identity"). MasterSeed and the derived private keys never leave the
// identity package in the clear; this type is the public-facing subset safe
// to pass around.
type Identity struct {
	PublicID         string    `json:"public_id"`
	SigningPublicKey []byte    `json:"signing_public_key"`
	ExchangePublicKey []byte   `json:"exchange_public_key"`
	DisplayName      string    `json:"display_name"`
	CreatedAt        time.Time `json:"created_at"`
	DeviceIndex      uint32    `json:"device_index"`
}

// RegisteredDevice is one entry in the signed device registry (spec §3
// "Device registry").
type RegisteredDevice struct {
	DeviceID          []byte    `json:"device_id"`
	DeviceIndex       uint32    `json:"device_index"`
	DeviceName        string    `json:"device_name"`
	ExchangePublicKey []byte    `json:"exchange_public_key"`
	Revoked           bool      `json:"revoked"`
	AddedAt           time.Time `json:"added_at"`
}

// DeviceRegistry is the ordered, wholly-signed list of a single identity's
// devices.
type DeviceRegistry struct {
	Devices         []RegisteredDevice `json:"devices"`
	NextDeviceIndex uint32             `json:"next_device_index"`
	Signature       []byte             `json:"signature"`
}

// FieldType enumerates the kinds of contact card fields (spec §3 "Contact
// card").
type FieldType string

const (
	FieldTypeEmail   FieldType = "email"
	FieldTypePhone   FieldType = "phone"
	FieldTypeWebsite FieldType = "website"
	FieldTypeAddress FieldType = "address"
	FieldTypeSocial  FieldType = "social"
	FieldTypeCustom  FieldType = "custom"
)

// ContactField is one labeled value on a contact card. FieldID is generated
// once at creation and never reused, so deltas can distinguish Modified from
// Added+Removed.
type ContactField struct {
	FieldID   string    `json:"field_id"`
	FieldType FieldType `json:"field_type"`
	Label     string    `json:"label"`
	Value     string    `json:"value"`
}

// Card is a contact card: a display name plus an ordered list of fields.
type Card struct {
	DisplayName string         `json:"display_name"`
	Fields      []ContactField `json:"fields"`
}

// Visibility is one of the three per-field rule states (spec §3 "Visibility
// rules").
type Visibility string

const (
	VisibilityEveryone Visibility = "everyone"
	VisibilityNobody   Visibility = "nobody"
	VisibilityContacts Visibility = "contacts"
)

// VisibilityRule is the resolved rule for one of our own field IDs: either a
// blanket Everyone/Nobody, or a specific allow-set when Visibility is
// VisibilityContacts.
type VisibilityRule struct {
	Visibility Visibility `json:"visibility"`
	ContactIDs []string   `json:"contact_ids,omitempty"`
}

// Contact is a peer this identity has exchanged keys with (spec §3
// "Contact").
type Contact struct {
	ContactID           string                    `json:"contact_id"`
	SigningPublicKey    []byte                    `json:"signing_public_key"`
	Card                Card                      `json:"card"`
	SharedKey           []byte                    `json:"shared_key"`
	VisibilityRules     map[string]VisibilityRule `json:"visibility_rules"`
	FingerprintVerified bool                      `json:"fingerprint_verified"`
	ExchangeTimestamp   time.Time                 `json:"exchange_timestamp"`
}

// VisibilityLabel is a local-only, never-transmitted grouping of contacts
// that all see the same set of fields (spec §3 "Visibility labels").
type VisibilityLabel struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	MemberIDs     map[string]bool `json:"member_ids"`
	VisibleFields map[string]bool `json:"visible_fields"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PendingUpdateStatus is the lifecycle state of a queued outbound update
// (spec §3 "Pending update").
type PendingUpdateStatus string

const (
	PendingUpdateStatusPending PendingUpdateStatus = "pending"
	PendingUpdateStatusSending PendingUpdateStatus = "sending"
	PendingUpdateStatusFailed  PendingUpdateStatus = "failed"
)

// UpdateType distinguishes what a PendingUpdate carries.
type UpdateType string

const (
	UpdateTypeCardUpdate        UpdateType = "card_update"
	UpdateTypeVisibilityChange  UpdateType = "visibility_change"
)

// PendingUpdate is one outbound ciphertext waiting to reach a contact.
type PendingUpdate struct {
	UpdateID   string              `json:"update_id"`
	ContactID  string              `json:"contact_id"`
	UpdateType UpdateType          `json:"update_type"`
	Ciphertext []byte              `json:"ciphertext"`
	CreatedAt  time.Time           `json:"created_at"`
	RetryCount int                 `json:"retry_count"`
	Status     PendingUpdateStatus `json:"status"`
	LastError  string              `json:"last_error,omitempty"`
	RetryAt    time.Time           `json:"retry_at,omitempty"`
}

// VersionVector maps device_id to a monotone counter (spec §3 "Device
// sync").
type VersionVector map[string]uint64

// SyncItemKind discriminates SyncItem's payload.
type SyncItemKind string

const (
	SyncItemContactAdded      SyncItemKind = "contact_added"
	SyncItemContactRemoved    SyncItemKind = "contact_removed"
	SyncItemCardUpdated       SyncItemKind = "card_updated"
	SyncItemVisibilityChanged SyncItemKind = "visibility_changed"
)

// SyncItem is one inter-device change record (spec §3 "Device sync").
type SyncItem struct {
	Kind          SyncItemKind `json:"kind"`
	Timestamp     time.Time    `json:"timestamp"`
	ContactID     string       `json:"contact_id,omitempty"`
	ContactData   []byte       `json:"contact_data,omitempty"`
	FieldLabel    string       `json:"field_label,omitempty"`
	NewValue      string       `json:"new_value,omitempty"`
	IsVisible     bool         `json:"is_visible,omitempty"`
}

// MetricsSnapshot is a point-in-time view of façade-level operation counters,
// exposed for host observability (spec §10 ambient stack).
type MetricsSnapshot struct {
	ContactCount        int            `json:"contact_count"`
	PendingQueueSize     int            `json:"pending_queue_size"`
	OperationCounts      map[string]int `json:"operation_counts"`
	ErrorCounts          map[string]int `json:"error_counts"`
	LastUpdatedAt        time.Time      `json:"last_updated_at"`
}
