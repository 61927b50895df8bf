// Package orchestrator exposes the contact book engine as a single façade
// (spec §4.12): identity, own card, contacts, ratchets, propagation,
// visibility, and device operations, plus fire-and-forget event dispatch.
// It owns no mutable crypto state of its own — every call loads and saves
// through the identity manager, storage, and the component packages.
package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/webbook/contactbook/internal/crypto"
	"github.com/webbook/contactbook/internal/devicesync"
	"github.com/webbook/contactbook/internal/identity"
	"github.com/webbook/contactbook/internal/platform/ratelimiter"
	"github.com/webbook/contactbook/internal/storage"
	"github.com/webbook/contactbook/internal/syncqueue"
	"github.com/webbook/contactbook/internal/visibility"
	"github.com/webbook/contactbook/pkg/models"
)

// defaultLinkRequestRPS/Burst bound how many process_device_link calls a
// single link_key may drive before ErrRateLimited kicks in, so a forged or
// replayed request ciphertext can't be hammered at line speed while the
// legitimate scanning device still gets its handful of retries.
const (
	defaultLinkRequestRPS   = 1.0
	defaultLinkRequestBurst = 3
	defaultLinkIdleTTL      = 10 * time.Minute
)

// Orchestrator is the host-facing façade. A host constructs exactly one per
// unlocked identity/session and MUST serialize mutating calls itself if it
// shares the handle across threads (spec §5).
type Orchestrator struct {
	mu sync.Mutex

	store    *storage.Store
	identity *identity.Manager
	labels   *visibility.LabelManager
	queue    *syncqueue.Queue
	devices  *devicesync.Orchestrator

	logger      *slog.Logger
	metrics     *metrics
	handlers    []EventHandler
	linkLimiter *ratelimiter.MapLimiter
}

// Options configures an Orchestrator at construction time. Logger defaults
// to slog.Default()'s handler wrapped in privacylog's sanitizer, and
// Registerer to prometheus.DefaultRegisterer.
// LinkRequestLimiter overrides the default per-link_key throttling applied
// to ProcessDeviceLink; pass a MapLimiter built with a higher rate in tests
// that exercise many handshakes back to back.
type Options struct {
	Logger             *slog.Logger
	Registerer         prometheus.Registerer
	LinkRequestLimiter *ratelimiter.MapLimiter
}

// New wires a freshly created identity's storage, label manager, sync
// queue, and device-sync orchestrator into one façade.
func New(store *storage.Store, mgr *identity.Manager, opts Options) (*Orchestrator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	labels := visibility.NewLabelManager()
	if err := restoreLabels(store, labels); err != nil {
		return nil, wrap(KindStorage, err)
	}
	if err := restoreOverrides(store, labels); err != nil {
		return nil, wrap(KindStorage, err)
	}

	registry := mgr.Registry()
	exchangePriv, _ := mgr.ExchangeKeypair()
	currentDeviceID := mgr.CurrentDeviceID()

	deviceOrch, err := devicesync.Load(store, currentDeviceID, exchangePriv, registry)
	if err != nil {
		return nil, wrap(KindStorage, err)
	}

	linkLimiter := opts.LinkRequestLimiter
	if linkLimiter == nil {
		linkLimiter = ratelimiter.New(defaultLinkRequestRPS, defaultLinkRequestBurst, defaultLinkIdleTTL)
	}

	return &Orchestrator{
		store:       store,
		identity:    mgr,
		labels:      labels,
		queue:       syncqueue.New(store),
		devices:     deviceOrch,
		logger:      logger,
		metrics:     newMetrics(reg),
		linkLimiter: linkLimiter,
	}, nil
}

func restoreLabels(store *storage.Store, labels *visibility.LabelManager) error {
	existing, err := store.ListVisibilityLabels()
	if err != nil {
		return err
	}
	for _, label := range existing {
		restored, err := labels.CreateLabel(label.Name)
		if err != nil {
			continue
		}
		for contactID := range label.MemberIDs {
			_ = labels.AddMember(restored.ID, contactID)
		}
		for fieldID, visible := range label.VisibleFields {
			_ = labels.SetFieldVisible(restored.ID, fieldID, visible)
		}
	}
	return nil
}

// MetricsSnapshot reports the façade's in-process operation/error counters
// alongside the current contact count and pending-queue size, for a host's
// own health/diagnostics surface (spec §10 ambient stack).
func (o *Orchestrator) MetricsSnapshot() (models.MetricsSnapshot, error) {
	contacts, err := o.store.ListContacts()
	if err != nil {
		return models.MetricsSnapshot{}, wrap(KindStorage, err)
	}
	pending, err := o.store.ListAllPendingUpdates()
	if err != nil {
		return models.MetricsSnapshot{}, wrap(KindStorage, err)
	}
	return o.metrics.snapshot(len(contacts), len(pending)), nil
}

// restoreOverrides replays every contact's persisted per-field overrides
// into labels' in-memory state, since LabelManager has no load-from-storage
// constructor of its own.
func restoreOverrides(store *storage.Store, labels *visibility.LabelManager) error {
	contacts, err := store.ListContacts()
	if err != nil {
		return err
	}
	for _, contact := range contacts {
		overrides, err := store.ListVisibilityOverrides(contact.ContactID)
		if err != nil {
			return err
		}
		for fieldID, visible := range overrides {
			labels.SetOverride(contact.ContactID, fieldID, visible)
		}
	}
	return nil
}

// ratchetFor loads a contact's persisted ratchet state, wrapping a missing
// ratchet as KindNotFound.
func (o *Orchestrator) ratchetFor(contactID string) (*crypto.RatchetState, bool, error) {
	state, isInitiator, err := o.store.LoadRatchetState(contactID)
	if err != nil {
		return nil, false, wrap(KindNotFound, err)
	}
	return state, isInitiator, nil
}
