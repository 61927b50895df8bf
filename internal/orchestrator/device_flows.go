package orchestrator

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/webbook/contactbook/internal/devicesync"
	"github.com/webbook/contactbook/internal/exchange"
	"github.com/webbook/contactbook/internal/identity"
	"github.com/webbook/contactbook/internal/storage"
	"github.com/webbook/contactbook/pkg/models"
)

// ActiveDevices returns the non-revoked entries of the identity's device
// registry (spec §6 "registry operations").
func (o *Orchestrator) ActiveDevices() []models.RegisteredDevice {
	return identity.ActiveDevices(o.identity.Registry())
}

// RevokeDevice marks a device revoked in the signed registry, persists it,
// and drops it from the device-sync orchestrator's tracked peers.
func (o *Orchestrator) RevokeDevice(deviceID []byte) error {
	return withMetricsErr(o, "revoke_device", func() error {
		if err := o.identity.RevokeDevice(deviceID); err != nil {
			return wrap(KindInvalidState, err)
		}
		if err := o.store.SaveDeviceRegistry(o.identity.Registry()); err != nil {
			return wrap(KindStorage, err)
		}
		if err := o.devices.RemoveDevice(deviceID); err != nil {
			return wrap(KindNotFound, err)
		}
		return nil
	})
}

// InitializeDeviceLink generates a fresh device-link QR on an already
// registered device (spec §6 initialize_device_link). The returned linkKey
// must be held by the caller until ProcessDeviceLink is called with the
// scanning device's request.
func (o *Orchestrator) InitializeDeviceLink() (qrBytes, linkKey []byte, err error) {
	result, err := withMetrics(o, "initialize_device_link", func() (deviceLinkQRResult, error) {
		signingPub, signingPriv := o.identity.SigningKeypair()
		built, err := exchange.NewDeviceLinkQR(signingPub)
		if err != nil {
			return deviceLinkQRResult{}, wrap(KindCrypto, err)
		}
		return deviceLinkQRResult{qrBytes: built.Encode(signingPriv), linkKey: built.LinkKey}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result.qrBytes, result.linkKey, nil
}

type deviceLinkQRResult struct {
	qrBytes []byte
	linkKey []byte
}

// ProcessDeviceLink decrypts a scanning device's link request, registers it
// as a new device in the signed registry, and returns an encrypted response
// carrying the master seed, the new device's index, the updated registry,
// and a full-sync snapshot (spec §6 process_device_link, §9 example 4).
func (o *Orchestrator) ProcessDeviceLink(requestCiphertext, linkKey []byte) ([]byte, error) {
	return withMetrics(o, "process_device_link", func() ([]byte, error) {
		if !o.linkLimiter.Allow(hex.EncodeToString(linkKey), time.Now().UTC()) {
			return nil, wrap(KindRateLimited, ErrRateLimited)
		}

		req, err := exchange.DecryptDeviceLinkRequest(requestCiphertext, linkKey)
		if err != nil {
			return nil, wrap(KindInvalidFormat, err)
		}

		o.mu.Lock()
		dev, _, err := o.identity.AddDevice(req.DeviceName)
		if err != nil {
			o.mu.Unlock()
			return nil, wrap(KindInvalidInput, err)
		}
		registry := o.identity.Registry()
		o.mu.Unlock()

		if err := o.store.SaveDeviceRegistry(registry); err != nil {
			return nil, wrap(KindStorage, err)
		}
		o.devices.AddDevice(dev.DeviceID)

		payload, err := o.devices.CreateFullSyncPayload()
		if err != nil {
			return nil, wrap(KindStorage, err)
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return nil, wrap(KindCrypto, err)
		}

		resp := exchange.DeviceLinkResponse{
			MasterSeed:      o.identity.MasterSeedForDeviceLink(),
			DisplayName:     o.identity.Identity().DisplayName,
			DeviceIndex:     dev.DeviceIndex,
			Registry:        registry,
			SyncPayloadJSON: string(payloadJSON),
		}
		respBytes, err := exchange.EncryptDeviceLinkResponse(resp, linkKey)
		if err != nil {
			return nil, wrap(KindCrypto, err)
		}
		return respBytes, nil
	})
}

// JoinDeviceLinkQR is run by a not-yet-identified device that scanned
// another device's link QR: it decodes the QR and builds the encrypted
// request the scanning device sends back over the relay (spec §6
// process_device_link, scanning side).
func JoinDeviceLinkQR(qrBytes []byte, deviceName string, now time.Time) (requestCiphertext, linkKey []byte, err error) {
	qr, err := exchange.DecodeDeviceLinkQR(qrBytes, now)
	if err != nil {
		return nil, nil, err
	}
	req, err := exchange.NewDeviceLinkRequest(deviceName)
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err := exchange.EncryptDeviceLinkRequest(req, qr.LinkKey)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, qr.LinkKey, nil
}

// CompleteDeviceLink is run by the joining device once it receives the
// primary device's encrypted response: it reconstructs the shared identity
// at its assigned device index, persists the registry, applies the bundled
// full-sync snapshot, and returns a ready-to-use Orchestrator (spec §6
// full-sync payload apply, §9 example 4).
func CompleteDeviceLink(store *storage.Store, responseCiphertext, linkKey []byte, opts Options) (*Orchestrator, error) {
	resp, err := exchange.DecryptDeviceLinkResponse(responseCiphertext, linkKey)
	if err != nil {
		return nil, wrap(KindInvalidFormat, err)
	}
	mgr, err := identity.NewManagerFromLinkedDevice(resp.MasterSeed, resp.DeviceIndex, resp.DisplayName, resp.Registry, opts.Logger)
	if err != nil {
		return nil, wrap(KindInvalidInput, err)
	}
	if err := store.SaveDeviceRegistry(resp.Registry); err != nil {
		return nil, wrap(KindStorage, err)
	}
	o, err := New(store, mgr, opts)
	if err != nil {
		return nil, err
	}
	if resp.SyncPayloadJSON != "" {
		var payload devicesync.FullSyncPayload
		if err := json.Unmarshal([]byte(resp.SyncPayloadJSON), &payload); err != nil {
			return nil, wrap(KindInvalidFormat, err)
		}
		if err := o.devices.ApplyFullSyncPayload(payload); err != nil {
			return nil, wrap(KindStorage, err)
		}
	}
	return o, nil
}

// CreateFullSyncSnapshot builds a full-sync payload of this device's
// contacts, own card, and version for a newly linked device (spec §6
// full-sync payload create).
func (o *Orchestrator) CreateFullSyncSnapshot() (devicesync.FullSyncPayload, error) {
	return withMetrics(o, "create_full_sync_snapshot", func() (devicesync.FullSyncPayload, error) {
		payload, err := o.devices.CreateFullSyncPayload()
		if err != nil {
			return devicesync.FullSyncPayload{}, wrap(KindStorage, err)
		}
		return payload, nil
	})
}

// ApplyFullSyncSnapshot applies a full-sync payload received from another of
// this identity's devices (spec §6 full-sync payload apply).
func (o *Orchestrator) ApplyFullSyncSnapshot(payload devicesync.FullSyncPayload) error {
	return withMetricsErr(o, "apply_full_sync_snapshot", func() error {
		if err := o.devices.ApplyFullSyncPayload(payload); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}
