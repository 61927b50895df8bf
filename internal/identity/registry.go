package identity

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"time"

	"github.com/webbook/contactbook/pkg/models"
)

var (
	ErrDuplicateDeviceIndex = errors.New("identity: device index already registered")
	ErrDeviceNotFound       = errors.New("identity: device not found")
	ErrInvalidRegistry      = errors.New("identity: invalid device registry signature")
)

// NewRegistry builds the initial one-device registry for a freshly created
// identity (device_index 0), signed by the root signing key.
func NewRegistry(rootPriv ed25519.PrivateKey, primary models.RegisteredDevice) (models.DeviceRegistry, error) {
	if primary.DeviceIndex != 0 {
		return models.DeviceRegistry{}, errors.New("identity: primary device must have index 0")
	}
	reg := models.DeviceRegistry{
		Devices:         []models.RegisteredDevice{primary},
		NextDeviceIndex: 1,
	}
	reg.Signature = ed25519.Sign(rootPriv, registrySigningBytes(reg))
	return reg, nil
}

// AddDevice appends dev (whose DeviceIndex must equal registry.NextDeviceIndex)
// and re-signs the whole registry, per spec §4.4 ("add_device re-signs the
// whole registry so third parties can verify authenticity").
func AddDevice(registry models.DeviceRegistry, rootPriv ed25519.PrivateKey, dev models.RegisteredDevice) (models.DeviceRegistry, error) {
	if dev.DeviceIndex != registry.NextDeviceIndex {
		return models.DeviceRegistry{}, ErrDuplicateDeviceIndex
	}
	for _, d := range registry.Devices {
		if d.DeviceIndex == dev.DeviceIndex {
			return models.DeviceRegistry{}, ErrDuplicateDeviceIndex
		}
	}
	devices := append(append([]models.RegisteredDevice(nil), registry.Devices...), dev)
	next := models.DeviceRegistry{
		Devices:         devices,
		NextDeviceIndex: registry.NextDeviceIndex + 1,
	}
	next.Signature = ed25519.Sign(rootPriv, registrySigningBytes(next))
	return next, nil
}

// RevokeDevice flips the revoked flag for deviceID and re-signs the registry.
func RevokeDevice(registry models.DeviceRegistry, rootPriv ed25519.PrivateKey, deviceID []byte) (models.DeviceRegistry, error) {
	devices := append([]models.RegisteredDevice(nil), registry.Devices...)
	found := false
	for i := range devices {
		if string(devices[i].DeviceID) == string(deviceID) {
			devices[i].Revoked = true
			found = true
			break
		}
	}
	if !found {
		return models.DeviceRegistry{}, ErrDeviceNotFound
	}
	next := models.DeviceRegistry{Devices: devices, NextDeviceIndex: registry.NextDeviceIndex}
	next.Signature = ed25519.Sign(rootPriv, registrySigningBytes(next))
	return next, nil
}

// VerifyRegistry reports whether registry's signature was produced by rootPub
// over its current devices and next_device_index.
func VerifyRegistry(registry models.DeviceRegistry, rootPub ed25519.PublicKey) bool {
	if len(registry.Signature) != ed25519.SignatureSize {
		return false
	}
	unsigned := models.DeviceRegistry{Devices: registry.Devices, NextDeviceIndex: registry.NextDeviceIndex}
	return ed25519.Verify(rootPub, registrySigningBytes(unsigned), registry.Signature)
}

// ActiveDevices returns the non-revoked devices.
func ActiveDevices(registry models.DeviceRegistry) []models.RegisteredDevice {
	out := make([]models.RegisteredDevice, 0, len(registry.Devices))
	for _, d := range registry.Devices {
		if !d.Revoked {
			out = append(out, d)
		}
	}
	return out
}

// FindDevice looks up a device by its device_id.
func FindDevice(registry models.DeviceRegistry, deviceID []byte) (models.RegisteredDevice, bool) {
	for _, d := range registry.Devices {
		if string(d.DeviceID) == string(deviceID) {
			return d, true
		}
	}
	return models.RegisteredDevice{}, false
}

// registrySigningBytes canonically encodes the devices and next_device_index
// so both AddDevice and VerifyRegistry agree on exactly what was signed.
func registrySigningBytes(registry models.DeviceRegistry) []byte {
	buf := make([]byte, 0, 64*len(registry.Devices)+4)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], registry.NextDeviceIndex)
	buf = append(buf, tmp[:]...)
	for _, d := range registry.Devices {
		buf = append(buf, byte(len(d.DeviceID)))
		buf = append(buf, d.DeviceID...)
		binary.BigEndian.PutUint32(tmp[:], d.DeviceIndex)
		buf = append(buf, tmp[:]...)
		buf = append(buf, byte(len(d.DeviceName)))
		buf = append(buf, []byte(d.DeviceName)...)
		buf = append(buf, byte(len(d.ExchangePublicKey)))
		buf = append(buf, d.ExchangePublicKey...)
		if d.Revoked {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		ts := d.AddedAt.UTC().Unix()
		var ts8 [8]byte
		binary.BigEndian.PutUint64(ts8[:], uint64(ts))
		buf = append(buf, ts8[:]...)
	}
	return buf
}

func newRegisteredDevice(keys DerivedKeys, index uint32, name string, now time.Time) models.RegisteredDevice {
	return models.RegisteredDevice{
		DeviceID:          keys.DeviceID,
		DeviceIndex:       index,
		DeviceName:        name,
		ExchangePublicKey: keys.ExchangePublicKey,
		AddedAt:           now,
	}
}
