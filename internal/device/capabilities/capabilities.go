// Package capabilities tracks per-device cached facts: vendor, generation,
// firmware, which endpoints a device implements, and ternary feature flags
// resolved by static rule or probe (spec §4.3). A resolved "no" is sticky
// for the process lifetime; only an explicit ResetSticky call returns a flag
// to its static-rule value (unknown when no static rule applies).
//
// Grounded on the teacher's internal/devices/types.go SONOS_MODELS static
// capability table (a vendor -> feature-flag map consulted before any
// network call) and internal/sonos/zonecache.go's probe-and-cache shape,
// here used without the zonecache's TTL since spec §4.3 flags are sticky,
// not time-bounded.
package capabilities

import (
	"context"
	"sync"

	"github.com/strefethen/devicehub/internal/apperrors"
	"github.com/strefethen/devicehub/internal/device"
	"github.com/strefethen/devicehub/internal/device/dialect"
)

// ProbeFunc issues the endpoint for flag and reports whether the device
// implements it. A returned DeviceRejectedError is treated by Resolve as a
// definitive "no", per spec §7 ("capability probes swallow DeviceRejected
// as this flag is no and do not surface it"); any other error propagates.
type ProbeFunc func(ctx context.Context) (bool, error)

// staticRule returns an unambiguous vendor-level answer for flag, or
// TriUnknown if the flag needs a probe.
func staticRule(vendor device.Vendor, flag device.CapabilityFlag) device.Tri {
	switch flag {
	case device.CapFirmwareInstall:
		if vendor == device.VendorWiiM {
			return device.TriYes
		}
		return device.TriNo
	case device.CapUPnP:
		// Every device in this family implements AVTransport/RenderingControl.
		return device.TriYes
	default:
		return device.TriUnknown
	}
}

// Registry holds the resolved capability set for one device.
type Registry struct {
	vendor     device.Vendor
	generation device.AudioProGeneration
	dialect    *dialect.Dialect

	mu    sync.Mutex
	flags map[device.CapabilityFlag]device.Tri
}

// New seeds a Registry with every static rule already resolvable for vendor.
func New(vendor device.Vendor, generation device.AudioProGeneration, d *dialect.Dialect) *Registry {
	r := &Registry{
		vendor:     vendor,
		generation: generation,
		dialect:    d,
		flags:      make(map[device.CapabilityFlag]device.Tri, len(device.AllCapabilityFlags)),
	}
	for _, flag := range device.AllCapabilityFlags {
		r.flags[flag] = staticRule(vendor, flag)
	}
	return r
}

// Get returns the currently known value for flag without probing.
func (r *Registry) Get(flag device.CapabilityFlag) device.Tri {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags[flag]
}

// Resolve returns the current value for flag if already known (yes or no);
// otherwise it runs probe and stores the sticky result.
func (r *Registry) Resolve(ctx context.Context, flag device.CapabilityFlag, probe ProbeFunc) (device.Tri, error) {
	r.mu.Lock()
	current := r.flags[flag]
	r.mu.Unlock()
	if current != device.TriUnknown {
		return current, nil
	}

	ok, err := probe(ctx)
	if err != nil {
		var rejected *apperrors.DeviceRejectedError
		if asDeviceRejected(err, &rejected) {
			r.mu.Lock()
			r.flags[flag] = device.TriNo
			r.mu.Unlock()
			return device.TriNo, nil
		}
		return device.TriUnknown, err
	}

	result := device.TriNo
	if ok {
		result = device.TriYes
	}
	r.mu.Lock()
	r.flags[flag] = result
	r.mu.Unlock()
	return result, nil
}

func asDeviceRejected(err error, target **apperrors.DeviceRejectedError) bool {
	rej, ok := err.(*apperrors.DeviceRejectedError)
	if !ok {
		return false
	}
	*target = rej
	return true
}

// ResetSticky clears a previously resolved flag back to its construction-time
// value (the static rule if one applies, otherwise TriUnknown), so the next
// Resolve call probes again. Intended for the debug surface's manual
// "clear sticky-no" admin action when a capability probe failed transiently
// and latched a wrong "no".
func (r *Registry) ResetSticky(flag device.CapabilityFlag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[flag] = staticRule(r.vendor, flag)
}

// Snapshot returns a copy of every currently known flag value.
func (r *Registry) Snapshot() map[device.CapabilityFlag]device.Tri {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[device.CapabilityFlag]device.Tri, len(r.flags))
	for k, v := range r.flags {
		out[k] = v
	}
	return out
}

// Vendor and Generation return the static facts supplied at construction.
func (r *Registry) Vendor() device.Vendor                       { return r.vendor }
func (r *Registry) Generation() device.AudioProGeneration        { return r.generation }

// DecodeLoopMode and EncodeLoopMode expose the registry's Dialect as the
// single authority for the loop-mode bijection (spec §4.3): any place that
// reads or writes loop mode goes through the registry, which delegates to
// the vendor Dialect it was constructed with.
func (r *Registry) DecodeLoopMode(n int) (device.ShuffleState, device.RepeatMode) {
	return r.dialect.DecodeLoopMode(n)
}

func (r *Registry) EncodeLoopMode(shuffle bool, repeat device.RepeatMode) (int, error) {
	return r.dialect.EncodeLoopMode(shuffle, repeat)
}
