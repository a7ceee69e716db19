// Package identity implements the DeviceIdentity lifecycle (SUPPLEMENT):
// fetch-once at attach time, then an hourly refresh that recomputes
// UpdateAvailable by comparing FirmwareVersion against
// LatestFirmwareVersion. spec.md names the Identity fields (§3) but not the
// refresh mechanism; this package owns it.
//
// Grounded on the teacher's internal/scheduler "refresh on a schedule" idiom
// (internal/scheduler/runner.go's ticker-driven poll loop), here driven by
// robfig/cron instead of a raw ticker so the hourly cadence is expressed
// declaratively rather than as a magic time.Duration.
package identity

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/devicehub/internal/device"
	"github.com/strefethen/devicehub/internal/device/dialect"
	"github.com/strefethen/devicehub/internal/device/transport"
)

// rawDeviceInfo mirrors the subset of getStatusEx's JSON body that
// identifies the device and its firmware, independent of playback state.
type rawDeviceInfo struct {
	UUID       string `json:"uuid"`
	DeviceName string `json:"DeviceName"`
	Project    string `json:"project"`
	Firmware   string `json:"firmware"`
	MAC        string `json:"MAC"`
	NewVer     string `json:"NewVer"`
}

// Tracker owns one device's Identity, fetched once at construction and
// re-fetched on an hourly cron schedule.
type Tracker struct {
	transport *transport.Transport
	dialect   *dialect.Dialect
	deviceID  string

	mu       sync.RWMutex
	identity device.Identity

	cron *cron.Cron
}

// New constructs a Tracker and performs the initial synchronous fetch
// (spec's SUPPLEMENT: "fetch-once-at-attach"). endpoint fields (host, port,
// protocol) are taken from t and never change; the rest of Identity is
// filled in by Refresh.
func New(ctx context.Context, deviceID string, t *transport.Transport, d *dialect.Dialect) (*Tracker, error) {
	tr := &Tracker{transport: t, dialect: d, deviceID: deviceID}
	ep := t.Endpoint()
	tr.identity = device.Identity{Host: ep.Host, Port: ep.Port, Protocol: device.Protocol(ep.Protocol)}
	if err := tr.Refresh(ctx); err != nil {
		return nil, err
	}
	return tr, nil
}

// Get returns a copy of the current Identity.
func (t *Tracker) Get() device.Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.identity
}

// Refresh fetches GetDeviceInfo and merges the result into Identity,
// recomputing UpdateAvailable. It never removes previously known fields on
// a failed or partial fetch.
func (t *Tracker) Refresh(ctx context.Context) error {
	cmd, err := t.dialect.Build(dialect.OpGetDeviceInfo)
	if err != nil {
		return err
	}
	body, err := t.transport.Do(ctx, cmd.Verb)
	if err != nil {
		return err
	}

	var raw rawDeviceInfo
	if err := json.Unmarshal(body, &raw); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if raw.UUID != "" {
		t.identity.UUID = raw.UUID
	}
	if raw.DeviceName != "" {
		t.identity.FriendlyName = raw.DeviceName
	}
	if raw.Project != "" {
		t.identity.Model = raw.Project
	}
	if raw.MAC != "" {
		t.identity.MAC = raw.MAC
	}
	if raw.Firmware != "" {
		t.identity.FirmwareVersion = raw.Firmware
	}
	if raw.NewVer != "" {
		t.identity.LatestFirmwareVersion = raw.NewVer
	}
	t.identity.UpdateAvailable = t.identity.LatestFirmwareVersion != "" &&
		t.identity.LatestFirmwareVersion != t.identity.FirmwareVersion
	return nil
}

// StartHourlyRefresh registers an hourly cron job that calls Refresh,
// logging (never propagating) failures, matching Refresh/Player's own
// "swallow transport errors, log them" policy (spec §7).
func (t *Tracker) StartHourlyRefresh() error {
	t.cron = cron.New()
	_, err := t.cron.AddFunc("@hourly", func() {
		if err := t.Refresh(context.Background()); err != nil {
			log.Printf("IDENTITY: device=%s hourly refresh failed: %v", t.deviceID, err)
		}
	})
	if err != nil {
		return err
	}
	t.cron.Start()
	return nil
}

// Stop halts the hourly refresh schedule, if running.
func (t *Tracker) Stop() {
	if t.cron != nil {
		ctx := t.cron.Stop()
		<-ctx.Done()
	}
}
