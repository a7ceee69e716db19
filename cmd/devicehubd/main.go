// Command devicehubd is an example wiring binary for the devicehub library:
// it attaches to one statically-configured device, exposes its debug/control
// surface over HTTP, and relays state changes over a websocket. Discovery
// is left to the caller (spec §6); this binary demonstrates wiring a single
// known host, the simplest case, and records that host's address in the
// sqlite address cache whenever DEVICEHUB_ADDRESS_CACHE_PATH is non-empty
// (it defaults to a path under ./data).
//
// Grounded on the teacher's cmd/sonos-hub/main.go: config.Load, build a
// handler, run an http.Server, and translate SIGINT/SIGTERM into a graceful
// shutdown with a bounded context.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strefethen/devicehub/internal/addresscache"
	"github.com/strefethen/devicehub/internal/config"
	"github.com/strefethen/devicehub/internal/debugsurface"
	"github.com/strefethen/devicehub/internal/device"
	"github.com/strefethen/devicehub/internal/device/capabilities"
	"github.com/strefethen/devicehub/internal/device/dialect"
	"github.com/strefethen/devicehub/internal/device/identity"
	"github.com/strefethen/devicehub/internal/device/orchestrator"
	"github.com/strefethen/devicehub/internal/device/player"
	"github.com/strefethen/devicehub/internal/device/transport"
	"github.com/strefethen/devicehub/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	host := envOrFatal("DEVICEHUB_DEVICE_HOST")
	vendor := device.Vendor(envDefault("DEVICEHUB_DEVICE_VENDOR", string(device.VendorWiiM)))

	registry, err := dialect.NewRegistry()
	if err != nil {
		log.Fatalf("dialect registry error: %v", err)
	}
	dia, err := registry.For(vendor)
	if err != nil {
		log.Fatalf("no dialect for vendor %q: %v", vendor, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.TransportTimeout)
	probeCmd, err := dia.Build(dialect.OpGetStatus)
	if err != nil {
		cancel()
		log.Fatalf("build probe command: %v", err)
	}
	t, err := transport.Probe(ctx, host, host, probeCmd.Verb, cfg.TransportTimeout, cfg.TransportRetries, cfg.TransportBackoff)
	cancel()
	if err != nil {
		log.Fatalf("probe device at %s: %v", host, err)
	}

	caps := capabilities.New(vendor, device.AudioProGenNone, dia)

	poll := player.PollConfig{
		Playing:     cfg.PollPlaying,
		IdleModern:  cfg.PollIdleModern,
		IdleLegacy:  cfg.PollIdleLegacy,
		SlaveModern: cfg.PollSlaveModern,
		SlaveLegacy: cfg.PollSlaveLegacy,
	}

	broadcaster := notify.New(cfg.NotifyBufferSize)

	var p *player.Player
	onChange := broadcaster.OnChange(func() any { return p.Snapshot() })
	p = player.New(host, t, dia, caps, poll, cfg.EstimatorTickInterval, cfg.SettlingWindow, cfg.DriftTolerance,
		cfg.CoverArtCacheSize, cfg.CoverArtCacheTTL, onChange)

	idCtx, idCancel := context.WithTimeout(context.Background(), cfg.TransportTimeout)
	idTracker, err := identity.New(idCtx, host, t, dia)
	idCancel()
	if err != nil {
		log.Fatalf("fetch device identity: %v", err)
	}
	if err := idTracker.StartHourlyRefresh(); err != nil {
		log.Fatalf("start identity refresh: %v", err)
	}
	defer idTracker.Stop()

	orch := orchestrator.New()
	orch.Attach(p)
	defer orch.Stop()

	var cache *addresscache.Cache
	if cfg.AddressCachePath != "" {
		cache, err = addresscache.Open(cfg.AddressCachePath)
		if err != nil {
			log.Fatalf("open address cache: %v", err)
		}
		defer cache.Close()
		id := idTracker.Get()
		if err := cache.Put(addresscache.Entry{UUID: id.UUID, Host: id.Host, Port: id.Port, Protocol: id.Protocol, LastSeenAt: time.Now()}); err != nil {
			log.Printf("address cache put failed: %v", err)
		}
	}

	devReg := debugsurface.Registry(func(id string) (debugsurface.PlayerView, bool) {
		if id == p.ID() {
			return playerView{p}, true
		}
		return nil, false
	})
	debugHandler := debugsurface.New(debugsurface.Config{JWTSecret: cfg.DebugSurfaceJWTSecret}, devReg, singleDeviceActions{p})

	mux := http.NewServeMux()
	mux.Handle("/", debugHandler)
	mux.Handle("/notify", broadcaster)

	srv := &http.Server{
		Addr:              cfg.DebugSurfaceAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p.Close()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("devicehubd listening on %s for device %s (%s)", cfg.DebugSurfaceAddr, host, vendor)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func envOrFatal(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("%s is required", key)
	}
	return v
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// singleDeviceActions adapts Player's single-device admin methods to
// debugsurface.AdminActions, which is keyed by device ID to allow a host
// managing a fleet to route by ID; this binary manages exactly one.
type singleDeviceActions struct {
	player *player.Player
}

func (a singleDeviceActions) Reboot(ctx context.Context, deviceID string) error {
	if deviceID != a.player.ID() {
		return errUnknownDevice
	}
	return a.player.Reboot(ctx)
}

func (a singleDeviceActions) InstallFirmwareUpdate(ctx context.Context, deviceID string) error {
	if deviceID != a.player.ID() {
		return errUnknownDevice
	}
	return a.player.InstallFirmwareUpdate(ctx)
}

func (a singleDeviceActions) ForceRefresh(ctx context.Context, deviceID string) error {
	if deviceID != a.player.ID() {
		return errUnknownDevice
	}
	a.player.Refresh(ctx)
	return nil
}

func (a singleDeviceActions) ClearStickyCapability(ctx context.Context, deviceID string, flag device.CapabilityFlag) error {
	if deviceID != a.player.ID() {
		return errUnknownDevice
	}
	a.player.Capabilities().ResetSticky(flag)
	return nil
}

// playerView adapts *player.Player to debugsurface.PlayerView, whose
// Capabilities method returns the narrower CapabilitiesView interface.
type playerView struct {
	*player.Player
}

func (v playerView) Capabilities() debugsurface.CapabilitiesView { return v.Player.Capabilities() }

var errUnknownDevice = errors.New("devicehubd: unknown device id")
