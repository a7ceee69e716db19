package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func lookupEnv(key string) string {
	return os.Getenv(key)
}

// Config holds process-wide defaults for the device-control library and its
// example daemon. Per-device overrides are not modeled here; the Player and
// Transport constructors take individual values, not this Config.
type Config struct {
	// Transport
	TransportTimeout  time.Duration
	TransportRetries  int
	TransportBackoff  time.Duration
	AddressProbePorts []string // ordered endpoint shapes, e.g. "https:443"

	// StateSynchronizer freshness windows (overridable per-field by callers)
	PlaybackFreshness time.Duration // playState/volume/muted
	TrackFreshness    time.Duration // title/artist/album/imageUrl
	SourceFreshness   time.Duration // source/rawSource
	ModeFreshness     time.Duration // shuffle/repeat
	CodecFreshness    time.Duration // codec/sampleRate/bitDepth

	// PositionEstimator
	EstimatorTickInterval time.Duration
	SettlingWindow        time.Duration
	DriftTolerance        time.Duration

	// Player polling strategy
	PollPlaying     time.Duration
	PollIdleModern  time.Duration
	PollIdleLegacy  time.Duration
	PollSlaveModern time.Duration
	PollSlaveLegacy time.Duration

	// Cover-art cache
	CoverArtCacheSize int
	CoverArtCacheTTL  time.Duration

	// UPnP event subscription defaults
	UPnPEnabled             bool
	UPnPSubscriptionTimeout int // seconds, requested from device
	UPnPRenewalBuffer       int // seconds before expiry to renew

	// DeviceIdentity refresh cadence. Loaded but not read by anything:
	// identity.StartHourlyRefresh always schedules "@hourly".
	IdentityRefreshCron string // robfig/cron expression, default hourly

	// Debug surface
	DebugSurfaceAddr      string
	DebugSurfaceJWTSecret string

	// Address cache
	AddressCachePath string

	// Notify relay
	NotifyBufferSize int
}

// Load reads configuration from environment variables with defaults, in the
// envString/envInt/envBool idiom.
func Load() (Config, error) {
	cfg := Config{
		TransportTimeout:  time.Duration(envInt("DEVICEHUB_TRANSPORT_TIMEOUT_MS", 5000)) * time.Millisecond,
		TransportRetries:  envInt("DEVICEHUB_TRANSPORT_RETRIES", 3),
		TransportBackoff:  time.Duration(envInt("DEVICEHUB_TRANSPORT_BACKOFF_MS", 200)) * time.Millisecond,
		AddressProbePorts: envCSVDefault("DEVICEHUB_PROBE_ENDPOINTS", []string{"https:443", "https:4443", "https:8443", "http:80", "http:8080"}),

		PlaybackFreshness: time.Duration(envInt("DEVICEHUB_FRESH_PLAYBACK_SEC", 10)) * time.Second,
		TrackFreshness:    time.Duration(envInt("DEVICEHUB_FRESH_TRACK_SEC", 30)) * time.Second,
		SourceFreshness:   time.Duration(envInt("DEVICEHUB_FRESH_SOURCE_SEC", 10)) * time.Second,
		ModeFreshness:     time.Duration(envInt("DEVICEHUB_FRESH_MODE_SEC", 10)) * time.Second,
		CodecFreshness:    time.Duration(envInt("DEVICEHUB_FRESH_CODEC_SEC", 60)) * time.Second,

		EstimatorTickInterval: time.Duration(envInt("DEVICEHUB_ESTIMATOR_TICK_MS", 1000)) * time.Millisecond,
		SettlingWindow:        time.Duration(envInt("DEVICEHUB_SETTLING_MS", 100)) * time.Millisecond,
		DriftTolerance:        time.Duration(envInt("DEVICEHUB_DRIFT_TOLERANCE_SEC", 3)) * time.Second,

		PollPlaying:     time.Duration(envInt("DEVICEHUB_POLL_PLAYING_SEC", 5)) * time.Second,
		PollIdleModern:  time.Duration(envInt("DEVICEHUB_POLL_IDLE_MODERN_SEC", 5)) * time.Second,
		PollIdleLegacy:  time.Duration(envInt("DEVICEHUB_POLL_IDLE_LEGACY_SEC", 15)) * time.Second,
		PollSlaveModern: time.Duration(envInt("DEVICEHUB_POLL_SLAVE_MODERN_SEC", 5)) * time.Second,
		PollSlaveLegacy: time.Duration(envInt("DEVICEHUB_POLL_SLAVE_LEGACY_SEC", 10)) * time.Second,

		CoverArtCacheSize: envInt("DEVICEHUB_COVERART_CACHE_SIZE", 10),
		CoverArtCacheTTL:  time.Duration(envInt("DEVICEHUB_COVERART_CACHE_TTL_MIN", 60)) * time.Minute,

		UPnPEnabled:             envBool("DEVICEHUB_UPNP_ENABLED", true),
		UPnPSubscriptionTimeout: envInt("DEVICEHUB_UPNP_SUBSCRIPTION_TIMEOUT_SEC", 3600),
		UPnPRenewalBuffer:       envInt("DEVICEHUB_UPNP_RENEWAL_BUFFER_SEC", 60),

		IdentityRefreshCron: envString("DEVICEHUB_IDENTITY_REFRESH_CRON", "0 0 * * * *"),

		DebugSurfaceAddr:      envString("DEVICEHUB_DEBUG_ADDR", "127.0.0.1:9090"),
		DebugSurfaceJWTSecret: envString("DEVICEHUB_DEBUG_JWT_SECRET", ""),

		AddressCachePath: envString("DEVICEHUB_ADDRESS_CACHE_PATH", "./data/devicehub-addresses.db"),

		NotifyBufferSize: envInt("DEVICEHUB_NOTIFY_BUFFER_SIZE", 16),
	}

	if cfg.DebugSurfaceJWTSecret != "" && len(strings.TrimSpace(cfg.DebugSurfaceJWTSecret)) < 32 {
		return Config{}, fmt.Errorf("DEVICEHUB_DEBUG_JWT_SECRET must be at least 32 characters when set")
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	val := lookupEnv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := lookupEnv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := lookupEnv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envCSVDefault(key string, fallback []string) []string {
	val := lookupEnv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
