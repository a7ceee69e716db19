package state

import (
	"testing"
	"time"

	"github.com/strefethen/devicehub/internal/device"
	"github.com/stretchr/testify/require"
)

func newTestSynchronizer() *Synchronizer {
	return New(Windows{
		Playback: 10 * time.Second,
		Track:    30 * time.Second,
		Source:   10 * time.Second,
		Mode:     10 * time.Second,
		Codec:    60 * time.Second,
	}, 2*time.Second, 3*time.Second)
}

func TestSynchronizer_ApplyHttp_FirstObservationAlwaysApplies(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	changed := s.ApplyHttp(device.Partial{Mask: device.FieldVolume, Status: device.Status{Volume: 0.5}}, now)
	require.Equal(t, device.FieldVolume, changed)
	require.Equal(t, 0.5, s.Snapshot().Volume)
}

func TestSynchronizer_ApplyHttp_UnchangedFieldReportsNoChange(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()
	s.ApplyHttp(device.Partial{Mask: device.FieldVolume, Status: device.Status{Volume: 0.5}}, now)

	changed := s.ApplyHttp(device.Partial{Mask: device.FieldVolume, Status: device.Status{Volume: 0.5}}, now.Add(time.Second))
	require.Equal(t, device.FieldMask(0), changed)
}

func TestSynchronizer_PlaybackField_PrefersUpnpOverHttpWithinWindow(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	s.ApplyUpnp(device.Partial{Mask: device.FieldVolume, Status: device.Status{Volume: 0.8}}, now)
	// HTTP observation arrives moments later, inside the playback freshness window.
	s.ApplyHttp(device.Partial{Mask: device.FieldVolume, Status: device.Status{Volume: 0.3}}, now.Add(time.Second))

	require.Equal(t, 0.8, s.Snapshot().Volume, "UPnP is the preferred source for Volume and should not be overridden by fresh HTTP")
}

func TestSynchronizer_PlaybackField_HttpWinsOnceUpnpValueIsStale(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	s.ApplyUpnp(device.Partial{Mask: device.FieldVolume, Status: device.Status{Volume: 0.8}}, now)
	s.ApplyHttp(device.Partial{Mask: device.FieldVolume, Status: device.Status{Volume: 0.3}}, now.Add(11*time.Second))

	require.Equal(t, 0.3, s.Snapshot().Volume)
}

func TestSynchronizer_TrackField_PrefersHttpByDefault(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	s.ApplyUpnp(device.Partial{Mask: device.FieldTitle, Status: device.Status{Title: "from upnp"}}, now)
	s.ApplyHttp(device.Partial{Mask: device.FieldTitle, Status: device.Status{Title: "from http"}}, now.Add(time.Second))

	require.Equal(t, "from http", s.Snapshot().Title)
}

func TestSynchronizer_TrackField_PrefersUpnpWhenSourceIsSpotify(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	s.ApplyHttp(device.Partial{Mask: device.FieldSource, Status: device.Status{Source: "Spotify"}}, now)
	s.ApplyUpnp(device.Partial{Mask: device.FieldTitle, Status: device.Status{Title: "upnp title"}}, now.Add(time.Second))
	s.ApplyHttp(device.Partial{Mask: device.FieldTitle, Status: device.Status{Title: "http title"}}, now.Add(2*time.Second))

	require.Equal(t, "upnp title", s.Snapshot().Title)
}

func TestSynchronizer_ApplyOptimistic_IsOverriddenByAnyRealObservation(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	s.ApplyOptimistic(device.Partial{Mask: device.FieldMuted, Status: device.Status{Muted: true}}, now)
	require.True(t, s.Snapshot().Muted)

	s.ApplyHttp(device.Partial{Mask: device.FieldMuted, Status: device.Status{Muted: false}}, now.Add(time.Millisecond))
	require.False(t, s.Snapshot().Muted)
}

func TestSynchronizer_Duration_ZeroMeansLiveStream(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	changed := s.ApplyHttp(device.Partial{Mask: device.FieldDuration, Status: device.Status{Duration: 0, HasDuration: false}}, now)
	// A fresh Synchronizer already holds "no duration", so the live-stream
	// observation is accepted but changes nothing visible.
	require.Equal(t, device.FieldMask(0), changed)
	snap := s.Snapshot()
	require.False(t, snap.HasDuration)
}

func TestSynchronizer_Presets_ReplacedWholesaleOnAccept(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	s.ApplyHttp(device.Partial{Mask: device.FieldPresets, Status: device.Status{Presets: []device.Preset{{Number: 1, Name: "A"}}}}, now)
	snap := s.Snapshot()
	require.Len(t, snap.Presets, 1)
	require.Equal(t, "A", snap.Presets[0].Name)
}

func TestSynchronizer_Tick_AdvancesPositionWhilePlaying(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	s.ApplyHttp(device.Partial{
		Mask:   device.FieldPlayState | device.FieldPosition | device.FieldDuration,
		Status: device.Status{PlayState: device.PlayStatePlaying, Position: 10, Duration: 300, HasDuration: true},
	}, now)

	// Past the settling window (2s), the estimator should report advanced position.
	changed := s.Tick(now.Add(5 * time.Second))
	require.True(t, changed)
	require.Equal(t, 15, s.Snapshot().Position)
}

func TestSynchronizer_Tick_WithinSettlingWindowDefersToObservedValue(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	s.ApplyHttp(device.Partial{
		Mask:   device.FieldPlayState | device.FieldPosition,
		Status: device.Status{PlayState: device.PlayStatePlaying, Position: 10},
	}, now)

	changed := s.Tick(now.Add(time.Second)) // within the 2s settling window
	require.False(t, changed)
}

func TestSynchronizer_HealthStats_TracksFirstObservedSource(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	for i := 0; i < 3; i++ {
		s.ApplyUpnp(device.Partial{Mask: device.FieldVolume, Status: device.Status{Volume: float64(i) / 10}}, now.Add(time.Duration(i)*15*time.Second))
	}

	stats := s.HealthStats()
	require.GreaterOrEqual(t, stats.Samples, 2)
	require.GreaterOrEqual(t, stats.UPnPFirst, 2)
}
