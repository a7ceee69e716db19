// Package state holds the StateSynchronizer (spec §4.5) and the embedded
// PositionEstimator (spec §4.6): the merge point for the three asynchronous
// state sources (HTTP polling, UPnP eventing, local position estimation)
// into one authoritative Status.
//
// Grounded on the teacher's internal/sonos/events/statecache.go
// (StateCache.UpdateTransport/UpdateVolume: "only overwrite if we actually
// observed something new", IsFresh(ttl) staleness check), generalized from a
// flat last-writer-wins cache to a per-field priority+freshness merge with
// provenance, and internal/sonos/hybrid.go's cache-vs-poll precedence
// (reused here as prefer-higher-priority-unless-stale).
package state

import (
	"sync"
	"time"

	"github.com/strefethen/devicehub/internal/device"
)

// Source identifies where a field's current value came from.
type Source int

const (
	SourceNone Source = iota
	SourceHTTP
	SourceUPnP
	SourceEstimated
	SourceOptimistic
)

func (s Source) String() string {
	switch s {
	case SourceHTTP:
		return "http"
	case SourceUPnP:
		return "upnp"
	case SourceEstimated:
		return "estimated"
	case SourceOptimistic:
		return "optimistic"
	default:
		return "none"
	}
}

// FieldProvenance records which source last wrote a field and when.
type FieldProvenance struct {
	Source    Source
	UpdatedAt time.Time
}

// fieldPolicy describes merge precedence for one field group (spec §4.5 table).
type fieldPolicy struct {
	preferred Source
	window    time.Duration
}

// Windows is a config knob set; callers may override from internal/config.
type Windows struct {
	Playback time.Duration // playState, volume, muted
	Track    time.Duration // title, artist, album, imageUrl, contentId, rawVendorUri
	Source   time.Duration // source, rawSource
	Mode     time.Duration // shuffle, repeat, loopMode
	Codec    time.Duration // codec, sampleRate, bitDepth, bitRate
}

// DefaultWindows matches spec §4.5's literal table.
func DefaultWindows() Windows {
	return Windows{
		Playback: 10 * time.Second,
		Track:    30 * time.Second,
		Source:   10 * time.Second,
		Mode:     10 * time.Second,
		Codec:    60 * time.Second,
	}
}

// healthEntry is one confirmed field-change observation, for the UPnP
// miss-rate diagnostic (spec §4.5 "health tracker").
type healthEntry struct {
	field     device.FieldMask
	firstSeen Source
}

const healthWindowSize = 20

// Synchronizer merges HTTP snapshots, UPnP diffs, and position estimator
// ticks into one Status, enforcing per-field freshness windows and source
// priorities (spec §4.5).
type Synchronizer struct {
	mu         sync.RWMutex
	status     device.Status
	provenance map[device.FieldMask]FieldProvenance
	windows    Windows
	estimator  *estimator

	health      [healthWindowSize]healthEntry
	healthNext  int
	healthCount int
}

// New constructs an empty Synchronizer with the given freshness windows and
// PositionEstimator parameters.
func New(windows Windows, settling, driftTolerance time.Duration) *Synchronizer {
	return &Synchronizer{
		provenance: make(map[device.FieldMask]FieldProvenance, 32),
		windows:    windows,
		estimator:  newEstimator(settling, driftTolerance),
	}
}

// Snapshot returns a consistent copy of the merged Status (spec §5 "snapshot
// consistency per read").
func (s *Synchronizer) Snapshot() device.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Clone()
}

// Provenance returns a copy of the current per-field provenance map.
func (s *Synchronizer) Provenance() map[device.FieldMask]FieldProvenance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[device.FieldMask]FieldProvenance, len(s.provenance))
	for k, v := range s.provenance {
		out[k] = v
	}
	return out
}

// ApplyHttp merges a partial Status observed over HTTP at time t. Returns
// the mask of fields whose visible value actually changed.
func (s *Synchronizer) ApplyHttp(p device.Partial, t time.Time) device.FieldMask {
	return s.apply(p, SourceHTTP, t)
}

// ApplyUpnp merges a partial Status decoded from a UPnP LastChange event at
// time t.
func (s *Synchronizer) ApplyUpnp(p device.Partial, t time.Time) device.FieldMask {
	return s.apply(p, SourceUPnP, t)
}

// ApplyOptimistic merges a Player-issued optimistic update. Its provenance
// weight is below every observed source, so any real HTTP/UPnP observation
// overrides it; a confirming observation that matches the optimistic value
// is still accepted (it does not "win" against a later real value, but it
// also is not held back by staleness alone).
func (s *Synchronizer) ApplyOptimistic(p device.Partial, t time.Time) device.FieldMask {
	return s.apply(p, SourceOptimistic, t)
}

// Tick feeds the PositionEstimator's current estimate at time t into
// position's provenance as SourceEstimated, as the third merge input (spec
// §4.5 "Tick(t) (from the estimator)"). It never touches any other field.
func (s *Synchronizer) Tick(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok := s.estimator.value(t)
	if !ok {
		return false
	}
	if s.estimator.inSettlingWindow(t) {
		// A fresh HTTP/UPnP value already occupies this window; ApplyHttp/
		// ApplyUpnp already wrote it with higher priority. Nothing to do.
		return false
	}

	changed := s.status.Position != val
	s.status.Position = val
	s.provenance[device.FieldPosition] = FieldProvenance{Source: SourceEstimated, UpdatedAt: t}
	return changed
}

func (s *Synchronizer) apply(p device.Partial, source Source, t time.Time) device.FieldMask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed device.FieldMask

	if p.Has(device.FieldPosition) {
		s.estimator.observe(p.Position, t)
		if mergeField(s, device.FieldPosition, source, t, p.Position, &s.status.Position) {
			changed |= device.FieldPosition
		}
	}
	if p.Has(device.FieldPlayState) {
		s.estimator.setPlaying(p.PlayState == device.PlayStatePlaying)
		if mergeField(s, device.FieldPlayState, source, t, p.PlayState, &s.status.PlayState) {
			changed |= device.FieldPlayState
		}
	}
	if p.Has(device.FieldDuration) {
		s.estimator.setDuration(p.Duration, p.HasDuration)
		if mergeFieldPair(s, device.FieldDuration, source, t, p.Duration, p.HasDuration, &s.status.Duration, &s.status.HasDuration) {
			changed |= device.FieldDuration
		}
	}

	if p.Has(device.FieldVolume) && mergeField(s, device.FieldVolume, source, t, p.Volume, &s.status.Volume) {
		changed |= device.FieldVolume
	}
	if p.Has(device.FieldMuted) && mergeField(s, device.FieldMuted, source, t, p.Muted, &s.status.Muted) {
		changed |= device.FieldMuted
	}
	if p.Has(device.FieldTitle) && mergeField(s, device.FieldTitle, source, t, p.Title, &s.status.Title) {
		changed |= device.FieldTitle
	}
	if p.Has(device.FieldArtist) && mergeField(s, device.FieldArtist, source, t, p.Artist, &s.status.Artist) {
		changed |= device.FieldArtist
	}
	if p.Has(device.FieldAlbum) && mergeField(s, device.FieldAlbum, source, t, p.Album, &s.status.Album) {
		changed |= device.FieldAlbum
	}
	if p.Has(device.FieldImageURL) && mergeField(s, device.FieldImageURL, source, t, p.ImageURL, &s.status.ImageURL) {
		changed |= device.FieldImageURL
	}
	if p.Has(device.FieldContentID) && mergeField(s, device.FieldContentID, source, t, p.ContentID, &s.status.ContentID) {
		changed |= device.FieldContentID
	}
	if p.Has(device.FieldCodec) && mergeField(s, device.FieldCodec, source, t, p.Codec, &s.status.Codec) {
		changed |= device.FieldCodec
	}
	if p.Has(device.FieldSampleRate) && mergeField(s, device.FieldSampleRate, source, t, p.SampleRate, &s.status.SampleRate) {
		changed |= device.FieldSampleRate
	}
	if p.Has(device.FieldBitDepth) && mergeField(s, device.FieldBitDepth, source, t, p.BitDepth, &s.status.BitDepth) {
		changed |= device.FieldBitDepth
	}
	if p.Has(device.FieldBitRate) && mergeField(s, device.FieldBitRate, source, t, p.BitRate, &s.status.BitRate) {
		changed |= device.FieldBitRate
	}
	if p.Has(device.FieldSource) && mergeField(s, device.FieldSource, source, t, p.Source, &s.status.Source) {
		changed |= device.FieldSource
	}
	if p.Has(device.FieldRawSource) && mergeField(s, device.FieldRawSource, source, t, p.RawSource, &s.status.RawSource) {
		changed |= device.FieldRawSource
	}
	if p.Has(device.FieldRawVendorURI) && mergeField(s, device.FieldRawVendorURI, source, t, p.RawVendorURI, &s.status.RawVendorURI) {
		changed |= device.FieldRawVendorURI
	}
	if p.Has(device.FieldShuffle) && mergeField(s, device.FieldShuffle, source, t, p.Shuffle, &s.status.Shuffle) {
		changed |= device.FieldShuffle
	}
	if p.Has(device.FieldRepeat) && mergeField(s, device.FieldRepeat, source, t, p.Repeat, &s.status.Repeat) {
		changed |= device.FieldRepeat
	}
	if p.Has(device.FieldLoopMode) && mergeField(s, device.FieldLoopMode, source, t, p.LoopMode, &s.status.LoopMode) {
		changed |= device.FieldLoopMode
	}
	if p.Has(device.FieldEQPreset) && mergeField(s, device.FieldEQPreset, source, t, p.EQPreset, &s.status.EQPreset) {
		changed |= device.FieldEQPreset
	}
	if p.Has(device.FieldAudioOutputMode) && mergeField(s, device.FieldAudioOutputMode, source, t, p.AudioOutputMode, &s.status.AudioOutputMode) {
		changed |= device.FieldAudioOutputMode
	}
	if p.Has(device.FieldChannelBalance) && mergeField(s, device.FieldChannelBalance, source, t, p.ChannelBalance, &s.status.ChannelBalance) {
		changed |= device.FieldChannelBalance
	}
	if p.Has(device.FieldRole) && mergeField(s, device.FieldRole, source, t, p.Role, &s.status.Role) {
		changed |= device.FieldRole
	}
	if p.Has(device.FieldMasterHost) && mergeField(s, device.FieldMasterHost, source, t, p.MasterHost, &s.status.MasterHost) {
		changed |= device.FieldMasterHost
	}
	if p.Has(device.FieldPresets) {
		cur := s.provenance[device.FieldPresets]
		policy := s.policyFor(device.FieldPresets)
		if s.accept(policy, source, t, cur) {
			s.status.Presets = append([]device.Preset(nil), p.Presets...)
			s.provenance[device.FieldPresets] = FieldProvenance{Source: source, UpdatedAt: t}
			changed |= device.FieldPresets
		}
	}

	return changed
}

// policyFor returns the merge policy for field, consulting current status
// where the policy is conditional (the Spotify title/artist/album/imageUrl
// exception).
func (s *Synchronizer) policyFor(field device.FieldMask) fieldPolicy {
	switch field {
	case device.FieldPlayState, device.FieldVolume, device.FieldMuted:
		return fieldPolicy{preferred: SourceUPnP, window: s.windows.Playback}
	case device.FieldTitle, device.FieldArtist, device.FieldAlbum, device.FieldImageURL, device.FieldContentID, device.FieldRawVendorURI:
		if s.status.Source == "Spotify" {
			return fieldPolicy{preferred: SourceUPnP, window: s.windows.Track}
		}
		return fieldPolicy{preferred: SourceHTTP, window: s.windows.Track}
	case device.FieldSource, device.FieldRawSource:
		return fieldPolicy{preferred: SourceHTTP, window: s.windows.Source}
	case device.FieldShuffle, device.FieldRepeat, device.FieldLoopMode:
		return fieldPolicy{preferred: SourceHTTP, window: s.windows.Mode}
	case device.FieldCodec, device.FieldSampleRate, device.FieldBitDepth, device.FieldBitRate:
		return fieldPolicy{preferred: SourceHTTP, window: s.windows.Codec}
	case device.FieldPosition, device.FieldDuration:
		return fieldPolicy{preferred: SourceHTTP, window: s.windows.Track}
	default:
		// Role, MasterHost, Presets, EQPreset, AudioOutputMode, ChannelBalance:
		// spec's table doesn't name a window for these secondary fields;
		// HTTP-preferred with the Track window is the closest analogue.
		return fieldPolicy{preferred: SourceHTTP, window: s.windows.Track}
	}
}

// accept implements spec §4.5's merge rule: an optimistic write always
// applies immediately regardless of what's currently held (including a
// still-fresh prior optimistic write for the same field); otherwise accept
// iff the incoming source outranks the current provenance, the current value
// is stale beyond its window, or the current provenance is optimistic (any
// real observation confirms/overrides it).
func (s *Synchronizer) accept(policy fieldPolicy, source Source, t time.Time, cur FieldProvenance) bool {
	// A command's own optimistic write must always be visible immediately,
	// even while a prior optimistic write (or a fresh non-preferred real
	// observation) for the same field is still outstanding.
	if source == SourceOptimistic {
		return true
	}
	newRank := rank(policy.preferred, source)
	curRank := rank(policy.preferred, cur.Source)
	stale := cur.UpdatedAt.IsZero() || t.Sub(cur.UpdatedAt) > policy.window
	if newRank > curRank {
		return true
	}
	if stale {
		return true
	}
	if cur.Source == SourceOptimistic {
		return true
	}
	return false
}

// rank assigns a numeric priority: the field's preferred source ranks
// highest, any other observed source ranks second, and optimistic always
// ranks below both ("just below HTTP" per spec §4.5, and below UPnP too
// since UPnP/HTTP are always ranked above optimistic here).
func rank(preferred, source Source) int {
	switch source {
	case preferred:
		return 3
	case SourceOptimistic:
		return 1
	case SourceHTTP, SourceUPnP, SourceEstimated:
		return 2
	default:
		return 0
	}
}

func (s *Synchronizer) recordHealth(field device.FieldMask, source Source) {
	s.health[s.healthNext] = healthEntry{field: field, firstSeen: source}
	s.healthNext = (s.healthNext + 1) % healthWindowSize
	if s.healthCount < healthWindowSize {
		s.healthCount++
	}
}

// HealthStats reports, over the last N>=20 confirmed changes, how many were
// first observed via UPnP vs HTTP, and the UPnP-miss rate for UPnP-preferred
// fields (spec §4.5 health tracker, diagnostics only).
type HealthStats struct {
	Samples         int
	HTTPFirst       int
	UPnPFirst       int
	UPnPMissRate    float64 // share of UPnP-preferred-field samples first seen via HTTP
}

func (s *Synchronizer) HealthStats() HealthStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := HealthStats{Samples: s.healthCount}
	upnpPreferredSamples := 0
	upnpPreferredHTTPFirst := 0
	for i := 0; i < s.healthCount; i++ {
		e := s.health[i]
		switch e.firstSeen {
		case SourceHTTP:
			stats.HTTPFirst++
		case SourceUPnP:
			stats.UPnPFirst++
		}
		if s.policyFor(e.field).preferred == SourceUPnP {
			upnpPreferredSamples++
			if e.firstSeen == SourceHTTP {
				upnpPreferredHTTPFirst++
			}
		}
	}
	if upnpPreferredSamples > 0 {
		stats.UPnPMissRate = float64(upnpPreferredHTTPFirst) / float64(upnpPreferredSamples)
	}
	return stats
}

// mergeField applies the accept/overwrite rule for a single scalar field.
// It is a free function (not a method) because Go methods cannot carry
// their own type parameters.
func mergeField[T comparable](s *Synchronizer, field device.FieldMask, source Source, t time.Time, newVal T, cur *T) bool {
	policy := s.policyFor(field)
	prov := s.provenance[field]
	if !s.accept(policy, source, t, prov) {
		return false
	}
	changed := *cur != newVal
	*cur = newVal
	s.provenance[field] = FieldProvenance{Source: source, UpdatedAt: t}
	if changed {
		s.recordHealth(field, source)
	}
	return changed
}

// mergeFieldPair applies the accept/overwrite rule for a (value, presence)
// pair, used for Duration/HasDuration where "no duration" is itself
// meaningful data (a live stream), not an absent observation.
func mergeFieldPair[T comparable](s *Synchronizer, field device.FieldMask, source Source, t time.Time, newVal T, newHas bool, cur *T, curHas *bool) bool {
	policy := s.policyFor(field)
	prov := s.provenance[field]
	if !s.accept(policy, source, t, prov) {
		return false
	}
	changed := *curHas != newHas || (newHas && *cur != newVal)
	*cur = newVal
	*curHas = newHas
	s.provenance[field] = FieldProvenance{Source: source, UpdatedAt: t}
	if changed {
		s.recordHealth(field, source)
	}
	return changed
}
