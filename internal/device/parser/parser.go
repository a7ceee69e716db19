// Package parser converts a raw device response into a partial Status
// (spec §4.4): field aliasing across firmware spellings, time-unit
// autodetection, sentinel cleanup, and source normalization. Parser output
// is pure data; it never touches Transport or device state.
//
// Grounded on the teacher's internal/sonos/metadata.go (ParseDidlMetadata,
// firstNonEmpty alias-picking) and internal/discovery/parser.go (field-alias
// extraction from raw device XML/JSON payloads).
package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/strefethen/devicehub/internal/apperrors"
	"github.com/strefethen/devicehub/internal/device"
)

// msUsThreshold is the boundary from spec §4.4: below this, a position or
// duration value is milliseconds; at or above, microseconds. No real track
// exceeds ten hours (36,000,000 ms), so this is unambiguous.
const msUsThreshold = 36_000_000

// shortDurationThresholdSec is the "implausibly short" cutoff used when
// position > duration (spec §4.4).
const shortDurationThresholdSec = 120

// liveStreamSources control their own transport; shuffle/repeat are unknown
// for them (spec §4.4).
var liveStreamSources = map[string]bool{
	"wifi":        true,
	"webradio":    true,
	"iheartradio": true,
	"pandora":     true,
	"tunein":      true,
	"line in":     true,
	"line-in":     true,
	"optical":     true,
	"coaxial":     true,
	"bluetooth":   true,
	"usb":         false, // USB files support shuffle/repeat; explicitly not live
}

// ParseStatus converts a raw getPlayerStatus-shaped JSON body into a partial
// Status, command string verb is only used for error context.
func ParseStatus(deviceID, command string, body []byte) (device.Partial, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return device.Partial{}, &apperrors.ResponseInvalidError{DeviceID: deviceID, Command: command, Err: err}
	}
	return parseStatusFields(raw), nil
}

func parseStatusFields(raw map[string]any) device.Partial {
	var p device.Partial

	if state := firstNonEmpty(raw, "status", "playerStatus", "play_status"); state != "" {
		p.PlayState = normalizePlayState(state)
		p.Set(device.FieldPlayState)
	}

	if title := cleanSentinel(firstNonEmpty(raw, "Title", "title", "DeviceName", "device_name", "name")); title != "" {
		p.Title = title
		p.Set(device.FieldTitle)
	}
	if artist := cleanSentinel(firstNonEmpty(raw, "Artist", "artist")); artist != "" {
		p.Artist = artist
		p.Set(device.FieldArtist)
	}
	if album := cleanSentinel(firstNonEmpty(raw, "Album", "album")); album != "" {
		p.Album = album
		p.Set(device.FieldAlbum)
	}
	if uri := firstNonEmpty(raw, "contentId", "content_id", "uri"); uri != "" {
		p.ContentID = uri
		p.Set(device.FieldContentID)
	}
	if img := firstNonEmpty(raw, "albumArtURI", "cover", "albumart"); img != "" {
		p.ImageURL = img
		p.Set(device.FieldImageURL)
	}
	if codec := firstNonEmpty(raw, "type", "codec"); codec != "" {
		p.Codec = strings.ToUpper(codec)
		p.Set(device.FieldCodec)
	}
	if sr, ok := parseIntField(raw, "sample_rate", "samplerate"); ok {
		p.SampleRate = sr
		p.Set(device.FieldSampleRate)
	}
	if bd, ok := parseIntField(raw, "bit_depth", "bitdepth"); ok {
		p.BitDepth = bd
		p.Set(device.FieldBitDepth)
	}
	if br, ok := parseIntField(raw, "bitrate", "bit_rate"); ok {
		p.BitRate = br
		p.Set(device.FieldBitRate)
	}

	posRaw, hasPos := parseIntField(raw, "curpos", "position", "elapsed")
	durRaw, hasDur := parseIntField(raw, "totlen", "duration")
	applyTime(&p, posRaw, hasPos, durRaw, hasDur)

	if volRaw, ok := parseIntField(raw, "vol", "volume"); ok {
		p.Volume = clamp01(float64(volRaw) / 100.0)
		p.Set(device.FieldVolume)
	}
	if muteRaw, ok := parseIntField(raw, "mute", "muted"); ok {
		p.Muted = muteRaw != 0
		p.Set(device.FieldMuted)
	}

	if src := firstNonEmpty(raw, "source", "mode"); src != "" {
		normalized := titleCase(src)
		p.Source = normalized
		p.RawSource = src
		p.Set(device.FieldSource)
		p.Set(device.FieldRawSource)
		if liveStreamSources[strings.ToLower(src)] {
			p.Shuffle = device.ShuffleUnknown
			p.Repeat = device.RepeatUnknown
			p.Set(device.FieldShuffle)
			p.Set(device.FieldRepeat)
		}
	}
	if vendorURI := firstNonEmpty(raw, "rawVendorUri", "x_uri"); vendorURI != "" {
		p.RawVendorURI = vendorURI
		p.Set(device.FieldRawVendorURI)
		if p.Has(device.FieldSource) && p.Source == "Spotify" && strings.HasPrefix(vendorURI, "spotify:show:") {
			// Podcast/audiobook: shuffle is not a meaningful concept.
			p.Shuffle = device.ShuffleUnknown
			p.Set(device.FieldShuffle)
		}
	}

	if loopRaw, ok := parseIntField(raw, "loop", "loopmode"); ok {
		p.LoopMode = loopRaw
		p.Set(device.FieldLoopMode)
		// Shuffle/repeat decode is vendor-dependent and happens one layer up
		// (capabilities.Registry.DecodeLoopMode), since Parser has no vendor
		// context. A caller that wants shuffle/repeat from loopMode calls
		// that after ParseStatus returns.
	}

	return p
}

func applyTime(p *device.Partial, posRaw int, hasPos bool, durRaw int, hasDur bool) {
	var posSec, durSec int
	posValid, durValid := hasPos, hasDur

	if hasPos {
		if posRaw < 0 {
			posValid = false
		} else {
			posSec = normalizeTimeUnit(posRaw)
		}
	}
	if hasDur {
		if durRaw == 0 {
			durValid = false // "unknown duration" (live stream)
		} else {
			durSec = normalizeTimeUnit(durRaw)
		}
	}

	if posValid && durValid && posSec > durSec {
		if durSec < shortDurationThresholdSec {
			durValid = false
		} else {
			posSec = 0
		}
	}

	if posValid {
		p.Position = posSec
		p.Set(device.FieldPosition)
	}
	if hasDur {
		p.HasDuration = durValid
		if durValid {
			p.Duration = durSec
		}
		p.Set(device.FieldDuration)
	}
}

// normalizeTimeUnit converts a raw position/duration integer to whole
// seconds, autodetecting ms vs µs per spec §4.4.
func normalizeTimeUnit(raw int) int {
	if raw < msUsThreshold {
		return raw / 1000
	}
	return raw / 1_000_000
}

func normalizePlayState(raw string) device.PlayState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "play", "playing":
		return device.PlayStatePlaying
	case "pause", "paused", "paused_playback", "stop", "stopped":
		// spec §3: raw "stop" normalizes to paused.
		return device.PlayStatePaused
	case "loading", "transitioning", "buffering":
		return device.PlayStateBuffering
	default:
		return device.PlayStateIdle
	}
}

var sentinels = map[string]bool{
	"unknow": true, "un_known": true, "unknown": true,
}

func cleanSentinel(v string) string {
	if sentinels[strings.ToLower(strings.TrimSpace(v))] {
		return ""
	}
	return v
}

func titleCase(v string) string {
	fields := strings.Fields(strings.ToLower(v))
	for i, f := range fields {
		if f == "" {
			continue
		}
		fields[i] = strings.ToUpper(f[:1]) + f[1:]
	}
	return strings.Join(fields, " ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstNonEmpty(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s := toString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func parseIntField(raw map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), true
		case string:
			if n == "" {
				continue
			}
			parsed, err := strconv.Atoi(strings.TrimSpace(n))
			if err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}
