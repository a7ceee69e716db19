package player

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/strefethen/devicehub/internal/device"
)

// rawPreset mirrors the getPresetInfo response shape: a numbered list of
// stored playback shortcuts.
type rawPreset struct {
	Number int    `json:"number,string"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Pic    string `json:"picurl"`
}

func parsePresets(body []byte) ([]device.Preset, error) {
	var list []rawPreset
	if err := json.Unmarshal(body, &list); err != nil {
		// Some firmwares wrap the list under "preset_list".
		var wrapped struct {
			Presets []rawPreset `json:"preset_list"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, err
		}
		list = wrapped.Presets
	}
	out := make([]device.Preset, 0, len(list))
	for _, rp := range list {
		out = append(out, device.Preset{Number: rp.Number, Name: rp.Name, URL: rp.URL, ImageURL: rp.Pic})
	}
	return out, nil
}

// hardwareMode is the decoded getNewAudioOutputHardwareMode response: the
// hardware output integer plus its companion source field, which together
// disambiguate Audio Pro Ultra mode 4 (spec §4.7).
type hardwareMode struct {
	Value  int
	Source int
}

// parseAudioOutputMode extracts the hardware mode and companion source field
// from a getNewAudioOutputHardwareMode response.
func parseAudioOutputMode(body []byte) (hardwareMode, bool) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return hardwareMode{}, false
	}
	hw, ok := intField(raw, "hardware", "audio_output_hardware_mode")
	if !ok {
		return hardwareMode{}, false
	}
	src, _ := intField(raw, "source")
	return hardwareMode{Value: hw, Source: src}, true
}

func intField(raw map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, present := raw[k]
		if !present {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), true
		case string:
			parsed, err := strconv.Atoi(n)
			if err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

// applyAudioOutputMode merges the decoded hardware mode into a human label,
// resolving the Audio Pro Ultra mode-4 ambiguity (spec §4.7) from the
// device's AudioProGeneration and the companion source field parsed
// alongside it.
func (p *Player) applyAudioOutputMode(mode hardwareMode) {
	label := audioOutputLabel(mode.Value)

	p.mu.Lock()
	gen := p.audioProGen
	p.mu.Unlock()

	if gen == device.AudioProGenWGen && mode.Value == 4 {
		if mode.Source == 1 {
			label = "Bluetooth Out"
		} else {
			label = "Headphone Out"
		}
	}

	changed := p.sync.ApplyHttp(device.Partial{
		Mask:   device.FieldAudioOutputMode,
		Status: device.Status{AudioOutputMode: label},
	}, time.Now())
	p.notify(changed)
}

func audioOutputLabel(mode int) string {
	switch mode {
	case 0:
		return "Optical Out"
	case 1:
		return "Line Out"
	case 2:
		return "Coaxial Out"
	case 3:
		return "Headphone Out"
	case 4:
		return "Bluetooth Out"
	default:
		return "Unknown"
	}
}
