// Package device holds the data model shared across the per-device control
// stack: DeviceIdentity, Capabilities, and the merged Status view. The
// component packages (transport, dialect, capabilities, parser, state,
// player, group, upnpevents, orchestrator, identity) operate on these types
// without owning them, the way the teacher's soap package operates on
// sonos.Service's shared shapes.
package device

import "time"

// Protocol is the scheme used to reach a device.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Identity is immutable after first populated (spec §3 DeviceIdentity).
type Identity struct {
	UUID                   string
	Host                   string
	Port                   int
	Protocol               Protocol
	MAC                    string
	FriendlyName           string
	Model                  string
	FirmwareVersion        string
	LatestFirmwareVersion  string
	UpdateAvailable        bool
}

// Vendor identifies the OEM dialect family a device speaks.
type Vendor string

const (
	VendorWiiM            Vendor = "wiim"
	VendorArylic          Vendor = "arylic"
	VendorAudioPro        Vendor = "audioPro"
	VendorGenericLinkPlay  Vendor = "genericLinkPlay"
)

// AudioProGeneration distinguishes Audio Pro hardware families; only
// meaningful when Vendor == VendorAudioPro.
type AudioProGeneration string

const (
	AudioProGenMKII     AudioProGeneration = "mkii"
	AudioProGenWGen     AudioProGeneration = "wGen"
	AudioProGenOriginal AudioProGeneration = "original"
	AudioProGenNone     AudioProGeneration = ""
)

// Tri is a ternary fact: unknown until a probe or static rule resolves it.
type Tri int

const (
	TriUnknown Tri = iota
	TriYes
	TriNo
)

func (t Tri) String() string {
	switch t {
	case TriYes:
		return "yes"
	case TriNo:
		return "no"
	default:
		return "unknown"
	}
}

// CapabilityFlag names one of the feature flags CapabilityRegistry tracks.
type CapabilityFlag string

const (
	CapMetadataEndpoint    CapabilityFlag = "metadataEndpoint"
	CapEQ                  CapabilityFlag = "eq"
	CapPresetsFullMetadata CapabilityFlag = "presetsFullMetadata"
	CapAudioOutputSwitch   CapabilityFlag = "audioOutputSwitch"
	CapLEDControl          CapabilityFlag = "ledControl"
	CapSleepTimer          CapabilityFlag = "sleepTimer"
	CapAlarms              CapabilityFlag = "alarms"
	CapFirmwareInstall     CapabilityFlag = "firmwareInstall"
	CapQueueBrowse         CapabilityFlag = "queueBrowse"
	CapQueueMutate         CapabilityFlag = "queueMutate"
	CapUPnP                CapabilityFlag = "upnp"
)

// AllCapabilityFlags lists every flag CapabilityRegistry must track at minimum.
var AllCapabilityFlags = []CapabilityFlag{
	CapMetadataEndpoint, CapEQ, CapPresetsFullMetadata, CapAudioOutputSwitch,
	CapLEDControl, CapSleepTimer, CapAlarms, CapFirmwareInstall,
	CapQueueBrowse, CapQueueMutate, CapUPnP,
}

// PlayState is the normalized transport state (spec §3); raw "stop" maps to Paused.
type PlayState string

const (
	PlayStatePlaying   PlayState = "playing"
	PlayStatePaused    PlayState = "paused"
	PlayStateIdle      PlayState = "idle"
	PlayStateBuffering PlayState = "buffering"
)

// ShuffleState is tri-state: on/off/unknown.
type ShuffleState int

const (
	ShuffleUnknown ShuffleState = iota
	ShuffleOff
	ShuffleOn
)

// RepeatMode is the normalized repeat setting.
type RepeatMode string

const (
	RepeatOff     RepeatMode = "off"
	RepeatOne     RepeatMode = "one"
	RepeatAll     RepeatMode = "all"
	RepeatUnknown RepeatMode = "unknown"
)

// Role is the multiroom role of a device (spec §3: exactly one of solo/master/slave).
type Role string

const (
	RoleSolo   Role = "solo"
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Preset is one stored playback shortcut.
type Preset struct {
	Number   int
	Name     string
	URL      string
	ImageURL string
}

// Status is the merged, authoritative view of a device's playback state.
type Status struct {
	PlayState PlayState

	Title       string
	Artist      string
	Album       string
	ContentID   string
	ImageURL    string
	Codec       string
	SampleRate  int
	BitDepth    int
	BitRate     int

	Position          int // seconds
	Duration          int // seconds; 0 means "unknown duration" (live stream)
	HasDuration       bool
	PositionUpdatedAt time.Time // monotonic-ish wall clock of last observation

	Volume          float64 // normalized [0,1]
	Muted           bool
	EQPreset        string
	AudioOutputMode string
	ChannelBalance  float64

	Source       string
	RawSource    string
	RawVendorURI string

	Shuffle  ShuffleState
	Repeat   RepeatMode
	LoopMode int

	Role       Role
	MasterHost string

	Presets []Preset
}

// Clone returns a deep-enough copy of s (Presets slice is copied) so a
// reader's snapshot can't be mutated by a later merge.
func (s Status) Clone() Status {
	out := s
	if s.Presets != nil {
		out.Presets = append([]Preset(nil), s.Presets...)
	}
	return out
}

// FieldMask marks which fields of a Partial actually carry a value. Parser,
// UpnpEventer, and Player's optimistic writes all produce partial updates;
// StateSynchronizer must only consider the fields a producer actually
// observed, never the zero value of the ones it didn't.
type FieldMask uint64

const (
	FieldPlayState FieldMask = 1 << iota
	FieldTitle
	FieldArtist
	FieldAlbum
	FieldContentID
	FieldImageURL
	FieldCodec
	FieldSampleRate
	FieldBitDepth
	FieldBitRate
	FieldPosition
	FieldDuration
	FieldVolume
	FieldMuted
	FieldEQPreset
	FieldAudioOutputMode
	FieldChannelBalance
	FieldSource
	FieldRawSource
	FieldRawVendorURI
	FieldShuffle
	FieldRepeat
	FieldLoopMode
	FieldRole
	FieldMasterHost
	FieldPresets
)

// Partial is a subset update to Status: only the fields named in Mask are
// meaningful; all others must be ignored by a consumer.
type Partial struct {
	Mask FieldMask
	Status
}

// Has reports whether f is present in p.
func (p *Partial) Has(f FieldMask) bool { return p.Mask&f != 0 }

// Set marks f as present in p.
func (p *Partial) Set(f FieldMask) { p.Mask |= f }
