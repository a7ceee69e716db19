package player

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/strefethen/devicehub/internal/apperrors"
	"github.com/strefethen/devicehub/internal/device"
	"github.com/strefethen/devicehub/internal/device/dialect"
)

func partial(mask device.FieldMask, status device.Status) device.Partial {
	return device.Partial{Mask: mask, Status: status}
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

// reroute returns the master Player to delegate a playback command to, when
// called on a Player currently acting as a slave (spec §4.8: "commands to
// slaves are silently ignored by firmware"). Returns nil when no reroute is
// needed.
func (p *Player) reroute() *Player {
	if p.Snapshot().Role != device.RoleSlave {
		return nil
	}
	return p.Master()
}

// SetVolume sets this device's own volume (not the group's); see
// internal/device/group for SetVolumeAll.
func (p *Player) SetVolume(ctx context.Context, v float64) error {
	v = clamp01(v)
	return p.write(ctx, dialect.OpSetVolume, partial(device.FieldVolume, device.Status{Volume: v}), int(v*100))
}

// SetMute sets this device's own mute flag; see Group.MuteAll for the
// group-wide form.
func (p *Player) SetMute(ctx context.Context, muted bool) error {
	arg := 0
	if muted {
		arg = 1
	}
	return p.write(ctx, dialect.OpSetMute, partial(device.FieldMuted, device.Status{Muted: muted}), arg)
}

// Play starts playback from the beginning of the current source. Reroutes
// to the master when this Player is a slave.
func (p *Player) Play(ctx context.Context) error {
	if m := p.reroute(); m != nil {
		return m.Play(ctx)
	}
	return p.write(ctx, dialect.OpPlay, partial(device.FieldPlayState, device.Status{PlayState: device.PlayStatePlaying}))
}

// Pause pauses playback. Reroutes to the master when this Player is a slave.
func (p *Player) Pause(ctx context.Context) error {
	if m := p.reroute(); m != nil {
		return m.Pause(ctx)
	}
	return p.write(ctx, dialect.OpPause, partial(device.FieldPlayState, device.Status{PlayState: device.PlayStatePaused}))
}

// Resume continues playback from the current position, unlike Play which
// restarts from zero on streaming sources.
func (p *Player) Resume(ctx context.Context) error {
	if m := p.reroute(); m != nil {
		return m.Resume(ctx)
	}
	return p.write(ctx, dialect.OpResume, partial(device.FieldPlayState, device.Status{PlayState: device.PlayStatePlaying}))
}

// MediaPlayPause is the compound play/pause toggle (spec §4.7): resuming
// (never restarting) when currently paused, since Play restarts streaming
// sources from zero.
func (p *Player) MediaPlayPause(ctx context.Context) error {
	if m := p.reroute(); m != nil {
		return m.MediaPlayPause(ctx)
	}
	switch p.Snapshot().PlayState {
	case device.PlayStatePaused:
		return p.Resume(ctx)
	case device.PlayStatePlaying:
		return p.Pause(ctx)
	default:
		return p.Play(ctx)
	}
}

// Stop stops playback. On a live-stream source it is issued as Pause
// instead, because firmware restarts a true stop immediately (spec §4.7).
func (p *Player) Stop(ctx context.Context) error {
	if m := p.reroute(); m != nil {
		return m.Stop(ctx)
	}
	if isLiveStreamSource(p.Snapshot().Source) {
		return p.write(ctx, dialect.OpPause, partial(device.FieldPlayState, device.Status{PlayState: device.PlayStatePaused}))
	}
	return p.write(ctx, dialect.OpStop, partial(device.FieldPlayState, device.Status{PlayState: device.PlayStatePaused}))
}

func isLiveStreamSource(source string) bool {
	switch strings.ToLower(source) {
	case "wifi", "webradio", "iheartradio", "pandora", "tunein":
		return true
	default:
		return false
	}
}

// Next skips to the next track. Reroutes to the master when this Player is
// a slave.
func (p *Player) Next(ctx context.Context) error {
	if m := p.reroute(); m != nil {
		return m.Next(ctx)
	}
	return p.write(ctx, dialect.OpNext, device.Partial{})
}

// Previous returns to the previous track. Reroutes to the master when this
// Player is a slave.
func (p *Player) Previous(ctx context.Context) error {
	if m := p.reroute(); m != nil {
		return m.Previous(ctx)
	}
	return p.write(ctx, dialect.OpPrevious, device.Partial{})
}

// Seek jumps to seconds within the current track.
func (p *Player) Seek(ctx context.Context, seconds int) error {
	return p.write(ctx, dialect.OpSeek, partial(device.FieldPosition, device.Status{Position: seconds}), seconds)
}

// SetSource switches the active input/source.
func (p *Player) SetSource(ctx context.Context, source string) error {
	return p.write(ctx, dialect.OpSetSource, partial(device.FieldSource, device.Status{Source: source}), source)
}

// SetShuffle preserves the current repeat mode and re-encodes the composite
// loop-mode integer through this device's Dialect (spec §4.7).
func (p *Player) SetShuffle(ctx context.Context, on bool) error {
	repeat := p.Snapshot().Repeat
	loopMode, err := p.caps.EncodeLoopMode(on, repeat)
	if err != nil {
		return &apperrors.UnsupportedError{DeviceID: p.id, Operation: "SetShuffle", Reason: err.Error()}
	}
	shuffle := device.ShuffleOff
	if on {
		shuffle = device.ShuffleOn
	}
	up := partial(device.FieldShuffle, device.Status{Shuffle: shuffle})
	up.LoopMode = loopMode
	up.Set(device.FieldLoopMode)
	return p.write(ctx, dialect.OpSetLoopMode, up, loopMode)
}

// SetRepeat preserves the current shuffle flag and re-encodes the composite
// loop-mode integer (spec §4.7).
func (p *Player) SetRepeat(ctx context.Context, mode device.RepeatMode) error {
	shuffleOn := p.Snapshot().Shuffle == device.ShuffleOn
	loopMode, err := p.caps.EncodeLoopMode(shuffleOn, mode)
	if err != nil {
		return &apperrors.UnsupportedError{DeviceID: p.id, Operation: "SetRepeat", Reason: err.Error()}
	}
	up := partial(device.FieldRepeat, device.Status{Repeat: mode})
	up.LoopMode = loopMode
	up.Set(device.FieldLoopMode)
	return p.write(ctx, dialect.OpSetLoopMode, up, loopMode)
}

// SetEQPreset selects a named EQ preset.
func (p *Player) SetEQPreset(ctx context.Context, name string) error {
	return p.write(ctx, dialect.OpSetEQPreset, partial(device.FieldEQPreset, device.Status{EQPreset: name}), name)
}

// SetAudioOutput switches the active hardware output. A "BT: <name>" value
// switches to bluetooth output and then connects the named paired device by
// MAC (spec §4.7).
func (p *Player) SetAudioOutput(ctx context.Context, name string) error {
	if strings.HasPrefix(name, "BT: ") {
		target := strings.TrimPrefix(name, "BT: ")
		if err := p.write(ctx, dialect.OpSetAudioOutput, partial(device.FieldAudioOutputMode, device.Status{AudioOutputMode: "Bluetooth Out"}), 4); err != nil {
			return err
		}
		mac, err := p.resolvePairedMAC(ctx, target)
		if err != nil {
			return err
		}
		_, err = p.issue(ctx, dialect.OpConnectBluetooth, mac)
		return err
	}
	mode := audioOutputMode(name)
	return p.write(ctx, dialect.OpSetAudioOutput, partial(device.FieldAudioOutputMode, device.Status{AudioOutputMode: name}), mode)
}

func audioOutputMode(name string) int {
	switch name {
	case "Optical Out":
		return 0
	case "Line Out":
		return 1
	case "Coaxial Out":
		return 2
	case "Headphone Out":
		return 3
	case "Bluetooth Out":
		return 4
	default:
		return 1
	}
}

type pairedDevice struct {
	Name string `json:"name"`
	MAC  string `json:"mac"`
}

// resolvePairedMAC looks up a bonded bluetooth device's MAC by name from the
// device's paired-devices list.
func (p *Player) resolvePairedMAC(ctx context.Context, name string) (string, error) {
	body, err := p.issue(ctx, dialect.OpGetPairedBluetoothDevices)
	if err != nil {
		return "", err
	}
	var devices []pairedDevice
	if err := json.Unmarshal(body, &devices); err != nil {
		return "", &apperrors.ResponseInvalidError{DeviceID: p.id, Command: string(dialect.OpGetPairedBluetoothDevices), Err: err}
	}
	for _, d := range devices {
		if d.Name == name {
			return d.MAC, nil
		}
	}
	return "", &apperrors.PreconditionFailedError{DeviceID: p.id, Operation: "SetAudioOutput", Reason: fmt.Sprintf("no paired bluetooth device named %q", name)}
}

// SetLED toggles the status LED ring.
func (p *Player) SetLED(ctx context.Context, on bool) error {
	arg := 0
	if on {
		arg = 1
	}
	return p.write(ctx, dialect.OpSetLED, device.Partial{}, arg)
}

// SetChannelBalance adjusts left/right balance, x in [-1, 1].
func (p *Player) SetChannelBalance(ctx context.Context, x float64) error {
	if x < -1 {
		x = -1
	}
	if x > 1 {
		x = 1
	}
	return p.write(ctx, dialect.OpSetChannelBalance, partial(device.FieldChannelBalance, device.Status{ChannelBalance: x}), int(x*100))
}

// SetSleepTimer schedules a sleep after seconds; 0 cancels a pending timer.
func (p *Player) SetSleepTimer(ctx context.Context, seconds int) error {
	_, err := p.issue(ctx, dialect.OpSetSleepTimer, seconds)
	return err
}

// Alarm describes one scheduled alarm (spec §4.7 "SetAlarm(...)").
type Alarm struct {
	Enabled      bool
	Hour         int
	Minute       int
	Days         []time.Weekday
	PresetNumber int
	Volume       float64
}

// SetAlarm programs a wake alarm.
func (p *Player) SetAlarm(ctx context.Context, a Alarm) error {
	encoded, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = p.issue(ctx, dialect.OpSetAlarm, string(encoded))
	return err
}

// InstallFirmwareUpdate triggers an over-the-air firmware update.
func (p *Player) InstallFirmwareUpdate(ctx context.Context) error {
	_, err := p.issue(ctx, dialect.OpInstallFirmwareUpdate)
	return err
}

// Reboot restarts the device.
func (p *Player) Reboot(ctx context.Context) error {
	_, err := p.issue(ctx, dialect.OpReboot)
	return err
}

// PlayURL plays a direct URL. enqueue is reserved for callers that want to
// distinguish "play now" from "add to queue"; the LinkPlay wire verb this
// dialect targets has no separate queue-append form, so both currently
// issue the same command.
func (p *Player) PlayURL(ctx context.Context, url string, enqueue bool) error {
	_ = enqueue
	return p.write(ctx, dialect.OpPlayURL, partial(device.FieldContentID, device.Status{ContentID: url}), url)
}

// PlayPreset plays a stored preset by number.
func (p *Player) PlayPreset(ctx context.Context, n int) error {
	return p.write(ctx, dialect.OpPlayPreset, partial(device.FieldPlayState, device.Status{PlayState: device.PlayStatePlaying}), n)
}

// PlayNotification plays a transient notification sound over the current
// playback, which firmware resumes automatically afterward.
func (p *Player) PlayNotification(ctx context.Context, url string) error {
	_, err := p.issue(ctx, dialect.OpPlayNotification, url)
	return err
}

// CreateGroup makes this Player the master of a new, otherwise-empty group.
func (p *Player) CreateGroup(ctx context.Context) error {
	return p.write(ctx, dialect.OpCreateGroup, partial(device.FieldRole, device.Status{Role: device.RoleMaster}))
}

// JoinGroup is the low-level per-device primitive: issue the wire command
// that makes this Player a slave of master, apply the optimistic role
// change, and link the peer. It does not handle the Group-level
// preconditions (disbanding an existing group, leaving a different one);
// those live in internal/device/group, which composes this primitive.
func (p *Player) JoinGroup(ctx context.Context, master *Player) error {
	host := master.transport.Endpoint().Host
	if err := p.write(ctx, dialect.OpJoinSlave, partial(device.FieldRole|device.FieldMasterHost, device.Status{Role: device.RoleSlave, MasterHost: host}), host); err != nil {
		return err
	}
	p.AttachMaster(master)
	return nil
}

// LeaveGroup is the low-level per-device primitive: issue the wire command
// that removes this Player from any group and clears its master link.
func (p *Player) LeaveGroup(ctx context.Context) error {
	if err := p.write(ctx, dialect.OpLeaveGroup, partial(device.FieldRole|device.FieldMasterHost, device.Status{Role: device.RoleSolo, MasterHost: ""})); err != nil {
		return err
	}
	p.AttachMaster(nil)
	return nil
}
