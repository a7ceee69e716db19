// Package player implements the Player facade (spec §4.7): the cached read
// surface, the four-step write protocol, the scheduled Refresh loop, and the
// bounded cover-art cache.
//
// Grounded on the teacher's internal/sonos/service.go (a facade struct that
// wraps a transport client plus per-operation methods, each opening its own
// timeout context) and internal/sonos/play.go (the "play vs resume" compound
// decision and the request/response shape for high-level playback calls).
package player

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/strefethen/devicehub/internal/apperrors"
	"github.com/strefethen/devicehub/internal/device"
	"github.com/strefethen/devicehub/internal/device/capabilities"
	"github.com/strefethen/devicehub/internal/device/dialect"
	"github.com/strefethen/devicehub/internal/device/parser"
	"github.com/strefethen/devicehub/internal/device/state"
	"github.com/strefethen/devicehub/internal/device/transport"
)

// PollConfig is the interval table a Player consults to pick its own refresh
// cadence from (role, playState, firmware generation) (spec §4.7 "Polling
// strategy").
type PollConfig struct {
	Playing     time.Duration
	IdleModern  time.Duration
	IdleLegacy  time.Duration
	SlaveModern time.Duration
	SlaveLegacy time.Duration
}

// Lookup resolves a peer Player by the host or UUID a multiroom status
// response names, for Group linking (spec §4.8). Supplied by the host
// application; a Player never discovers peers on its own.
type Lookup func(hostOrUUID string) *Player

// New constructs a Player bound to one device's Transport, Dialect, and
// CapabilityRegistry. onChange is the single nullary state-changed callback;
// it must be reentrant-safe and must not block (spec §5).
func New(id string, t *transport.Transport, d *dialect.Dialect, caps *capabilities.Registry, poll PollConfig, tick, settling, drift time.Duration, coverArtSize int, coverArtTTL time.Duration, onChange func()) *Player {
	p := &Player{
		id:         id,
		transport:  t,
		dialect:    d,
		caps:       caps,
		sync:       state.New(state.DefaultWindows(), settling, drift),
		poll:       poll,
		tickPeriod: tick,
		onChange:   onChange,
		coverArt:   newCoverArtCache(coverArtSize, coverArtTTL),
		stopCh:     make(chan struct{}),
	}
	go p.tickLoop()
	return p
}

// Player is one device's live, merged view plus its write surface.
type Player struct {
	id        string
	transport *transport.Transport
	dialect   *dialect.Dialect
	caps      *capabilities.Registry
	sync      *state.Synchronizer

	poll       PollConfig
	tickPeriod time.Duration

	mu                sync.Mutex
	onChange          func()
	lookup            Lookup
	legacyFirmware    bool
	audioProGen       device.AudioProGeneration
	lastRefreshOK     bool
	masterPeer        *Player // non-nil only when Role == slave and the peer is known
	groupHook         func(changed device.FieldMask) // optional observer installed via SetGroupHook

	coverArt *coverArtCache

	stopCh   chan struct{}
	stopOnce sync.Once
}

// ID returns the device identifier this Player was constructed with.
func (p *Player) ID() string { return p.id }

// Snapshot returns a consistent copy of the merged Status (spec §5 "snapshot
// consistency per read").
func (p *Player) Snapshot() device.Status { return p.sync.Snapshot() }

// Capabilities returns the resolved capability set.
func (p *Player) Capabilities() *capabilities.Registry { return p.caps }

// SetLookup installs the peer-resolution callback used during Refresh to
// link master/slave Players into a Group (spec §4.8).
func (p *Player) SetLookup(l Lookup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookup = l
}

// SetLegacyFirmware records whether this device runs a legacy firmware
// generation, which shifts its idle/slave poll interval (spec §4.7).
func (p *Player) SetLegacyFirmware(legacy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.legacyFirmware = legacy
}

// SetAudioProGeneration records the Audio Pro hardware family, consulted when
// Refresh decodes the audio-output mode (the Ultra headphone/bluetooth
// disambiguation in applyAudioOutputMode).
func (p *Player) SetAudioProGeneration(gen device.AudioProGeneration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audioProGen = gen
}

// AttachMaster links a slave Player to its master, so playback commands
// reroute per spec §4.8. AttachMaster(nil) detaches.
func (p *Player) AttachMaster(master *Player) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.masterPeer = master
}

// Master returns the linked master Player, or nil if this Player is not a
// known slave.
func (p *Player) Master() *Player {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.masterPeer
}

// SetGroupHook installs an optional observer that notify calls with the mask
// of every field change this Player merges. No package in this module
// installs one; the slave-to-master cross-notification (spec §4.8) is done
// by notify itself through the master link.
func (p *Player) SetGroupHook(hook func(changed device.FieldMask)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groupHook = hook
}

// --- Derived read surface (spec §4.7) ---

func (p *Player) IsPlaying() bool   { return p.Snapshot().PlayState == device.PlayStatePlaying }
func (p *Player) IsPaused() bool    { return p.Snapshot().PlayState == device.PlayStatePaused }
func (p *Player) IsIdle() bool      { return p.Snapshot().PlayState == device.PlayStateIdle }
func (p *Player) IsBuffering() bool { return p.Snapshot().PlayState == device.PlayStateBuffering }
func (p *Player) IsMaster() bool    { return p.Snapshot().Role == device.RoleMaster }
func (p *Player) IsSlave() bool     { return p.Snapshot().Role == device.RoleSlave }
func (p *Player) IsSolo() bool      { return p.Snapshot().Role == device.RoleSolo }

// ShuffleSupported reports whether the current source supports shuffle
// (unknown for live streams and Spotify podcasts, per the parser).
func (p *Player) ShuffleSupported() bool {
	return p.Snapshot().Shuffle != device.ShuffleUnknown
}

// RepeatSupported mirrors ShuffleSupported for repeat.
func (p *Player) RepeatSupported() bool {
	return p.Snapshot().Repeat != device.RepeatUnknown
}

// GroupMasterName returns the master's friendly identifier for a slave
// Player, or "" if this Player has no known master (never panics).
func (p *Player) GroupMasterName() string {
	master := p.Master()
	if master == nil {
		return ""
	}
	return master.ID()
}

// LastRefreshOK reports whether the most recent Refresh succeeded; a
// persistently false value is the only externally visible sign of a
// failing Refresh loop (spec §7: Refresh swallows transport errors).
func (p *Player) LastRefreshOK() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRefreshOK
}

// PollInterval computes this Player's own refresh cadence from its current
// (role, playState, firmware generation), per spec §4.7's table.
func (p *Player) PollInterval() time.Duration {
	snap := p.Snapshot()
	p.mu.Lock()
	legacy := p.legacyFirmware
	p.mu.Unlock()

	if snap.PlayState == device.PlayStatePlaying {
		return p.poll.Playing
	}
	if snap.Role == device.RoleSlave {
		if legacy {
			return p.poll.SlaveLegacy
		}
		return p.poll.SlaveModern
	}
	if legacy {
		return p.poll.IdleLegacy
	}
	return p.poll.IdleModern
}

// Close stops the Player's internal position-estimator tick loop. It does
// not close the shared Transport HTTP client.
func (p *Player) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Player) tickLoop() {
	period := p.tickPeriod
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case t := <-ticker.C:
			if p.Snapshot().PlayState != device.PlayStatePlaying {
				continue
			}
			if p.sync.Tick(t) {
				p.notify(device.FieldPosition)
			}
		}
	}
}

// notify invokes the state-changed callback at most once for changed, and
// propagates the cross-notification rule (spec §4.8: a slave's volume/mute
// change also fires the master's callback).
func (p *Player) notify(changed device.FieldMask) {
	if changed == 0 {
		return
	}
	p.mu.Lock()
	onChange := p.onChange
	hook := p.groupHook
	master := p.masterPeer
	p.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	if hook != nil {
		hook(changed)
	}
	if master != nil && changed&(device.FieldVolume|device.FieldMuted) != 0 {
		master.notify(changed & (device.FieldVolume | device.FieldMuted))
	}
}

// issue builds op's wire command, validates it against capabilities, and
// sends it through Transport. Returns the raw response body (nil for
// setters with no reply shape).
func (p *Player) issue(ctx context.Context, op dialect.Operation, args ...any) ([]byte, error) {
	if flag := p.dialect.RequiredCapability(op); flag != "" {
		if p.caps.Get(flag) == device.TriNo {
			return nil, &apperrors.UnsupportedError{DeviceID: p.id, Operation: string(op), Reason: fmt.Sprintf("capability %s resolved no", flag)}
		}
	}
	cmd, err := p.dialect.Build(op, args...)
	if err != nil {
		return nil, err
	}
	body, err := p.transport.Do(ctx, cmd.Verb)
	if err != nil {
		return nil, err
	}
	if !cmd.HasReply {
		return nil, nil
	}
	return body, nil
}

// write runs the full four-step protocol (spec §4.7): issue the command,
// then on success apply an optimistic partial and fire the callback exactly
// once, iff the optimistic value actually changed something visible.
func (p *Player) write(ctx context.Context, op dialect.Operation, optimistic device.Partial, args ...any) error {
	if _, err := p.issue(ctx, op, args...); err != nil {
		return err
	}
	if optimistic.Mask == 0 {
		return nil
	}
	changed := p.sync.ApplyOptimistic(optimistic, time.Now())
	p.notify(changed)
	return nil
}

// ApplyUpnpDiff merges a partial Status decoded from a UPnP LastChange
// event, called by internal/device/upnpevents. It is the one write path
// that does not go through the command protocol: UPnP events are observed
// facts, not Player-issued commands.
func (p *Player) ApplyUpnpDiff(diff device.Partial) {
	changed := p.sync.ApplyUpnp(diff, time.Now())
	p.notify(changed)
}

// Refresh is the scheduled observer loop (spec §4.7): fetch status, parse,
// merge, and on a content-ID change fetch metadata/presets/audio-output as a
// best-effort follow-up. It is the only place unprompted polling happens,
// and it swallows transport errors into a log line per spec §7, exposing
// failure only through LastRefreshOK.
func (p *Player) Refresh(ctx context.Context) {
	body, err := p.issue(ctx, dialect.OpGetStatus)
	if err != nil {
		log.Printf("PLAYER: device=%s refresh failed: %v", p.id, err)
		p.mu.Lock()
		p.lastRefreshOK = false
		p.mu.Unlock()
		return
	}

	partial, err := parser.ParseStatus(p.id, string(dialect.OpGetStatus), body)
	if err != nil {
		log.Printf("PLAYER: device=%s refresh parse failed: %v", p.id, err)
		p.mu.Lock()
		p.lastRefreshOK = false
		p.mu.Unlock()
		return
	}
	if partial.Has(device.FieldLoopMode) {
		shuffle, repeat := p.caps.DecodeLoopMode(partial.LoopMode)
		partial.Shuffle = shuffle
		partial.Repeat = repeat
		partial.Set(device.FieldShuffle)
		partial.Set(device.FieldRepeat)
	}

	prevContentID := p.Snapshot().ContentID
	changed := p.sync.ApplyHttp(partial, time.Now())

	p.mu.Lock()
	p.lastRefreshOK = true
	p.mu.Unlock()

	if partial.Has(device.FieldContentID) && partial.ContentID != prevContentID {
		p.refreshTrackDetails(ctx)
	}
	p.notify(changed)
}

// refreshTrackDetails is the best-effort track-change follow-up: metadata,
// presets, and audio-output status each fail independently and silently,
// since none of them gate Refresh's primary status merge.
func (p *Player) refreshTrackDetails(ctx context.Context) {
	if body, err := p.issue(ctx, dialect.OpGetMetadata); err == nil && body != nil {
		if meta, err := parser.ParseStatus(p.id, string(dialect.OpGetMetadata), body); err == nil {
			p.sync.ApplyHttp(meta, time.Now())
		}
	}
	if body, err := p.issue(ctx, dialect.OpGetPresets); err == nil && body != nil {
		if presets, err := parsePresets(body); err == nil {
			p.sync.ApplyHttp(device.Partial{Mask: device.FieldPresets, Status: device.Status{Presets: presets}}, time.Now())
		}
	}
	if body, err := p.issue(ctx, dialect.OpGetAudioOutput); err == nil && body != nil {
		if mode, ok := parseAudioOutputMode(body); ok {
			p.applyAudioOutputMode(mode)
		}
	}
}
