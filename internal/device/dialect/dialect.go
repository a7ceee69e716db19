// Package dialect translates abstract operations to concrete LinkPlay wire
// commands and interprets wire response shapes, per vendor (spec §4.2).
//
// Grounded on the teacher's internal/sonos/soap/actions.go (one method per
// SOAP action, each a thin wrapper over a shared executor) and
// internal/sonos/soap/types.go (the Service enum + serviceTypes/controlPaths
// maps), generalized from "UPnP service + SOAP action" to a single
// "httpapi.asp?command=" verb per operation.
package dialect

import (
	"fmt"

	"github.com/strefethen/devicehub/internal/device"
	"github.com/strefethen/devicehub/internal/dialectdata"
)

// Operation is one abstract command the Player issues through a Dialect.
type Operation string

const (
	OpGetStatus                 Operation = "GetStatus"
	OpGetDeviceInfo             Operation = "GetDeviceInfo"
	OpGetMetadata               Operation = "GetMetadata"
	OpGetMultiroomStatus        Operation = "GetMultiroomStatus"
	OpGetPresets                Operation = "GetPresets"
	OpGetEQ                     Operation = "GetEQ"
	OpGetAudioOutput            Operation = "GetAudioOutput"
	OpSetVolume                 Operation = "SetVolume"
	OpSetMute                   Operation = "SetMute"
	OpSetSource                 Operation = "SetSource"
	OpSetLoopMode               Operation = "SetLoopMode"
	OpPlay                      Operation = "Play"
	OpPause                     Operation = "Pause"
	OpResume                    Operation = "Resume"
	OpStop                      Operation = "Stop"
	OpNext                      Operation = "Next"
	OpPrevious                  Operation = "Previous"
	OpSeek                      Operation = "Seek"
	OpSetAudioOutput            Operation = "SetAudioOutput"
	OpSetLED                    Operation = "SetLED"
	OpSetEQPreset               Operation = "SetEQPreset"
	OpCreateGroup               Operation = "CreateGroup"
	OpJoinSlave                 Operation = "JoinSlave"
	OpKickSlave                 Operation = "KickSlave"
	OpLeaveGroup                Operation = "LeaveGroup"
	OpReboot                    Operation = "Reboot"
	OpSetSleepTimer             Operation = "SetSleepTimer"
	OpSetAlarm                  Operation = "SetAlarm"
	OpSubwooferGet              Operation = "SubwooferGet"
	OpSubwooferSet              Operation = "SubwooferSet"
	OpPlayURL                   Operation = "PlayURL"
	OpPlayPreset                Operation = "PlayPreset"
	OpPlayNotification          Operation = "PlayNotification"
	OpInstallFirmwareUpdate     Operation = "InstallFirmwareUpdate"
	OpSetChannelBalance         Operation = "SetChannelBalance"
	OpConnectBluetooth          Operation = "ConnectBluetooth"
	OpGetPairedBluetoothDevices Operation = "GetPairedBluetoothDevices"
)

// Command is a built wire command ready for transport.Do, plus whether the
// operation has a documented reply shape (spec §4.2 critical wire policy:
// operations without one succeed on any 200 response).
type Command struct {
	Verb     string
	HasReply bool
}

// Dialect is one vendor's complete operation table and loop-mode bijection.
type Dialect struct {
	vendor    device.Vendor
	table     dialectdata.VendorTable
	byOp      map[Operation]dialectdata.OperationEntry
	loopByInt map[int]dialectdata.LoopModeEntry
}

// Registry loads all vendor tables once and hands out per-vendor Dialects.
type Registry struct {
	tables map[string]dialectdata.VendorTable
}

// NewRegistry loads the embedded vendor tables.
func NewRegistry() (*Registry, error) {
	tables, err := dialectdata.Load()
	if err != nil {
		return nil, err
	}
	return &Registry{tables: tables}, nil
}

// For returns the Dialect for vendor, falling back to genericLinkPlay if the
// vendor has no dedicated table.
func (r *Registry) For(vendor device.Vendor) (*Dialect, error) {
	table, ok := r.tables[string(vendor)]
	if !ok {
		table, ok = r.tables[string(device.VendorGenericLinkPlay)]
		if !ok {
			return nil, fmt.Errorf("dialect: no table for vendor %q and no genericLinkPlay fallback", vendor)
		}
	}
	d := &Dialect{
		vendor:    vendor,
		table:     table,
		byOp:      make(map[Operation]dialectdata.OperationEntry, len(table.Operations)),
		loopByInt: make(map[int]dialectdata.LoopModeEntry, len(table.LoopModes)),
	}
	for _, op := range table.Operations {
		d.byOp[Operation(op.Operation)] = op
	}
	for _, lm := range table.LoopModes {
		d.loopByInt[lm.Mode] = lm
	}
	return d, nil
}

// Build renders the wire command for op with the given positional args
// substituted into the table's command template.
func (d *Dialect) Build(op Operation, args ...any) (Command, error) {
	entry, ok := d.byOp[op]
	if !ok {
		return Command{}, fmt.Errorf("dialect %s: operation %s not in table", d.vendor, op)
	}
	verb := entry.Command
	if len(args) > 0 {
		verb = fmt.Sprintf(entry.Command, args...)
	}
	return Command{Verb: verb, HasReply: entry.HasReply}, nil
}

// RequiredCapability returns the CapabilityFlag op requires, or "" if op has
// no capability gate.
func (d *Dialect) RequiredCapability(op Operation) device.CapabilityFlag {
	entry, ok := d.byOp[op]
	if !ok || entry.RequiresCap == "" {
		return ""
	}
	return device.CapabilityFlag(entry.RequiresCap)
}

// DecodeLoopMode returns the (shuffle, repeat) pair n encodes under this
// vendor's bijection. Unknown n yields (unknown, unknown).
func (d *Dialect) DecodeLoopMode(n int) (device.ShuffleState, device.RepeatMode) {
	entry, ok := d.loopByInt[n]
	if !ok {
		return device.ShuffleUnknown, device.RepeatUnknown
	}
	shuffle := device.ShuffleOff
	if entry.Shuffle {
		shuffle = device.ShuffleOn
	}
	return shuffle, device.RepeatMode(entry.Repeat)
}

// EncodeLoopMode returns the integer loopMode this vendor uses for
// (shuffle, repeat). When more than one integer maps to the same pair (the
// WiiM 3/4 duplicate, per spec §6), the lowest matching integer is returned,
// keeping encode deterministic.
func (d *Dialect) EncodeLoopMode(shuffle bool, repeat device.RepeatMode) (int, error) {
	best := -1
	for _, lm := range d.table.LoopModes {
		if lm.Shuffle == shuffle && device.RepeatMode(lm.Repeat) == repeat {
			if best == -1 || lm.Mode < best {
				best = lm.Mode
			}
		}
	}
	if best == -1 {
		return 0, fmt.Errorf("dialect %s: no loopMode for shuffle=%v repeat=%s", d.vendor, shuffle, repeat)
	}
	return best, nil
}

// Vendor returns the vendor this Dialect was built for.
func (d *Dialect) Vendor() device.Vendor { return d.vendor }
