// Package group implements Group (spec §4.8): the master/slave aggregation
// view, volume/mute rollups, and the JoinGroup/LeaveGroup precondition state
// machine built on top of Player's low-level JoinGroup/LeaveGroup
// primitives.
//
// Grounded on the teacher's internal/sonos/parallel.go
// (FetchAllGroupsPlayback's wg.Add/go/wg.Wait fan-out across group members,
// reused here for SetVolumeAll/MuteAll) and internal/scene/lock.go (the
// per-resource serialization idiom, adapted here to serialize mutations
// against one Group instead of one scene).
package group

import (
	"context"
	"sync"

	"github.com/strefethen/devicehub/internal/device"
	"github.com/strefethen/devicehub/internal/device/player"
)

// Group tracks one coordinator and its linked slaves. Instances are created
// lazily the first time a device is observed as master or slave; a lone
// device has no Group at all.
type Group struct {
	// mutate serializes the JoinGroup/LeaveGroup membership changes against
	// this Group, the way the teacher's scene lock serializes mutations
	// against one scene. SetVolumeAll and MuteAll do not take it.
	mutate sync.Mutex

	mu     sync.Mutex
	master *player.Player
	slaves map[string]*player.Player // keyed by Player.ID()
}

// New constructs a Group rooted at master, with no slaves linked yet.
func New(master *player.Player) *Group {
	return &Group{master: master, slaves: make(map[string]*player.Player)}
}

// Master returns the group's master Player.
func (g *Group) Master() *player.Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.master
}

// Members returns the master plus every linked slave.
func (g *Group) Members() []*player.Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*player.Player, 0, len(g.slaves)+1)
	out = append(out, g.master)
	for _, s := range g.slaves {
		out = append(out, s)
	}
	return out
}

// Size reports the member count, including the master.
func (g *Group) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slaves) + 1
}

// link records slave as a member, without touching its Player-level
// attachment (callers that mutate the device, JoinGroup below, do that
// separately).
func (g *Group) link(slave *player.Player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slaves[slave.ID()] = slave
}

// unlink removes slave from this group's membership set.
func (g *Group) unlink(slave *player.Player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.slaves, slave.ID())
}

// Volume is max(member.volume) across master + slaves, computed on every
// read, never cached (spec §4.8).
func (g *Group) Volume() float64 {
	max := 0.0
	for _, m := range g.Members() {
		if v := m.Snapshot().Volume; v > max {
			max = v
		}
	}
	return max
}

// Muted is all(member.muted) across master + slaves.
func (g *Group) Muted() bool {
	for _, m := range g.Members() {
		if !m.Snapshot().Muted {
			return false
		}
	}
	return true
}

// PlayState, Title, Artist, and Album report the master's values, since
// playback state is defined by the coordinator (spec §4.8).
func (g *Group) PlayState() device.PlayState { return g.Master().Snapshot().PlayState }
func (g *Group) Title() string               { return g.Master().Snapshot().Title }
func (g *Group) Artist() string              { return g.Master().Snapshot().Artist }
func (g *Group) Album() string               { return g.Master().Snapshot().Album }

// SetVolumeAll sets an absolute (not proportional) volume v on every member
// in parallel, the teacher's fan-out-with-waitgroup idiom.
func (g *Group) SetVolumeAll(ctx context.Context, v float64) error {
	return g.fanOut(func(m *player.Player) error { return m.SetVolume(ctx, v) })
}

// MuteAll sets mute on every member in parallel.
func (g *Group) MuteAll(ctx context.Context, muted bool) error {
	return g.fanOut(func(m *player.Player) error { return m.SetMute(ctx, muted) })
}

func (g *Group) fanOut(op func(*player.Player) error) error {
	members := g.Members()
	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, m := range members {
		wg.Add(1)
		go func(idx int, mem *player.Player) {
			defer wg.Done()
			errs[idx] = op(mem)
		}(i, m)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Registry resolves an arbitrary Player to the Group it currently belongs
// to, if any. Group itself has no way to discover peers; the host
// application maintains one Registry and keeps it in sync as Players join
// and leave (spec §4.8: "a group forms and dissolves as devices report
// master/slave roles over time").
type Registry struct {
	mu     sync.Mutex
	byHost map[string]*Group // keyed by master Player.ID()
}

// NewRegistry constructs an empty group Registry.
func NewRegistry() *Registry {
	return &Registry{byHost: make(map[string]*Group)}
}

// Lookup returns the Group containing p, or nil if p is not currently
// grouped with any other device.
func (r *Registry) Lookup(p *player.Player) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.byHost[p.ID()]; ok {
		return g
	}
	if master := p.Master(); master != nil {
		return r.byHost[master.ID()]
	}
	return nil
}

func (r *Registry) ensure(master *player.Player) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.byHost[master.ID()]
	if !ok {
		g = New(master)
		r.byHost[master.ID()] = g
	}
	return g
}

func (r *Registry) forget(master *player.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHost, master.ID())
}

// JoinGroup links other into the group coordinated by self, handling every
// starting-role precondition so the call never fails because of a wrong
// starting role (spec §4.8):
//   - if self is currently a slave elsewhere, self leaves that group first
//     and becomes a fresh master;
//   - if other is a master of its own group, that group is disbanded first;
//   - if other is already a slave elsewhere, it leaves that group first.
func (r *Registry) JoinGroup(ctx context.Context, self, other *player.Player) error {
	if self == other {
		return nil
	}

	if self.IsSlave() {
		if err := r.LeaveGroup(ctx, self); err != nil {
			return err
		}
	}
	if !self.IsMaster() {
		if err := self.CreateGroup(ctx); err != nil {
			return err
		}
	}
	g := r.ensure(self)
	g.mutate.Lock()
	defer g.mutate.Unlock()

	if other.IsMaster() {
		if err := r.disband(ctx, other); err != nil {
			return err
		}
	} else if other.IsSlave() {
		if err := r.LeaveGroup(ctx, other); err != nil {
			return err
		}
	}

	if err := other.JoinGroup(ctx, self); err != nil {
		return err
	}
	g.link(other)
	return nil
}

// LeaveGroup removes p from whatever group it belongs to. It is idempotent:
// a no-op on a solo Player, it disbands the entire group when p is the
// master, and it detaches only p when p is a slave (spec §4.8).
func (r *Registry) LeaveGroup(ctx context.Context, p *player.Player) error {
	if p.IsSolo() {
		return nil
	}
	if p.IsMaster() {
		return r.disband(ctx, p)
	}

	master := p.Master()
	if g := r.Lookup(p); g != nil {
		g.mutate.Lock()
		defer g.mutate.Unlock()
		if err := p.LeaveGroup(ctx); err != nil {
			return err
		}
		g.unlink(p)
		return nil
	}
	if master != nil {
		return p.LeaveGroup(ctx)
	}
	return p.LeaveGroup(ctx)
}

// disband removes every slave from master's group and returns master to
// solo, firing each affected member's own callback as it leaves.
func (r *Registry) disband(ctx context.Context, master *player.Player) error {
	g := r.ensure(master)
	g.mutate.Lock()
	members := g.Members()
	g.mutate.Unlock()

	for _, m := range members {
		if m == master {
			continue
		}
		if err := m.LeaveGroup(ctx); err != nil {
			return err
		}
		g.unlink(m)
	}
	if err := master.LeaveGroup(ctx); err != nil {
		return err
	}
	r.forget(master)
	return nil
}
