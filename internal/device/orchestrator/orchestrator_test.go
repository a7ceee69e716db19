package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	id       string
	interval time.Duration
	calls    atomic.Int32
}

func (f *fakePlayer) ID() string                     { return f.id }
func (f *fakePlayer) PollInterval() time.Duration    { return f.interval }
func (f *fakePlayer) Refresh(ctx context.Context) {
	f.calls.Add(1)
}

func TestOrchestrator_Attach_RunsRefreshOnSchedule(t *testing.T) {
	o := New()
	p := &fakePlayer{id: "dev-1", interval: 20 * time.Millisecond}
	o.Attach(p)
	defer o.Stop()

	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_Detach_StopsLoop(t *testing.T) {
	o := New()
	p := &fakePlayer{id: "dev-1", interval: 10 * time.Millisecond}
	o.Attach(p)

	require.Eventually(t, func() bool { return p.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	o.Detach("dev-1")

	count := p.calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, count, p.calls.Load())
}

func TestOrchestrator_Attach_Idempotent(t *testing.T) {
	o := New()
	p := &fakePlayer{id: "dev-1", interval: time.Hour}
	o.Attach(p)
	o.Attach(p)
	defer o.Stop()

	o.mu.Lock()
	n := len(o.loops)
	o.mu.Unlock()
	require.Equal(t, 1, n)
}
