package group

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/strefethen/devicehub/internal/device"
	"github.com/strefethen/devicehub/internal/device/capabilities"
	"github.com/strefethen/devicehub/internal/device/dialect"
	"github.com/strefethen/devicehub/internal/device/player"
	"github.com/strefethen/devicehub/internal/device/transport"
	"github.com/stretchr/testify/require"
)

func newTestPlayer(t *testing.T, id string) (*player.Player, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	tr := transport.New(id, transport.Endpoint{Protocol: "http", Host: u.Hostname(), Port: port}, time.Second, 1, 10*time.Millisecond)
	reg, err := dialect.NewRegistry()
	require.NoError(t, err)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)
	caps := capabilities.New(device.VendorWiiM, device.AudioProGenNone, d)
	poll := player.PollConfig{Playing: time.Hour, IdleModern: time.Hour, IdleLegacy: time.Hour, SlaveModern: time.Hour, SlaveLegacy: time.Hour}
	p := player.New(id, tr, d, caps, poll, time.Hour, 0, time.Second, 10, time.Hour, nil)
	return p, srv
}

func TestRegistry_JoinGroup_SoloDevicesFormGroup(t *testing.T) {
	r := NewRegistry()
	master, masterSrv := newTestPlayer(t, "master")
	defer masterSrv.Close()
	defer master.Close()
	slave, slaveSrv := newTestPlayer(t, "slave")
	defer slaveSrv.Close()
	defer slave.Close()

	require.NoError(t, r.JoinGroup(context.Background(), master, slave))
	require.True(t, master.IsMaster())
	require.True(t, slave.IsSlave())
	require.Equal(t, master, slave.Master())

	g := r.Lookup(master)
	require.NotNil(t, g)
	require.Equal(t, 2, g.Size())
}

func TestRegistry_LeaveGroup_SlaveDetachesOnly(t *testing.T) {
	r := NewRegistry()
	master, masterSrv := newTestPlayer(t, "master")
	defer masterSrv.Close()
	defer master.Close()
	slave, slaveSrv := newTestPlayer(t, "slave")
	defer slaveSrv.Close()
	defer slave.Close()

	require.NoError(t, r.JoinGroup(context.Background(), master, slave))
	require.NoError(t, r.LeaveGroup(context.Background(), slave))

	require.True(t, slave.IsSolo())
	require.True(t, master.IsMaster())
}

func TestRegistry_LeaveGroup_MasterDisbandsWholeGroup(t *testing.T) {
	r := NewRegistry()
	master, masterSrv := newTestPlayer(t, "master")
	defer masterSrv.Close()
	defer master.Close()
	slaveA, slaveASrv := newTestPlayer(t, "slaveA")
	defer slaveASrv.Close()
	defer slaveA.Close()
	slaveB, slaveBSrv := newTestPlayer(t, "slaveB")
	defer slaveBSrv.Close()
	defer slaveB.Close()

	require.NoError(t, r.JoinGroup(context.Background(), master, slaveA))
	require.NoError(t, r.JoinGroup(context.Background(), master, slaveB))
	require.NoError(t, r.LeaveGroup(context.Background(), master))

	require.True(t, master.IsSolo())
	require.True(t, slaveA.IsSolo())
	require.True(t, slaveB.IsSolo())
	require.Nil(t, r.Lookup(master))
}

func TestGroup_Volume_IsMaxAcrossMembers(t *testing.T) {
	master, masterSrv := newTestPlayer(t, "master")
	defer masterSrv.Close()
	defer master.Close()
	slave, slaveSrv := newTestPlayer(t, "slave")
	defer slaveSrv.Close()
	defer slave.Close()

	require.NoError(t, master.SetVolume(context.Background(), 0.3))
	require.NoError(t, slave.SetVolume(context.Background(), 0.8))

	g := New(master)
	g.link(slave)
	require.InDelta(t, 0.8, g.Volume(), 0.001)
}

func TestGroup_Muted_RequiresAllMembersMuted(t *testing.T) {
	master, masterSrv := newTestPlayer(t, "master")
	defer masterSrv.Close()
	defer master.Close()
	slave, slaveSrv := newTestPlayer(t, "slave")
	defer slaveSrv.Close()
	defer slave.Close()

	require.NoError(t, master.SetMute(context.Background(), true))
	g := New(master)
	g.link(slave)
	require.False(t, g.Muted())

	require.NoError(t, slave.SetMute(context.Background(), true))
	require.True(t, g.Muted())
}
