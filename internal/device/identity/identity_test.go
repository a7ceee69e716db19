package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strefethen/devicehub/internal/device"
	"github.com/strefethen/devicehub/internal/device/dialect"
	"github.com/strefethen/devicehub/internal/device/transport"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, body string) (*Tracker, *httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(body))
	}))
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	tr := transport.New("dev-1", transport.Endpoint{Protocol: "http", Host: u.Hostname(), Port: port}, time.Second, 1, 10*time.Millisecond)
	reg, err := dialect.NewRegistry()
	require.NoError(t, err)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)

	tracker, err := New(context.Background(), "dev-1", tr, d)
	require.NoError(t, err)
	return tracker, srv, &hits
}

func TestTracker_New_FetchesIdentityOnce(t *testing.T) {
	body := `{"uuid":"FF31F09E","DeviceName":"Living Room","project":"WiiM_Pro","MAC":"AA:BB:CC:DD:EE:FF","firmware":"4.6.415622","NewVer":"4.6.415622"}`
	tracker, srv, hits := newTestTracker(t, body)
	defer srv.Close()

	require.Equal(t, int32(1), hits.Load())
	id := tracker.Get()
	require.Equal(t, "FF31F09E", id.UUID)
	require.Equal(t, "Living Room", id.FriendlyName)
	require.Equal(t, "WiiM_Pro", id.Model)
	require.False(t, id.UpdateAvailable)
}

func TestTracker_Refresh_DetectsUpdateAvailable(t *testing.T) {
	body := `{"uuid":"FF31F09E","firmware":"4.6.415622","NewVer":"4.6.500000"}`
	tracker, srv, _ := newTestTracker(t, body)
	defer srv.Close()

	require.True(t, tracker.Get().UpdateAvailable)
}

func TestTracker_Refresh_NeverClearsKnownFieldsOnPartialBody(t *testing.T) {
	tracker, srv, _ := newTestTracker(t, `{"uuid":"FF31F09E","firmware":"4.6.415622"}`)
	defer srv.Close()

	require.Equal(t, "FF31F09E", tracker.Get().UUID)
	require.NoError(t, tracker.Refresh(context.Background()))
	require.Equal(t, "FF31F09E", tracker.Get().UUID)
}
