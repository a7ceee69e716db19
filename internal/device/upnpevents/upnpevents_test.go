package upnpevents

import (
	"context"
	"testing"
	"time"

	"github.com/strefethen/devicehub/internal/device"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	diffs []device.Partial
}

func (f *fakeTarget) ApplyUpnpDiff(diff device.Partial) {
	f.diffs = append(f.diffs, diff)
}

type fakeClient struct {
	subscribeErr error
	renewErr     error
}

func (c *fakeClient) Subscribe(ctx context.Context, svc Service, callbackURL string, timeout time.Duration) (string, time.Duration, error) {
	if c.subscribeErr != nil {
		return "", 0, c.subscribeErr
	}
	return "sid-" + string(svc), timeout, nil
}

func (c *fakeClient) Renew(ctx context.Context, svc Service, sid string, timeout time.Duration) (time.Duration, error) {
	if c.renewErr != nil {
		return 0, c.renewErr
	}
	return timeout, nil
}

func (c *fakeClient) Unsubscribe(ctx context.Context, svc Service, sid string) error {
	return nil
}

func TestEventer_Start_SubscribesBothServices(t *testing.T) {
	client := &fakeClient{}
	target := &fakeTarget{}
	e := New(client, target, "http://localhost:9999/notify", time.Hour, time.Minute)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	h := e.Health()
	require.True(t, h.Subscribed)
}

func TestEventer_HandleNotify_DecodesAVTransportLastChange(t *testing.T) {
	client := &fakeClient{}
	target := &fakeTarget{}
	e := New(client, target, "http://localhost:9999/notify", time.Hour, time.Minute)

	body := []byte(`<propertyset><property><LastChange>&lt;Event&gt;&lt;InstanceID val="0"&gt;&lt;TransportState val="PLAYING"/&gt;&lt;CurrentTrackURI val="http://stream"/&gt;&lt;RelativeTimePosition val="0:01:30"/&gt;&lt;/InstanceID&gt;&lt;/Event&gt;</LastChange></property></propertyset>`)
	e.HandleNotify(ServiceAVTransport, 1, body)

	require.Len(t, target.diffs, 1)
	diff := target.diffs[0]
	require.True(t, diff.Has(device.FieldPlayState))
	require.Equal(t, device.PlayStatePlaying, diff.PlayState)
	require.True(t, diff.Has(device.FieldPosition))
	require.Equal(t, 90, diff.Position)
}

func TestEventer_HandleNotify_DecodesRenderingControlLastChange(t *testing.T) {
	client := &fakeClient{}
	target := &fakeTarget{}
	e := New(client, target, "http://localhost:9999/notify", time.Hour, time.Minute)

	body := []byte(`<propertyset><property><LastChange>&lt;Event&gt;&lt;InstanceID val="0"&gt;&lt;Volume channel="Master" val="55"/&gt;&lt;Mute channel="Master" val="1"/&gt;&lt;/InstanceID&gt;&lt;/Event&gt;</LastChange></property></propertyset>`)
	e.HandleNotify(ServiceRenderingControl, 1, body)

	require.Len(t, target.diffs, 1)
	diff := target.diffs[0]
	require.True(t, diff.Has(device.FieldVolume))
	require.InDelta(t, 0.55, diff.Volume, 0.001)
	require.True(t, diff.Has(device.FieldMuted))
	require.True(t, diff.Muted)
}

func TestEventer_HandleNotify_TracksMissedSEQ(t *testing.T) {
	client := &fakeClient{}
	target := &fakeTarget{}
	e := New(client, target, "http://localhost:9999/notify", time.Hour, time.Minute)

	e.HandleNotify(ServiceAVTransport, 1, []byte(`<propertyset></propertyset>`))
	e.HandleNotify(ServiceAVTransport, 4, []byte(`<propertyset></propertyset>`))

	require.EqualValues(t, 2, e.Health().MissedSEQ)
}
