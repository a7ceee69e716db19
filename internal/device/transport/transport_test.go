package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strefethen/devicehub/internal/apperrors"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, srv *httptest.Server, retries int, backoff time.Duration) *Transport {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := splitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return New("dev-1", Endpoint{Protocol: "http", Host: host, Port: port}, time.Second, retries, backoff)
}

func splitHostPort(hostport string) (string, string, error) {
	idx := strings.LastIndex(hostport, ":")
	return hostport[:idx], hostport[idx+1:], nil
}

func TestTransport_Do_ReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, 3, time.Millisecond)
	body, err := tr.Do(context.Background(), "getStatusEx")
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(body))
}

func TestTransport_Do_RetriesOn500ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, 3, time.Millisecond)
	body, err := tr.Do(context.Background(), "getStatusEx")
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(body))
	require.Equal(t, int32(2), calls.Load())
}

func TestTransport_Do_DoesNotRetry400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, 3, time.Millisecond)
	_, err := tr.Do(context.Background(), "getStatusEx")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())

	var rejected *apperrors.DeviceRejectedError
	require.ErrorAs(t, err, &rejected)
}

func TestTransport_Do_TreatsUnknownCommandBodyAsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("unknown command"))
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, 3, time.Millisecond)
	_, err := tr.Do(context.Background(), "getStatusEx")
	require.Error(t, err)

	var rejected *apperrors.DeviceRejectedError
	require.ErrorAs(t, err, &rejected)
}

func TestTransport_Endpoint_ReturnsCachedAddress(t *testing.T) {
	tr := New("dev-1", Endpoint{Protocol: "https", Host: "10.0.0.1", Port: 443}, time.Second, 1, time.Millisecond)
	ep := tr.Endpoint()
	require.Equal(t, "https://10.0.0.1:443", ep.String())
}
