// Package transport is the thin HTTP client that knows how to talk to one
// device: issues a single command verb, parses the response, applies
// retry/backoff, and surfaces a typed error (spec §4.1).
//
// Grounded on the teacher's internal/sonos/soap/client.go (shared pooled
// *http.Client, context-deadline error classification) and
// internal/discovery/http_probe.go (probing multiple candidate addresses
// for the one that answers).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/strefethen/devicehub/internal/apperrors"
)

// Endpoint is one candidate (protocol, host, port) shape a device may answer on.
type Endpoint struct {
	Protocol string // "http" or "https"
	Host     string
	Port     int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Protocol, e.Host, e.Port)
}

// DefaultEndpointShapes is the probing order from spec §4.1.
var DefaultEndpointShapes = []struct {
	Protocol string
	Port     int
}{
	{"https", 443},
	{"https", 4443},
	{"https", 8443},
	{"http", 80},
	{"http", 8080},
}

// sharedClient is reused across every Transport; it must support connection
// pooling per spec §5 "shared-resource policy".
var sharedClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Transport issues commands to exactly one device over its cached endpoint.
type Transport struct {
	deviceID string // identity.UUID once known, else host, for error context

	mu       sync.Mutex
	endpoint Endpoint

	timeout time.Duration
	retries int
	backoff time.Duration
}

// New constructs a Transport bound to a known endpoint (no probing needed,
// e.g. a previously cached address per spec §6 persistence).
func New(deviceID string, endpoint Endpoint, timeout time.Duration, retries int, backoff time.Duration) *Transport {
	return &Transport{
		deviceID: deviceID,
		endpoint: endpoint,
		timeout:  timeout,
		retries:  retries,
		backoff:  backoff,
	}
}

// Probe tries each candidate address shape in order against host, issuing
// probeCommand (typically the device's status verb), and caches the first
// endpoint that returns a well-formed response for the device's lifetime.
func Probe(ctx context.Context, deviceID, host string, probeCommand string, timeout time.Duration, retries int, backoff time.Duration) (*Transport, error) {
	var lastErr error
	for _, shape := range DefaultEndpointShapes {
		ep := Endpoint{Protocol: shape.Protocol, Host: host, Port: shape.Port}
		t := &Transport{deviceID: deviceID, endpoint: ep, timeout: timeout, retries: retries, backoff: backoff}
		body, err := t.Do(ctx, probeCommand)
		if err != nil {
			lastErr = err
			continue
		}
		if !json.Valid(body) {
			lastErr = &apperrors.ResponseInvalidError{Endpoint: ep.String(), DeviceID: deviceID, Command: probeCommand, Err: fmt.Errorf("probe response is not JSON")}
			continue
		}
		return t, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoint shapes configured")
	}
	return nil, fmt.Errorf("probe %s: all endpoint shapes failed: %w", host, lastErr)
}

// Endpoint returns the transport's currently cached address.
func (t *Transport) Endpoint() Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endpoint
}

// Do issues GET /httpapi.asp?command=<verb> against the cached endpoint,
// retrying transient failures (connection refused, timeout, 5xx) with
// exponential backoff and making at most t.retries attempts in total (so
// t.retries == 1 means a single try). 4xx and parsed device-level
// errors ("unknown command") are never retried.
func (t *Transport) Do(ctx context.Context, command string) ([]byte, error) {
	ep := t.Endpoint()
	url := fmt.Sprintf("%s/httpapi.asp?command=%s", ep.String(), command)

	var lastErr error
	for attempt := 1; attempt <= t.retries; attempt++ {
		body, err := t.attempt(ctx, url, command, ep, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
		if attempt < t.retries {
			log.Printf("TRANSPORT: device=%s command=%s attempt=%d failed, retrying: %v", t.deviceID, command, attempt, err)
			select {
			case <-time.After(t.backoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (t *Transport) attempt(ctx context.Context, url, command string, ep Endpoint, attempt int) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := sharedClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err) {
			return nil, &apperrors.TimeoutError{Endpoint: ep.String(), DeviceID: t.deviceID, Attempt: attempt}
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, &apperrors.ConnectionError{Endpoint: ep.String(), DeviceID: t.deviceID, Attempt: attempt, Err: err}
		}
		return nil, &apperrors.TransportProtocolError{Endpoint: ep.String(), DeviceID: t.deviceID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.ResponseInvalidError{Endpoint: ep.String(), DeviceID: t.deviceID, Command: command, Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &apperrors.ConnectionError{Endpoint: ep.String(), DeviceID: t.deviceID, Attempt: attempt, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &apperrors.DeviceRejectedError{Endpoint: ep.String(), DeviceID: t.deviceID, Command: command, Status: resp.StatusCode, Body: string(body)}
	}
	if strings.Contains(strings.ToLower(string(body)), "unknown command") {
		return nil, &apperrors.DeviceRejectedError{Endpoint: ep.String(), DeviceID: t.deviceID, Command: command, Status: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// isTransient reports whether err should be retried: Connection, Timeout,
// TransportProtocol, or a 5xx surfaced as ConnectionError. DeviceRejected and ResponseInvalid are
// not retried (spec §4.1, §7).
func isTransient(err error) bool {
	var connErr *apperrors.ConnectionError
	var timeoutErr *apperrors.TimeoutError
	var protoErr *apperrors.TransportProtocolError
	return errors.As(err, &connErr) || errors.As(err, &timeoutErr) || errors.As(err, &protoErr)
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
