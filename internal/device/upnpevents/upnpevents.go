// Package upnpevents implements the UpnpEventer (spec §4.9): subscribing to
// a device's UPnP AVTransport and RenderingControl services, decoding
// LastChange payloads into partial Status diffs, and handing them to a
// Player. Position is only ever carried on track-start/transition/seek
// events, never continuously.
//
// Grounded on the teacher's internal/sonos/events/manager.go (subscription
// map keyed by SID, renewal loop on a ticker, exponential backoff on
// subscribe failure, IsDeviceFullySubscribed) narrowed from Manager's
// multi-device map down to one Eventer per device, since spec §4.9 scopes
// UpnpEventer to a single device's services; and
// internal/sonos/events/parser.go (LastChange XML decode shape, double
// html-unescape before the inner XML parse).
package upnpevents

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/strefethen/devicehub/internal/device"
)

// Service names the two UPnP services an Eventer subscribes to.
type Service string

const (
	ServiceAVTransport      Service = "AVTransport"
	ServiceRenderingControl Service = "RenderingControl"
)

// SubscriptionClient is the externally supplied UPnP GENA client (spec
// §4.9: "using an externally supplied UPnP subscription client"). An
// Eventer never speaks SOAP/HTTP SUBSCRIBE itself.
type SubscriptionClient interface {
	Subscribe(ctx context.Context, service Service, callbackURL string, timeout time.Duration) (sid string, grantedTimeout time.Duration, err error)
	Renew(ctx context.Context, service Service, sid string, timeout time.Duration) (grantedTimeout time.Duration, err error)
	Unsubscribe(ctx context.Context, service Service, sid string) error
}

// Target receives decoded partial diffs. *player.Player satisfies this via
// ApplyUpnpDiff; kept as an interface here so upnpevents does not import
// player (mirroring the import-cycle avoidance already used between player
// and group).
type Target interface {
	ApplyUpnpDiff(diff device.Partial)
}

type subscription struct {
	sid     string
	renewAt time.Time
}

// Health tracks event-channel liveness (spec §4.9: "health tracking
// (missed-event counting)").
type Health struct {
	Subscribed       bool
	LastEventAt      time.Time
	MissedSEQ        int64
	SubscribeFailure int64
}

// Eventer owns UPnP event subscriptions for one device and feeds decoded
// diffs to Target.
type Eventer struct {
	client      SubscriptionClient
	target      Target
	callbackURL string
	timeout     time.Duration
	renewBuffer time.Duration

	mu            sync.Mutex
	subs          map[Service]*subscription
	lastSEQ       map[Service]int
	health        Health
	failureStreak int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs an Eventer. callbackURL is this process's own NOTIFY
// endpoint for the target device to deliver events to.
func New(client SubscriptionClient, target Target, callbackURL string, timeout, renewBuffer time.Duration) *Eventer {
	return &Eventer{
		client:      client,
		target:      target,
		callbackURL: callbackURL,
		timeout:     timeout,
		renewBuffer: renewBuffer,
		subs:        make(map[Service]*subscription),
		lastSEQ:     make(map[Service]int),
		stopCh:      make(chan struct{}),
	}
}

// Start subscribes to both services and begins the renewal loop. Idempotent:
// calling Start on an already-subscribed service is a no-op for that
// service.
func (e *Eventer) Start(ctx context.Context) error {
	for _, svc := range []Service{ServiceAVTransport, ServiceRenderingControl} {
		e.subscribe(ctx, svc)
	}
	go e.renewalLoop()
	return nil
}

// Stop unsubscribes from every service and halts the renewal loop.
func (e *Eventer) Stop(ctx context.Context) {
	e.stopOnce.Do(func() { close(e.stopCh) })

	e.mu.Lock()
	subs := make(map[Service]*subscription, len(e.subs))
	for svc, s := range e.subs {
		subs[svc] = s
	}
	e.mu.Unlock()

	for svc, s := range subs {
		if err := e.client.Unsubscribe(ctx, svc, s.sid); err != nil {
			log.Printf("UPNPEVENTS: unsubscribe %s failed: %v", svc, err)
		}
	}
}

// Health returns a snapshot of subscription liveness.
func (e *Eventer) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.health
	h.Subscribed = len(e.subs) == 2
	return h
}

func (e *Eventer) subscribe(ctx context.Context, svc Service) {
	e.mu.Lock()
	if _, ok := e.subs[svc]; ok {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	sid, granted, err := e.client.Subscribe(ctx, svc, e.callbackURL, e.timeout)
	if err != nil {
		e.mu.Lock()
		e.health.SubscribeFailure++
		e.failureStreak++
		e.mu.Unlock()
		log.Printf("UPNPEVENTS: subscribe %s failed: %v", svc, err)
		return
	}

	renewIn := granted - e.renewBuffer
	if renewIn < 0 {
		renewIn = granted
	}
	e.mu.Lock()
	e.subs[svc] = &subscription{sid: sid, renewAt: time.Now().Add(renewIn)}
	e.failureStreak = 0
	e.mu.Unlock()
}

// renewalLoop mirrors the teacher's ticker + stop-channel shape, renewing
// any subscription that has crossed its renewAt time and resubscribing on a
// renewal failure that indicates the device dropped it.
func (e *Eventer) renewalLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.renewExpiring()
		}
	}
}

func (e *Eventer) renewExpiring() {
	e.mu.Lock()
	due := make(map[Service]*subscription)
	for svc, s := range e.subs {
		if time.Now().After(s.renewAt) {
			due[svc] = s
		}
	}
	e.mu.Unlock()

	for svc, s := range due {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		granted, err := e.client.Renew(ctx, svc, s.sid, e.timeout)
		cancel()
		if err != nil {
			log.Printf("UPNPEVENTS: renew %s failed, resubscribing: %v", svc, err)
			e.mu.Lock()
			delete(e.subs, svc)
			e.mu.Unlock()
			e.subscribe(context.Background(), svc)
			continue
		}
		renewIn := granted - e.renewBuffer
		if renewIn < 0 {
			renewIn = granted
		}
		e.mu.Lock()
		s.renewAt = time.Now().Add(renewIn)
		e.mu.Unlock()
	}
}

// HandleNotify is called by the host's NOTIFY HTTP handler with the raw
// event body, the originating service, and the NOTIFY SEQ header. It
// decodes LastChange into a partial Status diff and applies it to Target.
func (e *Eventer) HandleNotify(svc Service, seq int, body []byte) {
	e.mu.Lock()
	last := e.lastSEQ[svc]
	if seq != 0 && last != 0 && seq > last+1 {
		e.health.MissedSEQ += int64(seq - last - 1)
	}
	e.lastSEQ[svc] = seq
	e.health.LastEventAt = time.Now()
	e.mu.Unlock()

	diff, err := decodeLastChange(svc, body)
	if err != nil {
		log.Printf("UPNPEVENTS: decode %s event failed: %v", svc, err)
		return
	}
	if diff.Mask != 0 {
		e.target.ApplyUpnpDiff(diff)
	}
}

type propertyset struct {
	Properties []property `xml:"property"`
}

type property struct {
	LastChange string `xml:"LastChange"`
}

type avTransportEvent struct {
	InstanceID avTransportInstance `xml:"InstanceID"`
}

type avTransportInstance struct {
	TransportState       attrVal `xml:"TransportState"`
	CurrentTrackURI      attrVal `xml:"CurrentTrackURI"`
	CurrentTrackMetaData attrVal `xml:"CurrentTrackMetaData"`
	CurrentTrackDuration attrVal `xml:"CurrentTrackDuration"`
	RelativeTimePosition attrVal `xml:"RelativeTimePosition"`
}

type renderingControlEvent struct {
	InstanceID renderingControlInstance `xml:"InstanceID"`
}

type renderingControlInstance struct {
	Volume channelAttrVal `xml:"Volume"`
	Mute   channelAttrVal `xml:"Mute"`
}

type attrVal struct {
	Val string `xml:"val,attr"`
}

type channelAttrVal struct {
	Channel string `xml:"channel,attr"`
	Val     string `xml:"val,attr"`
}

// decodeLastChange unwraps the propertyset envelope, un-escapes the
// double-encoded LastChange body, and parses it into a partial Status diff.
func decodeLastChange(svc Service, body []byte) (device.Partial, error) {
	var ps propertyset
	if err := xml.Unmarshal(body, &ps); err != nil {
		return device.Partial{}, err
	}

	var diff device.Partial
	for _, prop := range ps.Properties {
		if prop.LastChange == "" {
			continue
		}
		unescaped := html.UnescapeString(prop.LastChange)
		switch svc {
		case ServiceAVTransport:
			decodeAVTransport(unescaped, &diff)
		case ServiceRenderingControl:
			decodeRenderingControl(unescaped, &diff)
		}
	}
	return diff, nil
}

func decodeAVTransport(xmlContent string, diff *device.Partial) {
	var evt avTransportEvent
	if err := xml.Unmarshal([]byte(xmlContent), &evt); err != nil {
		return
	}
	inst := evt.InstanceID

	if state := transportState(inst.TransportState.Val); state != "" {
		diff.PlayState = state
		diff.Set(device.FieldPlayState)
	}
	if inst.CurrentTrackURI.Val != "" {
		diff.ContentID = inst.CurrentTrackURI.Val
		diff.Set(device.FieldContentID)
	}
	// Position is only carried on track-start/transition/seek events (spec
	// §4.9), which is exactly when RelativeTimePosition appears in LastChange.
	if inst.RelativeTimePosition.Val != "" {
		if secs, ok := parseHMS(inst.RelativeTimePosition.Val); ok {
			diff.Position = secs
			diff.Set(device.FieldPosition)
		}
	}
	if inst.CurrentTrackDuration.Val != "" {
		if secs, ok := parseHMS(inst.CurrentTrackDuration.Val); ok {
			diff.Duration = secs
			diff.HasDuration = secs > 0
			diff.Set(device.FieldDuration)
		}
	}
}

func decodeRenderingControl(xmlContent string, diff *device.Partial) {
	var evt renderingControlEvent
	if err := xml.Unmarshal([]byte(xmlContent), &evt); err != nil {
		return
	}
	inst := evt.InstanceID

	if inst.Volume.Channel == "Master" || inst.Volume.Channel == "" {
		if v, err := strconv.Atoi(inst.Volume.Val); err == nil {
			diff.Volume = float64(v) / 100
			diff.Set(device.FieldVolume)
		}
	}
	if inst.Mute.Channel == "Master" || inst.Mute.Channel == "" {
		if inst.Mute.Val != "" {
			diff.Muted = inst.Mute.Val == "1"
			diff.Set(device.FieldMuted)
		}
	}
}

func transportState(raw string) device.PlayState {
	switch raw {
	case "PLAYING", "TRANSITIONING":
		return device.PlayStatePlaying
	case "PAUSED_PLAYBACK":
		return device.PlayStatePaused
	case "STOPPED":
		return device.PlayStateIdle
	default:
		return ""
	}
}

// parseHMS parses an HH:MM:SS UPnP duration/position string into seconds.
func parseHMS(s string) (int, bool) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, false
	}
	return h*3600 + m*60 + sec, true
}
