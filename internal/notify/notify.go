// Package notify implements the websocket state-change relay (spec §9: "a
// caller wanting multiple sinks composes them in its own thin dispatcher").
// Broadcaster is one such ready-made dispatcher: it subscribes to a single
// Player or Group state-changed callback and fans the resulting snapshot out
// to every currently-attached websocket client.
//
// Grounded on the teacher's internal/spotifysearch/connection_manager.go
// (mutex-guarded connection set, ping ticker, read-loop-detects-disconnect
// idiom), generalized from ConnectionManager's single upstream connection to
// a hub of many downstream subscriber connections.
package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster fans JSON-encoded snapshots out to every attached websocket
// client. Construct one per Player/Group whose state changes should be
// relayed.
type Broadcaster struct {
	mu         sync.Mutex
	clients    map[*client]struct{}
	bufferSize int
}

// New constructs a Broadcaster. bufferSize bounds each client's outgoing
// queue (spec §6 config: "websocket notify buffer size"); a slow client that
// falls behind this many messages is disconnected rather than blocking the
// broadcast for everyone else.
func New(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Broadcaster{clients: make(map[*client]struct{}), bufferSize: bufferSize}
}

// ServeHTTP upgrades the request to a websocket and registers the resulting
// connection as a subscriber until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("NOTIFY: upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, b.bufferSize)}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	go b.writeLoop(c)
	b.readLoop(c) // blocks until the client disconnects
}

func (b *Broadcaster) readLoop(c *client) {
	defer b.remove(c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writeLoop(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// Broadcast encodes payload as JSON and fans it out to every attached
// client. A client whose send buffer is full is disconnected rather than
// allowed to stall the broadcast (spec §5: onChange "must not block").
func (b *Broadcaster) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("NOTIFY: marshal payload failed: %v", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("NOTIFY: client send buffer full, dropping connection")
			delete(b.clients, c)
			close(c.send)
		}
	}
}

// Subscribers reports the number of currently attached clients.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// OnChange returns a nullary callback suitable for Player's onChange,
// publishing snapshot() every time it fires.
func (b *Broadcaster) OnChange(snapshot func() any) func() {
	return func() { b.Broadcast(snapshot()) }
}
