// Package addresscache persists discovered device addresses (uuid, host,
// port, protocol, lastSeenAt) to sqlite, so a host application can warm-start
// Transport endpoints on the next run without waiting for discovery to
// re-resolve every device (spec §6: "address cache (optional, persists
// discovered addresses)").
//
// Grounded on the teacher's internal/db/db.go (sql.Open with WAL pragmas,
// ensureDir, schema-apply-on-open idiom) and internal/db/schema.go (embedded
// schema string, CREATE TABLE IF NOT EXISTS). Narrowed from the teacher's
// split reader/writer DBPair, sized for a multi-tenant scheduling app, down
// to a single pooled *sql.DB: this cache is a handful of rows per device and
// never contends the way the teacher's jobs/routines tables do.
package addresscache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strefethen/devicehub/internal/device"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS device_addresses (
	uuid TEXT PRIMARY KEY,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	protocol TEXT NOT NULL,
	last_seen_at TEXT NOT NULL
);
`

// Cache is a sqlite-backed store of the last known address for each device
// UUID.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and applies
// the schema.
func Open(path string) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("addresscache: path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	connStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("addresscache: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("addresscache: set WAL: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("addresscache: apply schema: %w", err)
	}

	return &Cache{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database connection.
func (c *Cache) Close() error { return c.db.Close() }

// Entry is one cached device address.
type Entry struct {
	UUID       string
	Host       string
	Port       int
	Protocol   device.Protocol
	LastSeenAt time.Time
}

// Put records a device's current address, overwriting any prior entry for
// the same UUID.
func (c *Cache) Put(e Entry) error {
	_, err := c.db.Exec(
		`INSERT INTO device_addresses (uuid, host, port, protocol, last_seen_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET host=excluded.host, port=excluded.port,
		   protocol=excluded.protocol, last_seen_at=excluded.last_seen_at`,
		e.UUID, e.Host, e.Port, string(e.Protocol), e.LastSeenAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Get returns the last known address for uuid, if any.
func (c *Cache) Get(uuid string) (Entry, bool, error) {
	row := c.db.QueryRow(
		`SELECT uuid, host, port, protocol, last_seen_at FROM device_addresses WHERE uuid = ?`,
		uuid,
	)
	var e Entry
	var protocol, lastSeen string
	if err := row.Scan(&e.UUID, &e.Host, &e.Port, &protocol, &lastSeen); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	e.Protocol = device.Protocol(protocol)
	t, err := time.Parse(time.RFC3339, lastSeen)
	if err != nil {
		return Entry{}, false, err
	}
	e.LastSeenAt = t
	return e, true, nil
}

// All returns every cached address, for a host application to warm-start
// Transports against at startup.
func (c *Cache) All() ([]Entry, error) {
	rows, err := c.db.Query(`SELECT uuid, host, port, protocol, last_seen_at FROM device_addresses`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var protocol, lastSeen string
		if err := rows.Scan(&e.UUID, &e.Host, &e.Port, &protocol, &lastSeen); err != nil {
			return nil, err
		}
		e.Protocol = device.Protocol(protocol)
		t, err := time.Parse(time.RFC3339, lastSeen)
		if err != nil {
			return nil, err
		}
		e.LastSeenAt = t
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a cached address, e.g. after a device has been offline past
// a host-defined retention window.
func (c *Cache) Delete(uuid string) error {
	_, err := c.db.Exec(`DELETE FROM device_addresses WHERE uuid = ?`, uuid)
	return err
}
