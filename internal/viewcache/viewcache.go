// Package viewcache provides a SQLite-backed cache of loaded demo views.
//
// Entries are keyed by demo id and carry the checksum of the content they
// were built from; a lookup with a different checksum is a miss.
package viewcache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS views (
	demo_id   TEXT PRIMARY KEY,
	checksum  TEXT NOT NULL DEFAULT '',
	html      TEXT NOT NULL DEFAULT '',
	script    TEXT NOT NULL DEFAULT '',
	exports   TEXT NOT NULL DEFAULT '[]',
	loaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store is the cache contract the loader depends on.
type Store interface {
	Get(demoID, checksum string) (*models.View, error)
	Put(v *models.View) error
	Delete(demoID string) error
}

var _ Store = (*DB)(nil)

// DB wraps a sql.DB holding the views table.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the cache database. dsn is a file path or
// ":memory:".
func Open(dsn string) (*DB, error) {
	full := dsn + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if dsn == ":memory:" {
		full = dsn
	}
	conn, err := sql.Open("sqlite3", full)
	if err != nil {
		return nil, fmt.Errorf("viewcache: open db: %w", err)
	}
	if dsn == ":memory:" {
		// each connection would get its own private database
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("viewcache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("viewcache: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Get returns the cached view for demoID if it was built from content with
// the given checksum. Otherwise it returns apperr.ErrNotFound.
func (db *DB) Get(demoID, checksum string) (*models.View, error) {
	var (
		v       models.View
		exports string
	)
	err := db.conn.QueryRow(`
		SELECT demo_id, checksum, html, script, exports, loaded_at
		FROM views WHERE demo_id = ? AND checksum = ?
	`, demoID, checksum).Scan(&v.DemoID, &v.Checksum, &v.HTML, &v.Script, &exports, &v.LoadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("viewcache: get %s: %w", demoID, err)
	}
	if err := json.Unmarshal([]byte(exports), &v.Exports); err != nil {
		return nil, fmt.Errorf("viewcache: decode exports %s: %w", demoID, err)
	}
	if v.Exports == nil {
		v.Exports = []string{}
	}
	return &v, nil
}

// Put inserts or replaces the cached view for v.DemoID.
func (db *DB) Put(v *models.View) error {
	exports := v.Exports
	if exports == nil {
		exports = []string{}
	}
	exportsJSON, _ := json.Marshal(exports)
	loadedAt := v.LoadedAt
	if loadedAt.IsZero() {
		loadedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO views (demo_id, checksum, html, script, exports, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(demo_id) DO UPDATE SET
			checksum  = excluded.checksum,
			html      = excluded.html,
			script    = excluded.script,
			exports   = excluded.exports,
			loaded_at = excluded.loaded_at
	`, v.DemoID, v.Checksum, v.HTML, v.Script, string(exportsJSON), loadedAt)
	if err != nil {
		return fmt.Errorf("viewcache: put %s: %w", v.DemoID, err)
	}
	return nil
}

// Delete drops the cached view for demoID. Deleting a missing entry is not
// an error.
func (db *DB) Delete(demoID string) error {
	if _, err := db.conn.Exec(`DELETE FROM views WHERE demo_id = ?`, demoID); err != nil {
		return fmt.Errorf("viewcache: delete %s: %w", demoID, err)
	}
	return nil
}

// Checksums returns demo_id → checksum for every cached view.
func (db *DB) Checksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT demo_id, checksum FROM views`)
	if err != nil {
		return nil, fmt.Errorf("viewcache: all checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, fmt.Errorf("viewcache: scan checksum: %w", err)
		}
		out[id] = cs
	}
	return out, rows.Err()
}

// Prune removes cached views whose demo id is not in keep. It returns the
// number of rows removed.
func (db *DB) Prune(keep []string) (int, error) {
	cached, err := db.Checksums()
	if err != nil {
		return 0, err
	}
	live := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		live[id] = struct{}{}
	}
	n := 0
	for id := range cached {
		if _, ok := live[id]; ok {
			continue
		}
		if err := db.Delete(id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
