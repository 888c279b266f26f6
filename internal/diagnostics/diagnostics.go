// Package diagnostics is an observational sink for touch events, recorded
// through SetTouchCallback (spec §4.1, §9's "open question — treated as
// observational only"). It exists purely for post-hoc inspection; nothing
// in the allocation or ranking path reads from it.
//
// Grounded on the teacher's main.go, which opens a mattn/go-sqlite3
// connection via database/sql for the pools table — the same driver and
// access pattern, repurposed here to append touch samples instead of
// reading trading-pair rows.
package diagnostics

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// Sink records touch samples into a SQLite table for later inspection.
type Sink struct {
	db *sql.DB
}

// Open creates (or reopens) a Sink backed by the SQLite database at path.
// path may be ":memory:" for tests.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS touches (
	addr      INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	arg       TEXT
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Sink{db: db}, nil
}

// Callback returns an eventqueue.TouchCallback-compatible function
// (addr uintptr, arg any) that records one row per invocation. Intended
// to be passed to Registry.SetTouchCallback / the memtier client surface,
// never called from the allocation fast path.
func (s *Sink) Callback() func(addr uintptr, arg any) {
	return func(addr uintptr, arg any) {
		s.Record(addr, 0, arg)
	}
}

// Record inserts one touch sample directly, for callers that already have
// a timestamp (e.g. RankingThread relaying TOUCH events).
func (s *Sink) Record(addr uintptr, timestamp int64, arg any) {
	var argText string
	if arg != nil {
		if str, ok := arg.(string); ok {
			argText = str
		}
	}
	s.db.Exec("INSERT INTO touches (addr, timestamp, arg) VALUES (?, ?, ?)", int64(addr), timestamp, argText)
}

// Count returns the number of recorded touch samples, for tests.
func (s *Sink) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM touches").Scan(&n)
	return n, err
}

// Recent returns up to limit most recent (addr, timestamp) pairs, newest
// first.
func (s *Sink) Recent(limit int) ([][2]int64, error) {
	rows, err := s.db.Query("SELECT addr, timestamp FROM touches ORDER BY rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][2]int64
	for rows.Next() {
		var addr, ts int64
		if err := rows.Scan(&addr, &ts); err != nil {
			return nil, err
		}
		out = append(out, [2]int64{addr, ts})
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Sink) Close() error { return s.db.Close() }
