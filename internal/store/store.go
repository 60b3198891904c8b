// Package store is the relational layer shared by the whole pipeline:
// lineup channels, guide channels/programs, corpus candidates, manual
// overrides, health counters, the grab audit log, and the enrichment cache.
//
// All writes are serialized through a single mutex; sqlite handles
// concurrent readers. Batch inserts are built from typed record slices with
// one parameterized multi-row INSERT per flush.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writes; reads go straight to the pool
}

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	tvg_id       TEXT NOT NULL DEFAULT '',
	lang         TEXT NOT NULL DEFAULT '',
	enabled      INTEGER NOT NULL DEFAULT 1,
	number       INTEGER NOT NULL DEFAULT 0,
	guide_id     TEXT NOT NULL DEFAULT '',
	match_method TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS guide_channels (
	guide_id TEXT NOT NULL,
	source   TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	icon     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (guide_id, source)
);
CREATE TABLE IF NOT EXISTS programs (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	guide_id TEXT NOT NULL,
	source   TEXT NOT NULL,
	start    TEXT NOT NULL,
	stop     TEXT NOT NULL,
	title    TEXT NOT NULL DEFAULT '',
	subtitle TEXT NOT NULL DEFAULT '',
	descr    TEXT NOT NULL DEFAULT '',
	episode  TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	rating   TEXT NOT NULL DEFAULT '',
	icon     TEXT NOT NULL DEFAULT '',
	enriched INTEGER NOT NULL DEFAULT 0,
	meta_id  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS programs_source ON programs (source);
CREATE INDEX IF NOT EXISTS programs_channel ON programs (guide_id, source);
CREATE INDEX IF NOT EXISTS programs_title ON programs (title) WHERE enriched = 0;
CREATE TABLE IF NOT EXISTS candidates (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	guide_id TEXT NOT NULL,
	lang     TEXT NOT NULL DEFAULT '',
	source   TEXT NOT NULL,
	site_id  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS candidates_guide ON candidates (guide_id);
CREATE TABLE IF NOT EXISTS channel_candidates (
	channel_id TEXT NOT NULL,
	rank       INTEGER NOT NULL,
	guide_id   TEXT NOT NULL,
	source     TEXT NOT NULL,
	site_id    TEXT NOT NULL,
	lang       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (channel_id, rank)
);
CREATE TABLE IF NOT EXISTS overrides (
	channel_id TEXT PRIMARY KEY,
	guide_id   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS site_health (
	source       TEXT PRIMARY KEY,
	last_attempt INTEGER NOT NULL DEFAULT 0,
	last_success INTEGER NOT NULL DEFAULT 0,
	fail_count   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS channel_status (
	channel_id    TEXT PRIMARY KEY,
	fail_count    INTEGER NOT NULL DEFAULT 0,
	last_success  INTEGER NOT NULL DEFAULT 0,
	last_failure  INTEGER NOT NULL DEFAULT 0,
	auto_disabled INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS grab_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id  TEXT NOT NULL,
	source      TEXT NOT NULL,
	ok          INTEGER NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	programs    INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS grab_log_channel ON grab_log (channel_id, id);
CREATE TABLE IF NOT EXISTS enrich_cache (
	norm_title TEXT PRIMARY KEY,
	meta_id    TEXT NOT NULL DEFAULT '',
	genres     TEXT NOT NULL DEFAULT '',
	rating     TEXT NOT NULL DEFAULT '',
	found      INTEGER NOT NULL DEFAULT 0,
	cached_at  INTEGER NOT NULL
);
`

// Open opens (creating if needed) the sqlite database at path and applies the
// schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	// One writer at a time keeps modernc sqlite happy without busy retries.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// batchInsert builds one parameterized multi-row INSERT for rows of width
// len(cols) and executes it. head is everything up to VALUES, e.g.
// "INSERT INTO programs (a, b)". tail is appended verbatim (ON CONFLICT...).
func (s *Store) batchInsert(ctx context.Context, head string, cols int, args []any, tail string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args)%cols != 0 {
		return fmt.Errorf("batch insert: %d args not divisible by %d columns", len(args), cols)
	}
	rows := len(args) / cols
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	var b strings.Builder
	b.WriteString(head)
	b.WriteString(" VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
	}
	if tail != "" {
		b.WriteByte(' ')
		b.WriteString(tail)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, b.String(), args...)
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
