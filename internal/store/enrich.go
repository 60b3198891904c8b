package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// EnrichEntry caches the outcome of one external metadata lookup, keyed by
// normalized title. Negative outcomes (Found=false) are cached too so known
// misses are not re-queried until the TTL lapses.
type EnrichEntry struct {
	NormTitle string
	MetaID    string
	Genres    string
	Rating    string
	Found     bool
	CachedAt  time.Time
}

// DistinctUnenrichedTitles returns every distinct raw title that still has
// unenriched programs, in first-seen order.
func (s *Store) DistinctUnenrichedTitles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT title FROM programs WHERE enriched = 0 AND title != '' GROUP BY title ORDER BY MIN(id)")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkEmptyTitlesEnriched flags every title-less unenriched program as
// processed; there is nothing to look up for them. Returns the rows flagged.
func (s *Store) MarkEmptyTitlesEnriched(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE programs SET enriched = 1 WHERE enriched = 0 AND title = ''")
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkEnrichedByTitle flags every program with this raw title as processed
// without touching any other field.
func (s *Store) MarkEnrichedByTitle(ctx context.Context, rawTitle string) error {
	return s.exec(ctx, "UPDATE programs SET enriched = 1 WHERE title = ?", rawTitle)
}

// ApplyEnrichment writes lookup results onto every program sharing the raw
// title. Category and rating only fill empty fields; guide-provided values
// win. The update is field-scoped so a concurrent grab pass touching the
// same rows cannot be clobbered.
func (s *Store) ApplyEnrichment(ctx context.Context, rawTitle, metaID, genres, rating string) error {
	return s.exec(ctx,
		`UPDATE programs SET enriched = 1, meta_id = ?,
		   category = CASE WHEN category = '' THEN ? ELSE category END,
		   rating   = CASE WHEN rating = ''   THEN ? ELSE rating   END
		 WHERE title = ?`,
		metaID, genres, rating, rawTitle)
}

// GetEnrichEntry returns the cache row for a normalized title, or nil when
// absent. TTL handling belongs to the caller; expired rows are returned.
func (s *Store) GetEnrichEntry(ctx context.Context, normTitle string) (*EnrichEntry, error) {
	var e EnrichEntry
	var cached int64
	err := s.db.QueryRowContext(ctx,
		"SELECT norm_title, meta_id, genres, rating, found, cached_at FROM enrich_cache WHERE norm_title = ?",
		normTitle).Scan(&e.NormTitle, &e.MetaID, &e.Genres, &e.Rating, &e.Found, &cached)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.CachedAt = time.Unix(cached, 0)
	return &e, nil
}

// PutEnrichEntry upserts a cache row, stamping CachedAt if unset.
func (s *Store) PutEnrichEntry(ctx context.Context, e EnrichEntry) error {
	cached := e.CachedAt
	if cached.IsZero() {
		cached = time.Now()
	}
	return s.exec(ctx,
		`INSERT INTO enrich_cache (norm_title, meta_id, genres, rating, found, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(norm_title) DO UPDATE SET meta_id = excluded.meta_id,
		   genres = excluded.genres, rating = excluded.rating,
		   found = excluded.found, cached_at = excluded.cached_at`,
		e.NormTitle, e.MetaID, e.Genres, e.Rating, e.Found, cached.Unix())
}
