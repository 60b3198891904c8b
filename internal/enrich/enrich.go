package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/epgmergr/internal/events"
	"github.com/snapetech/epgmergr/internal/metrics"
	"github.com/snapetech/epgmergr/internal/store"
)

// ErrNotFound is returned by a Lookup when the title matches nothing.
var ErrNotFound = errors.New("title not found")

// ShowMeta is one positive lookup outcome.
type ShowMeta struct {
	ID     string
	Genres []string
	Rating string
}

// Lookup resolves a normalized title against an external metadata service.
// Implementations return ErrNotFound for a clean miss; any other error is
// treated as transient.
type Lookup interface {
	Lookup(ctx context.Context, normTitle string) (*ShowMeta, error)
}

type Enricher struct {
	Store  *store.Store
	Lookup Lookup

	Limiter     *rate.Limiter // paces external calls; nil disables pacing
	TTL         time.Duration // cache entries older than this are re-queried
	MinTitleLen int           // normalized titles shorter than this skip lookup
	Sink        events.Sink
}

// Summary is the outcome of one enrichment pass.
type Summary struct {
	Titles    int // distinct unenriched titles seen
	Matched   int
	NotFound  int
	Skipped   int // untitled or too short to look up
	CacheHits int
	Errors    int // transient lookup failures, cached as misses
}

// Run processes every distinct unenriched title once. The pass is strictly
// sequential; pacing only applies to real external calls, never to cache
// hits. Every title is marked enriched by the end, whatever its outcome, so
// the next pass only sees new titles.
func (e *Enricher) Run(ctx context.Context) (*Summary, error) {
	sink := e.Sink
	if sink == nil {
		sink = events.NopSink{}
	}
	// Untitled programs have nothing to look up; flag them first so every
	// program still ends the pass enriched.
	empty, err := e.Store.MarkEmptyTitlesEnriched(ctx)
	if err != nil {
		return nil, fmt.Errorf("mark untitled programs: %w", err)
	}
	titles, err := e.Store.DistinctUnenrichedTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unenriched titles: %w", err)
	}

	sum := &Summary{Titles: len(titles), Skipped: empty}
	for _, raw := range titles {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := e.enrichTitle(ctx, raw, sum, sink); err != nil {
			return sum, err
		}
	}
	sink.Publish(events.Event{Level: events.Info, Phase: "enrich", Counts: map[string]int{
		"titles": sum.Titles, "matched": sum.Matched, "not_found": sum.NotFound,
		"skipped": sum.Skipped, "cache_hits": sum.CacheHits, "errors": sum.Errors,
	}})
	return sum, nil
}

func (e *Enricher) enrichTitle(ctx context.Context, raw string, sum *Summary, sink events.Sink) error {
	norm := NormalizeTitle(raw)
	if len([]rune(norm)) < e.MinTitleLen {
		sum.Skipped++
		metrics.EnrichLookups.WithLabelValues("skipped").Inc()
		return e.Store.MarkEnrichedByTitle(ctx, raw)
	}

	entry, err := e.Store.GetEnrichEntry(ctx, norm)
	if err != nil {
		return fmt.Errorf("cache read %q: %w", norm, err)
	}
	if entry != nil && time.Since(entry.CachedAt) <= e.TTL {
		sum.CacheHits++
		metrics.EnrichLookups.WithLabelValues("cached").Inc()
		return e.apply(ctx, raw, entry, sum)
	}

	if e.Limiter != nil {
		if err := e.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	meta, err := e.Lookup.Lookup(ctx, norm)
	fresh := store.EnrichEntry{NormTitle: norm}
	switch {
	case err == nil:
		fresh.Found = true
		fresh.MetaID = meta.ID
		fresh.Genres = strings.Join(meta.Genres, ", ")
		fresh.Rating = meta.Rating
		metrics.EnrichLookups.WithLabelValues("hit").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.EnrichLookups.WithLabelValues("miss").Inc()
	default:
		// Transient failure: cached as a miss so the title is not retried in
		// a loop; the TTL gives it another chance later.
		sum.Errors++
		metrics.EnrichLookups.WithLabelValues("error").Inc()
		sink.Publish(events.Event{Level: events.Warn, Phase: "enrich",
			Message: fmt.Sprintf("lookup %q: %v", norm, err)})
	}
	if err := e.Store.PutEnrichEntry(ctx, fresh); err != nil {
		return fmt.Errorf("cache write %q: %w", norm, err)
	}
	return e.apply(ctx, raw, &fresh, sum)
}

// apply writes a cache entry's outcome onto every program with the raw title.
func (e *Enricher) apply(ctx context.Context, raw string, entry *store.EnrichEntry, sum *Summary) error {
	if !entry.Found {
		sum.NotFound++
		return e.Store.MarkEnrichedByTitle(ctx, raw)
	}
	sum.Matched++
	return e.Store.ApplyEnrichment(ctx, raw, entry.MetaID, entry.Genres, entry.Rating)
}
