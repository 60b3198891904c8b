// Package grab drives per-channel guide scraping for channels whose bulk
// feeds came up empty: a bounded pool of independent channel tasks, each
// walking its ranked candidate sources until one yields data.
package grab

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/snapetech/epgmergr/internal/events"
	"github.com/snapetech/epgmergr/internal/health"
	"github.com/snapetech/epgmergr/internal/metrics"
	"github.com/snapetech/epgmergr/internal/store"
	"github.com/snapetech/epgmergr/internal/xmltv"
)

type Orchestrator struct {
	Store    *store.Store
	Tracker  *health.Tracker
	Grabber  Grabber
	Ingestor *xmltv.Ingestor

	Concurrency int // hard cap on in-flight channel tasks
	Days        int // day span requested from the grabber
	Sink        events.Sink
}

// Summary is the structured outcome of one orchestrator run.
type Summary struct {
	Total     int
	Completed int
	Succeeded int
	Failed    int
	Disabled  int // channels auto-disabled during this run
}

// Run grabs guide data for the given channels. Channels run concurrently up
// to Concurrency, a freed slot is immediately backfilled; each channel walks
// its candidates strictly in rank order. Failures are outcomes, not errors:
// Run only returns an error when the context dies.
func (o *Orchestrator) Run(ctx context.Context, channelIDs []string) (*Summary, error) {
	sink := o.Sink
	if sink == nil {
		sink = events.LogSink{}
	}
	concurrency := o.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	sum := &Summary{Total: len(channelIDs)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for _, id := range channelIDs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return sum, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			defer func() { <-sem }()
			metrics.GrabsInFlight.Inc()
			ok, disabled := o.grabChannel(ctx, channelID, sink)
			metrics.GrabsInFlight.Dec()

			mu.Lock()
			sum.Completed++
			if ok {
				sum.Succeeded++
			} else {
				sum.Failed++
			}
			if disabled {
				sum.Disabled++
			}
			counts := map[string]int{
				"total": sum.Total, "completed": sum.Completed,
				"succeeded": sum.Succeeded, "failed": sum.Failed,
			}
			mu.Unlock()
			sink.Publish(events.Event{Level: events.Info, Phase: "grab", Counts: counts})
		}(id)
	}
	wg.Wait()
	return sum, ctx.Err()
}

// grabChannel tries each candidate in rank order until one yields programs.
// A candidate whose source is breaker-skippable is passed over without
// counting as an attempt. Zero programs from an otherwise successful grab is
// a soft failure: the candidate is charged and the walk continues.
func (o *Orchestrator) grabChannel(ctx context.Context, channelID string, sink events.Sink) (ok, disabled bool) {
	cands, err := o.Store.ChannelCandidates(ctx, channelID)
	if err != nil {
		sink.Publish(events.Event{Level: events.Error, Phase: "grab",
			Message: fmt.Sprintf("channel %s: load candidates: %v", channelID, err)})
		return false, false
	}

	lastReason := "no candidates"
	if len(cands) > 0 {
		lastReason = "no data"
	}
	for _, cand := range cands {
		skip, err := o.Tracker.Skippable(ctx, cand.Source)
		if err == nil && skip {
			metrics.GrabAttempts.WithLabelValues(cand.Source, "skipped").Inc()
			continue
		}
		started := time.Now()
		count, err := o.tryCandidate(ctx, cand)
		if err != nil {
			o.Tracker.RecordSource(ctx, cand.Source, false)
			metrics.GrabAttempts.WithLabelValues(cand.Source, "error").Inc()
			lastReason = err.Error()
			continue
		}
		if count == 0 {
			// The grabber ran fine but the feed had nothing; useless to us.
			o.Tracker.RecordSource(ctx, cand.Source, false)
			metrics.GrabAttempts.WithLabelValues(cand.Source, "empty").Inc()
			lastReason = "no data"
			continue
		}
		o.Tracker.RecordSource(ctx, cand.Source, true)
		o.Tracker.RecordChannel(ctx, channelID, true)
		metrics.GrabAttempts.WithLabelValues(cand.Source, "success").Inc()
		if err := o.Store.AppendGrabLog(ctx, store.GrabLogEntry{
			ChannelID: channelID,
			Source:    cand.Source,
			OK:        true,
			Message:   fmt.Sprintf("grabbed %d programs", count),
			Programs:  count,
			Duration:  time.Since(started),
		}); err != nil {
			sink.Publish(events.Event{Level: events.Error, Phase: "grab",
				Message: fmt.Sprintf("channel %s: append grab log: %v", channelID, err)})
		}
		return true, false
	}

	if err := o.Store.AppendGrabLog(ctx, store.GrabLogEntry{
		ChannelID: channelID,
		Source:    lastSource(cands),
		OK:        false,
		Message:   lastReason,
	}); err != nil {
		sink.Publish(events.Event{Level: events.Error, Phase: "grab",
			Message: fmt.Sprintf("channel %s: append grab log: %v", channelID, err)})
	}
	disabled, err = o.Tracker.RecordChannel(ctx, channelID, false)
	if err != nil {
		sink.Publish(events.Event{Level: events.Error, Phase: "grab",
			Message: fmt.Sprintf("channel %s: record failure: %v", channelID, err)})
	}
	if disabled {
		sink.Publish(events.Event{Level: events.Warn, Phase: "grab",
			Message: fmt.Sprintf("channel %s auto-disabled after repeated failures", channelID)})
	}
	return false, disabled
}

// tryCandidate runs the grabber for one candidate and feeds its output
// through the ingestor restricted to the candidate's guide channel. Previous
// grab-class programs for that channel are purged first so a retry can never
// duplicate rows.
func (o *Orchestrator) tryCandidate(ctx context.Context, cand store.ChannelCandidate) (int, error) {
	out, err := o.Grabber.Grab(ctx, cand.Source, cand.SiteID, cand.GuideID, o.Days)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	if err := o.Store.DeleteChannelGrabs(ctx, cand.GuideID); err != nil {
		return 0, fmt.Errorf("purge grabs for %s: %w", cand.GuideID, err)
	}
	res, err := o.ingest(ctx, out, cand)
	if err != nil {
		return 0, err
	}
	return res.Total(), nil
}

func (o *Orchestrator) ingest(ctx context.Context, r io.Reader, cand store.ChannelCandidate) (*xmltv.Result, error) {
	return o.Ingestor.Ingest(ctx, r, xmltv.Options{
		Source:      store.GrabSourcePrefix + cand.Source,
		OnlyChannel: cand.GuideID,
	})
}

func lastSource(cands []store.ChannelCandidate) string {
	if len(cands) == 0 {
		return ""
	}
	return cands[len(cands)-1].Source
}
