// Package pipeline wires the guide subsystems into the entry points callers
// actually invoke: ingest, match, grab, enrich, export. Each entry point
// claims a job slot, runs to completion, and returns a structured summary;
// progress flows out through the event sink, never through shared state.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/epgmergr/internal/config"
	"github.com/snapetech/epgmergr/internal/corpus"
	"github.com/snapetech/epgmergr/internal/enrich"
	"github.com/snapetech/epgmergr/internal/events"
	"github.com/snapetech/epgmergr/internal/grab"
	"github.com/snapetech/epgmergr/internal/health"
	"github.com/snapetech/epgmergr/internal/match"
	"github.com/snapetech/epgmergr/internal/store"
	"github.com/snapetech/epgmergr/internal/xmltv"
)

type Pipeline struct {
	Store *store.Store
	Sink  events.Sink
	Jobs  *Jobs

	ingestor *xmltv.Ingestor
	engine   *match.Engine
	tracker  *health.Tracker
	enricher *enrich.Enricher
	orch     *grab.Orchestrator
	corpus   *corpus.Refresher
}

// New assembles a pipeline over an open store. The sink may be nil, which
// routes events to the standard logger.
func New(cfg *config.Config, st *store.Store, sink events.Sink) *Pipeline {
	if sink == nil {
		sink = events.LogSink{}
	}
	p := &Pipeline{Store: st, Sink: sink, Jobs: NewJobs()}
	p.ingestor = &xmltv.Ingestor{
		Store:        st,
		ChannelBatch: cfg.ChannelBatchSize,
		ProgramBatch: cfg.ProgramBatchSize,
	}
	p.engine = &match.Engine{
		Store:                   st,
		FuzzyGuideThreshold:     cfg.FuzzyGuideThreshold,
		FuzzyCandidateThreshold: cfg.FuzzyCandidateThreshold,
		PreferredLanguage:       cfg.PreferredLanguage,
		NumberBase:              cfg.DisplayNumberBase,
	}
	p.tracker = &health.Tracker{
		Store:                   st,
		SourceFailThreshold:     cfg.SourceFailThreshold,
		SourceCooldown:          cfg.SourceCooldown,
		ChannelDisableThreshold: cfg.ChannelDisableThreshold,
	}
	p.orch = &grab.Orchestrator{
		Store:       st,
		Tracker:     p.tracker,
		Grabber:     &grab.CommandGrabber{Command: cfg.GrabberCommand},
		Ingestor:    p.ingestor,
		Concurrency: cfg.GrabConcurrency,
		Days:        cfg.GrabDays,
		Sink:        sink,
	}
	interval := cfg.EnrichDelay
	if interval <= 0 {
		interval = time.Second
	}
	p.enricher = &enrich.Enricher{
		Store:       st,
		Lookup:      &enrich.HTTPLookup{BaseURL: cfg.LookupURL, APIKey: cfg.LookupAPIKey},
		Limiter:     rate.NewLimiter(rate.Every(interval), 1),
		TTL:         cfg.EnrichTTL,
		MinTitleLen: cfg.MinTitleLen,
		Sink:        sink,
	}
	p.corpus = &corpus.Refresher{Store: st, URL: cfg.CorpusURL}
	return p
}

// Source names one guide feed to ingest: a local file path or an http(s)
// URL, persisted under Name.
type Source struct {
	Name     string
	Location string
}

// IngestSummary reports one IngestSources run.
type IngestSummary struct {
	Sources  int
	Failed   int
	Channels int
	Programs int
	Skipped  int
	Errors   map[string]string // source name -> failure
}

// IngestSources ingests each feed in turn, replacing that source's previous
// records. A failing source is reported and skipped; the rest still ingest.
func (p *Pipeline) IngestSources(ctx context.Context, sources []Source) (*IngestSummary, error) {
	j, err := p.Jobs.start("ingest")
	if err != nil {
		return nil, err
	}
	sum := &IngestSummary{Sources: len(sources), Errors: map[string]string{}}
	defer func() {
		j.complete(map[string]int{
			"sources": sum.Sources, "failed": sum.Failed,
			"channels": sum.Channels, "programs": sum.Programs, "skipped": sum.Skipped,
		}, nil)
	}()

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		opts := xmltv.Options{Source: src.Name, ReplaceSource: true}
		var res *xmltv.Result
		var err error
		if isURL(src.Location) {
			res, err = p.ingestor.IngestURL(ctx, src.Location, opts)
		} else {
			res, err = p.ingestor.IngestFile(ctx, src.Location, opts)
		}
		if err != nil {
			sum.Failed++
			sum.Errors[src.Name] = err.Error()
			p.Sink.Publish(events.Event{Level: events.Error, Phase: "ingest",
				Message: fmt.Sprintf("source %s: %v", src.Name, err)})
			continue
		}
		sum.Channels += res.Channels
		sum.Programs += res.Total()
		sum.Skipped += res.Skipped
		p.Sink.Publish(events.Event{Level: events.Info, Phase: "ingest",
			Message: "source " + src.Name,
			Counts: map[string]int{
				"channels": res.Channels, "programs": res.Total(), "skipped": res.Skipped,
			}})
	}
	return sum, nil
}

// MatchGuide resolves lineup channels against ingested guide channels.
func (p *Pipeline) MatchGuide(ctx context.Context) (*match.Report, error) {
	return p.runMatch(ctx, "match", p.engine.MatchGuide)
}

// MatchCandidates resolves lineup channels against the community corpus and
// assigns display numbers to channels that lack one.
func (p *Pipeline) MatchCandidates(ctx context.Context) (*match.Report, error) {
	return p.runMatch(ctx, "candidates", p.engine.MatchCandidates)
}

func (p *Pipeline) runMatch(ctx context.Context, phase string, pass func(context.Context) (*match.Report, error)) (*match.Report, error) {
	j, err := p.Jobs.start(phase)
	if err != nil {
		return nil, err
	}
	rep, err := pass(ctx)
	if err != nil {
		j.complete(nil, err)
		return nil, err
	}
	j.complete(map[string]int{"total": rep.Total, "matched": rep.Matched, "unmatched": rep.Unmatched}, nil)
	p.Sink.Publish(events.Event{Level: events.Info, Phase: phase, Message: rep.SummaryString()})
	return rep, nil
}

// GrabChannels grabs guide data for the given channels. An empty input set
// means "every enabled matched channel that still has no programs".
func (p *Pipeline) GrabChannels(ctx context.Context, channelIDs []string) (*grab.Summary, error) {
	j, err := p.Jobs.start("grab")
	if err != nil {
		return nil, err
	}
	if len(channelIDs) == 0 {
		channelIDs, err = p.channelsNeedingGrab(ctx)
		if err != nil {
			j.complete(nil, err)
			return nil, err
		}
	}
	sum, err := p.orch.Run(ctx, channelIDs)
	j.complete(map[string]int{
		"total": sum.Total, "succeeded": sum.Succeeded,
		"failed": sum.Failed, "disabled": sum.Disabled,
	}, err)
	return sum, err
}

// channelsNeedingGrab selects enabled channels with a guide match but no
// guide programs yet.
func (p *Pipeline) channelsNeedingGrab(ctx context.Context) ([]string, error) {
	chs, err := p.Store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ch := range chs {
		if !ch.Enabled || ch.GuideID == "" {
			continue
		}
		has, err := p.Store.HasPrograms(ctx, ch.GuideID)
		if err != nil {
			return nil, err
		}
		if !has {
			out = append(out, ch.ID)
		}
	}
	return out, nil
}

// Enrich runs one metadata enrichment pass over unenriched program titles.
func (p *Pipeline) Enrich(ctx context.Context) (*enrich.Summary, error) {
	j, err := p.Jobs.start("enrich")
	if err != nil {
		return nil, err
	}
	sum, err := p.enricher.Run(ctx)
	if sum == nil {
		j.complete(nil, err)
		return nil, err
	}
	j.complete(map[string]int{
		"titles": sum.Titles, "matched": sum.Matched,
		"not_found": sum.NotFound, "skipped": sum.Skipped,
	}, err)
	return sum, err
}

// Reenable clears auto-disable state for the given channels and turns them
// back on. Returns how many were touched.
func (p *Pipeline) Reenable(ctx context.Context, channelIDs []string) (int, error) {
	n, err := p.tracker.Reenable(ctx, channelIDs)
	if err != nil {
		return n, err
	}
	p.Sink.Publish(events.Event{Level: events.Info, Phase: "reenable",
		Counts: map[string]int{"channels": n}})
	return n, nil
}

// RefreshCorpus replaces the candidate corpus with a fresh download.
func (p *Pipeline) RefreshCorpus(ctx context.Context) (int, error) {
	j, err := p.Jobs.start("corpus")
	if err != nil {
		return 0, err
	}
	n, err := p.corpus.Refresh(ctx)
	j.complete(map[string]int{"rows": n}, err)
	if err != nil {
		return 0, err
	}
	p.Sink.Publish(events.Event{Level: events.Info, Phase: "corpus",
		Counts: map[string]int{"rows": n}})
	return n, nil
}

// LatestGrabStatus exposes the newest grab-log entry per channel.
func (p *Pipeline) LatestGrabStatus(ctx context.Context) (map[string]store.GrabLogEntry, error) {
	return p.Store.LatestGrabStatus(ctx)
}

// ExportGuide writes the merged guide for all enabled matched channels as
// XMLTV, optionally brotli-compressed. Channels appear in display-number
// order; each channel's programs follow in start order.
func (p *Pipeline) ExportGuide(ctx context.Context, w io.Writer, compress bool) (channels, programs int, err error) {
	chs, err := p.Store.ListChannels(ctx)
	if err != nil {
		return 0, 0, err
	}
	guides, err := p.Store.GuideChannelsOrdered(ctx)
	if err != nil {
		return 0, 0, err
	}
	byID := make(map[string]store.GuideChannel, len(guides))
	for _, g := range guides {
		byID[g.GuideID] = g
	}

	var export []store.Channel
	for _, ch := range chs {
		if ch.Enabled && ch.GuideID != "" {
			export = append(export, ch)
		}
	}
	sortByNumber(export)

	xw, err := xmltv.NewWriter(w, compress)
	if err != nil {
		return 0, 0, err
	}
	for _, ch := range export {
		g, ok := byID[ch.GuideID]
		if !ok {
			g = store.GuideChannel{GuideID: ch.GuideID, Name: ch.Name}
		}
		if err := xw.WriteChannel(g); err != nil {
			return channels, programs, err
		}
		channels++
	}
	for _, ch := range export {
		if err := ctx.Err(); err != nil {
			return channels, programs, err
		}
		progs, err := p.Store.ProgramsForChannel(ctx, ch.GuideID)
		if err != nil {
			return channels, programs, err
		}
		for _, pr := range progs {
			if err := xw.WriteProgramme(pr); err != nil {
				return channels, programs, err
			}
			programs++
		}
	}
	return channels, programs, xw.Close()
}

func sortByNumber(chs []store.Channel) {
	sort.SliceStable(chs, func(i, j int) bool { return chs[i].Number < chs[j].Number })
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
