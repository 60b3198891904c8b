package grab

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/snapetech/epgmergr/internal/events"
	"github.com/snapetech/epgmergr/internal/health"
	"github.com/snapetech/epgmergr/internal/store"
	"github.com/snapetech/epgmergr/internal/xmltv"
)

// fakeGrabber returns canned feeds keyed by source, recording every call.
type fakeGrabber struct {
	mu    sync.Mutex
	feeds map[string]string // source -> XMLTV body; missing = error
	calls []string
}

func (g *fakeGrabber) Grab(_ context.Context, source, _, _ string, _ int) (io.ReadCloser, error) {
	g.mu.Lock()
	g.calls = append(g.calls, source)
	g.mu.Unlock()
	body, ok := g.feeds[source]
	if !ok {
		return nil, errors.New("exit status 1")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func feedWith(guideID string, programs int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><tv>`)
	fmt.Fprintf(&b, `<channel id="%s"><display-name>Test</display-name></channel>`, guideID)
	start := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < programs; i++ {
		fmt.Fprintf(&b, `<programme channel="%s" start="%s" stop="%s"><title>Show %d</title></programme>`,
			guideID,
			start.Add(time.Duration(i)*time.Hour).Format(xmltv.TimeFormat),
			start.Add(time.Duration(i+1)*time.Hour).Format(xmltv.TimeFormat),
			i)
	}
	b.WriteString(`</tv>`)
	return b.String()
}

func emptyFeed() string {
	return `<?xml version="1.0"?><tv></tv>`
}

func newTestOrchestrator(t *testing.T, g Grabber) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	tracker := &health.Tracker{
		Store:                   st,
		SourceFailThreshold:     3,
		SourceCooldown:          30 * time.Minute,
		ChannelDisableThreshold: 2,
	}
	return &Orchestrator{
		Store:       st,
		Tracker:     tracker,
		Grabber:     g,
		Ingestor:    &xmltv.Ingestor{Store: st},
		Concurrency: 2,
		Days:        3,
		Sink:        events.NopSink{},
	}, st
}

func seedCandidates(t *testing.T, st *store.Store, channelID, guideID string, sources ...string) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertChannels(ctx, []store.Channel{{ID: channelID, Name: channelID, Enabled: true}}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	cands := make([]store.ChannelCandidate, 0, len(sources))
	for _, src := range sources {
		cands = append(cands, store.ChannelCandidate{
			ChannelID: channelID, GuideID: guideID, Source: src, SiteID: "x1",
		})
	}
	if err := st.ReplaceChannelCandidates(ctx, channelID, cands); err != nil {
		t.Fatalf("seed candidates: %v", err)
	}
}

func TestRunFallsBackPastEmptyFeed(t *testing.T) {
	ctx := context.Background()
	g := &fakeGrabber{feeds: map[string]string{
		"site-a.com": emptyFeed(),
		"site-b.com": feedWith("espn.us", 12),
	}}
	o, st := newTestOrchestrator(t, g)
	seedCandidates(t, st, "ch1", "espn.us", "site-a.com", "site-b.com")

	sum, err := o.Run(ctx, []string{"ch1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Succeeded != 1 || sum.Failed != 0 {
		t.Fatalf("summary=%+v want 1 success", sum)
	}

	latest, _ := st.LatestGrabStatus(ctx)
	e := latest["ch1"]
	if !e.OK || e.Source != "site-b.com" || e.Programs != 12 {
		t.Fatalf("grab log %+v want success via site-b.com with 12", e)
	}
	// The empty feed charged the first source exactly one failure.
	ha, _ := st.GetSiteHealth(ctx, "site-a.com")
	if ha.FailCount != 1 {
		t.Fatalf("site-a.com fail count=%d want 1", ha.FailCount)
	}
	hb, _ := st.GetSiteHealth(ctx, "site-b.com")
	if hb.FailCount != 0 || hb.LastSuccess.IsZero() {
		t.Fatalf("site-b.com health %+v", hb)
	}
	progs, _ := st.ProgramsForChannel(ctx, "espn.us")
	if len(progs) != 12 {
		t.Fatalf("stored %d programs want 12", len(progs))
	}
	if progs[0].Source != store.GrabSourcePrefix+"site-b.com" {
		t.Fatalf("program source=%q want grab class", progs[0].Source)
	}
}

func TestRunExhaustionRecordsFailure(t *testing.T) {
	ctx := context.Background()
	g := &fakeGrabber{feeds: map[string]string{}} // every grab errors
	o, st := newTestOrchestrator(t, g)
	seedCandidates(t, st, "ch1", "espn.us", "site-a.com", "site-b.com")

	sum, err := o.Run(ctx, []string{"ch1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 1 || sum.Succeeded != 0 {
		t.Fatalf("summary=%+v want 1 failure", sum)
	}
	latest, _ := st.LatestGrabStatus(ctx)
	if e := latest["ch1"]; e.OK || e.Message != "exit status 1" {
		t.Fatalf("grab log %+v want failure with last error", e)
	}
}

func TestRunSkipsTrippedSource(t *testing.T) {
	ctx := context.Background()
	g := &fakeGrabber{feeds: map[string]string{
		"site-bad.com":  feedWith("espn.us", 5), // would succeed, must not be called
		"site-good.com": feedWith("espn.us", 7),
	}}
	o, st := newTestOrchestrator(t, g)
	seedCandidates(t, st, "ch1", "espn.us", "site-bad.com", "site-good.com")

	// Trip the breaker on the first source.
	for i := 0; i < 3; i++ {
		if err := o.Tracker.RecordSource(ctx, "site-bad.com", false); err != nil {
			t.Fatalf("trip: %v", err)
		}
	}

	sum, err := o.Run(ctx, []string{"ch1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Succeeded != 1 {
		t.Fatalf("summary=%+v want success via fallback", sum)
	}
	for _, src := range g.calls {
		if src == "site-bad.com" {
			t.Fatalf("tripped source was invoked")
		}
	}
	latest, _ := st.LatestGrabStatus(ctx)
	if e := latest["ch1"]; e.Source != "site-good.com" || e.Programs != 7 {
		t.Fatalf("grab log %+v want site-good.com with 7", e)
	}
}

func TestRunAutoDisablesChannel(t *testing.T) {
	ctx := context.Background()
	g := &fakeGrabber{feeds: map[string]string{}}
	o, st := newTestOrchestrator(t, g)
	seedCandidates(t, st, "ch1", "espn.us", "site-a.com")

	// Threshold is 2: two failed runs flip the channel off.
	if _, err := o.Run(ctx, []string{"ch1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sum, err := o.Run(ctx, []string{"ch1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Disabled != 1 {
		t.Fatalf("summary=%+v want 1 disabled", sum)
	}
	ch, _ := st.GetChannel(ctx, "ch1")
	if ch.Enabled {
		t.Fatalf("channel still enabled after threshold")
	}
}

func TestRunRetryPurgesPriorGrab(t *testing.T) {
	ctx := context.Background()
	g := &fakeGrabber{feeds: map[string]string{"site-a.com": feedWith("espn.us", 6)}}
	o, st := newTestOrchestrator(t, g)
	seedCandidates(t, st, "ch1", "espn.us", "site-a.com")

	for i := 0; i < 2; i++ {
		if _, err := o.Run(ctx, []string{"ch1"}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	progs, _ := st.ProgramsForChannel(ctx, "espn.us")
	if len(progs) != 6 {
		t.Fatalf("stored %d programs after retry, want 6", len(progs))
	}
}

func TestRunNoCandidates(t *testing.T) {
	ctx := context.Background()
	o, st := newTestOrchestrator(t, &fakeGrabber{})
	if err := st.UpsertChannels(ctx, []store.Channel{{ID: "ch1", Name: "ESPN", Enabled: true}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sum, err := o.Run(ctx, []string{"ch1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary=%+v want failure", sum)
	}
	latest, _ := st.LatestGrabStatus(ctx)
	if e := latest["ch1"]; e.OK || e.Message != "no candidates" {
		t.Fatalf("grab log %+v want no-candidates failure", e)
	}
}

// gatedGrabber blocks every Grab until released, recording the peak number
// of concurrent calls.
type gatedGrabber struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	started  chan struct{}
	release  chan struct{}
}

func (g *gatedGrabber) Grab(_ context.Context, _, _, guideID string, _ int) (io.ReadCloser, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()
	g.started <- struct{}{}
	<-g.release
	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return io.NopCloser(strings.NewReader(feedWith(guideID, 1))), nil
}

func TestRunHonorsConcurrencyCap(t *testing.T) {
	g := &gatedGrabber{started: make(chan struct{}, 8), release: make(chan struct{})}
	o, st := newTestOrchestrator(t, g) // Concurrency: 2
	var ids []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("ch%d", i)
		seedCandidates(t, st, id, fmt.Sprintf("guide%d.us", i), "site-a.com")
		ids = append(ids, id)
	}

	done := make(chan *Summary, 1)
	go func() {
		sum, err := o.Run(context.Background(), ids)
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- sum
	}()
	waitStart := func() {
		t.Helper()
		select {
		case <-g.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("grab never started")
		}
	}
	waitStart()
	waitStart()
	// The pool is full; a third grab must not begin until a slot frees.
	select {
	case <-g.started:
		t.Fatalf("third grab started past the cap")
	case <-time.After(50 * time.Millisecond):
	}
	g.release <- struct{}{}
	waitStart() // the freed slot is backfilled

	go func() {
		for i := 0; i < len(ids)-1; i++ {
			g.release <- struct{}{}
		}
	}()
	waitStart()
	waitStart()
	sum := <-done
	if sum.Succeeded != 5 {
		t.Fatalf("summary=%+v want 5 successes", sum)
	}
	g.mu.Lock()
	peak := g.peak
	g.mu.Unlock()
	if peak != 2 {
		t.Fatalf("peak concurrent grabs=%d want 2", peak)
	}
}

// captureSink records published events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Publish(e events.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func TestRunReportsGrabLogWriteFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "epg.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	g := &fakeGrabber{feeds: map[string]string{"site-a.com": feedWith("espn.us", 4)}}
	sink := &captureSink{}
	o := &Orchestrator{
		Store: st,
		Tracker: &health.Tracker{
			Store:                   st,
			SourceFailThreshold:     3,
			SourceCooldown:          30 * time.Minute,
			ChannelDisableThreshold: 2,
		},
		Grabber:     g,
		Ingestor:    &xmltv.Ingestor{Store: st},
		Concurrency: 1,
		Days:        3,
		Sink:        sink,
	}
	seedCandidates(t, st, "ch1", "espn.us", "site-a.com")

	// Sabotage the audit log from a second connection.
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := raw.Exec("DROP TABLE grab_log"); err != nil {
		t.Fatalf("drop grab_log: %v", err)
	}
	raw.Close()

	sum, err := o.Run(ctx, []string{"ch1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Succeeded != 1 {
		t.Fatalf("summary=%+v want success despite log failure", sum)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, e := range sink.events {
		if e.Level == events.Error && strings.Contains(e.Message, "grab log") {
			return
		}
	}
	t.Fatalf("no error event for the failed grab-log write")
}
