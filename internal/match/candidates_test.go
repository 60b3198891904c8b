package match

import (
	"context"
	"testing"

	"github.com/snapetech/epgmergr/internal/store"
)

func seedCorpus(t *testing.T, st *store.Store, rows []store.Candidate) {
	t.Helper()
	if err := st.ReplaceCandidates(context.Background(), rows); err != nil {
		t.Fatalf("seed corpus: %v", err)
	}
}

func TestMatchCandidatesRankedList(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedCorpus(t, st, []store.Candidate{
		{Name: "ESPN", GuideID: "espn.us", Lang: "en", Source: "site-a.com", SiteID: "a1"},
		{Name: "ESPN", GuideID: "espn.us", Lang: "en", Source: "site-b.com", SiteID: "b1"},
	})
	seedChannels(t, st, []store.Channel{{ID: "1", Name: "US: ESPN HD", TVGID: "espn.us", Enabled: true}})

	rep, err := newTestEngine(st).MatchCandidates(ctx)
	if err != nil {
		t.Fatalf("MatchCandidates: %v", err)
	}
	if rep.Matched != 1 || rep.Rows[0].Method != MethodIDExact {
		t.Fatalf("report=%+v want id_exact match", rep.Rows[0])
	}
	cands, err := st.ChannelCandidates(ctx, "1")
	if err != nil {
		t.Fatalf("ChannelCandidates: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("len(cands)=%d want 2", len(cands))
	}
	// Corpus order becomes the grab fallback rank.
	if cands[0].Source != "site-a.com" || cands[1].Source != "site-b.com" {
		t.Fatalf("rank order %s,%s want site-a.com,site-b.com", cands[0].Source, cands[1].Source)
	}
}

func TestMatchCandidatesLanguageDisambiguation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedCorpus(t, st, []store.Candidate{
		{Name: "Eurosport", GuideID: "eurosport.de", Lang: "de", Source: "site-de.com", SiteID: "d1"},
		{Name: "Eurosport", GuideID: "eurosport.fr", Lang: "fr", Source: "site-fr.com", SiteID: "f1"},
		{Name: "Eurosport", GuideID: "eurosport.uk", Lang: "en", Source: "site-uk.com", SiteID: "u1"},
	})
	seedChannels(t, st, []store.Channel{
		{ID: "de-ch", Name: "Eurosport", Lang: "de", Enabled: true},
		{ID: "no-lang", Name: "Eurosport", Enabled: true}, // falls to preferred "en"
	})

	if _, err := newTestEngine(st).MatchCandidates(ctx); err != nil {
		t.Fatalf("MatchCandidates: %v", err)
	}
	deCands, _ := st.ChannelCandidates(ctx, "de-ch")
	if len(deCands) == 0 || deCands[0].GuideID != "eurosport.de" {
		t.Fatalf("de channel got %+v want eurosport.de", deCands)
	}
	enCands, _ := st.ChannelCandidates(ctx, "no-lang")
	if len(enCands) == 0 || enCands[0].GuideID != "eurosport.uk" {
		t.Fatalf("untagged channel got %+v want eurosport.uk", enCands)
	}
}

func TestMatchCandidatesNeverCrossesLanguage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedCorpus(t, st, []store.Candidate{
		{Name: "Eurosport", GuideID: "eurosport.de", Lang: "de", Source: "site-de.com", SiteID: "d1"},
		{Name: "Eurosport", GuideID: "eurosport.fr", Lang: "fr", Source: "site-fr.com", SiteID: "f1"},
	})
	seedChannels(t, st, []store.Channel{{ID: "1", Name: "Eurosport", Lang: "pl", Enabled: true}})

	rep, err := newTestEngine(st).MatchCandidates(ctx)
	if err != nil {
		t.Fatalf("MatchCandidates: %v", err)
	}
	if rep.Rows[0].Matched {
		t.Fatalf("matched %q, want no language-compatible match", rep.Rows[0].GuideID)
	}
}

func TestMatchCandidatesAssignsNumbers(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedChannels(t, st, []store.Channel{
		{ID: "1", Name: "Alpha", Enabled: true},
		{ID: "2", Name: "Beta", Enabled: true},
		{ID: "3", Name: "Gamma", Enabled: true},
	})

	// Unmatched channels are numbered all the same.
	if _, err := newTestEngine(st).MatchCandidates(ctx); err != nil {
		t.Fatalf("MatchCandidates: %v", err)
	}
	chs, err := st.ListChannels(ctx)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	want := 1000
	for _, ch := range chs {
		if ch.Number != want {
			t.Fatalf("channel %s number=%d want %d", ch.ID, ch.Number, want)
		}
		want++
	}

	// A second pass never renumbers.
	if _, err := newTestEngine(st).MatchCandidates(ctx); err != nil {
		t.Fatalf("MatchCandidates: %v", err)
	}
	again, _ := st.ListChannels(ctx)
	for i, ch := range again {
		if ch.Number != chs[i].Number {
			t.Fatalf("channel %s renumbered %d -> %d", ch.ID, chs[i].Number, ch.Number)
		}
	}
}
