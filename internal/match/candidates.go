package match

import (
	"context"

	"github.com/snapetech/epgmergr/internal/store"
)

// corpusIndex precomputes lookups over the community corpus for one
// MatchCandidates pass.
type corpusIndex struct {
	byGuideID map[string][]store.Candidate // corpus order preserved
	byName    map[string][]string          // normalized name -> distinct guide ids
	fuzzy     fuzzyIndex                   // normalized name -> normalized name key
}

func buildCorpusIndex(corpus []store.Candidate) *corpusIndex {
	ix := &corpusIndex{
		byGuideID: map[string][]store.Candidate{},
		byName:    map[string][]string{},
	}
	for _, c := range corpus {
		if c.GuideID == "" {
			continue
		}
		ix.byGuideID[c.GuideID] = append(ix.byGuideID[c.GuideID], c)
		norm := Normalize(c.Name)
		if norm == "" {
			continue
		}
		ids := ix.byName[norm]
		seen := false
		for _, id := range ids {
			if id == c.GuideID {
				seen = true
				break
			}
		}
		if !seen {
			ix.byName[norm] = append(ids, c.GuideID)
		}
		// The fuzzy tier resolves to the name key, then applies the same
		// language disambiguation as the exact-name tier.
		ix.fuzzy.add(norm, norm)
	}
	return ix
}

// MatchCandidates resolves every lineup channel to its ranked grab-candidate
// list from the community corpus: exact guide id, then exact normalized
// name, then fuzzy name. Names that map to several guide ids are settled by
// language: the channel's own declared language, else the configured
// preferred language, else a candidate with no language tag. A candidate
// tagged with a different language is never substituted.
//
// Every channel leaves this pass numbered: channels without a display number
// get the next one in the monotonic sequence whether or not they matched.
func (e *Engine) MatchCandidates(ctx context.Context) (*Report, error) {
	channels, err := e.Store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	corpus, err := e.Store.ListCandidates(ctx)
	if err != nil {
		return nil, err
	}
	ix := buildCorpusIndex(corpus)

	rep := newReport()
	for _, ch := range channels {
		row := e.matchCandidateOne(ch, ix)
		if row.Matched {
			ranked := make([]store.ChannelCandidate, 0, len(ix.byGuideID[row.GuideID]))
			for _, c := range ix.byGuideID[row.GuideID] {
				ranked = append(ranked, store.ChannelCandidate{
					ChannelID: ch.ID,
					GuideID:   c.GuideID,
					Source:    c.Source,
					SiteID:    c.SiteID,
					Lang:      c.Lang,
				})
			}
			if err := e.Store.ReplaceChannelCandidates(ctx, ch.ID, ranked); err != nil {
				return nil, err
			}
		}
		if ch.Number == 0 {
			if _, err := e.Store.AssignNextNumber(ctx, ch.ID, e.NumberBase); err != nil {
				return nil, err
			}
		}
		rep.record(row)
	}
	return rep, nil
}

func (e *Engine) matchCandidateOne(ch store.Channel, ix *corpusIndex) Row {
	row := Row{ChannelID: ch.ID}

	// Tier 1: declared guide id known to the corpus.
	if ch.TVGID != "" {
		if _, ok := ix.byGuideID[ch.TVGID]; ok {
			row.Matched, row.GuideID, row.Method = true, ch.TVGID, MethodIDExact
			return row
		}
	}
	norm := Normalize(ch.Name)
	// Tier 2: exact normalized name, language-disambiguated.
	if ids := ix.byName[norm]; len(ids) > 0 {
		if gid, ok := e.pickByLanguage(ids, ix, ch.Lang); ok {
			row.Matched, row.GuideID, row.Method = true, gid, MethodNameExact
			return row
		}
		row.Reason = "name matched, no language-compatible candidate"
		return row
	}
	// Tier 3: fuzzy name, then the same language rule.
	if nameKey, _, ok := ix.fuzzy.best(norm, e.FuzzyCandidateThreshold); ok {
		if gid, ok := e.pickByLanguage(ix.byName[nameKey], ix, ch.Lang); ok {
			row.Matched, row.GuideID, row.Method = true, gid, MethodNameFuzzy
			return row
		}
		row.Reason = "name matched, no language-compatible candidate"
		return row
	}
	row.Reason = "no corpus candidate matched"
	return row
}

// pickByLanguage picks among guide ids sharing a name. Strict mode: a guide
// id qualifies through a candidate in the channel's language, the preferred
// language, or with no language tag at all; never through a different one.
func (e *Engine) pickByLanguage(ids []string, ix *corpusIndex, chLang string) (string, bool) {
	if len(ids) == 1 {
		// Unambiguous name; language only arbitrates ties.
		return ids[0], true
	}
	wants := make([]string, 0, 3)
	if chLang != "" {
		wants = append(wants, chLang)
	}
	if e.PreferredLanguage != "" && e.PreferredLanguage != chLang {
		wants = append(wants, e.PreferredLanguage)
	}
	wants = append(wants, "") // untagged fallback
	for _, want := range wants {
		for _, id := range ids {
			for _, c := range ix.byGuideID[id] {
				if c.Lang == want {
					return id, true
				}
			}
		}
	}
	return "", false
}
