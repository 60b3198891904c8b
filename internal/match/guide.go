package match

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/snapetech/epgmergr/internal/store"
)

type Method string

const (
	MethodConfirmed Method = "confirmed"
	MethodOverride  Method = "override"
	MethodIDExact   Method = "id_exact"
	MethodIDPartial Method = "id_partial"
	MethodNameExact Method = "name_exact"
	MethodNameFuzzy Method = "name_fuzzy"
)

// Row is one channel's outcome in a matching report.
type Row struct {
	ChannelID string
	GuideID   string
	Method    Method
	Matched   bool
	Reason    string
}

// Report summarizes one matching pass.
type Report struct {
	Total     int
	Matched   int
	Unmatched int
	Methods   map[string]int
	Rows      []Row
}

func newReport() *Report { return &Report{Methods: map[string]int{}} }

func (r *Report) record(row Row) {
	r.Total++
	if row.Matched {
		r.Matched++
		r.Methods[string(row.Method)]++
	} else {
		r.Unmatched++
	}
	r.Rows = append(r.Rows, row)
}

// SummaryString renders the report the way operators read it in logs.
func (r *Report) SummaryString() string {
	methods := make([]string, 0, len(r.Methods))
	for k := range r.Methods {
		methods = append(methods, k)
	}
	sort.Strings(methods)
	var b strings.Builder
	fmt.Fprintf(&b, "matched %d/%d", r.Matched, r.Total)
	for i, k := range methods {
		if i == 0 {
			b.WriteString(" [")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%d", k, r.Methods[k])
	}
	if len(methods) > 0 {
		b.WriteString("]")
	}
	return b.String()
}

// Engine runs both resolution passes over the store.
type Engine struct {
	Store                   *store.Store
	FuzzyGuideThreshold     float64
	FuzzyCandidateThreshold float64
	PreferredLanguage       string
	NumberBase              int
}

// guideIndex precomputes the lookup structures for one MatchGuide pass.
type guideIndex struct {
	idSet     map[string]struct{} // case-sensitive guide ids
	idsLower  []string            // distinct lowercased ids, first-seen order
	idByLower map[string]string   // lowercased id -> original
	nameExact map[string]string   // normalized name -> guide id (first-seen)
	fuzzy     fuzzyIndex
}

func buildGuideIndex(guides []store.GuideChannel) *guideIndex {
	ix := &guideIndex{
		idSet:     map[string]struct{}{},
		idByLower: map[string]string{},
		nameExact: map[string]string{},
	}
	for _, g := range guides {
		if g.GuideID == "" {
			continue
		}
		ix.idSet[g.GuideID] = struct{}{}
		lower := strings.ToLower(g.GuideID)
		if _, seen := ix.idByLower[lower]; !seen {
			ix.idByLower[lower] = g.GuideID
			ix.idsLower = append(ix.idsLower, lower)
		}
		norm := Normalize(g.Name)
		if norm != "" {
			if _, seen := ix.nameExact[norm]; !seen {
				ix.nameExact[norm] = g.GuideID
			}
			ix.fuzzy.add(norm, g.GuideID)
		}
	}
	return ix
}

// MatchGuide resolves every lineup channel to a guide-channel id using the
// tier ladder: confirmed re-validation, manual override, exact id, partial
// id, normalized name, fuzzy name. First hit wins; later tiers are not
// consulted. Channels that match nothing have any stale reference cleared.
//
// A still-valid existing match is re-labeled confirmed and is never replaced
// here, not even by an override; clearing it is an explicit operator action.
func (e *Engine) MatchGuide(ctx context.Context) (*Report, error) {
	channels, err := e.Store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	guides, err := e.Store.GuideChannelsOrdered(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := e.Store.Overrides(ctx)
	if err != nil {
		return nil, err
	}
	ix := buildGuideIndex(guides)

	rep := newReport()
	for _, ch := range channels {
		row := e.matchOne(ch, ix, overrides)
		if row.Matched {
			if row.GuideID != ch.GuideID || string(row.Method) != ch.Method {
				if err := e.Store.SetChannelMatch(ctx, ch.ID, row.GuideID, string(row.Method)); err != nil {
					return nil, err
				}
			}
		} else if ch.GuideID != "" {
			if err := e.Store.ClearChannelMatch(ctx, ch.ID); err != nil {
				return nil, err
			}
		}
		rep.record(row)
	}
	return rep, nil
}

func (e *Engine) matchOne(ch store.Channel, ix *guideIndex, overrides map[string]string) Row {
	row := Row{ChannelID: ch.ID}

	// Tier 1: existing match still present in the current guide set.
	if ch.GuideID != "" {
		if _, ok := ix.idSet[ch.GuideID]; ok {
			row.Matched, row.GuideID, row.Method = true, ch.GuideID, MethodConfirmed
			return row
		}
	}
	// Tier 2: manual override, honored only when the pinned id exists.
	if pinned := overrides[ch.ID]; pinned != "" {
		if _, ok := ix.idSet[pinned]; ok {
			row.Matched, row.GuideID, row.Method = true, pinned, MethodOverride
			return row
		}
	}
	// Tier 3: exact declared id, case-sensitive.
	if ch.TVGID != "" {
		if _, ok := ix.idSet[ch.TVGID]; ok {
			row.Matched, row.GuideID, row.Method = true, ch.TVGID, MethodIDExact
			return row
		}
	}
	// Tier 4: substring containment either direction, case-insensitive.
	if tvg := strings.ToLower(ch.TVGID); tvg != "" {
		for _, lower := range ix.idsLower {
			if strings.Contains(lower, tvg) || strings.Contains(tvg, lower) {
				row.Matched, row.GuideID, row.Method = true, ix.idByLower[lower], MethodIDPartial
				return row
			}
		}
	}
	norm := Normalize(ch.Name)
	// Tier 5: normalized display name, exact.
	if norm != "" {
		if gid, ok := ix.nameExact[norm]; ok {
			row.Matched, row.GuideID, row.Method = true, gid, MethodNameExact
			return row
		}
	}
	// Tier 6: fuzzy name within the acceptance threshold.
	if gid, _, ok := ix.fuzzy.best(norm, e.FuzzyGuideThreshold); ok {
		row.Matched, row.GuideID, row.Method = true, gid, MethodNameFuzzy
		return row
	}
	row.Reason = "no guide channel matched"
	return row
}
