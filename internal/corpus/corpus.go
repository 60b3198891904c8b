// Package corpus maintains the local copy of the community channel corpus:
// (name, guide id, language, site, site id) tuples that tell the grab
// orchestrator where guide data for a channel can be scraped from. Each
// refresh replaces the whole table; the corpus is never merged.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/snapetech/epgmergr/internal/httpclient"
	"github.com/snapetech/epgmergr/internal/store"
)

// Row is one record of the published corpus JSON.
type Row struct {
	Name    string `json:"name"`
	XMLTVID string `json:"xmltv_id"`
	Lang    string `json:"lang"`
	Site    string `json:"site"`
	SiteID  string `json:"site_id"`
}

type Refresher struct {
	Store *store.Store
	URL   string
}

// Refresh downloads the corpus and swaps it into the candidates table.
// Returns the number of usable rows; rows without a guide id or site are
// dropped. Publication order is preserved, it becomes the fallback rank.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	resp, err := httpclient.Get(ctx, nil, r.URL)
	if err != nil {
		return 0, fmt.Errorf("corpus fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("corpus fetch: HTTP %d", resp.StatusCode)
	}

	var rows []Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return 0, fmt.Errorf("corpus parse: %w", err)
	}
	cands := make([]store.Candidate, 0, len(rows))
	for _, row := range rows {
		if row.XMLTVID == "" || row.Site == "" {
			continue
		}
		cands = append(cands, store.Candidate{
			Name:    row.Name,
			GuideID: row.XMLTVID,
			Lang:    row.Lang,
			Source:  row.Site,
			SiteID:  row.SiteID,
		})
	}
	if err := r.Store.ReplaceCandidates(ctx, cands); err != nil {
		return 0, fmt.Errorf("corpus store: %w", err)
	}
	return len(cands), nil
}
