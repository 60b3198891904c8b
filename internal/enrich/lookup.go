package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/snapetech/epgmergr/internal/httpclient"
)

// HTTPLookup queries a TVmaze-compatible single-search endpoint.
type HTTPLookup struct {
	BaseURL string // e.g. https://api.tvmaze.com
	APIKey  string // optional, sent as ?apikey=
	Client  *http.Client
}

type showResponse struct {
	ID     int      `json:"id"`
	Genres []string `json:"genres"`
	Rating struct {
		Average float64 `json:"average"`
	} `json:"rating"`
}

func (l *HTTPLookup) Lookup(ctx context.Context, normTitle string) (*ShowMeta, error) {
	client := l.Client
	if client == nil {
		client = httpclient.WithTimeout(15 * time.Second)
	}
	q := url.Values{"q": {normTitle}}
	if l.APIKey != "" {
		q.Set("apikey", l.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		l.BaseURL+"/singlesearch/shows?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("lookup status %d", resp.StatusCode)
	}

	var show showResponse
	if err := json.NewDecoder(resp.Body).Decode(&show); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	meta := &ShowMeta{ID: strconv.Itoa(show.ID), Genres: show.Genres}
	if show.Rating.Average > 0 {
		meta.Rating = strconv.FormatFloat(show.Rating.Average, 'f', 1, 64)
	}
	return meta, nil
}
