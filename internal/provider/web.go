// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Base URLs for web search. Declared as vars so tests can substitute an
// httptest server.
var (
	serpAPIBase    = "https://serpapi.com/search.json"
	duckDuckGoBase = "https://html.duckduckgo.com/html/"
)

// trustedHealthSites earn a higher quality rating when they appear in web results.
var trustedHealthSites = []string{
	"nih.gov", "who.int", "cdc.gov", "mayoclinic.org", "nhs.uk", "cochrane.org",
	"eatright.org", "diabetes.org", "heart.org", "efsa.europa.eu", "saglik.gov.tr",
}

// Web searches the general web: SerpAPI when a key is configured, otherwise
// the DuckDuckGo HTML endpoint parsed with goquery.
type Web struct {
	HTTP
	SerpAPIKey string
}

func (w *Web) Name() string           { return "web" }
func (w *Web) Type() types.SourceType { return types.SourceWeb }

// Search returns organic web results.
func (w *Web) Search(ctx context.Context, req Request) (Response, error) {
	q := req.Text()
	if q == "" {
		return Response{}, fmt.Errorf("empty web query")
	}
	limit := clampMax(req.MaxResults, 10, 50)
	if w.SerpAPIKey != "" {
		return w.searchSerpAPI(ctx, q, limit)
	}
	return w.searchDuckDuckGo(ctx, q, limit)
}

func (w *Web) searchSerpAPI(ctx context.Context, q string, limit int) (Response, error) {
	params := url.Values{
		"engine":  {"google"},
		"q":       {q},
		"num":     {strconv.Itoa(limit)},
		"api_key": {w.SerpAPIKey},
	}
	resp, err := w.get(ctx, w.Name(), serpAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		// The request URL carries the key; never surface it.
		return Response{}, fmt.Errorf("SerpAPI request failed: %s", strings.ReplaceAll(err.Error(), w.SerpAPIKey, "***"))
	}
	defer resp.Body.Close()

	var sr serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Response{}, fmt.Errorf("parsing SerpAPI response: %w", err)
	}

	total := len(sr.OrganicResults)
	results := make([]types.SourceItem, 0, total)
	for i, r := range sr.OrganicResults {
		if i >= limit {
			break
		}
		results = append(results, w.item(r.Title, r.Link, r.Snippet, r.Source, i, total))
	}
	return Response{Found: sr.SearchInformation.TotalResults, Results: results}, nil
}

func (w *Web) searchDuckDuckGo(ctx context.Context, q string, limit int) (Response, error) {
	resp, err := w.get(ctx, w.Name(), duckDuckGoBase+"?"+url.Values{"q": {q}}.Encode(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("DuckDuckGo request: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("parsing DuckDuckGo HTML: %w", err)
	}

	type hit struct{ title, link, snippet string }
	var hits []hit
	doc.Find("div.result").Each(func(_ int, s *goquery.Selection) {
		if len(hits) >= limit || s.HasClass("result--ad") {
			return
		}
		a := s.Find("a.result__a").First()
		title := strings.TrimSpace(a.Text())
		link, _ := a.Attr("href")
		if title == "" || link == "" {
			return
		}
		hits = append(hits, hit{
			title:   title,
			link:    resolveDuckDuckGoLink(link),
			snippet: strings.TrimSpace(s.Find(".result__snippet").Text()),
		})
	})

	results := make([]types.SourceItem, len(hits))
	for i, h := range hits {
		results[i] = w.item(h.title, h.link, h.snippet, "", i, len(hits))
	}
	return Response{Found: len(results), Results: results}, nil
}

func (w *Web) item(title, link, snip, site string, i, total int) types.SourceItem {
	host := ""
	if u, err := url.Parse(link); err == nil {
		host = strings.TrimPrefix(u.Hostname(), "www.")
	}
	if site == "" {
		site = host
	}
	quality := types.QualityLow
	for _, t := range trustedHealthSites {
		if host == t || strings.HasSuffix(host, "."+t) {
			quality = types.QualityModerate
			break
		}
	}
	return types.SourceItem{
		Title:     title,
		Venue:     site,
		URL:       link,
		Snippet:   snippet(snip, 400),
		Type:      types.SourceWeb,
		Relevance: positionScore(i, total),
		Quality:   quality,
		Providers: []string{w.Name()},
	}
}

// resolveDuckDuckGoLink unwraps DuckDuckGo's redirect links ("//duckduckgo.com/l/?uddg=...").
func resolveDuckDuckGoLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.String()
}

type serpResponse struct {
	SearchInformation struct {
		TotalResults int `json:"total_results"`
	} `json:"search_information"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Source   string `json:"source"`
	} `json:"organic_results"`
}
