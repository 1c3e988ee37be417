// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// arxivCategories limits preprint search to quantitative biology.
var arxivCategories = []string{"q-bio.QM", "q-bio.TO", "q-bio.PE", "q-bio.BM", "q-bio.NC"}

// Arxiv queries the arXiv preprint server.
type Arxiv struct {
	HTTP
}

func (a *Arxiv) Name() string           { return "arxiv" }
func (a *Arxiv) Type() types.SourceType { return types.SourcePreprint }

// Search queries arXiv sorted by relevance.
func (a *Arxiv) Search(ctx context.Context, req Request) (Response, error) {
	q := buildArxivQuery(req.Text())
	if q == "" {
		return Response{}, fmt.Errorf("empty arXiv query")
	}

	params := url.Values{
		"search_query": {q},
		"start":        {"0"},
		"max_results":  {strconv.Itoa(clampMax(req.MaxResults, 10, 100))},
		"sortBy":       {"relevance"},
		"sortOrder":    {"descending"},
	}

	resp, err := a.get(ctx, a.Name(), arxivAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return Response{}, fmt.Errorf("parsing arXiv response: %w", err)
	}

	total := len(feed.Entries)
	results := make([]types.SourceItem, 0, total)
	for i, entry := range feed.Entries {
		arxivID := extractArxivID(entry.ID)
		if arxivID == "" {
			continue
		}
		item := types.SourceItem{
			Title:     strings.Join(strings.Fields(entry.Title), " "),
			Year:      yearOf(entry.Published),
			ArxivID:   arxivID,
			DOI:       entry.DOI,
			URL:       "https://arxiv.org/abs/" + arxivID,
			Snippet:   snippet(entry.Summary, 600),
			Venue:     "arXiv",
			Type:      types.SourcePreprint,
			Relevance: positionScore(i, total),
			Quality:   types.QualityLow,
			Providers: []string{a.Name()},
		}
		for _, au := range entry.Authors {
			item.Authors = append(item.Authors, strings.TrimSpace(au.Name))
		}
		results = append(results, item)
	}

	found := feed.TotalResults
	if found == 0 {
		found = len(results)
	}
	return Response{Found: found, Results: results}, nil
}

// buildArxivQuery ANDs the query terms and restricts to the q-bio categories.
func buildArxivQuery(text string) string {
	terms := strings.Fields(text)
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = "all:" + t
	}
	cats := make([]string, len(arxivCategories))
	for i, c := range arxivCategories {
		cats[i] = "cat:" + c
	}
	return "(" + strings.Join(parts, " AND ") + ") AND (" + strings.Join(cats, " OR ") + ")"
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	TotalResults int          `xml:"totalResults"`
	Entries      []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	DOI       string        `xml:"doi"`
	Authors   []arxivAuthor `xml:"author"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" -> "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
