// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// pubmedEutilsBase is the NCBI E-utilities root. Declared as a var so tests
// can substitute an httptest server.
var pubmedEutilsBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMed queries MEDLINE through esearch (ids) then esummary (records).
type PubMed struct {
	HTTP
	APIKey string
}

func (p *PubMed) Name() string           { return "pubmed" }
func (p *PubMed) Type() types.SourceType { return types.SourceArticle }

// Search runs esearch sorted by relevance, then fetches summaries for the ids.
func (p *PubMed) Search(ctx context.Context, req Request) (Response, error) {
	term := req.Text()
	if term == "" {
		return Response{}, fmt.Errorf("empty PubMed query")
	}
	if since := req.Filters["since_year"]; since != "" {
		term += fmt.Sprintf(" AND (%s:3000[dp])", since)
	}

	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmode": {"json"},
		"retmax":  {strconv.Itoa(clampMax(req.MaxResults, 10, 100))},
		"sort":    {"relevance"},
	}
	if p.APIKey != "" {
		params.Set("api_key", p.APIKey)
	}

	resp, err := p.get(ctx, p.Name(), pubmedEutilsBase+"/esearch.fcgi?"+params.Encode(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("PubMed esearch: %w", err)
	}
	var sr pubmedSearchResponse
	err = json.NewDecoder(resp.Body).Decode(&sr)
	resp.Body.Close()
	if err != nil {
		return Response{}, fmt.Errorf("parsing PubMed esearch response: %w", err)
	}

	found, _ := strconv.Atoi(sr.Result.Count)
	ids := sr.Result.IDList
	if len(ids) == 0 {
		return Response{Found: found}, nil
	}

	params = url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"json"},
	}
	if p.APIKey != "" {
		params.Set("api_key", p.APIKey)
	}
	resp, err = p.get(ctx, p.Name(), pubmedEutilsBase+"/esummary.fcgi?"+params.Encode(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("PubMed esummary: %w", err)
	}
	defer resp.Body.Close()

	var sum pubmedSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		return Response{}, fmt.Errorf("parsing PubMed esummary response: %w", err)
	}

	results := make([]types.SourceItem, 0, len(ids))
	for i, id := range ids {
		raw, ok := sum.Result[id]
		if !ok {
			continue
		}
		var doc pubmedDoc
		if err := json.Unmarshal(raw, &doc); err != nil || doc.Title == "" {
			continue
		}

		item := types.SourceItem{
			Title:     strings.TrimSuffix(strings.TrimSpace(doc.Title), "."),
			Venue:     doc.FullJournalName,
			Year:      yearOf(doc.PubDate),
			PMID:      id,
			URL:       "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
			Type:      types.SourceArticle,
			Relevance: positionScore(i, len(ids)),
			Quality:   pubmedQuality(doc.PubType),
			Providers: []string{p.Name()},
		}
		if item.Venue == "" {
			item.Venue = doc.Source
		}
		for _, a := range doc.Authors {
			item.Authors = append(item.Authors, a.Name)
		}
		for _, aid := range doc.ArticleIDs {
			if aid.IDType == "doi" {
				item.DOI = aid.Value
			}
		}
		item.Snippet = snippet(strings.Join(doc.PubType, ", ")+". "+item.Title, 300)
		results = append(results, item)
	}
	return Response{Found: found, Results: results}, nil
}

// pubmedQuality maps MEDLINE publication types onto an evidence rating.
func pubmedQuality(pubTypes []string) types.QualityRating {
	best := types.QualityUnrated
	for _, pt := range pubTypes {
		switch strings.ToLower(pt) {
		case "meta-analysis", "systematic review", "randomized controlled trial", "practice guideline", "guideline":
			return types.QualityHigh
		case "clinical trial", "controlled clinical trial", "multicenter study", "observational study", "review", "comparative study":
			best = types.QualityModerate
		case "case reports", "editorial", "comment", "letter":
			if best == types.QualityUnrated {
				best = types.QualityLow
			}
		}
	}
	return best
}

// NCBI E-utilities JSON structures.
type pubmedSearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubmedSummaryResponse struct {
	// Result maps uid to record, plus a "uids" array.
	Result map[string]json.RawMessage `json:"result"`
}

type pubmedDoc struct {
	UID             string `json:"uid"`
	Title           string `json:"title"`
	Source          string `json:"source"`
	FullJournalName string `json:"fulljournalname"`
	PubDate         string `json:"pubdate"`
	Authors         []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
	PubType []string `json:"pubtype"`
}
