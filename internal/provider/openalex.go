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

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

// maxAbstractWords bounds the slice built from an inverted index so a
// corrupt position cannot force a huge allocation.
const maxAbstractWords = 20000

// OpenAlex queries the OpenAlex works index.
type OpenAlex struct {
	HTTP
	// Email is sent as mailto parameter for polite pool access.
	Email string
}

func (o *OpenAlex) Name() string           { return "openalex" }
func (o *OpenAlex) Type() types.SourceType { return types.SourceArticle }

// Search queries OpenAlex works. The search is unrestricted by concept; the
// since_year filter and a raw openalex_filter expression narrow it.
func (o *OpenAlex) Search(ctx context.Context, req Request) (Response, error) {
	text := req.Text()
	if text == "" {
		return Response{}, fmt.Errorf("empty OpenAlex query")
	}

	params := url.Values{
		"search":   {text},
		"per_page": {strconv.Itoa(clampMax(req.MaxResults, 10, 200))},
		"page":     {"1"},
	}

	var filters []string
	if since := req.Filters["since_year"]; since != "" {
		filters = append(filters, "from_publication_date:"+since+"-01-01")
	}
	if f := req.Filters["openalex_filter"]; f != "" {
		filters = append(filters, f)
	}
	if len(filters) > 0 {
		params.Set("filter", strings.Join(filters, ","))
	}
	if o.Email != "" {
		params.Set("mailto", o.Email)
	}

	resp, err := o.get(ctx, o.Name(), openAlexSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return Response{}, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	total := len(oar.Results)
	results := make([]types.SourceItem, 0, total)
	for i, work := range oar.Results {
		item := types.SourceItem{
			Title:         strings.TrimSpace(work.Title),
			Year:          work.PublicationYear,
			CitationCount: work.CitedByCount,
			Snippet:       snippet(reconstructAbstract(work.AbstractInvertedIndex), 600),
			Type:          types.SourceArticle,
			Relevance:     positionScore(i, total),
			Quality:       types.QualityUnrated,
			Providers:     []string{o.Name()},
		}
		if item.Title == "" {
			continue
		}
		for _, authorship := range work.Authorships {
			if authorship.Author.DisplayName != "" {
				item.Authors = append(item.Authors, authorship.Author.DisplayName)
			}
		}
		if src := work.PrimaryLocation.Source; src != nil {
			item.Venue = src.DisplayName
			if src.Type == "repository" {
				item.Type = types.SourcePreprint
			}
		}
		if work.Type == "review" {
			item.Quality = types.QualityModerate
		}

		// Strip the https://doi.org/ prefix to get the bare DOI.
		if work.DOI != "" {
			item.DOI = strings.TrimPrefix(work.DOI, "https://doi.org/")
			item.URL = work.DOI
		} else {
			item.URL = work.ID
		}
		if work.IDs.PMID != "" {
			item.PMID = strings.TrimPrefix(work.IDs.PMID, "https://pubmed.ncbi.nlm.nih.gov/")
		}
		results = append(results, item)
	}
	return Response{Found: oar.Meta.Count, Results: results}, nil
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(index map[string][]int) string {
	size := 0
	for _, positions := range index {
		for _, pos := range positions {
			if pos >= size {
				size = pos + 1
			}
		}
	}
	if size == 0 || size > maxAbstractWords {
		return ""
	}
	words := make([]string, size)
	for word, positions := range index {
		for _, pos := range positions {
			if pos >= 0 {
				words[pos] = word
			}
		}
	}
	return strings.Join(strings.Fields(strings.Join(words, " ")), " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	Type                  string               `json:"type"`
	PublicationYear       int                  `json:"publication_year"`
	CitedByCount          int                  `json:"cited_by_count"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	PrimaryLocation       openAlexLocation     `json:"primary_location"`
	IDs                   struct {
		PMID string `json:"pmid"`
	} `json:"ids"`
}

type openAlexAuthorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type openAlexLocation struct {
	Source *struct {
		DisplayName string `json:"display_name"`
		Type        string `json:"type"`
	} `json:"source"`
}
