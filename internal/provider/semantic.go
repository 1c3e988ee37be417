// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const semanticFields = "title,abstract,authors,externalIds,year,venue,citationCount,influentialCitationCount,url,publicationTypes"

// SemanticScholar queries the Semantic Scholar graph API.
type SemanticScholar struct {
	HTTP
	APIKey string
}

func (s *SemanticScholar) Name() string           { return "semantic_scholar" }
func (s *SemanticScholar) Type() types.SourceType { return types.SourceArticle }

// Search queries the paper search endpoint limited to the Medicine field of study.
func (s *SemanticScholar) Search(ctx context.Context, req Request) (Response, error) {
	q := req.Text()
	if q == "" {
		return Response{}, fmt.Errorf("empty Semantic Scholar query")
	}

	params := url.Values{
		"query":         {q},
		"limit":         {strconv.Itoa(clampMax(req.MaxResults, 10, 100))},
		"fields":        {semanticFields},
		"fieldsOfStudy": {"Medicine"},
	}
	if since := req.Filters["since_year"]; since != "" {
		params.Set("year", since+"-")
	}

	var header map[string]string
	if s.APIKey != "" {
		header = map[string]string{"x-api-key": s.APIKey}
	}

	resp, err := s.get(ctx, s.Name(), semanticAPIBase+"?"+params.Encode(), header)
	if err != nil {
		return Response{}, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Response{}, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	total := len(sr.Data)
	results := make([]types.SourceItem, 0, total)
	for i, paper := range sr.Data {
		if paper.Title == "" {
			continue
		}
		item := types.SourceItem{
			Title:         paper.Title,
			Venue:         paper.Venue,
			Year:          paper.Year,
			CitationCount: paper.CitationCount,
			ImpactMetric:  influenceMetric(paper.InfluentialCitationCount),
			URL:           paper.URL,
			Snippet:       snippet(paper.Abstract, 600),
			Type:          types.SourceArticle,
			Relevance:     positionScore(i, total),
			Quality:       semanticQuality(paper.PublicationTypes),
			DOI:           paper.ExternalIDs.DOI,
			PMID:          paper.ExternalIDs.PubMed,
			ArxivID:       paper.ExternalIDs.ArXiv,
			Providers:     []string{s.Name()},
		}
		for _, a := range paper.Authors {
			item.Authors = append(item.Authors, a.Name)
		}
		results = append(results, item)
	}
	return Response{Found: sr.Total, Results: results}, nil
}

// influenceMetric log-scales influential citations into [0,1]; 100 or more saturates.
func influenceMetric(n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(1+float64(n))/2)
}

func semanticQuality(pubTypes []string) types.QualityRating {
	q := types.QualityUnrated
	for _, pt := range pubTypes {
		switch pt {
		case "MetaAnalysis", "Review":
			return types.QualityHigh
		case "ClinicalTrial", "Study":
			q = types.QualityModerate
		case "CaseReport", "Editorial", "LettersAndComments":
			if q == types.QualityUnrated {
				q = types.QualityLow
			}
		}
	}
	return q
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Data   []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID                  string              `json:"paperId"`
	Title                    string              `json:"title"`
	Abstract                 string              `json:"abstract"`
	Year                     int                 `json:"year"`
	Venue                    string              `json:"venue"`
	URL                      string              `json:"url"`
	CitationCount            int                 `json:"citationCount"`
	InfluentialCitationCount int                 `json:"influentialCitationCount"`
	PublicationTypes         []string            `json:"publicationTypes"`
	Authors                  []semanticAuthor    `json:"authors"`
	ExternalIDs              semanticExternalIDs `json:"externalIds"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI    string `json:"DOI"`
	ArXiv  string `json:"ArXiv"`
	PubMed string `json:"PubMed"`
}
