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

// clinicalTrialsBase is the ClinicalTrials.gov v2 studies endpoint. Declared
// as a var so tests can substitute an httptest server.
var clinicalTrialsBase = "https://clinicaltrials.gov/api/v2/studies"

// ClinicalTrials queries the ClinicalTrials.gov registry.
type ClinicalTrials struct {
	HTTP
}

func (c *ClinicalTrials) Name() string           { return "clinicaltrials" }
func (c *ClinicalTrials) Type() types.SourceType { return types.SourceTrial }

// Search queries registered studies. The "trial_status" filter maps to
// filter.overallStatus (e.g. "COMPLETED").
func (c *ClinicalTrials) Search(ctx context.Context, req Request) (Response, error) {
	q := req.Text()
	if q == "" {
		return Response{}, fmt.Errorf("empty ClinicalTrials.gov query")
	}

	params := url.Values{
		"query.term": {q},
		"pageSize":   {strconv.Itoa(clampMax(req.MaxResults, 10, 1000))},
		"countTotal": {"true"},
		"format":     {"json"},
	}
	if st := req.Filters["trial_status"]; st != "" {
		params.Set("filter.overallStatus", st)
	}

	resp, err := c.get(ctx, c.Name(), clinicalTrialsBase+"?"+params.Encode(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("ClinicalTrials.gov API request: %w", err)
	}
	defer resp.Body.Close()

	var ctr ctResponse
	if err := json.NewDecoder(resp.Body).Decode(&ctr); err != nil {
		return Response{}, fmt.Errorf("parsing ClinicalTrials.gov response: %w", err)
	}

	total := len(ctr.Studies)
	results := make([]types.SourceItem, 0, total)
	for i, s := range ctr.Studies {
		p := s.ProtocolSection
		nct := p.Identification.NCTID
		if nct == "" {
			continue
		}
		title := p.Identification.OfficialTitle
		if p.Identification.BriefTitle != "" {
			title = p.Identification.BriefTitle
		}

		phase := strings.Join(p.Design.Phases, "/")
		summary := p.Description.BriefSummary
		if phase != "" || p.Status.OverallStatus != "" {
			summary = fmt.Sprintf("%s %s, n=%d. %s", phase, strings.ToLower(p.Status.OverallStatus), p.Design.Enrollment.Count, summary)
		}

		results = append(results, types.SourceItem{
			Title:     title,
			Authors:   nonEmpty(p.Sponsor.LeadSponsor.Name),
			Venue:     "ClinicalTrials.gov",
			Year:      yearOf(p.Status.StartDate.Date),
			URL:       "https://clinicaltrials.gov/study/" + nct,
			Snippet:   snippet(summary, 600),
			Type:      types.SourceTrial,
			NCTID:     nct,
			Relevance: positionScore(i, total),
			Quality:   trialQuality(p.Design.Phases, p.Status.OverallStatus, p.Design.Enrollment.Count),
			Providers: []string{c.Name()},
		})
	}

	found := ctr.TotalCount
	if found == 0 {
		found = len(results)
	}
	return Response{Found: found, Results: results}, nil
}

// trialQuality rates completed late-phase trials highest.
func trialQuality(phases []string, status string, enrollment int) types.QualityRating {
	late, mid := false, false
	for _, ph := range phases {
		switch ph {
		case "PHASE3", "PHASE4":
			late = true
		case "PHASE2":
			mid = true
		}
	}
	completed := status == "COMPLETED"
	switch {
	case late && completed && enrollment >= 100:
		return types.QualityHigh
	case late || (mid && completed):
		return types.QualityModerate
	default:
		return types.QualityLow
	}
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// ClinicalTrials.gov v2 JSON structures.
type ctResponse struct {
	TotalCount int       `json:"totalCount"`
	Studies    []ctStudy `json:"studies"`
}

type ctStudy struct {
	ProtocolSection struct {
		Identification struct {
			NCTID         string `json:"nctId"`
			BriefTitle    string `json:"briefTitle"`
			OfficialTitle string `json:"officialTitle"`
		} `json:"identificationModule"`
		Status struct {
			OverallStatus string `json:"overallStatus"`
			StartDate     struct {
				Date string `json:"date"`
			} `json:"startDateStruct"`
		} `json:"statusModule"`
		Design struct {
			Phases     []string `json:"phases"`
			Enrollment struct {
				Count int `json:"count"`
			} `json:"enrollmentInfo"`
		} `json:"designModule"`
		Description struct {
			BriefSummary string `json:"briefSummary"`
		} `json:"descriptionModule"`
		Sponsor struct {
			LeadSponsor struct {
				Name string `json:"name"`
			} `json:"leadSponsor"`
		} `json:"sponsorCollaboratorsModule"`
	} `json:"protocolSection"`
}
