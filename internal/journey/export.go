// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package journey

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Export formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatCSL  = "csl"
)

// Export is the document written by Write: the journey plus its summary.
type Export struct {
	Summary types.JourneySummary `json:"summary" yaml:"summary"`
	Journey *types.Journey       `json:"journey" yaml:"journey"`
}

// Write encodes j to w in format. The csl format writes only the sources
// selected for synthesis.
func Write(w io.Writer, j *types.Journey, format string) error {
	switch format {
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(Export{Summary: Summarize(j), Journey: j}); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(Export{Summary: Summarize(j), Journey: j}); err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		return nil
	case FormatCSL:
		var sources []types.SourceItem
		if j.Ranking != nil {
			sources = j.Ranking.Sources()
		}
		return WriteCSL(w, sources)
	default:
		return fmt.Errorf("unknown export format %q (want yaml, json, or csl)", format)
	}
}

// CSLItem is a bibliographic entry in CSL-YAML form, consumable by Pandoc
// and reference managers.
type CSLItem struct {
	ID             string    `yaml:"id"`
	Type           string    `yaml:"type"`
	Title          string    `yaml:"title"`
	Author         []CSLName `yaml:"author,omitempty"`
	ContainerTitle string    `yaml:"container-title,omitempty"`
	Abstract       string    `yaml:"abstract,omitempty"`
	Issued         *CSLDate  `yaml:"issued,omitempty"`
	DOI            string    `yaml:"DOI,omitempty"`
	PMID           string    `yaml:"PMID,omitempty"`
	URL            string    `yaml:"URL,omitempty"`
}

// CSLName is a person's name in CSL form.
type CSLName struct {
	Family  string `yaml:"family,omitempty"`
	Given   string `yaml:"given,omitempty"`
	Literal string `yaml:"literal,omitempty"`
}

// CSLDate is a date in CSL date-parts form.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

// WriteCSL writes sources as a CSL-YAML list.
func WriteCSL(w io.Writer, sources []types.SourceItem) error {
	items := make([]CSLItem, len(sources))
	for i, s := range sources {
		items[i] = toCSLItem(s)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(items)
}

var cslType = map[types.SourceType]string{
	types.SourceArticle:  "article-journal",
	types.SourcePreprint: "article",
	types.SourceTrial:    "dataset",
	types.SourceWeb:      "webpage",
}

func toCSLItem(s types.SourceItem) CSLItem {
	item := CSLItem{
		ID:             s.ID,
		Type:           cslType[s.Type],
		Title:          s.Title,
		ContainerTitle: s.Venue,
		Abstract:       s.Snippet,
		DOI:            s.DOI,
		PMID:           s.PMID,
		URL:            s.URL,
	}
	if item.Type == "" {
		item.Type = "article"
	}
	for _, a := range s.Authors {
		if n := parseAuthorName(a); n != (CSLName{}) {
			item.Author = append(item.Author, n)
		}
	}
	if s.Year > 0 {
		item.Issued = &CSLDate{DateParts: [][]int{{s.Year}}}
	}
	return item
}

// parseAuthorName splits on the last space: given names, then family.
// Single tokens use the literal field.
func parseAuthorName(name string) CSLName {
	name = strings.TrimSpace(name)
	if name == "" {
		return CSLName{}
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return CSLName{Literal: name}
	}
	return CSLName{Given: name[:idx], Family: name[idx+1:]}
}
