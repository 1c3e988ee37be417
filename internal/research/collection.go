// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package research

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Collection is the request-scoped, deduplicated set of sources gathered
// across rounds. A duplicate refreshes the existing record. Every identity
// key ever seen for a source points to it, so a record that links two
// entries (a DOI on one, a PMID on the other) folds them into the earlier
// one and the result does not depend on the order rounds arrive in.
type Collection struct {
	mu    sync.Mutex
	items []types.SourceItem
	keys  [][]string     // every identity key seen for items[i]
	index map[string]int // identity key -> position in items
	seq   int
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{index: make(map[string]int)}
}

// Merge adds items found in round. It returns the sources that were new and
// the number of records folded into existing ones.
func (c *Collection) Merge(round int, items []types.SourceItem) ([]types.SourceItem, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := make(map[string]bool)
	dups := 0
	for _, it := range items {
		keys := identityKeys(it)
		if len(keys) == 0 {
			continue
		}
		if idx, ok := c.lookup(keys); ok {
			mergeInto(&c.items[idx], it)
			dups += 1 + c.link(idx, append(keys, identityKeys(c.items[idx])...))
			continue
		}

		c.seq++
		it.Key = keys[0]
		it.ID = fmt.Sprintf("S%03d", c.seq)
		it.FirstSeenRound = round
		it.Providers = append([]string(nil), it.Providers...)
		c.items = append(c.items, it)
		c.keys = append(c.keys, nil)
		c.link(len(c.items)-1, keys)
		fresh[it.ID] = true
	}

	var added []types.SourceItem
	for _, it := range c.items {
		if fresh[it.ID] {
			added = append(added, it)
		}
	}
	return added, dups
}

// Len returns the number of distinct sources.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Items returns a copy of the sources in insertion order.
func (c *Collection) Items() []types.SourceItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.SourceItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Collection) lookup(keys []string) (int, bool) {
	for _, k := range keys {
		if idx, ok := c.index[k]; ok {
			return idx, true
		}
	}
	return 0, false
}

// link points keys at items[idx]. Entries already holding one of the keys
// are folded into the earliest entry of the group, repeating while the
// merged record exposes further keys. It returns how many entries were
// folded away.
func (c *Collection) link(idx int, keys []string) int {
	folded := 0
	for {
		group := []int{idx}
		for _, k := range keys {
			j, ok := c.index[k]
			switch {
			case !ok:
				c.index[k] = idx
				c.keys[idx] = append(c.keys[idx], k)
			case !slices.Contains(group, j):
				group = append(group, j)
			}
		}
		if len(group) == 1 {
			return folded
		}

		slices.Sort(group)
		idx = group[0]
		// Highest position first so the survivor and the remaining
		// positions stay valid while entries are deleted.
		for i := len(group) - 1; i > 0; i-- {
			j := group[i]
			mergeInto(&c.items[idx], c.items[j])
			c.keys[idx] = append(c.keys[idx], c.keys[j]...)
			c.items = slices.Delete(c.items, j, j+1)
			c.keys = slices.Delete(c.keys, j, j+1)
			folded++
		}
		c.reindex()
		keys = identityKeys(c.items[idx])
	}
}

func (c *Collection) reindex() {
	clear(c.index)
	for i, ks := range c.keys {
		for _, k := range ks {
			c.index[k] = i
		}
	}
}

// identityKeys returns every stable key of s in priority order: DOI, PMID,
// NCT id, arXiv id, canonical URL, normalized title.
func identityKeys(s types.SourceItem) []string {
	var keys []string
	if doi := normalizeDOI(s.DOI); doi != "" {
		keys = append(keys, "doi:"+doi)
	}
	if s.PMID != "" {
		keys = append(keys, "pmid:"+strings.TrimSpace(s.PMID))
	}
	if s.NCTID != "" {
		keys = append(keys, "nct:"+strings.ToUpper(strings.TrimSpace(s.NCTID)))
	}
	if s.ArxivID != "" {
		keys = append(keys, "arxiv:"+strings.TrimSpace(s.ArxivID))
	}
	if u := canonicalURL(s.URL); u != "" {
		keys = append(keys, "url:"+u)
	}
	if t := normalizeTitle(s.Title); t != "" {
		keys = append(keys, "title:"+t)
	}
	return keys
}

func normalizeDOI(doi string) string {
	doi = strings.ToLower(strings.TrimSpace(doi))
	for _, p := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, p)
	}
	return doi
}

// canonicalURL drops scheme, "www.", fragment, and trailing slash.
func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	out := host + strings.TrimSuffix(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// normalizeTitle returns a lowercased, punctuation-stripped version of the title.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// mergeInto fills empty fields of dst from src, keeps the better scores, and
// unions the provider names.
func mergeInto(dst *types.SourceItem, src types.SourceItem) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if len(dst.Authors) == 0 && len(src.Authors) > 0 {
		dst.Authors = src.Authors
	}
	if dst.Venue == "" {
		dst.Venue = src.Venue
	}
	if dst.Year == 0 {
		dst.Year = src.Year
	}
	if len(src.Snippet) > len(dst.Snippet) {
		dst.Snippet = src.Snippet
	}
	if dst.URL == "" {
		dst.URL = src.URL
	}
	if dst.DOI == "" {
		dst.DOI = src.DOI
	}
	if dst.PMID == "" {
		dst.PMID = src.PMID
	}
	if dst.NCTID == "" {
		dst.NCTID = src.NCTID
	}
	if dst.ArxivID == "" {
		dst.ArxivID = src.ArxivID
	}
	if src.CitationCount > dst.CitationCount {
		dst.CitationCount = src.CitationCount
	}
	if src.ImpactMetric > dst.ImpactMetric {
		dst.ImpactMetric = src.ImpactMetric
	}
	if src.Relevance > dst.Relevance {
		dst.Relevance = src.Relevance
	}
	if src.Quality.Rank() > dst.Quality.Rank() {
		dst.Quality = src.Quality
	}
	// A peer-reviewed record supersedes its preprint.
	if dst.Type == types.SourcePreprint && src.Type == types.SourceArticle {
		dst.Type = src.Type
		if src.Venue != "" {
			dst.Venue = src.Venue
		}
	}
	for _, p := range src.Providers {
		if !contains(dst.Providers, p) {
			dst.Providers = append(dst.Providers, p)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
