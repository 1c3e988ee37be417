// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package verify checks that the sentences of a synthesized answer are
// supported by the sources they cite.
package verify

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/metrics"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// citeRe matches [1] and [1, 3] style markers.
var citeRe = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

var accuracyWeight = map[types.Accuracy]float64{
	types.AccuracyAccurate:   1,
	types.AccuracyNuanceLost: 0.5,
	types.AccuracyInaccurate: 0,
}

// Verifier scores cited sentences against their sources.
type Verifier struct {
	AccurateThreshold   float64
	NuanceLostThreshold float64
	Logger              *zap.Logger
}

// New returns a Verifier with thresholds from cfg.
func New(cfg types.VerificationConfig, logger *zap.Logger) *Verifier {
	v := &Verifier{
		AccurateThreshold:   cfg.AccurateThreshold,
		NuanceLostThreshold: cfg.NuanceLostThreshold,
		Logger:              logging.OrNop(logger),
	}
	if v.AccurateThreshold <= 0 {
		v.AccurateThreshold = 0.35
	}
	if v.NuanceLostThreshold <= 0 {
		v.NuanceLostThreshold = 0.15
	}
	return v
}

// Verify checks every (sentence, cited source) pair of text. sources are
// the ranked sources in prompt order, so marker [n] refers to sources[n-1].
// It never fails: errors and panics yield Available=false.
func (v *Verifier) Verify(ctx context.Context, text string, sources []types.SourceItem) (out types.CitationVerification) {
	logger := logging.OrNop(v.Logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("citation verification panicked", zap.Any("panic", r))
			out = types.CitationVerification{Checks: []types.CitationCheck{}, Error: fmt.Sprintf("verification panicked: %v", r)}
		}
	}()

	checks, err := v.check(ctx, text, sources)
	if err != nil {
		logger.Warn("citation verification unavailable", zap.Error(err))
		return types.CitationVerification{Checks: []types.CitationCheck{}, Error: err.Error()}
	}

	out = types.CitationVerification{Available: true, Checks: checks}
	if len(checks) > 0 {
		var sum float64
		for _, c := range checks {
			sum += accuracyWeight[c.Accuracy]
			metrics.CitationAccuracy.WithLabelValues(string(c.Accuracy)).Inc()
		}
		out.Score = math.Round(sum/float64(len(checks))*1e4) / 1e4
	}
	logger.Debug("citations verified", zap.Int("checks", len(checks)), zap.Float64("score", out.Score))
	return out
}

func (v *Verifier) check(ctx context.Context, text string, sources []types.SourceItem) ([]types.CitationCheck, error) {
	checks := []types.CitationCheck{}
	if strings.TrimSpace(text) == "" {
		return checks, nil
	}
	sentences, err := Sentences(text)
	if err != nil {
		return nil, err
	}

	vectors := make([]map[string]float64, len(sources))
	for _, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("verifying citations: %w", err)
		}
		indices := Markers(sentence)
		if len(indices) == 0 {
			continue
		}
		sv := termVector(citeRe.ReplaceAllString(sentence, " "))
		for _, idx := range indices {
			c := types.CitationCheck{Sentence: strings.TrimSpace(sentence), SourceIndex: idx}
			if idx < 1 || idx > len(sources) {
				c.Accuracy = types.AccuracyInaccurate
				checks = append(checks, c)
				continue
			}
			src := sources[idx-1]
			if vectors[idx-1] == nil {
				vectors[idx-1] = termVector(src.Title + " " + src.Snippet)
			}
			c.SourceID = src.ID
			c.Similarity = math.Round(cosine(sv, vectors[idx-1])*1e4) / 1e4
			c.Accuracy = v.classify(c.Similarity)
			checks = append(checks, c)
		}
	}
	return checks, nil
}

func (v *Verifier) classify(sim float64) types.Accuracy {
	switch {
	case sim >= v.AccurateThreshold:
		return types.AccuracyAccurate
	case sim >= v.NuanceLostThreshold:
		return types.AccuracyNuanceLost
	default:
		return types.AccuracyInaccurate
	}
}

// Sentences splits text into sentences.
func Sentences(text string) ([]string, error) {
	doc, err := prose.NewDocument(text, prose.WithTagging(false), prose.WithExtraction(false))
	if err != nil {
		return nil, fmt.Errorf("segmenting answer: %w", err)
	}
	var out []string
	for _, s := range doc.Sentences() {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

// Markers returns the distinct source numbers cited in sentence, in order.
func Markers(sentence string) []int {
	var out []int
	seen := map[int]bool{}
	for _, m := range citeRe.FindAllStringSubmatch(sentence, -1) {
		for _, part := range strings.Split(m[1], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// termVector counts lower-cased word tokens, ignoring stop words and
// single characters.
func termVector(s string) map[string]float64 {
	tf := map[string]float64{}
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len([]rune(w)) < 2 || stopWords[w] {
			continue
		}
		tf[w]++
	}
	return tf
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for w, x := range a {
		na += x * x
		if y, ok := b[w]; ok {
			dot += x * y
		}
	}
	for _, y := range b {
		nb += y * y
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var stopWords = func() map[string]bool {
	m := map[string]bool{}
	for _, w := range strings.Fields(`a an and are as at be been but by can could did do does for from had has have
		how in into is it its may might more most no not of on or our should such than that the their them then there
		these they this those to was were what when which while who will with would you your also both each other
		ve bir bu da de ile için gibi daha çok olan olarak ise ya veya`) {
		m[w] = true
	}
	return m
}()
