// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package router

import (
	"strings"
)

// deepResearchPhrases are explicit requests for multi-round research, in
// English and Turkish.
var deepResearchPhrases = []string{
	"deep research",
	"deep dive",
	"research thoroughly",
	"thorough research",
	"comprehensive research",
	"do research",
	"do a research",
	"literature review",
	"search the literature",
	"find studies",
	"look for studies",
	"derinlemesine araştır",
	"detaylı araştır",
	"kapsamlı araştır",
	"araştırma yap",
	"araştırır mısın",
	"literatür taraması",
	"çalışmaları bul",
}

// recallPhrases refer back to an earlier turn of the conversation.
var recallPhrases = []string{
	"as we discussed",
	"as we talked about",
	"we talked about",
	"you mentioned",
	"you said earlier",
	"what did you say",
	"remind me what",
	"earlier you",
	"daha önce konuştuğumuz",
	"daha önce bahsettiğin",
	"konuşmuştuk",
	"söylemiştin",
	"bahsetmiştin",
	"hatırlat",
}

// IsExplicitDeepResearch reports whether text asks for deep research.
func IsExplicitDeepResearch(text string) bool {
	return containsAny(fold(text), deepResearchPhrases)
}

// IsRecallRequest reports whether text refers to an earlier turn.
func IsRecallRequest(text string) bool {
	return containsAny(fold(text), recallPhrases)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, fold(p)) {
			return true
		}
	}
	return false
}

// fold lowercases text so Turkish dotted and dotless capitals match their
// lowercase phrase forms, and collapses whitespace.
func fold(s string) string {
	s = strings.NewReplacer("İ", "i", "I", "ı").Replace(s)
	s = strings.ToLower(s)
	s = strings.NewReplacer("ı", "i", "̇", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
