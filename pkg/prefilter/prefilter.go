package prefilter

import (
	"bytes"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/suche/seccheck/pkg/types"
)

// Prefilter uses Aho-Corasick for case-insensitive keyword gating.
type Prefilter struct {
	matcher        *ahocorasick.Matcher
	keywords       []string                 // lower-cased keyword at each index
	keywordRules   map[string][]*types.Rule // keyword -> rules needing it
	noKeywordRules []*types.Rule            // rules without keywords (always checked)
}

// New creates a prefilter from rules.
func New(rules []*types.Rule) *Prefilter {
	pf := &Prefilter{
		keywordRules:   make(map[string][]*types.Rule),
		noKeywordRules: make([]*types.Rule, 0),
	}

	keywordSet := make(map[string]bool)
	for _, rule := range rules {
		if !hasKeywords(rule) {
			pf.noKeywordRules = append(pf.noKeywordRules, rule)
			continue
		}
		for _, keyword := range rule.Keywords {
			keyword = strings.ToLower(keyword)
			if keyword == "" {
				continue
			}
			if !keywordSet[keyword] {
				keywordSet[keyword] = true
				pf.keywords = append(pf.keywords, keyword)
			}
			pf.keywordRules[keyword] = append(pf.keywordRules[keyword], rule)
		}
	}

	if len(pf.keywords) > 0 {
		pf.matcher = ahocorasick.NewStringMatcher(pf.keywords)
	}

	return pf
}

// hasKeywords treats a keyword list of only empty strings as no keywords.
func hasKeywords(rule *types.Rule) bool {
	for _, k := range rule.Keywords {
		if k != "" {
			return true
		}
	}
	return false
}

// AlwaysChecks reports whether some rule has no keywords, in which case the
// combined pattern must always run.
func (pf *Prefilter) AlwaysChecks() bool {
	return len(pf.noKeywordRules) > 0
}

// Filter returns rules that might match content (keywords found OR no keywords defined).
func (pf *Prefilter) Filter(content []byte) []*types.Rule {
	result := make([]*types.Rule, 0, len(pf.noKeywordRules))
	result = append(result, pf.noKeywordRules...)

	if pf.matcher == nil {
		return result
	}

	hits := pf.matcher.Match(bytes.ToLower(content))

	seenRules := make(map[*types.Rule]bool)
	for _, rule := range pf.noKeywordRules {
		seenRules[rule] = true
	}

	for _, hit := range hits {
		keyword := pf.keywords[hit]
		for _, rule := range pf.keywordRules[keyword] {
			if !seenRules[rule] {
				seenRules[rule] = true
				result = append(result, rule)
			}
		}
	}

	return result
}

// Admitted returns the ids of the rules Filter would return.
func (pf *Prefilter) Admitted(content []byte) map[string]bool {
	rules := pf.Filter(content)
	ids := make(map[string]bool, len(rules))
	for _, r := range rules {
		ids[r.ID] = true
	}
	return ids
}
