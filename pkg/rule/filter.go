package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/suche/seccheck/pkg/types"
)

// FilterConfig selects rules by id. Include is applied first, then Exclude;
// an empty Include keeps every rule.
type FilterConfig struct {
	Include []string // id regexes; only matching rules are kept
	Exclude []string // id regexes; matching rules are dropped
}

// IsZero reports whether the filter keeps every rule.
func (c FilterConfig) IsZero() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0
}

// Validate checks that every pattern compiles.
func (c FilterConfig) Validate() error {
	if _, err := compilePatterns(c.Include); err != nil {
		return err
	}
	_, err := compilePatterns(c.Exclude)
	return err
}

// ParsePatterns splits a comma-separated flag value into trimmed patterns.
func ParsePatterns(patterns string) []string {
	if patterns == "" {
		return []string{}
	}

	parts := strings.Split(patterns, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Filter applies config to rules, preserving order.
func Filter(rules []*types.Rule, config FilterConfig) ([]*types.Rule, error) {
	if len(rules) == 0 {
		return rules, nil
	}

	include, err := compilePatterns(config.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compilePatterns(config.Exclude)
	if err != nil {
		return nil, err
	}
	if include == nil && exclude == nil {
		return rules, nil
	}

	result := make([]*types.Rule, 0, len(rules))
	for _, rule := range rules {
		if include != nil && !matchesAny(rule.ID, include) {
			continue
		}
		if exclude != nil && matchesAny(rule.ID, exclude) {
			continue
		}
		result = append(result, rule)
	}
	return result, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(ruleID string, regexes []*regexp.Regexp) bool {
	for _, re := range regexes {
		if re.MatchString(ruleID) {
			return true
		}
	}
	return false
}
