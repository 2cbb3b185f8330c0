package rule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/suche/seccheck/pkg/types"
)

// rawRule is one rule record as written in a ruleset document. It accepts the
// gitleaks key names and their long-form aliases; setting both spellings to
// different values is a coercion error.
type rawRule struct {
	ID          string `toml:"id" yaml:"id"`
	Description string `toml:"description" yaml:"description"`

	Regex            string `toml:"regex" yaml:"regex"`
	DetectionPattern string `toml:"detectionPattern" yaml:"detectionPattern"`

	Entropy          *float64 `toml:"entropy" yaml:"entropy"`
	EntropyThreshold *float64 `toml:"entropyThreshold" yaml:"entropyThreshold"`

	SecretGroup       *int `toml:"secretGroup" yaml:"secretGroup"`
	SecretGroupOffset *int `toml:"secretGroupOffset" yaml:"secretGroupOffset"`

	Path        string `toml:"path" yaml:"path"`
	PathPattern string `toml:"pathPattern" yaml:"pathPattern"`

	ValidationRegex   string `toml:"validationRegex" yaml:"validationRegex"`
	ValidationPattern string `toml:"validationPattern" yaml:"validationPattern"`

	Keywords         []string `toml:"keywords" yaml:"keywords"`
	Tags             []string `toml:"tags" yaml:"tags"`
	Examples         []string `toml:"examples" yaml:"examples"`
	NegativeExamples []string `toml:"negativeExamples" yaml:"negativeExamples"`

	Allowlists []rawAllowlist `toml:"allowlists" yaml:"allowlists"`
	Allowlist  *rawAllowlist  `toml:"allowlist" yaml:"allowlist"`
}

// rawAllowlist mirrors a gitleaks [[rules.allowlists]] table. Commits are
// accepted but dropped: a pushed blob has no single commit to compare.
type rawAllowlist struct {
	Description string   `toml:"description" yaml:"description"`
	Condition   string   `toml:"condition" yaml:"condition"`
	Commits     []string `toml:"commits" yaml:"commits"`
	Paths       []string `toml:"paths" yaml:"paths"`
	RegexTarget string   `toml:"regexTarget" yaml:"regexTarget"`
	Regexes     []string `toml:"regexes" yaml:"regexes"`
	StopWords   []string `toml:"stopwords" yaml:"stopwords"`
}

// knownRuleKeys lists every key rawRule decodes.
var knownRuleKeys = map[string]bool{
	"id": true, "description": true,
	"regex": true, "detectionPattern": true,
	"entropy": true, "entropyThreshold": true,
	"secretGroup": true, "secretGroupOffset": true,
	"path": true, "pathPattern": true,
	"validationRegex": true, "validationPattern": true,
	"keywords": true, "tags": true, "examples": true, "negativeExamples": true,
	"allowlists": true, "allowlist": true,
}

// knownDocumentKeys are top-level gitleaks keys that carry no rules.
var knownDocumentKeys = map[string]bool{
	"title": true, "minVersion": true, "extend": true,
	"allowlist": true, "allowlists": true, "rules": true,
}

// toRule validates raw and converts it to a Rule.
func (raw *rawRule) toRule() (*types.Rule, error) {
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("id is required")
	}

	pattern, err := pickString("regex", raw.Regex, "detectionPattern", raw.DetectionPattern)
	if err != nil {
		return nil, err
	}
	path, err := pickString("path", raw.Path, "pathPattern", raw.PathPattern)
	if err != nil {
		return nil, err
	}
	validation, err := pickString("validationRegex", raw.ValidationRegex, "validationPattern", raw.ValidationPattern)
	if err != nil {
		return nil, err
	}

	entropy := raw.Entropy
	if raw.EntropyThreshold != nil {
		if entropy != nil && *entropy != *raw.EntropyThreshold {
			return nil, fmt.Errorf("conflicting values for entropy (%g) and entropyThreshold (%g)", *entropy, *raw.EntropyThreshold)
		}
		entropy = raw.EntropyThreshold
	}
	if entropy != nil && *entropy < 0 {
		return nil, fmt.Errorf("entropy must not be negative, got %g", *entropy)
	}

	group := raw.SecretGroup
	if raw.SecretGroupOffset != nil {
		if group != nil && *group != *raw.SecretGroupOffset {
			return nil, fmt.Errorf("conflicting values for secretGroup (%d) and secretGroupOffset (%d)", *group, *raw.SecretGroupOffset)
		}
		group = raw.SecretGroupOffset
	}
	if group != nil && *group < 0 {
		return nil, fmt.Errorf("secretGroup must not be negative, got %d", *group)
	}

	allowlists := raw.Allowlists
	if raw.Allowlist != nil {
		allowlists = append(allowlists, *raw.Allowlist)
	}
	converted := make([]types.Allowlist, 0, len(allowlists))
	for i, al := range allowlists {
		a, err := al.toAllowlist()
		if err != nil {
			return nil, fmt.Errorf("allowlist %d: %w", i, err)
		}
		converted = append(converted, a)
	}
	if len(converted) == 0 {
		converted = nil
	}

	r := &types.Rule{
		ID:                raw.ID,
		Description:       raw.Description,
		Pattern:           pattern,
		Entropy:           entropy,
		Keywords:          raw.Keywords,
		ValidationPattern: validation,
		Tags:              raw.Tags,
		Examples:          raw.Examples,
		NegativeExamples:  raw.NegativeExamples,
		PathPattern:       path,
		Allowlists:        converted,
		SecretGroup:       group,
	}
	r.StructuralID = r.ComputeStructuralID()
	return r, nil
}

func (al rawAllowlist) toAllowlist() (types.Allowlist, error) {
	a := types.Allowlist{
		Description: al.Description,
		Regexes:     al.Regexes,
		Paths:       al.Paths,
		StopWords:   al.StopWords,
	}

	switch target := types.RegexTarget(strings.ToLower(al.RegexTarget)); target {
	case "":
		a.RegexTarget = types.RegexTargetMatch
	case types.RegexTargetMatch, types.RegexTargetLine:
		a.RegexTarget = target
	default:
		return a, fmt.Errorf("regexTarget must be %q or %q, got %q", types.RegexTargetMatch, types.RegexTargetLine, al.RegexTarget)
	}

	switch cond := types.Condition(strings.ToUpper(al.Condition)); cond {
	case "":
		a.Condition = types.ConditionOR
	case types.ConditionOR, types.ConditionAND:
		a.Condition = cond
	default:
		return a, fmt.Errorf("condition must be %q or %q, got %q", types.ConditionOR, types.ConditionAND, al.Condition)
	}

	return a, nil
}

func pickString(key, value, aliasKey, alias string) (string, error) {
	switch {
	case alias == "":
		return value, nil
	case value == "" || value == alias:
		return alias, nil
	default:
		return "", fmt.Errorf("conflicting values for %s and %s", key, aliasKey)
	}
}
