package types

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
)

// RegexTarget selects what an allowlist regex is applied to.
type RegexTarget string

const (
	RegexTargetMatch RegexTarget = "match"
	RegexTargetLine  RegexTarget = "line"
)

// Condition combines the criteria of an allowlist entry.
type Condition string

const (
	ConditionOR  Condition = "OR"
	ConditionAND Condition = "AND"
)

// Allowlist is a rule-scoped suppression entry. It is carried for fidelity
// with the gitleaks rule dialect and is not evaluated while matching.
type Allowlist struct {
	Description string      `json:"description,omitempty"`
	Regexes     []string    `json:"regexes,omitempty"`
	RegexTarget RegexTarget `json:"regexTarget,omitempty"`
	Paths       []string    `json:"paths,omitempty"`
	Condition   Condition   `json:"condition,omitempty"`
	StopWords   []string    `json:"stopwords,omitempty"`
}

// Rule is one secret-detection definition. Rules are shared read-only once
// loaded; nothing in this module mutates a Rule after construction.
type Rule struct {
	ID                string      `json:"id"`                          // e.g., "aws-access-token"
	Description       string      `json:"description,omitempty"`       // human-readable
	Pattern           string      `json:"pattern,omitempty"`           // detection regex, source dialect
	Entropy           *float64    `json:"entropy,omitempty"`           // minimum Shannon entropy of the secret
	Keywords          []string    `json:"keywords,omitempty"`          // literal prefilter substrings
	ValidationPattern string      `json:"validationPattern,omitempty"` // carried, not applied
	Tags              []string    `json:"tags,omitempty"`
	Examples          []string    `json:"examples,omitempty"`
	NegativeExamples  []string    `json:"negativeExamples,omitempty"`
	PathPattern       string      `json:"pathPattern,omitempty"` // carried, not evaluated
	Allowlists        []Allowlist `json:"allowlists,omitempty"`  // carried, not evaluated
	SecretGroup       *int        `json:"secretGroup,omitempty"` // offset from the rule's own group
	StructuralID      string      `json:"structuralId,omitempty"`
}

// HasPattern reports whether the rule contributes to matching.
func (r *Rule) HasPattern() bool {
	return r != nil && r.Pattern != ""
}

// namedGroupRe matches named capture groups in either (?P<name>...) or
// (?<name>...) form so both spellings hash identically.
var namedGroupRe = regexp.MustCompile(`\(\?P?<[A-Za-z_][A-Za-z0-9_]*>`)

// ComputeStructuralID computes SHA-1 of the pattern with named capture groups
// normalized to plain groups. Renaming a group does not change the ID.
func (r *Rule) ComputeStructuralID() string {
	normalized := namedGroupRe.ReplaceAllString(r.Pattern, "(")
	h := sha1.New()
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}
