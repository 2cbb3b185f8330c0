package types

import "fmt"

// Finding is a detected secret together with the rule that detected it.
// A scan yields at most one Finding per content.
type Finding struct {
	Secret string // captured secret substring (may be empty)
	Match  string // full text of the firing rule's group
	Rule   *Rule
	Line   int // 1-based line of the match start, 0 when unknown
}

// RuleID returns the owning rule's id, or "" for a nil finding.
func (f *Finding) RuleID() string {
	if f == nil || f.Rule == nil {
		return ""
	}
	return f.Rule.ID
}

// RejectionLine formats the committer-visible line for a finding in path.
// The secret is not included.
func (f *Finding) RejectionLine(path string) string {
	return fmt.Sprintf("secret detected by rule [%s] in file [%s]", f.RuleID(), path)
}
