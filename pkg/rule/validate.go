package rule

import (
	"errors"
	"fmt"

	"github.com/suche/seccheck/pkg/matcher"
	"github.com/suche/seccheck/pkg/types"
)

// ValidateRule checks rule consistency and required fields.
func ValidateRule(r *types.Rule) error {
	if r == nil {
		return fmt.Errorf("rule is nil")
	}
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if r.SecretGroup != nil && *r.SecretGroup < 0 {
		return fmt.Errorf("rule %s has negative secretGroup %d", r.ID, *r.SecretGroup)
	}
	if r.Entropy != nil && *r.Entropy < 0 {
		return fmt.Errorf("rule %s has negative entropy %g", r.ID, *r.Entropy)
	}
	if r.Pattern != "" {
		if _, _, err := matcher.TranslateAndCompile(r.Pattern, matcher.DefaultOptions().RegexOptions); err != nil {
			return fmt.Errorf("invalid pattern for rule %s: %w", r.ID, err)
		}
	}

	expectedID := r.ComputeStructuralID()
	if r.StructuralID != "" && r.StructuralID != expectedID {
		return fmt.Errorf("rule %s has inconsistent StructuralID: got %s, expected %s",
			r.ID, r.StructuralID, expectedID)
	}

	return nil
}

// ExampleFailure describes an example that did not behave as declared.
type ExampleFailure struct {
	RuleID   string
	Example  string
	Negative bool  // true for a negative example that produced a finding
	Err      error // compile or match error, if any
}

func (f ExampleFailure) String() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.RuleID, f.Err)
	case f.Negative:
		return fmt.Sprintf("%s: negative example matched: %q", f.RuleID, f.Example)
	default:
		return fmt.Sprintf("%s: example did not match: %q", f.RuleID, f.Example)
	}
}

// CheckExamples compiles each rule on its own and verifies that every example
// yields a finding for that rule and no negative example does.
func CheckExamples(rules []*types.Rule, opts ...matcher.Option) []ExampleFailure {
	var failures []ExampleFailure
	for _, r := range rules {
		if !r.HasPattern() || (len(r.Examples) == 0 && len(r.NegativeExamples) == 0) {
			continue
		}

		rs, err := matcher.Compile([]*types.Rule{r}, opts...)
		if err == nil && rs.Len() == 0 {
			if excluded := rs.Excluded(); len(excluded) > 0 {
				err = excluded[0]
			} else {
				err = errors.New("rule was not compiled")
			}
		}
		if err != nil {
			failures = append(failures, ExampleFailure{RuleID: r.ID, Err: err})
			continue
		}

		for _, ex := range r.Examples {
			f, err := rs.FindMatch(ex)
			if err != nil || f == nil {
				failures = append(failures, ExampleFailure{RuleID: r.ID, Example: ex, Err: err})
			}
		}
		for _, ex := range r.NegativeExamples {
			f, err := rs.FindMatch(ex)
			if err != nil || f != nil {
				failures = append(failures, ExampleFailure{RuleID: r.ID, Example: ex, Negative: true, Err: err})
			}
		}
	}
	return failures
}
