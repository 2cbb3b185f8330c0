package matcher

import (
	"errors"
	"fmt"
)

// ErrMatchTimeout is returned by FindMatch when the per-scan time budget is
// exhausted. Callers treat it as "no finding".
var ErrMatchTimeout = errors.New("regex match timeout")

// InvalidPatternError reports a pattern that cannot be expressed in the
// target dialect.
type InvalidPatternError struct {
	Pattern string // pattern as given (source dialect)
	Reason  string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid pattern %q: %s: %v", e.Pattern, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// RuleCompileError reports a single rule excluded from a ruleset.
type RuleCompileError struct {
	RuleID string
	Err    error
}

func (e *RuleCompileError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleCompileError) Unwrap() error { return e.Err }

// RulesetCompileError reports a failure of the whole ruleset build.
type RulesetCompileError struct {
	Err error
}

func (e *RulesetCompileError) Error() string {
	return fmt.Sprintf("compiling ruleset: %v", e.Err)
}

func (e *RulesetCompileError) Unwrap() error { return e.Err }
