package rule

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRules is returned when a document parses but defines no rules.
	ErrNoRules = errors.New("document defines no rules")

	// ErrNotFound is returned when no source could provide a document.
	ErrNotFound = errors.New("ruleset document not found")
)

// ConfigError reports a ruleset document that could not be read or parsed,
// or a single rule record that could not be coerced into a Rule.
type ConfigError struct {
	Source string // file path, URL, or "embedded"
	Index  int    // rule position in the document, -1 for document-level errors
	RuleID string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("ruleset %s: %v", e.Source, e.Err)
	}
	if e.RuleID != "" {
		return fmt.Sprintf("ruleset %s: rule %d (%s): %v", e.Source, e.Index, e.RuleID, e.Err)
	}
	return fmt.Sprintf("ruleset %s: rule %d: %v", e.Source, e.Index, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
