package scanner

import (
	"errors"
	"fmt"

	"github.com/suche/seccheck/pkg/types"
)

// ErrNoRuleset is returned by ScanContent while no ruleset is published.
var ErrNoRuleset = errors.New("no ruleset available")

// ContentReadError reports a blob that could not be read.
type ContentReadError struct {
	Path string
	ID   types.BlobID
	Err  error
}

func (e *ContentReadError) Error() string {
	return fmt.Sprintf("read %s (%s): %v", e.Path, e.ID, e.Err)
}

func (e *ContentReadError) Unwrap() error { return e.Err }

// ExtractionError reports a rich document whose text could not be extracted.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract text from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
