package types

import (
	"strings"
)

// ZeroID is the all-zero object name git uses for "no object".
const ZeroID = "0000000000000000000000000000000000000000"

// ScanCandidate is one (path, content) pair produced from a ref update.
type ScanCandidate struct {
	Path      string `json:"path"`
	ContentID BlobID `json:"contentId"`
	Size      int64  `json:"size"` // -1 when the enumerator did not know it
}

// ChangeKind classifies a ref update.
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

// String returns the string representation of ChangeKind
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RefUpdate is one line of a push: the ref and its old and new object names.
type RefUpdate struct {
	Name  string `json:"ref"`
	OldID string `json:"old"`
	NewID string `json:"new"`
}

// Kind derives the change kind from the old and new ids.
func (u RefUpdate) Kind() ChangeKind {
	switch {
	case isZero(u.NewID):
		return ChangeDelete
	case isZero(u.OldID):
		return ChangeCreate
	default:
		return ChangeUpdate
	}
}

func isZero(id string) bool {
	return strings.Trim(id, "0") == ""
}

// ParseRefUpdate parses a pre-receive hook line "<old> <new> <ref>".
func ParseRefUpdate(line string) (RefUpdate, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return RefUpdate{}, false
	}
	return RefUpdate{OldID: fields[0], NewID: fields[1], Name: fields[2]}, true
}

// RefDecision is the outcome for one ref update. A decision that is not
// Rejected leaves the update untouched.
type RefDecision struct {
	Ref      string   `json:"ref"`
	Rejected bool     `json:"rejected"`
	Lines    []string `json:"lines,omitempty"`
	Message  string   `json:"message,omitempty"`
	Scanned  int      `json:"scanned"` // candidates that reached the matcher
}
