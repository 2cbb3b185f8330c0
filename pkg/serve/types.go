package serve

import (
	"encoding/json"

	"github.com/suche/seccheck/pkg/types"
)

// Request represents an incoming NDJSON request
type Request struct {
	Type    string          `json:"type"` // "evaluate" | "scan" | "status" | "close"
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// EvaluatePayload is the payload for "evaluate" requests: one push against
// one repository.
type EvaluatePayload struct {
	Repository string            `json:"repository"`
	Quarantine string            `json:"quarantine,omitempty"`
	Updates    []types.RefUpdate `json:"updates"`
}

// EvaluateData is the data field for "evaluate" responses
type EvaluateData struct {
	Decisions  []types.RefDecision `json:"decisions"`
	Rejections []string            `json:"rejections"`
}

// ScanPayload is the payload for "scan" requests
type ScanPayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ScanData is the data field for "scan" responses. Rule is empty when
// nothing was found.
type ScanData struct {
	Path      string `json:"path"`
	Rule      string `json:"rule,omitempty"`
	Line      int    `json:"line,omitempty"`
	Rejection string `json:"rejection,omitempty"`
}

// StatusData is the data field for "status" and "ready" responses
type StatusData struct {
	Version     string `json:"version"`
	Ready       bool   `json:"ready"`
	Rules       int    `json:"rules"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Response represents an outgoing NDJSON response
type Response struct {
	Success bool            `json:"success"`
	Type    string          `json:"type"` // "ready" | request type | "decode"
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}
