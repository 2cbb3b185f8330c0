// Package sarif renders findings as a SARIF 2.1.0 log for code scanning
// dashboards.
package sarif

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/suche/seccheck/pkg/types"
)

// SARIF 2.1.0 constants
const (
	SchemaURI = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"
	Version   = "2.1.0"
	ToolName  = "seccheck"
)

// Report is the top-level SARIF log.
type Report struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

// Run is one invocation of seccheck.
type Run struct {
	Tool    Tool     `json:"tool"`
	Results []Result `json:"results"`
}

type Tool struct {
	Driver Driver `json:"driver"`
}

// Driver lists the rules results refer to by index.
type Driver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

type Rule struct {
	ID               string           `json:"id"`
	ShortDescription ShortDescription `json:"shortDescription"`
	Properties       *RuleProperties  `json:"properties,omitempty"`
}

type ShortDescription struct {
	Text string `json:"text"`
}

type RuleProperties struct {
	Tags []string `json:"tags,omitempty"`
}

// Result is one finding. The secret is never included.
type Result struct {
	RuleID    string     `json:"ruleId"`
	RuleIndex int        `json:"ruleIndex"`
	Level     string     `json:"level"`
	Message   Message    `json:"message"`
	Locations []Location `json:"locations"`
}

type Message struct {
	Text string `json:"text"`
}

type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation"`
}

type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           *Region          `json:"region,omitempty"`
}

type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Region carries the line of the match start; columns are not tracked.
type Region struct {
	StartLine int `json:"startLine"`
}

// NewReport creates an empty report for the given seccheck version.
func NewReport(toolVersion string) *Report {
	return &Report{
		Schema:  SchemaURI,
		Version: Version,
		Runs: []Run{
			{
				Tool: Tool{
					Driver: Driver{
						Name:    ToolName,
						Version: toolVersion,
						Rules:   []Rule{},
					},
				},
				Results: []Result{},
			},
		},
	}
}

// AddResult records finding in path. The finding's rule is added to the
// driver on first use.
func (r *Report) AddResult(finding *types.Finding, path string) {
	run := &r.Runs[0]
	index := r.ruleIndex(finding.Rule)

	var region *Region
	if finding.Line > 0 {
		region = &Region{StartLine: finding.Line}
	}

	run.Results = append(run.Results, Result{
		RuleID:    finding.RuleID(),
		RuleIndex: index,
		Level:     "error",
		Message:   Message{Text: finding.RejectionLine(path)},
		Locations: []Location{
			{
				PhysicalLocation: PhysicalLocation{
					ArtifactLocation: ArtifactLocation{URI: formatFileURI(path)},
					Region:           region,
				},
			},
		},
	})
}

func (r *Report) ruleIndex(rule *types.Rule) int {
	driver := &r.Runs[0].Tool.Driver
	id := ""
	if rule != nil {
		id = rule.ID
	}
	for i, existing := range driver.Rules {
		if existing.ID == id {
			return i
		}
	}

	entry := Rule{ID: id}
	if rule != nil {
		entry.ShortDescription.Text = strings.TrimSpace(rule.Description)
		if len(rule.Tags) > 0 {
			entry.Properties = &RuleProperties{Tags: rule.Tags}
		}
	}
	if entry.ShortDescription.Text == "" {
		entry.ShortDescription.Text = id
	}
	driver.Rules = append(driver.Rules, entry)
	return len(driver.Rules) - 1
}

// ToJSON serializes the report to JSON bytes
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// formatFileURI converts a file path to SARIF URI format
// Absolute paths get file:// prefix, relative paths stay as-is
func formatFileURI(path string) string {
	if filepath.IsAbs(path) {
		path = filepath.ToSlash(path)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return "file://" + path
	}
	return filepath.ToSlash(path)
}
