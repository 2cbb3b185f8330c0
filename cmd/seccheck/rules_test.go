package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suche/seccheck/pkg/matcher"
)

func TestRunRulesList(t *testing.T) {
	useRules(t, testRules)

	// Create a test command with our buffer
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	err := runRulesList(cmd, []string{})
	require.NoError(t, err)

	// Verify output contains rule table headers and rows
	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "Keywords")
	assert.Contains(t, output, "aws-access-token")
	assert.Contains(t, output, "akia (+1)")
	assert.Contains(t, output, "generic-password")
}

func TestRunRulesListJSON(t *testing.T) {
	useRules(t, testRules)
	outputFormat = "json"

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	require.NoError(t, runRulesList(cmd, []string{}))

	var rules []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rules))
	require.Len(t, rules, 2)
	assert.Equal(t, "aws-access-token", rules[0]["id"])
}

func TestRunRulesList_Filtered(t *testing.T) {
	useRules(t, testRules)
	t.Setenv("SECCHECK_RULESET_EXCLUDE", "^generic-")

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	require.NoError(t, runRulesList(cmd, []string{}))
	assert.Contains(t, buf.String(), "aws-access-token")
	assert.NotContains(t, buf.String(), "generic-password")
}

func TestRunRulesList_UnknownFormat(t *testing.T) {
	useRules(t, testRules)
	outputFormat = "xml"

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	assert.ErrorContains(t, runRulesList(cmd, []string{}), "unknown output format")
}

func TestRunRulesCheck(t *testing.T) {
	useRules(t, testRules)

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	require.NoError(t, runRulesCheck(cmd, []string{}))
	assert.Contains(t, buf.String(), "2 rules compiled")
}

func TestRunRulesCheck_Problems(t *testing.T) {
	useRules(t, `
[[rules]]
id = "broken-example"
regex = '''token_[a-z]{8}'''
examples = ["token_ABCDEFGH"]

[[rules]]
id = "bad-regex"
regex = '''(unclosed'''

[[rules]]
id = "ok"
regex = '''secret_[0-9]{6}'''
`)

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	err := runRulesCheck(cmd, []string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "problem(s)")

	output := buf.String()
	assert.Contains(t, output, "excluded: rule bad-regex")
	assert.Contains(t, output, `example: broken-example: example did not match: "token_ABCDEFGH"`)
	assert.Contains(t, output, "2 rules compiled")
}

func TestRunRulesCheck_Groups(t *testing.T) {
	useRules(t, testRules)
	t.Setenv("SECCHECK_SCAN_KEYWORD_PREFILTER", "true")
	showGroups = true

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	require.NoError(t, runRulesCheck(cmd, []string{}))
	output := buf.String()
	assert.Contains(t, output, "group 1\t"+matcher.GroupName("aws-access-token")+"\taws-access-token")
	assert.Contains(t, output, matcher.GroupName("generic-password")+"\tgeneric-password")
	assert.Contains(t, output, "keyword prefilter: content without rule keywords is skipped")
}

func TestRunRulesCheck_KeywordlessRuleOpensGate(t *testing.T) {
	useRules(t, testRules+`
[[rules]]
id = "private-key"
regex = '''-----BEGIN [A-Z ]*PRIVATE KEY-----'''
`)
	t.Setenv("SECCHECK_SCAN_KEYWORD_PREFILTER", "true")

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	require.NoError(t, runRulesCheck(cmd, []string{}))
	assert.Contains(t, buf.String(), "3 rules compiled")
	assert.NotContains(t, buf.String(), "keyword prefilter")
}
