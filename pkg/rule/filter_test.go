package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suche/seccheck/pkg/types"
)

// gitleaksRules mirrors the id layout of the upstream gitleaks ruleset.
func gitleaksRules() []*types.Rule {
	return []*types.Rule{
		{ID: "aws-access-token", Pattern: `\b((?:AKIA|ASIA)[0-9A-Z]{16})\b`},
		{ID: "github-pat", Pattern: `ghp_[0-9a-zA-Z]{36}`},
		{ID: "generic-api-key", Pattern: `(?i)api_?key\s*=\s*([0-9a-z]{32})`},
		{ID: "github-fine-grained-pat", Pattern: `github_pat_\w{82}`},
		{ID: "private-key", Pattern: `-----BEGIN [A-Z ]*PRIVATE KEY-----`},
		{ID: "slack-bot-token", Pattern: `xoxb-[0-9]{10,13}-[0-9a-zA-Z]{24}`},
	}
}

func ids(rules []*types.Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

func TestFilterConfig_IsZero(t *testing.T) {
	assert.True(t, FilterConfig{}.IsZero())
	assert.True(t, FilterConfig{Include: []string{}, Exclude: nil}.IsZero())
	assert.False(t, FilterConfig{Exclude: []string{"^generic-"}}.IsZero())
	assert.False(t, FilterConfig{Include: []string{"^github-"}}.IsZero())
}

func TestFilterConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  FilterConfig
		wantErr string
	}{
		{name: "zero", config: FilterConfig{}},
		{name: "anchored ids", config: FilterConfig{Include: []string{"^github-"}, Exclude: []string{"-fine-grained-pat$"}}},
		{name: "bad include", config: FilterConfig{Include: []string{"^github-(pat"}}, wantErr: `invalid regex pattern "^github-(pat"`},
		{name: "bad exclude after good", config: FilterConfig{Exclude: []string{"^generic-", "slack-[bot"}}, wantErr: `invalid regex pattern "slack-[bot"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFilter_GitleaksIDs(t *testing.T) {
	tests := []struct {
		name   string
		config FilterConfig
		want   []string
	}{
		{
			name:   "zero keeps document order",
			config: FilterConfig{},
			want:   []string{"aws-access-token", "github-pat", "generic-api-key", "github-fine-grained-pat", "private-key", "slack-bot-token"},
		},
		{
			name:   "drop noisy generic rules",
			config: FilterConfig{Exclude: []string{"^generic-"}},
			want:   []string{"aws-access-token", "github-pat", "github-fine-grained-pat", "private-key", "slack-bot-token"},
		},
		{
			name:   "github only, order preserved across the gap",
			config: FilterConfig{Include: []string{"^github-"}},
			want:   []string{"github-pat", "github-fine-grained-pat"},
		},
		{
			name:   "include runs before exclude",
			config: FilterConfig{Include: []string{"^github-", "^slack-"}, Exclude: []string{"fine-grained"}},
			want:   []string{"github-pat", "slack-bot-token"},
		},
		{
			name:   "unanchored pattern matches inside ids",
			config: FilterConfig{Include: []string{"token"}},
			want:   []string{"aws-access-token", "slack-bot-token"},
		},
		{
			name:   "nothing selected",
			config: FilterConfig{Include: []string{"^gitlab-"}},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered, err := Filter(gitleaksRules(), tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(filtered))
		})
	}
}

func TestFilter_KeepsRulePointers(t *testing.T) {
	rules := gitleaksRules()
	filtered, err := Filter(rules, FilterConfig{Include: []string{"^private-key$"}})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Same(t, rules[4], filtered[0])
}

func TestFilter_InvalidPattern(t *testing.T) {
	_, err := Filter(gitleaksRules(), FilterConfig{Exclude: []string{"(generic"}})
	assert.ErrorContains(t, err, "invalid regex pattern")

	filtered, err := Filter(nil, FilterConfig{Exclude: []string{"(generic"}})
	require.NoError(t, err, "an empty document is returned before patterns compile")
	assert.Empty(t, filtered)
}

func TestParsePatterns(t *testing.T) {
	assert.Equal(t, []string{}, ParsePatterns(""))
	assert.Equal(t, []string{"^generic-", "^github-pat$"}, ParsePatterns(" ^generic- ,, ^github-pat$ "))
}
