package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupNames(groups []captureGroup) []string {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.name
	}
	return names
}

func TestScanGroups(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"no groups", `AKIA[0-9A-Z]{16}`, []string{}},
		{"unnamed", `(a)(b(c))`, []string{"", "", ""}},
		{"non-capturing and lookarounds", `(?:a)(?=b)(?!c)(?<=d)(?<!e)(f)`, []string{""}},
		{"named forms", `(?<n>a)(?P<m>b)(?'q'c)`, []string{"n", "m", "q"}},
		{"escaped and class parens", `\((x)[(]\)`, []string{""}},
		{"inline flag group", `(?i:abc)(?i)(d)`, []string{""}},
		{"comment group", `(?#note)(b)`, []string{""}},
		{"extended comments", "(?x) (a) # (b)\n (c)", []string{"", ""}},
		{"mixed order", `(?<pre>ghp)_([a-z]+)(?:x(y))?`, []string{"pre", "", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := scanGroups(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, groupNames(groups))
		})
	}
}

func TestScanGroups_ExplicitCapture(t *testing.T) {
	_, err := scanGroups(`(?n)(a)`)
	assert.ErrorIs(t, err, errExplicitCapture)
}

func TestDistinctCount(t *testing.T) {
	groups := []captureGroup{{}, {name: "a"}, {name: "a"}, {}, {name: "b"}}
	assert.Equal(t, 4, distinctCount(groups))
}
