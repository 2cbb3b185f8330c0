package ruleset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/suche/seccheck/pkg/matcher"
	"github.com/suche/seccheck/pkg/rule"
	"github.com/suche/seccheck/pkg/telemetry"
	"github.com/suche/seccheck/pkg/types"
)

func compiled(t *testing.T, id, pattern string) *matcher.Ruleset {
	t.Helper()
	rs, err := matcher.Compile([]*types.Rule{{ID: id, Pattern: pattern}})
	require.NoError(t, err)
	return rs
}

func TestProvider_NothingPublished(t *testing.T) {
	p := New(func(context.Context) (*matcher.Ruleset, error) {
		return nil, errors.New("unreachable")
	})

	assert.Nil(t, p.Current())
	select {
	case <-p.Ready():
		t.Fatal("ready before any publish")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rs, err := p.Wait(ctx)
	assert.Nil(t, rs)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProvider_StartPublishes(t *testing.T) {
	want := compiled(t, "aws-key", `AKIA[0-9A-Z]{16}`)
	release := make(chan struct{})
	p := New(func(context.Context) (*matcher.Ruleset, error) {
		<-release
		return want, nil
	})

	p.Start(context.Background())
	assert.Nil(t, p.Current(), "scans before the build completes see no ruleset")
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestProvider_FailedReloadKeepsPrevious(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	first := compiled(t, "first", `first[0-9]+`)
	fail := false
	p := New(func(context.Context) (*matcher.Ruleset, error) {
		if fail {
			return nil, &matcher.RulesetCompileError{Err: errors.New("boom")}
		}
		return first, nil
	}, WithMetrics(metrics))

	require.NoError(t, p.Reload(context.Background()))
	snapshot := p.Current()

	fail = true
	err := p.Reload(context.Background())
	var rce *matcher.RulesetCompileError
	assert.ErrorAs(t, err, &rce)
	assert.Same(t, snapshot, p.Current())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RulesetLoadsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RulesetLoadsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RulesetRules))
}

func TestProvider_SnapshotsAreStable(t *testing.T) {
	a := compiled(t, "a", `alpha`)
	b := compiled(t, "b", `beta`)
	p := New(nil)

	p.Publish(a)
	held := p.Current()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Publish(b)
			_ = p.Current()
		}()
	}
	wg.Wait()

	assert.Same(t, a, held)
	assert.Same(t, b, p.Current())
}

func TestFromSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	doc := `
[[rules]]
id = "aws-access-token"
regex = '''AKIA[0-9A-Z]{16}'''

[[rules]]
id = "github-pat"
regex = '''ghp_[0-9a-zA-Z]{36}'''
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	build := FromSource(&rule.Source{Path: path}, rule.NewLoader(nil),
		rule.FilterConfig{Exclude: []string{"^github-"}})
	rs, err := build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rs.Len())
	_, ok := rs.Rule("aws-access-token")
	assert.True(t, ok)
}

func TestFromSource_ReportsExcludedRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	doc := `
[[rules]]
id = "aws-access-token"
regex = '''AKIA[0-9A-Z]{16}'''

[[rules]]
id = "broken"
regex = '''([a-z]'''
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)
	p := New(FromSource(&rule.Source{Path: path}, rule.NewLoader(logger), rule.FilterConfig{},
		matcher.WithLogger(logger)), WithLogger(logger))
	require.NoError(t, p.Reload(context.Background()))

	assert.Equal(t, 1, p.Current().Len())
	entries := logs.FilterMessage("excluding rule from ruleset").FilterField(zap.String("rule", "broken")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

func TestProvider_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	write := func(pattern string) {
		doc := "[[rules]]\nid = \"watched\"\nregex = '''" + pattern + "'''\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	}
	write(`first[0-9]+`)

	p := New(FromSource(&rule.Source{Path: path}, rule.NewLoader(nil), rule.FilterConfig{}))
	require.NoError(t, p.Reload(context.Background()))
	before := p.Current().Fingerprint()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Watch(ctx, path, 20*time.Millisecond))

	write(`second[0-9]+`)

	require.Eventually(t, func() bool {
		return p.Current().Fingerprint() != before
	}, 5*time.Second, 20*time.Millisecond)

	f, err := p.Current().FindMatch("second42")
	require.NoError(t, err)
	assert.NotNil(t, f)
}
