package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/suche/seccheck/pkg/logging"
	"github.com/suche/seccheck/pkg/matcher"
	"github.com/suche/seccheck/pkg/rule"
	"github.com/suche/seccheck/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seccheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, rule.DefaultPath, cfg.Ruleset.Path)
	assert.Equal(t, rule.DefaultURL, cfg.Ruleset.URL)
	assert.Equal(t, matcher.DefaultMatchTimeout, cfg.Scan.MatchTimeout)
	assert.True(t, cfg.Scan.SniffBinary)
	assert.Empty(t, cfg.Log.Output)
	assert.Equal(t, logging.OutputDiscard, cfg.Logging(logging.OutputDiscard).Output)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
ruleset:
  path: /etc/seccheck/rules.yaml
  embedded_fallback: true
  watch: true
  exclude: ["^generic-"]
scan:
  match_timeout: 2s
  max_file_size: 1048576
  workers: 4
  ignore_paths:
    - vendor/
    - "*.lock"
  keyword_prefilter: true
log:
  level: debug
  format: console
  output: /var/log/seccheck.log
metrics:
  addr: 127.0.0.1:9108
hook:
  ruleset_wait: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/etc/seccheck/rules.yaml", cfg.Ruleset.Path)
	assert.Equal(t, rule.DefaultURL, cfg.Ruleset.URL, "unset keys keep their defaults")
	assert.True(t, cfg.Ruleset.EmbeddedFallback)
	assert.True(t, cfg.Ruleset.Watch)
	assert.Equal(t, []string{"^generic-"}, cfg.RuleFilter().Exclude)
	assert.Equal(t, 2*time.Second, cfg.Scan.MatchTimeout)
	assert.Equal(t, int64(1048576), cfg.Scan.MaxFileSize)
	assert.Equal(t, []string{"vendor/", "*.lock"}, cfg.Scan.IgnorePaths)
	assert.True(t, cfg.Scan.KeywordPrefilter)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/seccheck.log", cfg.Logging(logging.OutputDiscard).Output)
	assert.Equal(t, "127.0.0.1:9108", cfg.Metrics.Addr)
	assert.Equal(t, 5*time.Second, cfg.Hook.RulesetWait)

	sc := cfg.ScannerConfig()
	assert.Equal(t, 4, sc.Workers)
	assert.Equal(t, cfg.Scan.IgnorePaths, sc.IgnorePaths)
	assert.Len(t, cfg.MatcherOptions(zap.NewNop()), 3)
}

func TestMatcherOptions_LogsExcludedRules(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rules := []*types.Rule{
		{ID: "aws-key", Pattern: `AKIA[0-9A-Z]{16}`},
		{ID: "broken", Pattern: `([a-z]`},
	}

	rs, err := matcher.Compile(rules, Default().MatcherOptions(zap.New(core))...)
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, 1, logs.FilterField(zap.String("rule", "broken")).Len())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "scan:\n  workers: 2\n  max_file_size: 100\n")
	t.Setenv("SECCHECK_SCAN_WORKERS", "8")
	t.Setenv("SECCHECK_SCAN_CACHE_TTL", "90s")
	t.Setenv("SECCHECK_SCAN_IGNORE_EXTENSIONS", "png,jpg")
	t.Setenv("SECCHECK_RULESET_EMBEDDED_FALLBACK", "true")
	t.Setenv("SECCHECK_LOG_OUTPUT", "stdout")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Scan.Workers)
	assert.Equal(t, int64(100), cfg.Scan.MaxFileSize)
	assert.Equal(t, 90*time.Second, cfg.Scan.CacheTTL)
	assert.Equal(t, []string{"png", "jpg"}, cfg.Scan.IgnoreExtensions)
	assert.True(t, cfg.Ruleset.EmbeddedFallback)
	assert.Equal(t, "stdout", cfg.Log.Output)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "scan: [not, a, map"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, strings.Repeat("#", maxConfigFileSize+1)))
	assert.ErrorContains(t, err, "exceeds")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no ruleset source", func(c *Config) { c.Ruleset.Path, c.Ruleset.URL = "", "" }, "ruleset: one of path"},
		{"zero match timeout", func(c *Config) { c.Scan.MatchTimeout = 0 }, "scan.match_timeout"},
		{"negative workers", func(c *Config) { c.Scan.Workers = -1 }, "scan.workers"},
		{"negative size", func(c *Config) { c.Scan.MaxFileSize = -1 }, "scan.max_file_size"},
		{"bad exclude", func(c *Config) { c.Ruleset.Exclude = []string{"("} }, "invalid regex pattern"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
		{"negative wait", func(c *Config) { c.Hook.RulesetWait = -time.Second }, "hook.ruleset_wait"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	cfg.Ruleset.Path, cfg.Ruleset.URL = "", ""
	cfg.Ruleset.EmbeddedFallback = true
	assert.NoError(t, cfg.Validate(), "the embedded ruleset alone is a valid source")
}
