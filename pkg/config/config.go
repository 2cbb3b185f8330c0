// Package config loads seccheck configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/suche/seccheck/pkg/logging"
	"github.com/suche/seccheck/pkg/matcher"
	"github.com/suche/seccheck/pkg/rule"
	"github.com/suche/seccheck/pkg/scanner"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SECCHECK_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Config is the complete seccheck configuration.
type Config struct {
	Ruleset RulesetConfig  `koanf:"ruleset"`
	Scan    ScanConfig     `koanf:"scan"`
	Log     logging.Config `koanf:"log"`
	Metrics MetricsConfig  `koanf:"metrics"`
	Hook    HookConfig     `koanf:"hook"`
}

// RulesetConfig locates and filters the ruleset document.
type RulesetConfig struct {
	Path             string        `koanf:"path"`
	URL              string        `koanf:"url"`
	FetchTimeout     time.Duration `koanf:"fetch_timeout"`
	Retries          int           `koanf:"retries"`
	EmbeddedFallback bool          `koanf:"embedded_fallback"`
	Watch            bool          `koanf:"watch"`
	Include          []string      `koanf:"include"`
	Exclude          []string      `koanf:"exclude"`
}

// ScanConfig controls candidate selection and matching.
type ScanConfig struct {
	MatchTimeout     time.Duration `koanf:"match_timeout"`
	MaxFileSize      int64         `koanf:"max_file_size"`
	Workers          int           `koanf:"workers"`
	IgnoreExtensions []string      `koanf:"ignore_extensions"`
	IgnorePaths      []string      `koanf:"ignore_paths"`
	SniffBinary      bool          `koanf:"sniff_binary"`
	KeywordPrefilter bool          `koanf:"keyword_prefilter"`
	CacheTTL         time.Duration `koanf:"cache_ttl"`
	CacheCapacity    uint64        `koanf:"cache_capacity"`
}

// MetricsConfig configures the HTTP endpoint of the serve command.
type MetricsConfig struct {
	Addr string `koanf:"addr"` // empty disables the endpoint
}

// HookConfig controls the git hook commands.
type HookConfig struct {
	// RulesetWait bounds how long a hook waits for the first ruleset before
	// accepting the push unscanned.
	RulesetWait time.Duration `koanf:"ruleset_wait"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sc := scanner.DefaultConfig()
	log := logging.NewDefaultConfig()
	// Empty output lets each command pick its own destination.
	log.Output = ""
	return &Config{
		Ruleset: RulesetConfig{
			Path:         rule.DefaultPath,
			URL:          rule.DefaultURL,
			FetchTimeout: rule.DefaultFetchTimeout,
			Retries:      2,
		},
		Scan: ScanConfig{
			MatchTimeout:  matcher.DefaultMatchTimeout,
			MaxFileSize:   sc.MaxFileSize,
			SniffBinary:   sc.SniffBinary,
			CacheTTL:      sc.CacheTTL,
			CacheCapacity: sc.CacheCapacity,
		},
		Log: log,
		Hook: HookConfig{
			RulesetWait: 20 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and SECCHECK_* environment variables, in increasing
// order of precedence.
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	SECCHECK_SCAN_MAX_FILE_SIZE -> scan.max_file_size
//	SECCHECK_RULESET_PATH       -> ruleset.path
//
// List values are comma separated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// listKeys are split on commas when set from the environment.
var listKeys = map[string]bool{
	"ruleset.include":        true,
	"ruleset.exclude":        true,
	"scan.ignore_extensions": true,
	"scan.ignore_paths":      true,
}

func envValue(name, value string) (string, interface{}) {
	key := envKey(name)
	if listKeys[key] {
		return key, rule.ParsePatterns(value)
	}
	return key, value
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// Validate checks the configuration for nonsensical values.
func (c *Config) Validate() error {
	var errs []error
	if c.Ruleset.Path == "" && c.Ruleset.URL == "" && !c.Ruleset.EmbeddedFallback {
		errs = append(errs, errors.New("ruleset: one of path, url or embedded_fallback is required"))
	}
	if c.Ruleset.FetchTimeout <= 0 {
		errs = append(errs, errors.New("ruleset.fetch_timeout must be positive"))
	}
	if c.Ruleset.Retries < 0 {
		errs = append(errs, errors.New("ruleset.retries must not be negative"))
	}
	if err := c.RuleFilter().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ruleset: %w", err))
	}
	if c.Scan.MatchTimeout <= 0 {
		errs = append(errs, errors.New("scan.match_timeout must be positive"))
	}
	if c.Scan.MaxFileSize < 0 {
		errs = append(errs, errors.New("scan.max_file_size must not be negative"))
	}
	if c.Scan.Workers < 0 {
		errs = append(errs, errors.New("scan.workers must not be negative"))
	}
	if c.Scan.CacheTTL < 0 {
		errs = append(errs, errors.New("scan.cache_ttl must not be negative"))
	}
	if c.Hook.RulesetWait < 0 {
		errs = append(errs, errors.New("hook.ruleset_wait must not be negative"))
	}
	if err := c.Logging(logging.OutputStderr).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	return errors.Join(errs...)
}

// Logging returns the log configuration, writing to fallback when no output
// was configured.
func (c *Config) Logging(fallback string) logging.Config {
	lc := c.Log
	if lc.Output == "" {
		lc.Output = fallback
	}
	return lc
}

// RuleFilter returns the rule id filter.
func (c *Config) RuleFilter() rule.FilterConfig {
	return rule.FilterConfig{Include: c.Ruleset.Include, Exclude: c.Ruleset.Exclude}
}

// MatcherOptions returns the ruleset compile options. Rules dropped at
// compile time are reported through logger.
func (c *Config) MatcherOptions(logger *zap.Logger) []matcher.Option {
	return []matcher.Option{
		matcher.WithMatchTimeout(c.Scan.MatchTimeout),
		matcher.WithKeywordPrefilter(c.Scan.KeywordPrefilter),
		matcher.WithLogger(logger),
	}
}

// ScannerConfig returns the orchestrator settings.
func (c *Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		MaxFileSize:      c.Scan.MaxFileSize,
		Workers:          c.Scan.Workers,
		IgnoreExtensions: c.Scan.IgnoreExtensions,
		IgnorePaths:      c.Scan.IgnorePaths,
		SniffBinary:      c.Scan.SniffBinary,
		CacheTTL:         c.Scan.CacheTTL,
		CacheCapacity:    c.Scan.CacheCapacity,
	}
}
