package matcher

import (
	"time"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
)

// DefaultMatchTimeout bounds a single combined-pattern scan.
const DefaultMatchTimeout = 5 * time.Second

// Options contains configuration for ruleset compilation and matching.
type Options struct {
	// RegexOptions are passed to regexp2 for every rule and for the combined
	// pattern. RE2 mode keeps the gitleaks corpus closest to its authoring engine.
	RegexOptions regexp2.RegexOptions

	// MatchTimeout is the maximum time allowed for one FindMatch call.
	// Zero disables the bound.
	MatchTimeout time.Duration

	// KeywordPrefilter gates rules on their keywords (case-insensitive).
	KeywordPrefilter bool

	Logger *zap.Logger
}

// Option configures compilation.
type Option func(*Options)

// DefaultOptions returns the default options for the matcher
func DefaultOptions() Options {
	return Options{
		RegexOptions: regexp2.RE2,
		MatchTimeout: DefaultMatchTimeout,
	}
}

// WithMatchTimeout sets the per-scan time budget.
func WithMatchTimeout(d time.Duration) Option {
	return func(o *Options) { o.MatchTimeout = d }
}

// WithKeywordPrefilter enables keyword gating.
func WithKeywordPrefilter(enabled bool) Option {
	return func(o *Options) { o.KeywordPrefilter = enabled }
}

// WithRegexOptions overrides the regexp2 options.
func WithRegexOptions(opts regexp2.RegexOptions) Option {
	return func(o *Options) { o.RegexOptions = opts }
}

// WithLogger sets the logger used for compile warnings and weak-secret traces.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}
