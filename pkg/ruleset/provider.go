// Package ruleset owns the lifecycle of the compiled ruleset: building it in
// the background, publishing immutable snapshots, and rebuilding on change.
package ruleset

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/suche/seccheck/pkg/matcher"
	"github.com/suche/seccheck/pkg/rule"
	"github.com/suche/seccheck/pkg/telemetry"
	"go.uber.org/zap"
)

// BuildFunc produces a new ruleset.
type BuildFunc func(ctx context.Context) (*matcher.Ruleset, error)

// Provider publishes the current ruleset. Readers call Current once per unit
// of work and keep using that snapshot; a later publish never affects it.
type Provider struct {
	current atomic.Pointer[matcher.Ruleset]
	build   BuildFunc

	ready     chan struct{}
	readyOnce sync.Once
	buildMu   sync.Mutex

	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithMetrics records build outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

// New creates a provider with nothing published yet.
func New(build BuildFunc, opts ...Option) *Provider {
	p := &Provider{
		build:  build,
		ready:  make(chan struct{}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// FromSource returns a BuildFunc that loads the document from src, applies
// filter, and compiles the result.
func FromSource(src *rule.Source, loader *rule.Loader, filter rule.FilterConfig, opts ...matcher.Option) BuildFunc {
	return func(ctx context.Context) (*matcher.Ruleset, error) {
		doc, err := src.Load(ctx, loader)
		if err != nil {
			return nil, err
		}
		rules, err := rule.Filter(doc.Rules, filter)
		if err != nil {
			return nil, err
		}
		return matcher.Compile(rules, opts...)
	}
}

// Current returns the published ruleset, or nil if none is available yet.
func (p *Provider) Current() *matcher.Ruleset {
	return p.current.Load()
}

// Ready is closed once the first ruleset has been published.
func (p *Provider) Ready() <-chan struct{} {
	return p.ready
}

// Wait blocks until a ruleset is published or ctx ends.
func (p *Provider) Wait(ctx context.Context) (*matcher.Ruleset, error) {
	select {
	case <-p.ready:
		return p.Current(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish makes rs the current ruleset.
func (p *Provider) Publish(rs *matcher.Ruleset) {
	if rs == nil {
		return
	}
	p.current.Store(rs)
	p.metrics.RecordRulesetLoad(true, rs.Len())
	p.readyOnce.Do(func() { close(p.ready) })

	p.logger.Info("ruleset published",
		zap.Int("rules", rs.Len()),
		zap.Int("excluded", len(rs.Excluded())),
		zap.String("fingerprint", rs.Fingerprint()))
}

// Reload builds a new ruleset and publishes it. On failure the previous
// ruleset, if any, stays in effect.
func (p *Provider) Reload(ctx context.Context) error {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	rs, err := p.build(ctx)
	if err != nil {
		p.metrics.RecordRulesetLoad(false, 0)
		p.logger.Error("building ruleset failed",
			zap.Bool("previous_retained", p.Current() != nil),
			zap.Error(err))
		return err
	}
	p.Publish(rs)
	return nil
}

// Start builds the first ruleset in the background.
func (p *Provider) Start(ctx context.Context) {
	go func() {
		_ = p.Reload(ctx)
	}()
}
