// Package scanner decides which ref updates of a push carry secrets.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suche/seccheck/pkg/enum"
	"github.com/suche/seccheck/pkg/matcher"
	"github.com/suche/seccheck/pkg/telemetry"
	"github.com/suche/seccheck/pkg/types"
)

// Repository is the version-control side of a scan.
type Repository interface {
	// EnumerateTree lists every file reachable from rev.
	EnumerateTree(ctx context.Context, rev string) ([]types.ScanCandidate, error)
	// Diff lists files added or modified between two revisions.
	Diff(ctx context.Context, oldRev, newRev string) ([]types.ScanCandidate, error)
	// OpenContent reads one blob.
	OpenContent(ctx context.Context, id types.BlobID) ([]byte, error)
}

// TextExtractor turns a rich document into text.
type TextExtractor interface {
	ExtractText(path string, content []byte) (string, error)
}

// RulesetSource hands out the ruleset snapshot to scan with. It returns nil
// while no ruleset has been published.
type RulesetSource interface {
	Current() *matcher.Ruleset
}

// Static serves one fixed ruleset.
type Static struct{ Ruleset *matcher.Ruleset }

// Current implements RulesetSource.
func (s Static) Current() *matcher.Ruleset { return s.Ruleset }

// Extraction modes, part of the verdict cache key.
const (
	modeText    = "text"
	modeExtract = "extract"
)

// Config controls candidate selection and scan resources.
type Config struct {
	// MaxFileSize skips larger candidates (0 = no limit).
	MaxFileSize int64
	// Workers bounds concurrent candidate scans per ref update (0 = one per CPU).
	Workers int
	// IgnoreExtensions replaces enum.DefaultIgnoreExtensions when non-nil.
	IgnoreExtensions []string
	// IgnorePaths are gitignore-style patterns of paths never scanned.
	IgnorePaths []string
	// SniffBinary skips non-rich candidates whose content is not text.
	SniffBinary bool
	// CacheTTL is how long a verdict is remembered (0 disables the cache).
	CacheTTL time.Duration
	// CacheCapacity bounds the number of cached verdicts (0 = unbounded).
	CacheCapacity uint64
}

// DefaultConfig returns the settings used by the hook commands.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:   10 * 1024 * 1024,
		SniffBinary:   true,
		CacheTTL:      10 * time.Minute,
		CacheCapacity: 100_000,
	}
}

// verdict is the cached result of scanning one blob.
type verdict struct {
	finding *types.Finding
}

// Core evaluates ref updates against the current ruleset.
type Core struct {
	cfg       Config
	rules     RulesetSource
	filter    *enum.PathFilter
	extractor TextExtractor
	cache     *ttlcache.Cache[string, verdict]
	logger    *zap.Logger
	metrics   *telemetry.Metrics
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the operator log.
func WithLogger(l *zap.Logger) Option {
	return func(c *Core) { c.logger = l }
}

// WithMetrics records candidate and ref outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Core) { c.metrics = m }
}

// WithExtractor replaces the rich-document extractor.
func WithExtractor(x TextExtractor) Option {
	return func(c *Core) { c.extractor = x }
}

// New creates a Core reading rulesets from rules.
func New(rules RulesetSource, cfg Config, opts ...Option) *Core {
	c := &Core{
		cfg:       cfg,
		rules:     rules,
		filter:    enum.NewPathFilter(cfg.IgnoreExtensions, cfg.IgnorePaths),
		extractor: enum.NewExtractor(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.cfg.Workers < 1 {
		c.cfg.Workers = runtime.NumCPU()
	}
	if cfg.CacheTTL > 0 {
		cacheOpts := []ttlcache.Option[string, verdict]{
			ttlcache.WithTTL[string, verdict](cfg.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, verdict](),
		}
		if cfg.CacheCapacity > 0 {
			cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, verdict](cfg.CacheCapacity))
		}
		c.cache = ttlcache.New[string, verdict](cacheOpts...)
	}
	return c
}

// Evaluate scans every ref update of one push and returns a decision per
// update, in input order. Deletions are never scanned. Any failure while
// scanning leaves the affected update accepted.
func (c *Core) Evaluate(ctx context.Context, repo Repository, updates []types.RefUpdate) []types.RefDecision {
	log := c.logger.With(zap.String("batch", uuid.NewString()))
	decisions := make([]types.RefDecision, 0, len(updates))
	for _, u := range updates {
		d := c.evaluateOne(ctx, log.With(zap.String("ref", u.Name)), repo, u)
		decisions = append(decisions, d)
	}
	return decisions
}

func (c *Core) evaluateOne(ctx context.Context, log *zap.Logger, repo Repository, u types.RefUpdate) types.RefDecision {
	d := types.RefDecision{Ref: u.Name}

	kind := u.Kind()
	if kind == types.ChangeDelete {
		c.metrics.RecordRefUpdate("skipped")
		return d
	}

	rs := c.rules.Current()
	if rs == nil {
		log.Warn("no ruleset loaded, accepting ref update unscanned")
		c.metrics.RecordRefUpdate("skipped")
		return d
	}

	var (
		candidates []types.ScanCandidate
		err        error
	)
	if kind == types.ChangeCreate {
		candidates, err = repo.EnumerateTree(ctx, u.NewID)
	} else {
		candidates, err = repo.Diff(ctx, u.OldID, u.NewID)
	}
	if err != nil {
		log.Error("listing candidates failed, accepting ref update unscanned",
			zap.Stringer("kind", kind), zap.Error(err))
		c.metrics.RecordRefUpdate("skipped")
		return d
	}

	d.Lines, d.Scanned = c.scanCandidates(ctx, log, rs, repo, candidates)
	if len(d.Lines) == 0 {
		c.metrics.RecordRefUpdate("accepted")
		return d
	}

	d.Rejected = true
	d.Message = strings.Join(d.Lines, "\n")
	c.metrics.RecordRefUpdate("rejected")
	log.Warn("rejecting ref update, possible secrets found",
		zap.Stringer("kind", kind),
		zap.Int("findings", len(d.Lines)),
		zap.String("new", u.NewID))
	return d
}

// scanJob is a candidate that passed the path filters, with the way its
// text is obtained.
type scanJob struct {
	cand types.ScanCandidate
	mode string
}

// scanCandidates fans out over the candidates and returns the rejection
// lines in candidate order together with the number of candidates that
// reached the matcher. Path filters apply to every path; a blob listed
// under several scanned paths is read once per extraction mode.
func (c *Core) scanCandidates(ctx context.Context, log *zap.Logger, rs *matcher.Ruleset, repo Repository, candidates []types.ScanCandidate) ([]string, int) {
	type dedupKey struct {
		id   types.BlobID
		mode string
	}
	seen := make(map[dedupKey]bool, len(candidates))
	jobs := make([]scanJob, 0, len(candidates))
	for _, cand := range candidates {
		mode, ok := c.selectCandidate(log, cand)
		if !ok {
			continue
		}
		key := dedupKey{cand.ContentID, mode}
		if seen[key] {
			continue
		}
		seen[key] = true
		jobs = append(jobs, scanJob{cand: cand, mode: mode})
	}

	findings := make([]*types.Finding, len(jobs))
	scanned := make([]bool, len(jobs))

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Error("candidate scan panicked",
						zap.String("path", job.cand.Path),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()))
				}
			}()
			if ctx.Err() != nil {
				return nil
			}
			findings[i], scanned[i] = c.scanCandidate(ctx, log, rs, repo, job)
			return nil
		})
	}
	_ = g.Wait()

	var (
		lines []string
		count int
	)
	for i, f := range findings {
		if scanned[i] {
			count++
		}
		if f != nil {
			lines = append(lines, f.RejectionLine(jobs[i].cand.Path))
		}
	}
	return lines, count
}

// selectCandidate applies the path and size filters and picks the
// extraction mode. ok is false for skipped candidates.
func (c *Core) selectCandidate(log *zap.Logger, cand types.ScanCandidate) (mode string, ok bool) {
	if skip, reason := c.filter.Skip(cand.Path); skip {
		log.Debug("skipping candidate", zap.String("path", cand.Path), zap.String("reason", reason))
		c.metrics.RecordCandidate(telemetry.OutcomeSkipped)
		return "", false
	}
	if c.oversize(cand.Size) {
		log.Debug("skipping candidate", zap.String("path", cand.Path), zap.String("reason", "too large"), zap.Int64("size", cand.Size))
		c.metrics.RecordCandidate(telemetry.OutcomeSkipped)
		return "", false
	}
	if c.filter.IsRichDocument(cand.Path) {
		return modeExtract, true
	}
	return modeText, true
}

// scanCandidate reads and matches one selected candidate. It reports whether
// the matcher ran.
func (c *Core) scanCandidate(ctx context.Context, log *zap.Logger, rs *matcher.Ruleset, repo Repository, job scanJob) (*types.Finding, bool) {
	cand, mode := job.cand, job.mode
	log = log.With(zap.String("path", cand.Path), zap.String("blob", cand.ContentID.Short()))

	key := fmt.Sprintf("%s:%s:%s", rs.Fingerprint(), cand.ContentID, mode)
	if c.cache != nil {
		if item := c.cache.Get(key); item != nil {
			c.metrics.RecordCandidate(telemetry.OutcomeCached)
			return item.Value().finding, true
		}
	}

	content, err := repo.OpenContent(ctx, cand.ContentID)
	if err != nil {
		rerr := &ContentReadError{Path: cand.Path, ID: cand.ContentID, Err: err}
		log.Warn("skipping unreadable candidate", zap.Error(rerr))
		c.metrics.RecordCandidate(telemetry.OutcomeReadError)
		return nil, false
	}

	finding, ran, err := c.scanText(rs, cand.Path, content, mode)
	switch {
	case errors.Is(err, matcher.ErrMatchTimeout):
		log.Warn("match budget exhausted, treating candidate as clean", zap.Error(err))
		c.metrics.RecordCandidate(telemetry.OutcomeTimeout)
		return nil, true
	case err != nil:
		log.Warn("skipping candidate without text", zap.Error(err))
		c.metrics.RecordCandidate(telemetry.OutcomeSkipped)
		return nil, false
	case !ran:
		c.metrics.RecordCandidate(telemetry.OutcomeSkipped)
		return nil, false
	}

	if c.cache != nil {
		c.cache.Set(key, verdict{finding: finding}, ttlcache.DefaultTTL)
	}
	if finding == nil {
		c.metrics.RecordCandidate(telemetry.OutcomeClean)
		return nil, true
	}
	c.metrics.RecordCandidate(telemetry.OutcomeFinding)
	c.metrics.RecordFinding(finding.RuleID())
	log.Info("possible secret found", zap.String("rule", finding.RuleID()), zap.Int("line", finding.Line))
	return finding, true
}

// scanText obtains the text of content and matches it. ran is false when
// there was nothing to match.
func (c *Core) scanText(rs *matcher.Ruleset, path string, content []byte, mode string) (finding *types.Finding, ran bool, err error) {
	if c.oversize(int64(len(content))) {
		return nil, false, nil
	}

	var text string
	if mode == modeExtract {
		text, err = c.extractor.ExtractText(path, content)
		if err != nil {
			return nil, false, &ExtractionError{Path: path, Err: err}
		}
	} else {
		if c.cfg.SniffBinary && !enum.IsText(content) {
			return nil, false, nil
		}
		text = string(content)
	}
	if strings.TrimSpace(text) == "" {
		return nil, false, nil
	}

	start := time.Now()
	finding, err = rs.FindMatch(text)
	c.metrics.ObserveScan(time.Since(start))
	return finding, true, err
}

func (c *Core) oversize(size int64) bool {
	return c.cfg.MaxFileSize > 0 && size > c.cfg.MaxFileSize
}

// ScanContent scans one in-memory item under the same path and content
// rules as a push. It returns nil when the item was skipped or is clean.
func (c *Core) ScanContent(path string, content []byte) (*types.Finding, error) {
	rs := c.rules.Current()
	if rs == nil {
		return nil, ErrNoRuleset
	}
	if skip, _ := c.filter.Skip(path); skip {
		return nil, nil
	}
	mode := modeText
	if c.filter.IsRichDocument(path) {
		mode = modeExtract
	}
	finding, _, err := c.scanText(rs, path, content, mode)
	return finding, err
}

// Rejections flattens decisions into the rejection lines of all rejected
// updates.
func Rejections(decisions []types.RefDecision) []string {
	var out []string
	for _, d := range decisions {
		if d.Rejected {
			out = append(out, d.Lines...)
		}
	}
	return out
}
