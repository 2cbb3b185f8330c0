package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Candidate outcomes.
const (
	OutcomeClean     = "clean"
	OutcomeFinding   = "finding"
	OutcomeSkipped   = "skipped"
	OutcomeCached    = "cached"
	OutcomeReadError = "read_error"
	OutcomeTimeout   = "timeout"
)

// Metrics holds all Prometheus metrics for seccheck. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	CandidatesTotal   *prometheus.CounterVec
	FindingsTotal     *prometheus.CounterVec
	RefUpdatesTotal   *prometheus.CounterVec
	RulesetLoadsTotal *prometheus.CounterVec
	RulesetRules      prometheus.Gauge
	ScanDurationMs    prometheus.Histogram
}

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CandidatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seccheck_candidates_total",
			Help: "Scan candidates processed, by outcome.",
		}, []string{"outcome"}),

		FindingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seccheck_findings_total",
			Help: "Findings reported, by rule id.",
		}, []string{"rule"}),

		RefUpdatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seccheck_ref_updates_total",
			Help: "Ref updates evaluated, by decision.",
		}, []string{"decision"}),

		RulesetLoadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seccheck_ruleset_loads_total",
			Help: "Ruleset build attempts, by result.",
		}, []string{"result"}),

		RulesetRules: f.NewGauge(prometheus.GaugeOpts{
			Name: "seccheck_ruleset_rules",
			Help: "Rules in the currently published ruleset.",
		}),

		ScanDurationMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "seccheck_scan_duration_ms",
			Help:    "Time spent matching one candidate, in milliseconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
	}
}

// RecordCandidate counts one candidate outcome.
func (m *Metrics) RecordCandidate(outcome string) {
	if m == nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(outcome).Inc()
}

// RecordFinding counts a finding for ruleID.
func (m *Metrics) RecordFinding(ruleID string) {
	if m == nil {
		return
	}
	m.FindingsTotal.WithLabelValues(ruleID).Inc()
}

// RecordRefUpdate counts a ref decision ("accepted", "rejected" or "skipped").
func (m *Metrics) RecordRefUpdate(decision string) {
	if m == nil {
		return
	}
	m.RefUpdatesTotal.WithLabelValues(decision).Inc()
}

// RecordRulesetLoad counts a build attempt and, on success, the rule count.
func (m *Metrics) RecordRulesetLoad(ok bool, rules int) {
	if m == nil {
		return
	}
	if !ok {
		m.RulesetLoadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.RulesetLoadsTotal.WithLabelValues("ok").Inc()
	m.RulesetRules.Set(float64(rules))
}

// ObserveScan records the duration of one match.
func (m *Metrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.ScanDurationMs.Observe(float64(d) / float64(time.Millisecond))
}
