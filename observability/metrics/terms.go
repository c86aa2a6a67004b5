package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TermMetrics tracks the engine-level counters the operator dashboards
// watch: joins, contributions, defaults, liquidations and frozen pots.
type TermMetrics struct {
	termsCreated  prometheus.Counter
	joins         *prometheus.CounterVec
	contributions *prometheus.CounterVec
	defaults      *prometheus.CounterVec
	liquidations  *prometheus.CounterVec
	expulsions    *prometheus.CounterVec
	frozenPots    *prometheus.CounterVec
	oracleDenied  *prometheus.CounterVec
}

var (
	termsOnce     sync.Once
	termsRegistry *TermMetrics
)

// Terms returns the process-wide term metrics, registering them on first use.
func Terms() *TermMetrics {
	termsOnce.Do(func() {
		termsRegistry = &TermMetrics{
			termsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "tanda_terms_created_total",
				Help: "Count of terms created.",
			}),
			joins: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tanda_joins_total",
				Help: "Count of collateral joins by term.",
			}, []string{"term"}),
			contributions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tanda_contributions_total",
				Help: "Count of cycle contributions by term.",
			}, []string{"term"}),
			defaults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tanda_defaults_total",
				Help: "Count of participant defaults by term.",
			}, []string{"term"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tanda_liquidations_total",
				Help: "Count of collateral liquidations by term.",
			}, []string{"term"}),
			expulsions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tanda_expulsions_total",
				Help: "Count of member expulsions by term.",
			}, []string{"term"}),
			frozenPots: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tanda_frozen_pots_total",
				Help: "Count of beneficiary pots frozen by term.",
			}, []string{"term"}),
			oracleDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tanda_oracle_denied_total",
				Help: "Count of price reads rejected by gate.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			termsRegistry.termsCreated,
			termsRegistry.joins,
			termsRegistry.contributions,
			termsRegistry.defaults,
			termsRegistry.liquidations,
			termsRegistry.expulsions,
			termsRegistry.frozenPots,
			termsRegistry.oracleDenied,
		)
	})
	return termsRegistry
}

func (m *TermMetrics) ObserveTermCreated() {
	if m == nil {
		return
	}
	m.termsCreated.Inc()
}

func (m *TermMetrics) ObserveJoin(term string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(term).Inc()
}

func (m *TermMetrics) ObserveContribution(term string) {
	if m == nil {
		return
	}
	m.contributions.WithLabelValues(term).Inc()
}

func (m *TermMetrics) ObserveDefault(term string) {
	if m == nil {
		return
	}
	m.defaults.WithLabelValues(term).Inc()
}

func (m *TermMetrics) ObserveLiquidation(term string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(term).Inc()
}

func (m *TermMetrics) ObserveExpulsion(term string) {
	if m == nil {
		return
	}
	m.expulsions.WithLabelValues(term).Inc()
}

func (m *TermMetrics) ObserveFrozenPot(term string) {
	if m == nil {
		return
	}
	m.frozenPots.WithLabelValues(term).Inc()
}

func (m *TermMetrics) ObserveOracleDenied(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.oracleDenied.WithLabelValues(reason).Inc()
}
