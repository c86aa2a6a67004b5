package observability

import (
	"tandachain/core/events"
	"tandachain/core/types"
	"tandachain/observability/metrics"
)

// MetricsRecorder is an event sink that maps engine events onto Prometheus
// counters. It plugs into the same emitter fan-out the explorer uses.
type MetricsRecorder struct {
	terms *metrics.TermMetrics
}

// NewMetricsRecorder returns a recorder over the process-wide term metrics.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{terms: metrics.Terms()}
}

var _ events.Emitter = (*MetricsRecorder)(nil)

// Emit translates the event into a counter bump. Unknown event types are
// ignored.
func (r *MetricsRecorder) Emit(evt events.Event) {
	if r == nil || evt == nil {
		return
	}
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	term := payload.Attributes["termId"]
	switch payload.Type {
	case "term.created":
		r.terms.ObserveTermCreated()
	case "collateral.deposited":
		r.terms.ObserveJoin(term)
	case "fund.contribution_paid":
		r.terms.ObserveContribution(term)
	case "fund.participant_defaulted":
		r.terms.ObserveDefault(term)
	case "collateral.liquidated":
		r.terms.ObserveLiquidation(term)
	case "fund.defaulter_expelled":
		r.terms.ObserveExpulsion(term)
	case "fund.pot_frozen":
		r.terms.ObserveFrozenPot(term)
	}
}
