package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsTotal   *prometheus.CounterVec
	fusionsTotal   *prometheus.CounterVec
	riskDecisions  *prometheus.CounterVec
	orderStates    *prometheus.CounterVec
	fillsTotal     *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	positionSize   *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_signals_total",
				Help: "Signals produced per source and symbol",
			},
			[]string{"source", "symbol"},
		),
		fusionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_fusions_total",
				Help: "Fusion cycles per symbol, split by actionability",
			},
			[]string{"symbol", "actionable"},
		),
		riskDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_risk_decisions_total",
				Help: "Risk decisions by outcome and primary reason",
			},
			[]string{"outcome", "reason"},
		),
		orderStates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_order_transitions_total",
				Help: "Order state transitions entered",
			},
			[]string{"status"},
		),
		fillsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_fills_total",
				Help: "Fills applied per venue and symbol",
			},
			[]string{"venue", "symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepilot_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepilot_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		positionSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepilot_position_quantity",
				Help: "Current position quantity per symbol",
			},
			[]string{"symbol"},
		),
	}
}

// RecordSignal records one produced signal.
func (r *Recorder) RecordSignal(source, symbol string) {
	r.signalsTotal.WithLabelValues(source, symbol).Inc()
}

// RecordFusion records one fusion cycle outcome.
func (r *Recorder) RecordFusion(symbol string, actionable bool) {
	v := "false"
	if actionable {
		v = "true"
	}
	r.fusionsTotal.WithLabelValues(symbol, v).Inc()
}

// RecordRiskDecision records a risk decision with its primary reason.
func (r *Recorder) RecordRiskDecision(outcome, reason string) {
	r.riskDecisions.WithLabelValues(outcome, reason).Inc()
}

// RecordOrderState records an order entering a lifecycle state.
func (r *Recorder) RecordOrderState(status string) {
	r.orderStates.WithLabelValues(status).Inc()
}

// RecordFill records one applied fill.
func (r *Recorder) RecordFill(venue, symbol string) {
	r.fillsTotal.WithLabelValues(venue, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordPosition records current position quantity for a symbol.
func (r *Recorder) RecordPosition(symbol string, qty float64) {
	r.positionSize.WithLabelValues(symbol).Set(qty)
}
