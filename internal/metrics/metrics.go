// Package metrics exposes Prometheus counters/gauges for Croupier, grounded
// in chidi150c-coinbase/metrics.go's package-level CounterVec/GaugeVec +
// init()-time MustRegister idiom. spec.md marks the exact metric surface
// out of scope for implementation detail, so this wires the shape with
// thin setters rather than a bespoke schema.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "croupier_orders_submitted_total",
		Help: "Orders submitted to the exchange, by symbol and order type.",
	}, []string{"symbol", "type"})

	ordersFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "croupier_orders_failed_total",
		Help: "Orders that failed submission, by symbol and error category.",
	}, []string{"symbol", "category"})

	decisionsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "croupier_decisions_total",
		Help: "Sized decisions emitted by the order manager, by symbol and side.",
	}, []string{"symbol", "side"})

	exitReasons = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "croupier_position_exits_total",
		Help: "Position closes, by symbol and exit reason.",
	}, []string{"symbol", "reason"})

	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "croupier_breaker_state",
		Help: "Circuit breaker state (0=CLOSED, 1=HALF_OPEN, 2=OPEN), by breaker name.",
	}, []string{"name"})

	equity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "croupier_equity_usdt",
		Help: "Current account equity in USDT.",
	})

	openPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "croupier_open_positions",
		Help: "Number of currently open positions.",
	})

	loopLagSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "croupier_loop_lag_seconds",
		Help: "Observed lag of a named processing loop (candle/signal/decision).",
	}, []string{"loop"})

	integrityCheckFailed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "croupier_integrity_check_failed",
		Help: "1 if the last reconciliation pass required a repair, else 0.",
	})
)

func init() {
	prometheus.MustRegister(
		ordersSubmitted,
		ordersFailed,
		decisionsEmitted,
		exitReasons,
		breakerState,
		equity,
		openPositions,
		loopLagSeconds,
		integrityCheckFailed,
	)
}

// Handler returns the Prometheus exposition handler for the metrics server.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncOrderSubmitted records one submitted order.
func IncOrderSubmitted(symbol, orderType string) {
	ordersSubmitted.WithLabelValues(symbol, orderType).Inc()
}

// IncOrderFailed records one failed order submission.
func IncOrderFailed(symbol, category string) {
	ordersFailed.WithLabelValues(symbol, category).Inc()
}

// IncDecision records one sized decision handed to the order manager.
func IncDecision(symbol, side string) {
	decisionsEmitted.WithLabelValues(symbol, side).Inc()
}

// IncExit records one position close with its triggering reason.
func IncExit(symbol, reason string) {
	exitReasons.WithLabelValues(symbol, reason).Inc()
}

// SetBreakerState publishes a breaker's state as a gauge value.
func SetBreakerState(name, state string) {
	var v float64
	switch state {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	breakerState.WithLabelValues(name).Set(v)
}

// SetEquity publishes current account equity.
func SetEquity(v float64) { equity.Set(v) }

// SetOpenPositions publishes the current open-position count.
func SetOpenPositions(n int) { openPositions.Set(float64(n)) }

// ObserveLoopLag publishes the observed lag (seconds) of a named loop.
func ObserveLoopLag(loop string, seconds float64) { loopLagSeconds.WithLabelValues(loop).Set(seconds) }

// SetIntegrityCheckFailed publishes the reconciliation integrity flag.
func SetIntegrityCheckFailed(failed bool) {
	if failed {
		integrityCheckFailed.Set(1)
		return
	}
	integrityCheckFailed.Set(0)
}
