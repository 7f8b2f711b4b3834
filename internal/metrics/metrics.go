// Package metrics exposes Prometheus collectors for the trading engine:
//
//   - bot_cycles_total{account}                – completed trading cycles
//   - bot_signals_total{symbol,outcome}        – signals by outcome (generated|rejected)
//   - bot_orders_total{symbol,side,kind}       – orders placed (entry|take_profit|close)
//   - bot_order_failures_total{symbol}         – orders the exchange refused
//   - bot_positions_closed_total{reason}       – closures by reason
//   - bot_tp_recoveries_total                  – take-profit orders re-created by the audit sweep
//   - bot_critical_failures_total              – unrecovered invariant violations
//   - bot_open_positions{account}              – open position count snapshot
//
// Served at /metrics in the Prometheus text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Completed trading cycles",
		},
		[]string{"account"},
	)

	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Signals by outcome",
		},
		[]string{"symbol", "outcome"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"symbol", "side", "kind"},
	)

	orderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_order_failures_total",
			Help: "Orders refused by the exchange",
		},
		[]string{"symbol"},
	)

	positionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_positions_closed_total",
			Help: "Positions closed by reason",
		},
		[]string{"reason"},
	)

	tpRecoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_tp_recoveries_total",
			Help: "Take-profit orders re-created by the audit sweep",
		},
	)

	criticalFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_critical_failures_total",
			Help: "Invariant violations that recovery could not repair",
		},
	)

	openPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Open position count",
		},
		[]string{"account"},
	)
)

func init() {
	prometheus.MustRegister(
		cycles,
		signals,
		orders,
		orderFailures,
		positionsClosed,
		tpRecoveries,
		criticalFailures,
		openPositions,
	)
}

func CycleCompleted(account string) { cycles.WithLabelValues(account).Inc() }

func SignalGenerated(symbol string) { signals.WithLabelValues(symbol, "generated").Inc() }
func SignalRejected(symbol string)  { signals.WithLabelValues(symbol, "rejected").Inc() }

func OrderPlaced(symbol, side, kind string) { orders.WithLabelValues(symbol, side, kind).Inc() }
func OrderFailed(symbol string)             { orderFailures.WithLabelValues(symbol).Inc() }

func PositionClosed(reason string) { positionsClosed.WithLabelValues(reason).Inc() }

func TakeProfitRecovered() { tpRecoveries.Inc() }
func CriticalFailure()     { criticalFailures.Inc() }

func SetOpenPositions(account string, n int) {
	openPositions.WithLabelValues(account).Set(float64(n))
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }
