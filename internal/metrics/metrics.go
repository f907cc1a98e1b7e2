// Package metrics exposes the Prometheus instrumentation for the trading
// engine. Metrics are registered in init() and served by the HTTP handler
// started in main.go at /metrics (Prometheus text exposition format).
//
// Primary series:
//   - sniper_orders_total{side,outcome}      – orders by side and outcome (placed|rejected|transient)
//   - sniper_entry_signals_total             – entry predicate passes
//   - sniper_exits_total{reason}             – position exits split by reason
//   - sniper_positions{status}               – tracked symbols by lifecycle status (gauge)
//   - sniper_ticks_total                     – control loop iterations
//   - sniper_feed_frames_total{type}         – real-time frames consumed by type
//   - sniper_feed_stale                      – 1 when the market feed is stale, else 0
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_orders_total",
			Help: "Orders by side and outcome (placed|rejected|transient)",
		},
		[]string{"side", "outcome"},
	)

	entrySignals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_entry_signals_total",
			Help: "Entry predicate passes",
		},
	)

	// Counts exits split by reason; reasons are things like trailing_take_profit,
	// profit_floor, stop_loss, session_cutoff.
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_exits_total",
			Help: "Position exits split by reason",
		},
		[]string{"reason"},
	)

	positions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sniper_positions",
			Help: "Tracked symbols by lifecycle status",
		},
		[]string{"status"},
	)

	ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_ticks_total",
			Help: "Control loop iterations",
		},
	)

	feedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_feed_frames_total",
			Help: "Real-time frames consumed by type",
		},
		[]string{"type"},
	)

	feedStale = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sniper_feed_stale",
			Help: "1 when the market feed is stale, else 0",
		},
	)
)

func init() {
	prometheus.MustRegister(orders, entrySignals, exits)
	prometheus.MustRegister(positions, ticks)
	prometheus.MustRegister(feedFrames, feedStale)
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }

func IncOrder(side, outcome string) { orders.WithLabelValues(side, outcome).Inc() }
func IncEntrySignal()               { entrySignals.Inc() }
func IncExit(reason string)         { exits.WithLabelValues(reason).Inc() }
func IncTick()                      { ticks.Inc() }
func IncFeedFrame(frameType string) { feedFrames.WithLabelValues(frameType).Inc() }

func SetPositions(status string, n int) { positions.WithLabelValues(status).Set(float64(n)) }

func SetFeedStale(stale bool) {
	if stale {
		feedStale.Set(1)
	} else {
		feedStale.Set(0)
	}
}
