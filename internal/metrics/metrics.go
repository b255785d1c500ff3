// Package metrics declares the Prometheus collectors of the terminal agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Checkouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "checkouts_total",
			Help:      "Checkouts by route (online, offline) and result (ok, error).",
		},
		[]string{"route", "result"},
	)

	SyncItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pos",
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Pending sales submitted during drains by result (synced, failed).",
		},
		[]string{"result"},
	)

	SyncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pos",
			Subsystem: "sync",
			Name:      "queue_depth",
			Help:      "Pending sales waiting for the remote store.",
		},
	)

	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pos",
			Name:      "online",
			Help:      "1 when the remote store is reachable.",
		},
	)

	ActiveReservations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pos",
			Subsystem: "inventory",
			Name:      "active_reservations",
			Help:      "Stock reservations not yet committed or released.",
		},
	)

	StockShortfall = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pos",
			Subsystem: "inventory",
			Name:      "shortfall_units_total",
			Help:      "Units demanded by deductions that no batch could cover.",
		},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pos",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
