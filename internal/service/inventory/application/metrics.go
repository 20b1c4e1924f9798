// internal/service/inventory/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 预占引擎的核心指标，通过 /metrics 暴露。
// outcome 取值: success / not_found / insufficient_stock / contention / persistence / invalid
var (
	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_total",
		Help: "Reservation attempts by final outcome.",
	}, []string{"outcome"})

	reservationRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservation_retries_total",
		Help: "Transaction-conflict retries performed by the reservation engine.",
	})

	reservationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reservation_duration_seconds",
		Help:    "End-to-end duration of reservation calls, including retries.",
		Buckets: prometheus.DefBuckets,
	})
)
