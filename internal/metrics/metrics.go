// Package metrics holds the relay's Prometheus collectors. They register on
// the default registry and are served by the ops API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "noticerelay"

const (
	PathImmediate = "immediate"
	PathRetry     = "retry"

	ReasonExhausted = "exhausted"
	ReasonShutdown  = "shutdown"
)

var (
	pollTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Poll iterations started",
		},
	)

	fetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed announcement fetches by competition",
		},
		[]string{"competition"},
	)

	announcementsNew = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_new_total",
			Help:      "Announcements detected as new",
		},
		[]string{"competition", "kind"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by path and result",
		},
		[]string{"path", "result"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Time spent in the chat transport",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	queueItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items",
			Help:      "Items held in memory by the delivery queue",
		},
		[]string{"set"},
	)

	persistedItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_items_total",
			Help:      "Items written to the mailbox",
		},
		[]string{"reason"},
	)

	persistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed mailbox writes",
		},
	)
)

func RecordPollTick() { pollTicks.Inc() }

func RecordFetchError(competitionID int) {
	fetchErrors.WithLabelValues(strconv.Itoa(competitionID)).Inc()
}

func RecordNew(competitionID int, kind string, n int) {
	if n <= 0 {
		return
	}
	announcementsNew.WithLabelValues(strconv.Itoa(competitionID), kind).Add(float64(n))
}

func RecordDelivery(path string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	deliveries.WithLabelValues(path, result).Inc()
}

func RecordSendDuration(d time.Duration) { sendDuration.Observe(d.Seconds()) }

// RecordQueue updates the in-memory queue gauges.
func RecordQueue(retry, overflow int) {
	queueItems.WithLabelValues("retry").Set(float64(retry))
	queueItems.WithLabelValues("overflow").Set(float64(overflow))
}

func RecordPersisted(reason string, n int) {
	if n <= 0 {
		return
	}
	persistedItems.WithLabelValues(reason).Add(float64(n))
}

func RecordPersistError() { persistErrors.Inc() }
