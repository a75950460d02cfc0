// Package metrics provides Prometheus metrics for boorubot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "boorubot"

var (
	// ProviderFetchTotal counts provider page fetches by outcome (ok, empty, error).
	ProviderFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fetch_total",
			Help:      "Total number of provider page fetches",
		},
		[]string{"provider", "status"},
	)

	// ProviderFetchDuration measures provider fetch latency.
	ProviderFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_fetch_duration_seconds",
			Help:      "Duration of provider page fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// SearchTotal counts single and batch searches by result (found, not_found, busy).
	SearchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_total",
			Help:      "Total number of searches",
		},
		[]string{"mode", "result"},
	)

	// CacheEventsTotal counts dedup cache events (hit, insert, evict, clear).
	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Total number of dedup cache events",
		},
		[]string{"event"},
	)

	// DroppedItemsTotal counts fetched items rejected before delivery.
	DroppedItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_items_total",
			Help:      "Total number of fetched items rejected by filters",
		},
		[]string{"reason"},
	)

	// RecurringJobs tracks the number of live recurring jobs.
	RecurringJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recurring_jobs",
			Help:      "Number of live recurring delivery jobs",
		},
	)

	// RecurringTicksTotal counts recurring ticks by outcome (ok, error, panic).
	RecurringTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recurring_ticks_total",
			Help:      "Total number of recurring delivery ticks",
		},
		[]string{"kind", "status"},
	)

	// DeliveriesTotal counts outbound sends by outcome.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of delivery attempts",
		},
		[]string{"status"},
	)

	// CommandsTotal counts handled chat commands.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of handled chat commands",
		},
		[]string{"command", "status"},
	)
)

// RecordFetch records one provider fetch.
func RecordFetch(provider, status string, seconds float64) {
	ProviderFetchTotal.WithLabelValues(provider, status).Inc()
	ProviderFetchDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordSearch records the result of a search.
func RecordSearch(mode, result string) {
	SearchTotal.WithLabelValues(mode, result).Inc()
}

// RecordCache records a dedup cache event.
func RecordCache(event string) {
	CacheEventsTotal.WithLabelValues(event).Inc()
}

// RecordDrop records an item rejected by a filter.
func RecordDrop(reason string) {
	DroppedItemsTotal.WithLabelValues(reason).Inc()
}

// RecordTick records a recurring tick.
func RecordTick(kind, status string) {
	RecurringTicksTotal.WithLabelValues(kind, status).Inc()
}

// RecordDelivery records a delivery attempt.
func RecordDelivery(status string) {
	DeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordCommand records a handled command.
func RecordCommand(command, status string) {
	CommandsTotal.WithLabelValues(command, status).Inc()
}
