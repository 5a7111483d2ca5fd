// Prometheus instrumentation.
//
// One storeMetrics is built per datastore with the storage name as a
// constant label. Passing a nil Registerer leaves the collectors created
// but unregistered, which keeps every call site unconditional.
package quire

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type storeMetrics struct {
	appends            prometheus.Counter
	appendErrors       prometheus.Counter
	bytesWritten       prometheus.Counter
	pageRotations      prometheus.Counter
	recordsRecovered   prometheus.Counter
	recoveryTruncated  prometheus.Counter
	eventsDispatched   prometheus.Counter
	subscribers        prometheus.Gauge
	subscribersDropped prometheus.Counter
	compactions        prometheus.Counter
}

func newStoreMetrics(reg prometheus.Registerer, storage string) *storeMetrics {
	labels := prometheus.Labels{"storage": storage}
	return &storeMetrics{
		appends: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "quire_appends_total",
			Help:        "quire_appends_total counts records appended to the paged log.",
			ConstLabels: labels,
		}),
		appendErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "quire_append_errors_total",
			Help:        "quire_append_errors_total counts appends that failed before the durability ack.",
			ConstLabels: labels,
		}),
		bytesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quire_bytes_written_total",
			Help: "quire_bytes_written_total counts payload bytes written to pages," +
				" including the frame length prefix.",
			ConstLabels: labels,
		}),
		pageRotations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "quire_page_rotations_total",
			Help:        "quire_page_rotations_total counts how many times the writer moved to a new page file.",
			ConstLabels: labels,
		}),
		recordsRecovered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "quire_records_recovered_total",
			Help:        "quire_records_recovered_total counts records replayed from the log during Open.",
			ConstLabels: labels,
		}),
		recoveryTruncated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quire_recovery_truncations_total",
			Help: "quire_recovery_truncations_total counts recoveries that stopped early at a torn" +
				" or corrupt record or an unreadable page.",
			ConstLabels: labels,
		}),
		eventsDispatched: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "quire_events_dispatched_total",
			Help:        "quire_events_dispatched_total counts events handed to the router for fan-out.",
			ConstLabels: labels,
		}),
		subscribers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name:        "quire_subscribers",
			Help:        "quire_subscribers is the number of currently registered subscriber sinks.",
			ConstLabels: labels,
		}),
		subscribersDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quire_subscribers_dropped_total",
			Help: "quire_subscribers_dropped_total counts sinks unregistered after exceeding the" +
				" slow subscriber timeout or closing mid-delivery.",
			ConstLabels: labels,
		}),
		compactions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "quire_compactions_total",
			Help:        "quire_compactions_total counts successful log compactions.",
			ConstLabels: labels,
		}),
	}
}
