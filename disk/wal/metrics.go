package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	records   prometheus.Counter
	mtrs      prometheus.Counter
	bytes     prometheus.Counter
	flushSize prometheus.Histogram
	flushErrs prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	f := promauto.With(reg)
	return &metrics{
		records: f.NewCounter(prometheus.CounterOpts{
			Namespace: "flstore", Subsystem: "wal", Name: "records_total",
			Help: "Number of log records appended including commit markers.",
		}),
		mtrs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "flstore", Subsystem: "wal", Name: "mtr_commits_total",
			Help: "Number of mini-transactions appended to the log.",
		}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "flstore", Subsystem: "wal", Name: "appended_bytes_total",
			Help: "Number of framed bytes handed to the group writer.",
		}),
		flushSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flstore", Subsystem: "wal", Name: "flush_size_bytes",
			Help:    "Size of each buffer flushed to the log file.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
		flushErrs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "flstore", Subsystem: "wal", Name: "flush_errors_total",
			Help: "Number of failed log flushes.",
		}),
	}
}
