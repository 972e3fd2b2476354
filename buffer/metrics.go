package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	flushes   prometheus.Counter
	logForces prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: "flstore", Subsystem: "buffer", Name: name, Help: help})
	}

	return &metrics{
		hits:      counter("hits_total", "Page requests served from the pool."),
		misses:    counter("misses_total", "Page requests that read the page from disk."),
		evictions: counter("evictions_total", "Frames reused for another page."),
		flushes:   counter("page_writes_total", "Dirty pages written to disk."),
		logForces: counter("log_forces_total", "Log flushes forced by writing a page ahead of the log."),
	}
}
