package search

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	lookupTotal   prometheus.Counter
	itemCacheHit  prometheus.Counter
	handleReuse   prometheus.Counter
	driverCall    prometheus.Counter
	driverDefer   prometheus.Counter
	lruEviction   prometheus.Counter
	openFileCount prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		lookupTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lookup_requests_total",
			Help: "Lookup requests handled by the dispatcher, including wildcard sub-lookups.",
		}),
		itemCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "item_cache_hits_total",
			Help: "Lookups answered from a handle's item cache.",
		}),
		handleReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handle_cache_hits_total",
			Help: "Opens satisfied by an already-open cached handle.",
		}),
		driverCall: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_calls_total",
			Help: "Find calls that reached a backend driver.",
		}),
		driverDefer: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_defers_total",
			Help: "Driver find calls that deferred.",
		}),
		lruEviction: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lru_evictions_total",
			Help: "File-backed handles closed to stay under the open-file cap.",
		}),
		openFileCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "open_files",
			Help: "Currently open file-backed lookup handles.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.lookupTotal, m.itemCacheHit, m.handleReuse,
			m.driverCall, m.driverDefer, m.lruEviction, m.openFileCount)
	}
	return m
}
