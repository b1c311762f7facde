// Package metrics exposes the kiosk's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"attendance-kiosk/internal/retryqueue"
)

// Metrics holds every kiosk collector.
type Metrics struct {
	queueLength  prometheus.Gauge
	cacheEntries prometheus.Gauge
	replays      *prometheus.CounterVec
	scans        *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kiosk_retry_queue_length",
			Help: "Scans waiting in the retry queue.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kiosk_identity_cache_entries",
			Help: "Entries in today's identity cache.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_retry_replays_total",
			Help: "Replay attempts of queued scans by result.",
		}, []string{"result"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_scans_total",
			Help: "Scans handled by the kiosk by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_identity_cache_lookups_total",
			Help: "Identity cache lookups by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.queueLength, m.cacheEntries, m.replays, m.scans, m.cacheLookups} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetQueueLength implements retryqueue.Recorder.
func (m *Metrics) SetQueueLength(n int) {
	m.queueLength.Set(float64(n))
}

// ObserveReplay implements retryqueue.Recorder.
func (m *Metrics) ObserveReplay(result retryqueue.ReplayResult) {
	m.replays.WithLabelValues(string(result)).Inc()
}

// SetCacheEntries records the size of the live identity container.
func (m *Metrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// ObserveScan counts one handled scan.
func (m *Metrics) ObserveScan(outcome string) {
	m.scans.WithLabelValues(outcome).Inc()
}

// ObserveLookup counts one identity cache lookup.
func (m *Metrics) ObserveLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
