// Package metrics exposes sensor activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/keysettle/internal/sensor"
)

// Metrics holds the sensor collectors.
type Metrics struct {
	pokes        *prometheus.CounterVec
	inactivity   prometheus.Gauge
	observedKeys prometheus.Gauge
	pokeLatency  prometheus.Histogram
}

// New creates the collectors and registers them on reg.
// Pass prometheus.NewRegistry() in tests to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pokes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keysettle_pokes_total",
			Help: "Poke cycles by outcome.",
		}, []string{"outcome"}),
		inactivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keysettle_inactivity_seconds",
			Help: "Seconds since the key set last changed, as of the last poke.",
		}),
		observedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keysettle_observed_keys",
			Help: "Number of keys seen under the prefix at the last poke.",
		}),
		pokeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keysettle_poke_duration_seconds",
			Help:    "Wall time of one poke, listing included.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	reg.MustRegister(m.pokes, m.inactivity, m.observedKeys, m.pokeLatency)
	return m
}

// ObservePoke records one poke cycle.
func (m *Metrics) ObservePoke(outcome sensor.Outcome, snap sensor.Snapshot, took time.Duration) {
	if m == nil {
		return
	}
	m.pokes.WithLabelValues(string(outcome)).Inc()
	m.inactivity.Set(snap.Inactivity.Seconds())
	m.observedKeys.Set(float64(snap.KeyCount))
	m.pokeLatency.Observe(took.Seconds())
}
