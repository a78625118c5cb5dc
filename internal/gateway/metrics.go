package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cache outcomes. Register with a prometheus registerer to
// expose them; a nil registerer yields unregistered (test-friendly) counters.
type Metrics struct {
	Hits             prometheus.Counter
	Misses           prometheus.Counter
	OfflineFallbacks prometheus.Counter
	Passthroughs     prometheus.Counter
}

// NewMetrics creates the gateway counters and registers them when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studydeck_gateway_cache_hits_total",
			Help: "Requests answered from a cache bucket.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studydeck_gateway_cache_misses_total",
			Help: "Requests that went to the network.",
		}),
		OfflineFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studydeck_gateway_offline_fallbacks_total",
			Help: "Navigations answered with the offline fallback page.",
		}),
		Passthroughs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studydeck_gateway_passthroughs_total",
			Help: "Requests forwarded without cache interception.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.OfflineFallbacks, m.Passthroughs)
	}
	return m
}
