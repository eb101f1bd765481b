package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are registered on their own registry so tests can build as many
// servers as they like.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsCaptured prometheus.Counter
	PacketsStreamed prometheus.Counter
	AnomaliesRaised prometheus.Counter
	Clients         prometheus.Gauge
	GeoLookups      *prometheus.CounterVec
	Published       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PacketsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visor_packets_captured_total",
			Help: "Total number of packets parsed off the capture source",
		}),
		PacketsStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visor_packets_streamed_total",
			Help: "Total number of enriched packets sent to WebSocket clients",
		}),
		AnomaliesRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visor_anomalies_total",
			Help: "Total number of anomalies raised by the detector",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visor_websocket_clients",
			Help: "Number of connected WebSocket clients",
		}),
		GeoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visor_geo_lookups_total",
			Help: "Geolocation lookups by result",
		}, []string{"result"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visor_nats_batches_total",
			Help: "Batches published to NATS by outcome",
		}, []string{"outcome"}),
	}
	m.Registry.MustRegister(
		m.PacketsCaptured,
		m.PacketsStreamed,
		m.AnomaliesRaised,
		m.Clients,
		m.GeoLookups,
		m.Published,
	)
	return m
}

// GeoResult is suitable for geo.Cache.OnResult.
func (m *Metrics) GeoResult(result string) {
	m.GeoLookups.WithLabelValues(result).Inc()
}
