package realtime

import "github.com/prometheus/client_golang/prometheus"

// GatewayMetrics are the gateway's Prometheus collectors. A nil *GatewayMetrics records nothing.
type GatewayMetrics struct {
	sessions prometheus.Gauge
	requests *prometheus.CounterVec
	uploads  *prometheus.CounterVec
}

// NewGatewayMetrics builds the collectors and registers them on reg (when non-nil).
func NewGatewayMetrics(reg prometheus.Registerer) (*GatewayMetrics, error) {
	m := &GatewayMetrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hrchat",
			Subsystem: "ws",
			Name:      "sessions",
			Help:      "Open websocket sessions.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hrchat",
			Subsystem: "ws",
			Name:      "requests_total",
			Help:      "Websocket requests by envelope type and result code.",
		}, []string{"type", "result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hrchat",
			Subsystem: "http",
			Name:      "uploads_total",
			Help:      "Attachment uploads by result.",
		}, []string{"result"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.sessions, m.requests, m.uploads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *GatewayMetrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *GatewayMetrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func (m *GatewayMetrics) request(typ string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = errorCode(err)
	}
	m.requests.WithLabelValues(typ, result).Inc()
}

func (m *GatewayMetrics) upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}
