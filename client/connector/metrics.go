package connector

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	uploads *prometheus.CounterVec
	state   prometheus.Gauge
}

// NewMetrics registers the connector metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_sync_connector_uploads_total",
			Help: "Transaction uploads by result.",
		}, []string{"result"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "todo_sync_connector_state",
			Help: "Current connector state (0 disconnected, 1 connecting, 2 connected, 3 uploading, 4 backoff).",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.uploads, m.state)
	}
	return m
}

func (m *Metrics) observeUpload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) setState(state State) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}
