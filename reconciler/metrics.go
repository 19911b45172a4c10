package reconciler

import (
	"strconv"

	"github.com/breez/todo-sync/model"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ops      *prometheus.CounterVec
	requests *prometheus.CounterVec
}

// NewMetrics registers the reconciler counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_sync_webhook_ops_total",
			Help: "Mutations received by the sync webhook by table, op and outcome.",
		}, []string{"table", "op", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_sync_webhook_requests_total",
			Help: "Sync webhook requests by response code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.requests)
	}
	return m
}

func (m *Metrics) observeOp(table, op string, status model.OpStatus) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(table, op, string(status)).Inc()
}

func (m *Metrics) observeRequest(code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(code)).Inc()
}
