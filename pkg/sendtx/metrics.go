package sendtx

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "x1_ledger"

// forwardBuckets is the shared histogram layout: eleven buckets at powers of
// five starting from 5^-1.
func forwardBuckets() []float64 {
	buckets := make([]float64, 11)
	for i := range buckets {
		buckets[i] = math.Pow(5, float64(i-1))
	}
	return buckets
}

// Metrics tracks the forwarding pipeline stages.
type Metrics struct {
	received prometheus.Counter
	sent     prometheus.Counter
	retried  prometheus.Counter
	dropped  *prometheus.CounterVec

	pendingSize prometheus.Gauge

	// batchSend observes the duration, in milliseconds, of one
	// leader-resolution-plus-send cycle.
	batchSend prometheus.Histogram

	// processPass observes the duration, in milliseconds, of one
	// processor tick.
	processPass prometheus.Histogram
}

// NewMetrics creates forwarding metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sendtx",
			Name:      "transactions_received_total",
			Help:      "Transactions drained from the inbound channel.",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sendtx",
			Name:      "transactions_sent_total",
			Help:      "Transactions pushed to leaders, counting resends.",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sendtx",
			Name:      "transactions_retried_total",
			Help:      "Resends decided by the processor.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sendtx",
			Name:      "transactions_dropped_total",
			Help:      "Transactions removed from the pending pool by reason.",
		}, []string{"reason"}),
		pendingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sendtx",
			Name:      "pending_pool_size",
			Help:      "Current pending-transaction pool size.",
		}),
		batchSend: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sendtx",
			Name:      "batch_send_ms",
			Help:      "Duration of one batch send.",
			Buckets:   forwardBuckets(),
		}),
		processPass: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sendtx",
			Name:      "process_pass_ms",
			Help:      "Duration of one processor tick.",
			Buckets:   forwardBuckets(),
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.received, m.sent, m.retried, m.dropped, m.pendingSize,
			m.batchSend, m.processPass,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}
