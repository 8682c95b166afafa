package blockstore

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "x1_ledger"

// ScanBuckets returns the shared histogram layout: eleven buckets at powers
// of five starting from 5^-1.
func ScanBuckets() []float64 {
	buckets := make([]float64, 11)
	for i := range buckets {
		buckets[i] = math.Pow(5, float64(i-1))
	}
	return buckets
}

// Metrics tracks per-method call counters and internal scan timers for the
// Reader.
type Metrics struct {
	methodCalls *prometheus.CounterVec

	// addressSignatureScan observes the duration, in milliseconds, of the
	// reverse address-signature walk.
	addressSignatureScan prometheus.Histogram

	// missingIndexScan observes the duration, in milliseconds, of the
	// raw missing-shred-index scan.
	missingIndexScan prometheus.Histogram
}

// NewMetrics creates Reader metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		methodCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "blockstore",
			Name:      "method_calls_total",
			Help:      "Read-API calls by method, e.g. num_get_block.",
		}, []string{"method"}),
		addressSignatureScan: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "blockstore",
			Name:      "address_signature_scan_ms",
			Help:      "Duration of reverse address-signature scans.",
			Buckets:   ScanBuckets(),
		}),
		missingIndexScan: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "blockstore",
			Name:      "missing_index_scan_ms",
			Help:      "Duration of missing-data-index scans.",
			Buckets:   ScanBuckets(),
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.methodCalls, m.addressSignatureScan, m.missingIndexScan,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// inc bumps the per-method call counter.
func (m *Metrics) inc(method string) {
	m.methodCalls.WithLabelValues(method).Inc()
}
