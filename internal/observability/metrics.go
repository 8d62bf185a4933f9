package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Queries           *prometheus.CounterVec
	QueryLatency      *prometheus.HistogramVec
	RetrievalDegraded *prometheus.CounterVec
	BackendErrors     *prometheus.CounterVec
	MemoryRecords     *prometheus.GaugeVec
	DocumentsIndexed  prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Queries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Pipeline executions by pipeline and outcome.",
		}, []string{"pipeline", "outcome"}),
		QueryLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_ms",
			Help:      "End-to-end pipeline latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1200, 2000, 4000, 8000},
		}, []string{"pipeline"}),
		RetrievalDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Retrieval scopes dropped from a query by origin.",
		}, []string{"origin"}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Reasoning backend errors by kind.",
		}, []string{"kind"}),
		MemoryRecords: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_records",
			Help:      "Stored memory records by kind.",
		}, []string{"kind"}),
		DocumentsIndexed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Documents accepted for chunking and indexing.",
		}),
	}
}

func (m *Metrics) ObserveQuery(pipeline, outcome string, d time.Duration) {
	m.Queries.WithLabelValues(pipeline, outcome).Inc()
	m.QueryLatency.WithLabelValues(pipeline).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
