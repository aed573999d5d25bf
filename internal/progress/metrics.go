package progress

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes an Aggregator's counters as Prometheus gauges on an
// optional local HTTP server, using a private *prometheus.Registry plus
// a promhttp handler rather than the global default registry.
type Metrics struct {
	bytesDone   prometheus.GaugeFunc
	bytesTotal  prometheus.GaugeFunc
	chunksDone  prometheus.GaugeFunc
	chunksTotal prometheus.GaugeFunc
	speed       prometheus.GaugeFunc
	registry    *prometheus.Registry
}

// NewMetrics registers gauges backed by live reads of agg's snapshot.
func NewMetrics(agg *Aggregator) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{registry: registry}
	m.bytesDone = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gvmkit_push_bytes_done",
		Help: "Bytes uploaded or already present on the server.",
	}, func() float64 { return float64(agg.Snapshot().BytesDone) })
	m.bytesTotal = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gvmkit_push_bytes_total",
		Help: "Total size of the packaged image in bytes.",
	}, func() float64 { return float64(agg.Snapshot().BytesTotal) })
	m.chunksDone = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gvmkit_push_chunks_done",
		Help: "Chunks uploaded or already present on the server.",
	}, func() float64 { return float64(agg.Snapshot().ChunksDone) })
	m.chunksTotal = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gvmkit_push_chunks_total",
		Help: "Total number of chunks in the descriptor.",
	}, func() float64 { return float64(agg.Snapshot().ChunksTotal) })
	m.speed = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gvmkit_push_speed_bytes_per_second",
		Help: "Rolling-window upload speed; -1 when not yet available.",
	}, func() float64 { return agg.Snapshot().SpeedBps })

	registry.MustRegister(m.bytesDone, m.bytesTotal, m.chunksDone, m.chunksTotal, m.speed)
	return m
}

// Handler returns an HTTP handler exposing /metrics and /healthz,
// suitable for mounting on a loopback listener from cmd/gvmkit-push.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
