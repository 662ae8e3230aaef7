package lexgo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports index events as Prometheus metrics.
type PrometheusObserver struct {
	opLatency   *prometheus.HistogramVec
	ops         *prometheus.CounterVec
	flushedDocs prometheus.Counter
	mergedSegs  prometheus.Counter
	deletedDocs prometheus.Counter
	generation  prometheus.Gauge
	queueDepth  *prometheus.GaugeVec
}

var _ MetricsObserver = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer. It panics if the metrics are already
// registered with reg.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lexgo",
			Name:      "operation_duration_seconds",
			Help:      "Duration of flushes, merges, commits and refreshes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"op"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexgo",
			Name:      "operations_total",
			Help:      "Completed operations by outcome.",
		}, []string{"op", "status"}),
		flushedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lexgo",
			Name:      "flushed_documents_total",
			Help:      "Documents written by flushes.",
		}),
		mergedSegs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lexgo",
			Name:      "merged_segments_total",
			Help:      "Input segments consumed by merges.",
		}),
		deletedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lexgo",
			Name:      "deleted_documents_total",
			Help:      "Documents marked deleted.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lexgo",
			Name:      "commit_generation",
			Help:      "Generation of the last successful commit.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lexgo",
			Name:      "queue_depth",
			Help:      "Depth of background queues.",
		}, []string{"queue"}),
	}
	reg.MustRegister(o.opLatency, o.ops, o.flushedDocs, o.mergedSegs, o.deletedDocs, o.generation, o.queueDepth)
	return o
}

func (o *PrometheusObserver) observe(op string, d time.Duration, err error) {
	o.opLatency.WithLabelValues(op).Observe(d.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.ops.WithLabelValues(op, status).Inc()
}

func (o *PrometheusObserver) OnFlush(d time.Duration, docs int, err error) {
	o.observe("flush", d, err)
	if err == nil {
		o.flushedDocs.Add(float64(docs))
	}
}

func (o *PrometheusObserver) OnMerge(d time.Duration, inputs, _ int, err error) {
	o.observe("merge", d, err)
	if err == nil {
		o.mergedSegs.Add(float64(inputs))
	}
}

func (o *PrometheusObserver) OnCommit(d time.Duration, gen int64, err error) {
	o.observe("commit", d, err)
	if err == nil {
		o.generation.Set(float64(gen))
	}
}

func (o *PrometheusObserver) OnRefresh(d time.Duration, _ bool, err error) {
	o.observe("refresh", d, err)
}

func (o *PrometheusObserver) OnQueueDepth(name string, depth int) {
	o.queueDepth.WithLabelValues(name).Set(float64(depth))
}

func (o *PrometheusObserver) OnDeletes(count int) {
	o.deletedDocs.Add(float64(count))
}
