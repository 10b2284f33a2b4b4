package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks pipeline outcomes.
type Metrics struct {
	processed prometheus.Counter
	rejected  *prometheus.CounterVec
	handled   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	noops     prometheus.Counter
}

// NewMetrics registers the pipeline counters with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		processed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "replypost", Subsystem: "pipeline",
			Name: "messages_total", Help: "Messages entering the dispatch pipeline.",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replypost", Subsystem: "pipeline",
			Name: "rejected_total", Help: "Messages rejected by a pipeline stage.",
		}, []string{"reason"}),
		handled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replypost", Subsystem: "pipeline",
			Name: "handled_total", Help: "Messages successfully processed by a content handler.",
		}, []string{"handler"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replypost", Subsystem: "pipeline",
			Name: "handler_failures_total", Help: "Structured failures returned by content handlers.",
		}, []string{"handler", "kind"}),
		noops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "replypost", Subsystem: "pipeline",
			Name: "unrecognized_total", Help: "Messages no handler recognized.",
		}),
	}
}

func (m *Metrics) incProcessed() {
	if m != nil {
		m.processed.Inc()
	}
}

func (m *Metrics) incRejected(reason Reason) {
	if m != nil {
		m.rejected.WithLabelValues(string(reason)).Inc()
	}
}

func (m *Metrics) incHandled(handler string) {
	if m != nil {
		m.handled.WithLabelValues(handler).Inc()
	}
}

func (m *Metrics) incFailed(handler, kind string) {
	if m != nil {
		m.failed.WithLabelValues(handler, kind).Inc()
	}
}

func (m *Metrics) incNoOp() {
	if m != nil {
		m.noops.Inc()
	}
}
