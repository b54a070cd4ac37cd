// Package metrics exposes Prometheus collectors for the processing pipeline.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sightline"

// Metrics holds the pipeline collectors
type Metrics struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	activeRuns      prometheus.Gauge
	framesDecoded   prometheus.Counter
	framesSampled   prometheus.Counter
	detections      prometheus.Counter
	boxes           prometheus.Counter
	detectionFaults prometheus.Counter
	deliveryFaults  prometheus.Counter
	subscribers     prometheus.Gauge
	uploads         *prometheus.CounterVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Processing runs by outcome.",
		}, []string{"outcome"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of processing runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently in progress.",
		}),
		framesDecoded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Frames read from frame sources.",
		}),
		framesSampled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sampled_total",
			Help:      "Frames submitted to the detector.",
		}),
		detections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_written_total",
			Help:      "Detection records persisted.",
		}),
		boxes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boxes_written_total",
			Help:      "Bounding boxes persisted.",
		}),
		detectionFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_faults_total",
			Help:      "Frames whose detection failed and were treated as empty.",
		}),
		deliveryFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_faults_total",
			Help:      "Subscribers dropped after a failed or stalled delivery.",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected progress subscribers.",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload requests by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) RunFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(seconds)
}

func (m *Metrics) FrameDecoded() {
	if m == nil {
		return
	}
	m.framesDecoded.Inc()
}

func (m *Metrics) FrameSampled() {
	if m == nil {
		return
	}
	m.framesSampled.Inc()
}

func (m *Metrics) DetectionWritten(boxes int) {
	if m == nil {
		return
	}
	m.detections.Inc()
	m.boxes.Add(float64(boxes))
}

func (m *Metrics) DetectionFault() {
	if m == nil {
		return
	}
	m.detectionFaults.Inc()
}

func (m *Metrics) DeliveryFault() {
	if m == nil {
		return
	}
	m.deliveryFaults.Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}
