// Package metrics provides Prometheus metrics for the capture and delta
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Queue label values.
const (
	QueueCapture   = "capture"
	QueueProcessed = "processed"
)

var (
	framesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airshare",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames grabbed from the display source",
	})

	captureErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airshare",
		Subsystem: "capture",
		Name:      "errors_total",
		Help:      "Transient capture failures",
	})

	queueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airshare",
		Subsystem: "queue",
		Name:      "dropped_total",
		Help:      "Entries discarded by the overflow policy",
	}, []string{"queue"})

	queueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "airshare",
		Subsystem: "queue",
		Name:      "length",
		Help:      "Current queue length",
	}, []string{"queue"})

	payloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airshare",
		Subsystem: "processor",
		Name:      "payloads_total",
		Help:      "Processed payloads by mode",
	}, []string{"mode"})

	payloadBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "airshare",
		Subsystem: "processor",
		Name:      "payload_bytes",
		Help:      "Compressed payload size",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	}, []string{"mode"})

	resolutionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "airshare",
		Subsystem: "processor",
		Name:      "resolution_pixels",
		Help:      "Current output resolution",
	}, []string{"axis"})

	viewers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "airshare",
		Subsystem: "session",
		Name:      "viewers",
		Help:      "Connected viewers",
	})
)

// FrameCaptured counts one successful capture.
func FrameCaptured() { framesCaptured.Inc() }

// CaptureFailed counts one transient capture failure.
func CaptureFailed() { captureErrors.Inc() }

// QueueDropped adds n shed entries for queue.
func QueueDropped(queue string, n int) {
	queueDropped.WithLabelValues(queue).Add(float64(n))
}

// SetQueueLength records the length of queue.
func SetQueueLength(queue string, n int) {
	queueLength.WithLabelValues(queue).Set(float64(n))
}

// PayloadProduced records one processed payload.
func PayloadProduced(mode string, size int) {
	payloads.WithLabelValues(mode).Inc()
	payloadBytes.WithLabelValues(mode).Observe(float64(size))
}

// SetResolution records the output resolution in effect.
func SetResolution(width, height uint32) {
	resolutionGauge.WithLabelValues("width").Set(float64(width))
	resolutionGauge.WithLabelValues("height").Set(float64(height))
}

// SetViewers records the number of connected viewers.
func SetViewers(n int) { viewers.Set(float64(n)) }

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
