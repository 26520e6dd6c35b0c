// Package metrics exposes the node's Prometheus metrics on a private
// registry so the /metrics endpoint only carries what the node owns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	framesAcquired  prometheus.Counter
	framesPublished prometheus.Counter
	framesDropped   prometheus.Counter
	publishErrors   prometheus.Counter
	controlsApplied prometheus.Counter
	reconnects      prometheus.Counter

	brightness   prometheus.Gauge
	exposureTime prometheus.Gauge
	gain         prometheus.Gauge

	publishDuration prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camnode",
			Name:      "frames_acquired_total",
			Help:      "Frames received from the camera",
		}),
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camnode",
			Name:      "frames_published_total",
			Help:      "Frames encoded and handed to the transport",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camnode",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the publish queue was full",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camnode",
			Name:      "publish_errors_total",
			Help:      "Transport send failures",
		}),
		controlsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camnode",
			Name:      "controls_applied_total",
			Help:      "CameraControl commands written to the nodemap",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camnode",
			Name:      "device_reconnects_total",
			Help:      "Acquisition restarts after the device stream ended",
		}),
		brightness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "camnode",
			Name:      "brightness",
			Help:      "Brightness of the most recent frame (0-255, -1 invalid)",
		}),
		exposureTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "camnode",
			Name:      "exposure_time_microseconds",
			Help:      "Current exposure time",
		}),
		gain: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "camnode",
			Name:      "gain_db",
			Help:      "Current analog gain",
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "camnode",
			Name:      "publish_duration_seconds",
			Help:      "Time spent encoding and publishing one frame",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	registry.MustRegister(
		m.framesAcquired,
		m.framesPublished,
		m.framesDropped,
		m.publishErrors,
		m.controlsApplied,
		m.reconnects,
		m.brightness,
		m.exposureTime,
		m.gain,
		m.publishDuration,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameAcquired() {
	if m == nil {
		return
	}
	m.framesAcquired.Inc()
}

func (m *Metrics) FramePublished(d time.Duration) {
	if m == nil {
		return
	}
	m.framesPublished.Inc()
	m.publishDuration.Observe(d.Seconds())
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *Metrics) PublishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}

func (m *Metrics) ControlApplied(exposure uint32, gain float64) {
	if m == nil {
		return
	}
	m.controlsApplied.Inc()
	m.exposureTime.Set(float64(exposure))
	m.gain.Set(gain)
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) ObserveFrame(brightness int, exposure uint32, gain float64) {
	if m == nil {
		return
	}
	m.brightness.Set(float64(brightness))
	m.exposureTime.Set(float64(exposure))
	m.gain.Set(gain)
}
