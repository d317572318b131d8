package voxmap

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for frame processing.
type Metrics struct {
	registry *prometheus.Registry

	FramesTotal   *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	FrameErrors   *prometheus.CounterVec
	RayFailures   prometheus.Counter
	PhaseDuration *prometheus.HistogramVec
	ChangedCells  prometheus.Histogram
	FrontierCells prometheus.Gauge
	MapNodes      *prometheus.GaugeVec
	PublishErrors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontiermap_frames_total",
				Help: "Frames integrated into the map, by sensor.",
			},
			[]string{"sensor"},
		),
		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontiermap_frames_dropped_total",
				Help: "Frames rejected before integration, by sensor and reason.",
			},
			[]string{"sensor", "reason"},
		),
		FrameErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontiermap_frame_errors_total",
				Help: "Frames abandoned after a map failure, by sensor.",
			},
			[]string{"sensor"},
		),
		RayFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "frontiermap_ray_failures_total",
				Help: "Rays skipped because they were degenerate or left the key range.",
			},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "frontiermap_phase_duration_seconds",
				Help:    "Time spent per frame phase (trace, commit, track, find, merge).",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"phase"},
		),
		ChangedCells: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "frontiermap_changed_cells",
				Help:    "Cells whose value changed per frame.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		FrontierCells: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "frontiermap_frontier_cells",
				Help: "Current size of the frontier set.",
			},
		),
		MapNodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "frontiermap_map_nodes",
				Help: "Stored map nodes by state (free, occupied).",
			},
			[]string{"state"},
		),
		PublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontiermap_publish_errors_total",
				Help: "Failed MQTT publishes by topic suffix.",
			},
			[]string{"topic"},
		),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.FramesTotal,
		m.FramesDropped,
		m.FrameErrors,
		m.RayFailures,
		m.PhaseDuration,
		m.ChangedCells,
		m.FrontierCells,
		m.MapNodes,
		m.PublishErrors,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the scrape handler for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeReport(r FrameReport) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(r.SensorID).Inc()
	m.RayFailures.Add(float64(r.Integration.RayFailures))
	m.observePhase("trace", r.Integration.TraceTime)
	m.observePhase("commit", r.Integration.CommitTime)
	m.observePhase("track", r.TrackTime)
	m.observePhase("find", r.FindTime)
	m.observePhase("merge", r.MergeTime)
	m.ChangedCells.Observe(float64(r.Changed))
	m.FrontierCells.Set(float64(r.Merge.Size))
	m.MapNodes.WithLabelValues("free").Set(float64(r.Map.Free))
	m.MapNodes.WithLabelValues("occupied").Set(float64(r.Map.Occupied))
}

func (m *Metrics) observePhase(phase string, d time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) observeDrop(sensor, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(sensor, reason).Inc()
}

func (m *Metrics) observeError(sensor string) {
	if m == nil {
		return
	}
	m.FrameErrors.WithLabelValues(sensor).Inc()
}

// ObservePublishError counts a failed publish. Safe on a nil receiver.
func (m *Metrics) ObservePublishError(topic string) {
	if m == nil {
		return
	}
	m.PublishErrors.WithLabelValues(topic).Inc()
}
