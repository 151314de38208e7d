package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// Metrics holds all station metrics
type Metrics struct {
	// Frame pipeline counters
	FramesGenerated atomic.Uint64
	FramesSent      atomic.Uint64
	FramesDropped   atomic.Uint64 // dropped by the scheduler (drift)
	ViewerDrops     atomic.Uint64 // dropped at slow viewer queues

	// Error counters
	EncodeErrors atomic.Uint64
	SendErrors   atomic.Uint64

	// Scheduler state
	SchedulerFPS      atomic.Uint64 // float64 bits
	TickLatencyMs     atomic.Uint64
	ThreatLevel       atomic.Uint64 // 0=SAFE 1=POTENTIAL 2=CONFIRMED
	ConfirmedEpisodes atomic.Uint64

	// Viewer tracking
	ActiveViewers  atomic.Uint64
	TotalViewers   atomic.Uint64
	BlockedViewers atomic.Uint64

	// Recording state
	RecordingActive  atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes   atomic.Uint64
	RecordingRecords atomic.Uint64

	// Alerting
	AlertsPublished atomic.Uint64
	AlertErrors     atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		value,
	))
}

func counterValue(c *atomic.Uint64) func() float64 {
	return func() float64 { return float64(c.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Frame pipeline metrics
	m.gauge("station_frames_generated_total", "Total frames produced by the generator", counterValue(&m.FramesGenerated))
	m.gauge("station_frames_sent_total", "Total frame messages sent to viewers", counterValue(&m.FramesSent))
	m.gauge("station_frames_dropped_total", "Total frames dropped by the scheduler", counterValue(&m.FramesDropped))
	m.gauge("station_viewer_drops_total", "Total frames dropped at slow viewer queues", counterValue(&m.ViewerDrops))

	// Error metrics
	m.gauge("station_encode_errors_total", "Total frame encoding errors", counterValue(&m.EncodeErrors))
	m.gauge("station_send_errors_total", "Total viewer send errors", counterValue(&m.SendErrors))

	// Scheduler metrics
	m.gauge("station_scheduler_fps", "Measured outbound frames per second", func() float64 {
		return math.Float64frombits(m.SchedulerFPS.Load())
	})
	m.gauge("station_tick_latency_ms", "Last scheduler tick latency in milliseconds", counterValue(&m.TickLatencyMs))
	m.gauge("station_threat_level", "Current threat level (0=SAFE 1=POTENTIAL 2=CONFIRMED)", counterValue(&m.ThreatLevel))
	m.gauge("station_confirmed_episodes_total", "Total escalations to CONFIRMED", counterValue(&m.ConfirmedEpisodes))

	// Viewer metrics
	m.gauge("station_active_viewers", "Number of connected viewers", counterValue(&m.ActiveViewers))
	m.gauge("station_total_viewers", "Total viewers ever connected", counterValue(&m.TotalViewers))
	m.gauge("station_blocked_viewers", "Number of revoked viewers still connected", counterValue(&m.BlockedViewers))

	// Recording metrics
	m.gauge("station_recording_active", "Recording active (0=inactive, 1=active)", counterValue(&m.RecordingActive))
	m.gauge("station_recording_bytes", "Total bytes written to the recording", counterValue(&m.RecordingBytes))
	m.gauge("station_recording_records", "Total records written to the recording", counterValue(&m.RecordingRecords))

	// Alert metrics
	m.gauge("station_alerts_published_total", "Total alerts published to the broker", counterValue(&m.AlertsPublished))
	m.gauge("station_alert_errors_total", "Total alert publish failures", counterValue(&m.AlertErrors))
}

// SetSchedulerFPS publishes the measured outbound frame rate
func (m *Metrics) SetSchedulerFPS(fps float64) {
	m.SchedulerFPS.Store(math.Float64bits(fps))
}

// UpdateTickLatency records how long a scheduler tick took
func (m *Metrics) UpdateTickLatency(d time.Duration) {
	m.TickLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetThreatLevel records the current threat state, counting
// transitions into CONFIRMED
func (m *Metrics) SetThreatLevel(state telemetry.ThreatState) {
	var level uint64
	switch state {
	case telemetry.StatePotential:
		level = 1
	case telemetry.StateConfirmed:
		level = 2
	}
	prev := m.ThreatLevel.Swap(level)
	if level == 2 && prev != 2 {
		m.ConfirmedEpisodes.Add(1)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	http.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, nil)
}
