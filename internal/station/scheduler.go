package station

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/k-ogaki/deepwatch/internal/alert"
	"github.com/k-ogaki/deepwatch/internal/generator"
	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/internal/metrics"
	"github.com/k-ogaki/deepwatch/internal/recorder"
	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// Scheduler paces frame production at the configured rate and fans
// frames out through the hub. A tick that arrives more than one
// interval late drops its frame instead of letting backlog build up.
type Scheduler struct {
	hub      *Hub
	rec      *recorder.Recorder
	alerts   *alert.Emitter
	m        *metrics.Metrics
	interval time.Duration

	mu  sync.Mutex // guards gen
	gen *generator.Generator

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	running   atomic.Bool
	lastFrame atomic.Int64 // UnixNano of the last emitted frame
}

// StreamStatus is the API representation of the scheduler.
type StreamStatus struct {
	Running         bool    `json:"running"`
	FPS             float64 `json:"fps"`
	IntervalMs      int64   `json:"interval_ms"`
	Scenario        string  `json:"scenario"`
	FramesGenerated uint64  `json:"frames_generated"`
	FramesDropped   uint64  `json:"frames_dropped"`
}

// NewScheduler creates a scheduler streaming gen's frames through hub
// every interval. rec and alerts may be nil; m may be nil.
func NewScheduler(gen *generator.Generator, hub *Hub, interval time.Duration,
	rec *recorder.Recorder, alerts *alert.Emitter, m *metrics.Metrics) *Scheduler {

	if m == nil {
		m = metrics.New()
	}
	if interval <= 0 {
		interval = time.Second / 15
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		hub:      hub,
		rec:      rec,
		alerts:   alerts,
		m:        m,
		interval: interval,
		gen:      gen,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the pacing loop. Only the first call has any effect.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.running.Store(true)
	s.wg.Add(1)
	go s.run()
	logger.Info("Scheduler", "Streaming at %v per frame", s.interval)
}

// Stop terminates the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.running.Store(false)
}

// SwapScenario replaces the generator and restarts the stream epoch.
// Viewers are disconnected so their per-connection sequence tracking
// starts fresh; dashboards reconnect on their own.
func (s *Scheduler) SwapScenario(sc *generator.Scenario, seed int64, opts generator.Options) {
	s.mu.Lock()
	s.gen = generator.New(sc, seed, opts)
	name := s.gen.Scenario().Name
	s.mu.Unlock()

	s.hub.CloseAll("scenario changed")
	logger.Info("Scheduler", "Scenario swapped to %q, viewers disconnected", name)
}

// Scenario returns the scenario currently being streamed.
func (s *Scheduler) Scenario() *generator.Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen.Scenario()
}

// Status reports the scheduler's stream state.
func (s *Scheduler) Status() StreamStatus {
	return StreamStatus{
		Running:         s.running.Load(),
		FPS:             math.Float64frombits(s.m.SchedulerFPS.Load()),
		IntervalMs:      s.interval.Milliseconds(),
		Scenario:        s.Scenario().Name,
		FramesGenerated: s.m.FramesGenerated.Load(),
		FramesDropped:   s.m.FramesDropped.Load(),
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	stats := time.NewTicker(time.Second)
	defer stats.Stop()

	expected := time.Now()
	windowSent := 0
	windowStart := time.Now()

	for {
		select {
		case <-s.ctx.Done():
			return

		case now := <-ticker.C:
			expected = expected.Add(s.interval)
			drift := now.Sub(expected)
			if drift > s.interval {
				// Too far behind to be worth sending; resync the
				// cadence instead of bursting stale frames.
				s.m.FramesDropped.Add(1)
				logger.Warn("Scheduler", "Tick late by %v, frame dropped", drift)
				expected = now
				continue
			}
			if s.emit(now) {
				windowSent++
			}

		case <-stats.C:
			elapsed := time.Since(windowStart).Seconds()
			if elapsed > 0 {
				fps := float64(windowSent) / elapsed
				s.m.SetSchedulerFPS(fps)
				s.heartbeat(fps)
			}
			windowSent = 0
			windowStart = time.Now()

			if s.rec != nil {
				st := s.rec.GetStatus()
				s.m.RecordingBytes.Store(st.BytesWritten)
				s.m.RecordingRecords.Store(st.RecordCount)
			}
		}
	}
}

// emit generates and distributes one frame. Reports whether a frame
// went out.
func (s *Scheduler) emit(now time.Time) bool {
	start := time.Now()

	s.mu.Lock()
	frame := s.gen.Next(now)
	s.mu.Unlock()

	s.m.FramesGenerated.Add(1)
	s.m.SetThreatLevel(frame.State)

	if s.alerts != nil {
		s.alerts.Observe(&frame)
	}
	if s.rec != nil {
		s.rec.Record(&frame)
	}

	data, err := telemetry.EncodeFrame(frame)
	if err != nil {
		s.m.EncodeErrors.Add(1)
		logger.Error("Scheduler", "Frame %d encode failed: %v", frame.Sequence, err)
		return false
	}

	sent, dropped := s.hub.Broadcast(data)
	s.m.FramesSent.Add(uint64(sent))
	if dropped > 0 {
		s.m.ViewerDrops.Add(uint64(dropped))
	}
	s.lastFrame.Store(now.UnixNano())
	s.m.UpdateTickLatency(time.Since(start))
	return true
}

// LastFrameAt reports when the last frame went out. ok is false until
// the first frame.
func (s *Scheduler) LastFrameAt() (time.Time, bool) {
	ns := s.lastFrame.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// heartbeat tells viewers the measured rate once per second.
func (s *Scheduler) heartbeat(fps float64) {
	total, allowed, _ := s.hub.Counts()
	msg, err := telemetry.EncodeSystem("metrics", "", map[string]any{
		"fps":     math.Round(fps*10) / 10,
		"viewers": total,
		"allowed": allowed,
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(msg)
}
