package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// RenderSink receives the frame chosen for a display tick. fresh is
// true when the frame was newly consumed from the slot and false when
// the previous frame is being held because nothing new arrived.
type RenderSink func(f *telemetry.Frame, fresh bool)

// RenderLoop drives the display at a fixed tick interval. Each tick
// consumes the pending frame from the slot if one exists, otherwise it
// re-presents the last rendered frame. The last rendered frame is kept
// across disconnects so the display never blanks.
type RenderLoop struct {
	slot     *FrameSlot
	meter    *RateMeter
	interval time.Duration
	sink     RenderSink

	rendered atomic.Pointer[telemetry.Frame]
	inFlight atomic.Bool
	started  atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRenderLoop creates a render loop reading from slot. A nil sink is
// replaced with a no-op.
func NewRenderLoop(slot *FrameSlot, meter *RateMeter, interval time.Duration, sink RenderSink) *RenderLoop {
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	if sink == nil {
		sink = func(*telemetry.Frame, bool) {}
	}
	return &RenderLoop{
		slot:     slot,
		meter:    meter,
		interval: interval,
		sink:     sink,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop goroutine. Only the first call has any
// effect, so reconnections can call Start unconditionally.
func (r *RenderLoop) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	logger.Debug("Render", "Display loop started (interval %v)", r.interval)
	go r.run()
}

// Stop terminates the loop and waits for the goroutine to exit. The
// last rendered frame remains readable after Stop.
func (r *RenderLoop) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.started.Load() {
		<-r.done
	}
}

// Rendered returns the most recently rendered frame, or nil if nothing
// has been rendered yet. Disconnects never clear it.
func (r *RenderLoop) Rendered() *telemetry.Frame {
	return r.rendered.Load()
}

func (r *RenderLoop) run() {
	defer close(r.done)

	display := time.NewTicker(r.interval)
	defer display.Stop()
	sample := time.NewTicker(time.Second)
	defer sample.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-display.C:
			r.tick()
		case <-sample.C:
			if r.meter != nil {
				r.meter.Sample()
			}
		}
	}
}

// tick performs one display update. A tick arriving while a previous
// render is still in flight is skipped rather than queued.
func (r *RenderLoop) tick() {
	if !r.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer r.inFlight.Store(false)

	if f := r.slot.TakeIfPresent(); f != nil {
		r.rendered.Store(f)
		if r.meter != nil {
			r.meter.Consume()
		}
		r.sink(f, true)
		return
	}
	if last := r.rendered.Load(); last != nil {
		r.sink(last, false)
	}
}
