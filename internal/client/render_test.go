package client

import (
	"sync"
	"testing"
	"time"

	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// sinkRecorder collects render calls for assertions.
type sinkRecorder struct {
	mu    sync.Mutex
	calls []sinkCall
}

type sinkCall struct {
	seq   uint64
	fresh bool
}

func (s *sinkRecorder) sink(f *telemetry.Frame, fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{seq: f.Sequence, fresh: fresh})
}

func (s *sinkRecorder) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// TestRenderTickConsumesPending verifies that a tick takes the pending
// frame, records it as rendered, and counts it as consumed.
func TestRenderTickConsumesPending(t *testing.T) {
	var slot FrameSlot
	var meter RateMeter
	rec := &sinkRecorder{}
	r := NewRenderLoop(&slot, &meter, time.Hour, rec.sink)

	slot.Publish(&telemetry.Frame{Sequence: 5})
	r.tick()

	if got := r.Rendered(); got == nil || got.Sequence != 5 {
		t.Fatalf("Rendered() = %+v, want sequence 5", got)
	}
	if meter.Total() != 1 {
		t.Errorf("meter.Total() = %d, want 1", meter.Total())
	}

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != (sinkCall{5, true}) {
		t.Errorf("sink calls = %+v, want one fresh render of 5", calls)
	}
}

// TestRenderTickHoldsLastFrame verifies that ticks without a pending
// frame re-present the last rendered frame and that holding is
// idempotent.
func TestRenderTickHoldsLastFrame(t *testing.T) {
	var slot FrameSlot
	var meter RateMeter
	rec := &sinkRecorder{}
	r := NewRenderLoop(&slot, &meter, time.Hour, rec.sink)

	slot.Publish(&telemetry.Frame{Sequence: 9})
	r.tick()
	r.tick()
	r.tick()

	if got := r.Rendered(); got == nil || got.Sequence != 9 {
		t.Fatalf("Rendered() = %+v, want sequence 9", got)
	}
	if meter.Total() != 1 {
		t.Errorf("meter.Total() = %d, want 1 (held frames are not re-consumed)", meter.Total())
	}

	calls := rec.snapshot()
	want := []sinkCall{{9, true}, {9, false}, {9, false}}
	if len(calls) != len(want) {
		t.Fatalf("sink calls = %+v, want %+v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

// TestRenderTickEmptyBeforeFirstFrame verifies that ticks before any
// frame arrives render nothing.
func TestRenderTickEmptyBeforeFirstFrame(t *testing.T) {
	var slot FrameSlot
	rec := &sinkRecorder{}
	r := NewRenderLoop(&slot, nil, time.Hour, rec.sink)

	r.tick()
	r.tick()

	if r.Rendered() != nil {
		t.Error("Rendered() non-nil before any frame was published")
	}
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("sink called %d times before any frame existed", len(calls))
	}
}

// TestRenderOutOfOrderScenario verifies the end-to-end admission and
// render order for the sequence 5, 3, 7: only 5 and 7 are rendered,
// in that order.
func TestRenderOutOfOrderScenario(t *testing.T) {
	var slot FrameSlot
	var gate sequenceGate
	rec := &sinkRecorder{}
	r := NewRenderLoop(&slot, nil, time.Hour, rec.sink)

	for _, seq := range []uint64{5, 3, 7} {
		if gate.Admit(seq) {
			slot.Publish(&telemetry.Frame{Sequence: seq})
		}
		r.tick()
	}

	calls := rec.snapshot()
	want := []sinkCall{{5, true}, {5, false}, {7, true}}
	if len(calls) != len(want) {
		t.Fatalf("sink calls = %+v, want %+v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

// TestRenderReentrancyGuard verifies that a tick arriving while a
// render is in flight is skipped instead of queued.
func TestRenderReentrancyGuard(t *testing.T) {
	var slot FrameSlot
	entered := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	n := 0
	r := NewRenderLoop(&slot, nil, time.Hour, func(f *telemetry.Frame, fresh bool) {
		mu.Lock()
		n++
		mu.Unlock()
		close(entered)
		<-release
	})

	slot.Publish(&telemetry.Frame{Sequence: 1})
	go r.tick()
	<-entered

	// Second tick while the first render is still blocked in the sink.
	slot.Publish(&telemetry.Frame{Sequence: 2})
	r.tick()
	close(release)

	mu.Lock()
	got := n
	mu.Unlock()
	if got != 1 {
		t.Errorf("sink ran %d times, want 1 (second tick skipped)", got)
	}
	// The skipped frame stays pending for the next tick.
	if f := slot.TakeIfPresent(); f == nil || f.Sequence != 2 {
		t.Errorf("pending frame = %+v, want sequence 2", f)
	}
}

// TestRenderLoopStartIdempotent verifies that repeated Start calls do
// not spawn extra loops and that Stop leaves the rendered frame
// readable.
func TestRenderLoopStartIdempotent(t *testing.T) {
	var slot FrameSlot
	var meter RateMeter
	r := NewRenderLoop(&slot, &meter, time.Millisecond, nil)

	r.Start()
	r.Start()
	r.Start()

	slot.Publish(&telemetry.Frame{Sequence: 42})

	deadline := time.After(time.Second)
	for r.Rendered() == nil {
		select {
		case <-deadline:
			t.Fatal("frame not rendered within 1s")
		case <-time.After(time.Millisecond):
		}
	}

	r.Stop()
	r.Stop()

	if got := r.Rendered(); got == nil || got.Sequence != 42 {
		t.Errorf("Rendered() after Stop = %+v, want sequence 42", got)
	}
}
