package client

import (
	"sync"
	"testing"

	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// TestFrameSlotOverwrite verifies that publishing replaces an
// unconsumed frame and that the take clears the slot.
func TestFrameSlotOverwrite(t *testing.T) {
	var slot FrameSlot

	slot.Publish(&telemetry.Frame{Sequence: 1})
	slot.Publish(&telemetry.Frame{Sequence: 2})

	got := slot.TakeIfPresent()
	if got == nil {
		t.Fatal("TakeIfPresent returned nil after publish")
	}
	if got.Sequence != 2 {
		t.Errorf("took sequence %d, want 2 (newest)", got.Sequence)
	}

	if again := slot.TakeIfPresent(); again != nil {
		t.Errorf("slot not cleared, got sequence %d", again.Sequence)
	}

	if n := slot.Overwritten(); n != 1 {
		t.Errorf("Overwritten() = %d, want 1", n)
	}
}

// TestFrameSlotEmpty verifies that taking from an empty slot is safe.
func TestFrameSlotEmpty(t *testing.T) {
	var slot FrameSlot
	if f := slot.TakeIfPresent(); f != nil {
		t.Errorf("empty slot returned frame with sequence %d", f.Sequence)
	}
}

// TestFrameSlotConcurrent verifies publish/take under contention: the
// consumer must only ever observe whole frames, never tear.
func TestFrameSlotConcurrent(t *testing.T) {
	var slot FrameSlot
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= n; i++ {
			slot.Publish(&telemetry.Frame{Sequence: i, Timestamp: float64(i)})
		}
	}()

	var last, taken uint64
	for i := 0; i < n*2; i++ {
		if f := slot.TakeIfPresent(); f != nil {
			if f.Timestamp != float64(f.Sequence) {
				t.Fatalf("torn frame: sequence %d, timestamp %v", f.Sequence, f.Timestamp)
			}
			if f.Sequence < last {
				t.Fatalf("frame order went backwards: %d after %d", f.Sequence, last)
			}
			last = f.Sequence
			taken++
		}
	}
	wg.Wait()

	if slot.TakeIfPresent() != nil {
		taken++
	}

	// Conservation: every published frame was either taken or
	// overwritten before consumption.
	if total := taken + slot.Overwritten(); total != n {
		t.Errorf("taken(%d) + overwritten(%d) = %d, want %d", taken, slot.Overwritten(), total, n)
	}
}
