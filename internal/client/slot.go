package client

import (
	"sync/atomic"

	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// FrameSlot is a single-slot frame buffer between the receive path and
// the render loop. Publishing overwrites any unconsumed frame, so the
// slot always holds the newest admitted frame and nothing ever queues
// behind a slow renderer. All operations are O(1) and lock-free.
type FrameSlot struct {
	cur         atomic.Pointer[telemetry.Frame]
	overwritten atomic.Uint64
}

// Publish stores a frame in the slot, replacing any pending frame.
func (s *FrameSlot) Publish(f *telemetry.Frame) {
	if prev := s.cur.Swap(f); prev != nil {
		s.overwritten.Add(1)
	}
}

// TakeIfPresent removes and returns the pending frame, or nil when the
// slot is empty.
func (s *FrameSlot) TakeIfPresent() *telemetry.Frame {
	return s.cur.Swap(nil)
}

// Overwritten returns how many pending frames were replaced before the
// renderer consumed them.
func (s *FrameSlot) Overwritten() uint64 {
	return s.overwritten.Load()
}
