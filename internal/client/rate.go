package client

import "sync/atomic"

// RateMeter counts consumed frames and exposes a per-second rate. The
// caller drives sampling from its own wall-clock ticker, so the meter
// itself holds no timers.
type RateMeter struct {
	total  atomic.Uint64
	window atomic.Uint64
	rate   atomic.Uint64
}

// Consume records one consumed frame.
func (m *RateMeter) Consume() {
	m.total.Add(1)
	m.window.Add(1)
}

// Sample closes the current window and publishes its count as the
// effective rate. Call once per second.
func (m *RateMeter) Sample() uint64 {
	r := m.window.Swap(0)
	m.rate.Store(r)
	return r
}

// Rate returns the frame count of the last sampled window.
func (m *RateMeter) Rate() uint64 {
	return m.rate.Load()
}

// Total returns the number of frames consumed since creation.
func (m *RateMeter) Total() uint64 {
	return m.total.Load()
}
