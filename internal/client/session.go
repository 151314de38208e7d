package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// Default configuration values.
const (
	DefaultBaseRetryDelay   = time.Second
	DefaultMaxRetryDelay    = 30 * time.Second
	DefaultMaxRetryAttempts = 10
	DefaultDialTimeout      = 10 * time.Second
	DefaultDisplayInterval  = 33 * time.Millisecond
)

// Config holds session configuration. Zero values take defaults.
type Config struct {
	// Endpoint is the stream URL (ws:// or wss://).
	Endpoint string

	// BaseRetryDelay seeds the exponential backoff.
	BaseRetryDelay time.Duration
	// MaxRetryDelay caps the backoff.
	MaxRetryDelay time.Duration
	// MaxRetryAttempts bounds automatic reconnections before the
	// session enters StateFailed.
	MaxRetryAttempts int

	// DialTimeout bounds a single connection attempt, so a hung dial
	// resolves into the normal retry path instead of waiting forever.
	DialTimeout time.Duration
	// DisplayInterval is the render tick period.
	DisplayInterval time.Duration

	// Transport overrides the default WebSocket transport.
	Transport Transport
	// OnRender, if set, receives every rendered frame.
	OnRender RenderSink
	// OnStateChange, if set, observes state transitions. It runs on
	// the session goroutine and must not block.
	OnStateChange func(prev, next ConnState)
}

func (c Config) withDefaults() Config {
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.DisplayInterval <= 0 {
		c.DisplayInterval = DefaultDisplayInterval
	}
	if c.Transport == nil {
		c.Transport = &WebSocketTransport{HandshakeTimeout: c.DialTimeout}
	}
	return c
}

// Session owns one logical stream connection: it dials, reads,
// filters, and hands admitted frames to the render loop, reconnecting
// with exponential backoff until the retry budget is exhausted.
//
// All lifecycle state lives on a single run goroutine fed by typed
// events, so no state transition ever races another.
type Session struct {
	cfg    Config
	policy RetryPolicy

	slot  *FrameSlot
	meter *RateMeter
	loop  *RenderLoop

	ctx    context.Context
	cancel context.CancelFunc
	events chan event

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup // run goroutine
	connWG    sync.WaitGroup // dial and read goroutines

	state   atomic.Int32
	attempt atomic.Int32

	// Owned by the run goroutine.
	conn     Conn
	connGen  uint64
	gate     sequenceGate
	retry    *time.Timer
	retryGen uint64
}

// NewSession creates a session for the configured endpoint. The
// session is inert until Start.
func NewSession(cfg Config) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg: cfg,
		policy: RetryPolicy{
			BaseDelay:   cfg.BaseRetryDelay,
			MaxDelay:    cfg.MaxRetryDelay,
			MaxAttempts: cfg.MaxRetryAttempts,
		},
		slot:   &FrameSlot{},
		meter:  &RateMeter{},
		ctx:    ctx,
		cancel: cancel,
		events: make(chan event, 16),
	}
	s.loop = NewRenderLoop(s.slot, s.meter, cfg.DisplayInterval, cfg.OnRender)
	return s
}

// Start launches the session and begins the first connection attempt.
// Subsequent calls are no-ops.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

// Close tears the session down: it cancels any pending retry, stops
// the render loop, closes the transport, and waits for all session
// goroutines to exit. Safe to call repeatedly. Must not be called
// from the session's own callbacks.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.connWG.Wait()
		logger.Info("Session", "Session closed")
	})
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	return ConnState(s.state.Load())
}

// ReconnectAttempt returns the current retry attempt count. It is 0
// while connected and after a manual reconnect.
func (s *Session) ReconnectAttempt() int {
	return int(s.attempt.Load())
}

// RenderedFrame returns the last rendered frame, or nil before the
// first frame. It survives disconnects.
func (s *Session) RenderedFrame() *telemetry.Frame {
	return s.loop.Rendered()
}

// EffectiveFrameRate returns frames rendered during the last full
// wall-clock second.
func (s *Session) EffectiveFrameRate() int {
	return int(s.meter.Rate())
}

// ManualReconnect cancels any scheduled retry, resets the attempt
// counter, and dials immediately. It is the only way out of
// StateFailed and may be called in any state.
func (s *Session) ManualReconnect() {
	s.post(evManualReconnect{})
}

// post delivers an event to the run goroutine, dropping it if the
// session is shutting down. Reports whether the event was delivered.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) run() {
	defer s.wg.Done()

	s.connect()
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case evOpen:
		if ev.gen != s.connGen {
			ev.conn.Close()
			return
		}
		s.conn = ev.conn
		s.attempt.Store(0)
		s.gate.Reset()
		s.setState(StateConnected)
		s.loop.Start()
		logger.Info("Session", "Connected to %s", s.cfg.Endpoint)
		s.connWG.Add(1)
		go s.readPump(ev.conn, ev.gen)

	case evMessage:
		if ev.gen != s.connGen {
			return
		}
		s.handleMessage(ev.data)

	case evTransportError:
		if ev.gen != s.connGen {
			return
		}
		logger.Warn("Session", "Transport error: %v", ev.err)

	case evClosed:
		if ev.gen != s.connGen {
			return
		}
		s.handleClosed(ev.err)

	case evRetryFire:
		if ev.gen != s.retryGen {
			return
		}
		s.retry = nil
		s.connect()

	case evManualReconnect:
		logger.Info("Session", "Manual reconnect requested")
		s.cancelRetry()
		s.attempt.Store(0)
		s.connect()
	}
}

// connect opens a new connection generation. Any previous connection
// is closed and its in-flight events become stale.
func (s *Session) connect() {
	s.connGen++
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.setState(StateConnecting)
	logger.Debug("Session", "Dialing %s (attempt %d)", s.cfg.Endpoint, s.attempt.Load())

	s.connWG.Add(1)
	go s.dial(s.connGen)
}

func (s *Session) dial(gen uint64) {
	defer s.connWG.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, err := s.cfg.Transport.Dial(ctx, s.cfg.Endpoint)
	if err != nil {
		s.post(evTransportError{gen: gen, err: err})
		s.post(evClosed{gen: gen, err: err})
		return
	}
	if !s.post(evOpen{gen: gen, conn: conn}) {
		conn.Close()
	}
}

func (s *Session) readPump(conn Conn, gen uint64) {
	defer s.connWG.Done()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.post(evTransportError{gen: gen, err: err})
			s.post(evClosed{gen: gen, err: err})
			return
		}
		s.post(evMessage{gen: gen, data: data})
	}
}

// handleMessage decodes, filters, and publishes one inbound message.
func (s *Session) handleMessage(data []byte) {
	msg, err := telemetry.DecodeMessage(data)
	if err != nil {
		logger.Warn("Session", "Dropping malformed message: %v", err)
		return
	}
	if msg.Type == telemetry.MessageSystem {
		logger.Debug("Session", "System message: status=%q", msg.Status)
		return
	}

	frame := msg.Frame()
	if !s.gate.Admit(frame.Sequence) {
		logger.Debug("Session", "Dropping stale frame %d", frame.Sequence)
		return
	}
	s.slot.Publish(&frame)
	if s.State() == StateConnected {
		s.setState(StateStreaming)
	}
}

// handleClosed applies the reconnection policy after a connection of
// the current generation has gone away.
func (s *Session) handleClosed(err error) {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	att := int(s.attempt.Load())
	if !s.policy.ShouldRetry(att) {
		s.cancelRetry()
		s.setState(StateFailed)
		logger.Error("Session", "Retry budget exhausted after %d attempts, giving up (last error: %v)",
			s.policy.MaxAttempts, err)
		return
	}

	next := att + 1
	delay := s.policy.Delay(next)
	s.attempt.Store(int32(next))
	s.setState(StateDisconnected)
	s.scheduleRetry(delay)
	logger.Warn("Session", "Connection lost (%v), retry %d/%d in %v",
		err, next, s.policy.MaxAttempts-1, delay)
}

func (s *Session) scheduleRetry(d time.Duration) {
	s.retryGen++
	gen := s.retryGen
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = time.AfterFunc(d, func() {
		s.post(evRetryFire{gen: gen})
	})
}

// cancelRetry stops the pending retry timer and invalidates any
// already-fired retry event still in flight.
func (s *Session) cancelRetry() {
	s.retryGen++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// teardown releases the retry timer, the transport, and the render
// loop. Runs on the session goroutine as its last act.
func (s *Session) teardown() {
	s.cancelRetry()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.loop.Stop()
}

func (s *Session) setState(next ConnState) {
	prev := ConnState(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	logger.Debug("Session", "State %s -> %s", prev, next)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(prev, next)
	}
}
