package alert

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/internal/metrics"
	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

const (
	alertQoS       = 1 // at-least-once, alerts must not vanish silently
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Alert is the broker payload published when the stream escalates to
// CONFIRMED.
type Alert struct {
	Station       string                `json:"station"`
	Sequence      uint64                `json:"sequence"`
	Timestamp     float64               `json:"timestamp"`
	State         telemetry.ThreatState `json:"state"`
	MaxConfidence float64               `json:"max_confidence"`
	Labels        []string              `json:"labels,omitempty"`
}

// Emitter publishes threat alerts to an MQTT broker. Alerts are
// edge-triggered: one per escalation into CONFIRMED, none while the
// state stays there.
type Emitter struct {
	broker   string
	topic    string
	clientID string
	m        *metrics.Metrics
	client   mqtt.Client

	mu        sync.RWMutex
	connected bool
	edge      edgeDetector
}

// NewEmitter creates an emitter for the given broker and topic.
// metrics may be nil.
func NewEmitter(broker, topic, clientID string, m *metrics.Metrics) *Emitter {
	return &Emitter{
		broker:   broker,
		topic:    topic,
		clientID: clientID,
		m:        m,
	}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *Emitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.broker))
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		logger.Info("Alert", "MQTT connected to %s as %s", e.broker, e.clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		logger.Warn("Alert", "MQTT connection lost (%v), auto-reconnect pending", err)
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// Observe inspects one outbound frame and publishes an alert when the
// threat state escalates into CONFIRMED. Publishing happens off the
// caller's goroutine so the frame pipeline never waits on the broker.
func (e *Emitter) Observe(f *telemetry.Frame) {
	e.mu.Lock()
	fire := e.edge.confirmedEdge(f.State)
	e.mu.Unlock()
	if !fire {
		return
	}

	labels := make([]string, 0, len(f.Detections))
	for _, d := range f.Detections {
		labels = append(labels, d.Label)
	}
	a := Alert{
		Station:       e.clientID,
		Sequence:      f.Sequence,
		Timestamp:     f.Timestamp,
		State:         f.State,
		MaxConfidence: f.MaxConfidence,
		Labels:        labels,
	}

	go func() {
		if err := e.publish(a); err != nil {
			logger.Warn("Alert", "Publish failed for frame %d: %v", a.Sequence, err)
			if e.m != nil {
				e.m.AlertErrors.Add(1)
			}
			return
		}
		if e.m != nil {
			e.m.AlertsPublished.Add(1)
		}
		logger.Info("Alert", "Published CONFIRMED alert for frame %d (confidence %.2f)",
			a.Sequence, a.MaxConfidence)
	}()
}

func (e *Emitter) publish(a Alert) error {
	if !e.Connected() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := e.client.Publish(e.topic, alertQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Connected reports the broker connection status.
func (e *Emitter) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Disconnect closes the broker connection.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		logger.Info("Alert", "MQTT disconnected")
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// edgeDetector tracks the previous threat state so alerts fire once
// per escalation.
type edgeDetector struct {
	last telemetry.ThreatState
}

// confirmedEdge records the state and reports whether it entered
// CONFIRMED.
func (d *edgeDetector) confirmedEdge(s telemetry.ThreatState) bool {
	prev := d.last
	d.last = s
	return s == telemetry.StateConfirmed && prev != telemetry.StateConfirmed
}
