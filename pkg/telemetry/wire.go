package telemetry

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates the wire envelope
type MessageType string

// Wire message types
const (
	MessageFrame  MessageType = "frame"
	MessageSystem MessageType = "system"
)

// Message is the flat wire envelope pushed over the stream socket.
// Frame fields are populated for type "frame"; Status and Note carry
// system-message content for type "system".
type Message struct {
	Type MessageType `json:"type"`

	// Frame payload (type == "frame")
	Sequence        uint64      `json:"sequence,omitempty"`
	Timestamp       float64     `json:"timestamp,omitempty"`
	State           ThreatState `json:"state,omitempty"`
	MaxConfidence   float64     `json:"max_confidence,omitempty"`
	Detections      []Detection `json:"detections,omitempty"`
	VisibilityScore float64     `json:"visibility_score,omitempty"`
	Image           string      `json:"image,omitempty"`

	// System payload (type == "system")
	Status  string         `json:"status,omitempty"`
	Note    string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// DecodeMessage parses and validates one wire message. Any validation
// failure is a decode error; callers treat those as malformed payloads
// (log and drop), never as fatal.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	switch m.Type {
	case MessageSystem:
		return m, nil
	case MessageFrame:
		if err := validateFrame(&m); err != nil {
			return Message{}, err
		}
		return m, nil
	default:
		return Message{}, fmt.Errorf("decode message: unknown type %q", m.Type)
	}
}

func validateFrame(m *Message) error {
	if m.Sequence == 0 {
		return fmt.Errorf("frame message: missing or zero sequence")
	}
	if !m.State.Valid() {
		return fmt.Errorf("frame %d: invalid state %q", m.Sequence, m.State)
	}
	if m.VisibilityScore < 0 || m.VisibilityScore > 1 {
		return fmt.Errorf("frame %d: visibility_score %g outside [0,1]", m.Sequence, m.VisibilityScore)
	}
	if m.MaxConfidence < 0 || m.MaxConfidence > 1 {
		return fmt.Errorf("frame %d: max_confidence %g outside [0,1]", m.Sequence, m.MaxConfidence)
	}
	for i, d := range m.Detections {
		if d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("frame %d: detection %d confidence %g outside [0,1]", m.Sequence, i, d.Confidence)
		}
	}
	return nil
}

// Frame extracts the frame payload from a type "frame" message
func (m Message) Frame() Frame {
	return Frame{
		Sequence:        m.Sequence,
		Timestamp:       m.Timestamp,
		State:           m.State,
		MaxConfidence:   m.MaxConfidence,
		Detections:      m.Detections,
		VisibilityScore: m.VisibilityScore,
		Image:           m.Image,
	}
}

// EncodeFrame builds the wire form of a telemetry frame
func EncodeFrame(f Frame) ([]byte, error) {
	m := Message{
		Type:            MessageFrame,
		Sequence:        f.Sequence,
		Timestamp:       f.Timestamp,
		State:           f.State,
		MaxConfidence:   f.MaxConfidence,
		Detections:      f.Detections,
		VisibilityScore: f.VisibilityScore,
		Image:           f.Image,
	}
	return json.Marshal(m)
}

// EncodeSystem builds a system message. payload may be nil.
func EncodeSystem(status, note string, payload map[string]any) ([]byte, error) {
	m := Message{
		Type:    MessageSystem,
		Status:  status,
		Note:    note,
		Payload: payload,
	}
	return json.Marshal(m)
}
