package telemetry

import (
	"encoding/json"
	"fmt"
)

// ThreatState classifies a frame's anomaly assessment
type ThreatState string

// Threat states carried on every frame
const (
	StateSafe      ThreatState = "SAFE"
	StatePotential ThreatState = "POTENTIAL"
	StateConfirmed ThreatState = "CONFIRMED"
)

// Valid reports whether s is one of the known threat states
func (s ThreatState) Valid() bool {
	switch s {
	case StateSafe, StatePotential, StateConfirmed:
		return true
	}
	return false
}

// BoundingBox locates a detection within the frame.
// On the wire it is the four-element array [x, y, w, h].
type BoundingBox struct {
	X int // Left edge in pixels
	Y int // Top edge in pixels
	W int // Width in pixels
	H int // Height in pixels
}

// MarshalJSON encodes the box as [x, y, w, h]
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X, b.Y, b.W, b.H})
}

// UnmarshalJSON decodes the [x, y, w, h] array form
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var arr []int
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if len(arr) != 4 {
		return fmt.Errorf("bbox: expected 4 elements, got %d", len(arr))
	}
	b.X, b.Y, b.W, b.H = arr[0], arr[1], arr[2], arr[3]
	return nil
}

// Detection is a single annotated contact within a frame
type Detection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"` // In [0, 1]
	BBox       BoundingBox `json:"bbox"`
}

// Frame is one unit of inbound telemetry: the anomaly assessment for a
// single captured image, plus the image itself as an opaque reference.
type Frame struct {
	Sequence        uint64      `json:"sequence"`  // Monotonic within a connection epoch, starts at 1
	Timestamp       float64     `json:"timestamp"` // Unix seconds at capture
	State           ThreatState `json:"state"`
	MaxConfidence   float64     `json:"max_confidence"`
	Detections      []Detection `json:"detections"`
	VisibilityScore float64     `json:"visibility_score"`
	Image           string      `json:"image,omitempty"` // Base64 JPEG, may be empty
}
