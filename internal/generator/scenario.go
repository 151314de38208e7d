package generator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario scripts the simulated patrol a station streams: ambient
// objects that are always in view plus timed anomaly episodes.
type Scenario struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Visibility  Visibility `yaml:"visibility"`
	Ambient     []Object   `yaml:"ambient,omitempty"`
	Episodes    []Episode  `yaml:"episodes,omitempty"`
}

// Visibility models water clarity. Each frame's visibility score is
// Base plus uniform noise within ±Variance, clamped to [0,1].
type Visibility struct {
	Base     float64 `yaml:"base"`
	Variance float64 `yaml:"variance"`
}

// Object is a persistent low-threat detection (wreck debris, fish
// schools) present in every frame.
type Object struct {
	Label      string  `yaml:"label"`
	Confidence float64 `yaml:"confidence"`
	BBox       []int   `yaml:"bbox"` // x, y, w, h
}

// Episode is a timed anomaly. Its confidence ramps from zero up to
// PeakConfidence at the episode midpoint and back down, so a long
// enough episode walks the stream through SAFE, POTENTIAL and
// CONFIRMED.
type Episode struct {
	Label          string  `yaml:"label"`
	StartS         float64 `yaml:"start_s"`
	DurationS      float64 `yaml:"duration_s"`
	PeakConfidence float64 `yaml:"peak_confidence"`
	BBox           []int   `yaml:"bbox"`            // x, y, w, h at episode start
	Drift          []int   `yaml:"drift,omitempty"` // px/s movement, x and y
}

// LoadScenario reads and parses a YAML scenario file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}

	if err := Validate(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", path, err)
	}
	return &sc, nil
}

// Validate checks scenario invariants
func Validate(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if sc.Visibility.Base < 0 || sc.Visibility.Base > 1 {
		return fmt.Errorf("visibility.base %v outside [0,1]", sc.Visibility.Base)
	}
	if sc.Visibility.Variance < 0 || sc.Visibility.Variance > 1 {
		return fmt.Errorf("visibility.variance %v outside [0,1]", sc.Visibility.Variance)
	}
	for i, o := range sc.Ambient {
		if o.Label == "" {
			return fmt.Errorf("ambient[%d]: label is required", i)
		}
		if o.Confidence < 0 || o.Confidence > 1 {
			return fmt.Errorf("ambient[%d] %q: confidence %v outside [0,1]", i, o.Label, o.Confidence)
		}
		if err := validBBox(o.BBox); err != nil {
			return fmt.Errorf("ambient[%d] %q: %w", i, o.Label, err)
		}
	}
	for i, e := range sc.Episodes {
		if e.Label == "" {
			return fmt.Errorf("episodes[%d]: label is required", i)
		}
		if e.DurationS <= 0 {
			return fmt.Errorf("episodes[%d] %q: duration_s must be positive", i, e.Label)
		}
		if e.StartS < 0 {
			return fmt.Errorf("episodes[%d] %q: start_s must not be negative", i, e.Label)
		}
		if e.PeakConfidence <= 0 || e.PeakConfidence > 1 {
			return fmt.Errorf("episodes[%d] %q: peak_confidence %v outside (0,1]", i, e.Label, e.PeakConfidence)
		}
		if err := validBBox(e.BBox); err != nil {
			return fmt.Errorf("episodes[%d] %q: %w", i, e.Label, err)
		}
		if len(e.Drift) != 0 && len(e.Drift) != 2 {
			return fmt.Errorf("episodes[%d] %q: drift needs exactly 2 elements, got %d", i, e.Label, len(e.Drift))
		}
	}
	return nil
}

func validBBox(b []int) error {
	if len(b) != 4 {
		return fmt.Errorf("bbox needs exactly 4 elements, got %d", len(b))
	}
	if b[2] <= 0 || b[3] <= 0 {
		return fmt.Errorf("bbox width and height must be positive")
	}
	return nil
}

// DefaultScenario is the built-in patrol used when no scenario file
// is configured: a quiet reef with one mid-run confirmed contact.
func DefaultScenario() *Scenario {
	return &Scenario{
		Name:        "reef-patrol",
		Description: "Built-in default: ambient reef clutter with one timed contact",
		Visibility:  Visibility{Base: 0.75, Variance: 0.15},
		Ambient: []Object{
			{Label: "fish-school", Confidence: 0.22, BBox: []int{64, 210, 130, 70}},
			{Label: "debris", Confidence: 0.18, BBox: []int{430, 280, 60, 40}},
		},
		Episodes: []Episode{
			{
				Label:          "mine-like-object",
				StartS:         20,
				DurationS:      40,
				PeakConfidence: 0.93,
				BBox:           []int{240, 130, 90, 60},
				Drift:          []int{2, -1},
			},
			{
				Label:          "diver",
				StartS:         90,
				DurationS:      25,
				PeakConfidence: 0.58,
				BBox:           []int{60, 90, 70, 110},
				Drift:          []int{4, 0},
			},
		},
	}
}
