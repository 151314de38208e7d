package generator

import (
	"math"
	"math/rand"
	"time"

	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// Threat state thresholds applied to the per-frame maximum detection
// confidence.
const (
	potentialThreshold = 0.40
	confirmedThreshold = 0.75
)

// StateForConfidence maps a maximum detection confidence to a threat
// state.
func StateForConfidence(c float64) telemetry.ThreatState {
	switch {
	case c >= confirmedThreshold:
		return telemetry.StateConfirmed
	case c >= potentialThreshold:
		return telemetry.StatePotential
	}
	return telemetry.StateSafe
}

// Options configure frame synthesis
type Options struct {
	Width        int
	Height       int
	JPEGQuality  int
	IncludeImage bool
}

// Generator synthesizes the station's frame stream from a scenario.
// Every Generator owns all of its state including its random source;
// two generators with the same scenario, seed and timestamps produce
// identical streams.
type Generator struct {
	scenario *Scenario
	rng      *rand.Rand
	opts     Options
	renderer *renderer

	seq   uint64
	start time.Time
}

// New creates a generator. A nil scenario selects the built-in
// default. The seed is used as given; callers wanting nondeterminism
// seed from the clock.
func New(sc *Scenario, seed int64, opts Options) *Generator {
	if sc == nil {
		sc = DefaultScenario()
	}
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 360
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 70
	}

	g := &Generator{
		scenario: sc,
		rng:      rand.New(rand.NewSource(seed)),
		opts:     opts,
	}
	if opts.IncludeImage {
		g.renderer = newRenderer(opts.Width, opts.Height, opts.JPEGQuality)
	}
	return g
}

// Scenario returns the scenario this generator plays.
func (g *Generator) Scenario() *Scenario {
	return g.scenario
}

// Next synthesizes the frame for the given instant. The first call
// anchors the scenario clock; sequence numbers start at 1.
func (g *Generator) Next(now time.Time) telemetry.Frame {
	if g.start.IsZero() {
		g.start = now
	}
	elapsed := now.Sub(g.start).Seconds()
	g.seq++

	dets := make([]telemetry.Detection, 0, len(g.scenario.Ambient)+2)
	for _, o := range g.scenario.Ambient {
		dets = append(dets, telemetry.Detection{
			Label:      o.Label,
			Confidence: clamp01(o.Confidence + g.noise(0.05)),
			BBox:       g.jitterBox(o.BBox, 2),
		})
	}
	for i := range g.scenario.Episodes {
		if d, ok := g.episodeDetection(&g.scenario.Episodes[i], elapsed); ok {
			dets = append(dets, d)
		}
	}

	maxConf := 0.0
	for _, d := range dets {
		if d.Confidence > maxConf {
			maxConf = d.Confidence
		}
	}

	frame := telemetry.Frame{
		Sequence:        g.seq,
		Timestamp:       float64(now.UnixNano()) / 1e9,
		State:           StateForConfidence(maxConf),
		MaxConfidence:   maxConf,
		Detections:      dets,
		VisibilityScore: clamp01(g.scenario.Visibility.Base + g.noise(g.scenario.Visibility.Variance)),
	}

	if g.renderer != nil {
		img, err := g.renderer.render(&frame)
		if err != nil {
			logger.Warn("Generator", "Frame %d image render failed: %v", g.seq, err)
		} else {
			frame.Image = img
		}
	}
	return frame
}

// episodeDetection materializes an episode at the given scenario time.
// Confidence follows a half-sine envelope peaking at the midpoint.
func (g *Generator) episodeDetection(e *Episode, elapsed float64) (telemetry.Detection, bool) {
	local := elapsed - e.StartS
	if local < 0 || local >= e.DurationS {
		return telemetry.Detection{}, false
	}

	progress := local / e.DurationS
	envelope := math.Sin(math.Pi * progress)
	conf := clamp01(e.PeakConfidence*envelope + g.noise(0.03))

	var dx, dy int
	if len(e.Drift) == 2 {
		dx, dy = e.Drift[0], e.Drift[1]
	}
	box := g.jitterBox(e.BBox, 3)
	box.X += int(float64(dx) * local)
	box.Y += int(float64(dy) * local)

	return telemetry.Detection{
		Label:      e.Label,
		Confidence: conf,
		BBox:       box,
	}, true
}

func (g *Generator) jitterBox(b []int, amp int) telemetry.BoundingBox {
	return telemetry.BoundingBox{
		X: b[0] + g.rng.Intn(2*amp+1) - amp,
		Y: b[1] + g.rng.Intn(2*amp+1) - amp,
		W: b[2],
		H: b[3],
	}
}

// noise returns a uniform sample in [-amp, amp].
func (g *Generator) noise(amp float64) float64 {
	return (g.rng.Float64()*2 - 1) * amp
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
