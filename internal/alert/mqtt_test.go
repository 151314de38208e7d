package alert

import (
	"encoding/json"
	"testing"

	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// TestConfirmedEdge verifies alerts fire exactly once per escalation
// into CONFIRMED.
func TestConfirmedEdge(t *testing.T) {
	var d edgeDetector

	steps := []struct {
		state telemetry.ThreatState
		want  bool
	}{
		{telemetry.StateSafe, false},
		{telemetry.StatePotential, false},
		{telemetry.StateConfirmed, true},
		{telemetry.StateConfirmed, false}, // still confirmed, no re-alert
		{telemetry.StatePotential, false},
		{telemetry.StateConfirmed, true}, // new episode
		{telemetry.StateSafe, false},
	}
	for i, s := range steps {
		if got := d.confirmedEdge(s.state); got != s.want {
			t.Errorf("step %d (%s): confirmedEdge = %v, want %v", i, s.state, got, s.want)
		}
	}
}

// TestConfirmedEdgeFirstFrame verifies a stream that opens already
// confirmed alerts immediately.
func TestConfirmedEdgeFirstFrame(t *testing.T) {
	var d edgeDetector
	if !d.confirmedEdge(telemetry.StateConfirmed) {
		t.Error("first CONFIRMED frame did not alert")
	}
}

// TestAlertPayloadShape verifies the broker JSON uses the dashboard's
// field names.
func TestAlertPayloadShape(t *testing.T) {
	a := Alert{
		Station:       "station-1",
		Sequence:      42,
		Timestamp:     1700000000.5,
		State:         telemetry.StateConfirmed,
		MaxConfidence: 0.91,
		Labels:        []string{"mine-like-object"},
	}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"station", "sequence", "timestamp", "state", "max_confidence", "labels"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("alert payload missing %q: %s", key, data)
		}
	}
	if decoded["state"] != "CONFIRMED" {
		t.Errorf("state = %v, want CONFIRMED", decoded["state"])
	}
}
