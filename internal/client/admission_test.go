package client

import "testing"

// TestSequenceGateOrdering verifies that out-of-order frames are
// rejected while newer frames keep advancing the gate.
func TestSequenceGateOrdering(t *testing.T) {
	var g sequenceGate

	cases := []struct {
		seq  uint64
		want bool
	}{
		{5, true},
		{3, false}, // stale, arrived after 5
		{7, true},
		{7, false}, // duplicate
		{6, false},
		{8, true},
	}

	for _, tc := range cases {
		if got := g.Admit(tc.seq); got != tc.want {
			t.Errorf("Admit(%d) = %v, want %v", tc.seq, got, tc.want)
		}
	}

	if high, ok := g.Highest(); !ok || high != 8 {
		t.Errorf("Highest() = (%d, %v), want (8, true)", high, ok)
	}
}

// TestSequenceGateReset verifies that a reset opens a fresh epoch in
// which restarted numbering is admitted again.
func TestSequenceGateReset(t *testing.T) {
	var g sequenceGate

	if !g.Admit(100) {
		t.Fatal("Admit(100) rejected on empty gate")
	}
	if g.Admit(1) {
		t.Fatal("Admit(1) accepted while 100 is the high-water mark")
	}

	g.Reset()

	if !g.Admit(1) {
		t.Error("Admit(1) rejected after Reset")
	}
	if high, ok := g.Highest(); !ok || high != 1 {
		t.Errorf("Highest() after reset = (%d, %v), want (1, true)", high, ok)
	}
}
