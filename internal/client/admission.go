package client

// sequenceGate admits frames in strictly increasing sequence order
// within a single connection epoch. Frames arriving late or duplicated
// by the transport are rejected so the renderer never steps backwards.
type sequenceGate struct {
	highest uint64
	seen    bool
}

// Admit reports whether a frame with the given sequence number may be
// published. Admission advances the high-water mark.
func (g *sequenceGate) Admit(seq uint64) bool {
	if g.seen && seq <= g.highest {
		return false
	}
	g.highest = seq
	g.seen = true
	return true
}

// Reset clears the high-water mark for a new connection epoch, where
// the upstream sequence numbering restarts.
func (g *sequenceGate) Reset() {
	g.highest = 0
	g.seen = false
}

// Highest returns the highest admitted sequence in the current epoch
// and whether any frame has been admitted at all.
func (g *sequenceGate) Highest() (uint64, bool) {
	return g.highest, g.seen
}
