package netcode

// ReplayProtection rejects a packet sequence already seen, within a
// sliding window of ReplayProtectionBufferSize sequences. Sequences
// older than the window are rejected unconditionally: once a
// slot has rotated out we can no longer tell a replay from a new packet,
// and the conservative choice is to discard it.
type ReplayProtection struct {
	mostRecentSequence uint64

	// seen[slot] holds sequence+1 of whichever sequence last occupied
	// that modular slot, or 0 if the slot has never been used. Storing
	// the actual sequence (not just a bit) lets a slot be reused by a
	// much later sequence without being mistaken for a replay of the
	// stale occupant.
	seen [ReplayProtectionBufferSize]uint64
}

// NewReplayProtection returns an empty window that has not yet seen any
// sequence.
func NewReplayProtection() *ReplayProtection {
	return &ReplayProtection{}
}

// AlreadyReceived reports whether sequence falls outside the window (too
// old to judge) or has already been marked received within it.
func (r *ReplayProtection) AlreadyReceived(sequence uint64) bool {
	if sequence+ReplayProtectionBufferSize <= r.mostRecentSequence {
		return true
	}
	return r.seen[sequence%ReplayProtectionBufferSize] == sequence+1
}

// MarkReceived records sequence as seen and advances the window's
// high-water mark if sequence is newer than anything seen so far.
func (r *ReplayProtection) MarkReceived(sequence uint64) {
	if sequence > r.mostRecentSequence {
		r.mostRecentSequence = sequence
	}
	r.seen[sequence%ReplayProtectionBufferSize] = sequence + 1
}
