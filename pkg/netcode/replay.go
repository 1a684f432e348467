package netcode

const replayWindowSize = 256

// ReplayProtection is the 256-slot sliding window from spec.md §9: a
// ring buffer of recently-seen sequence numbers plus a max-seen
// counter, giving O(1) membership tests without an unbounded map.
type ReplayProtection struct {
	mostRecentSequence uint64
	hasReceived        bool
	received           [replayWindowSize]uint64
	seen               [replayWindowSize]bool
}

// NewReplayProtection returns an empty replay window.
func NewReplayProtection() *ReplayProtection {
	return &ReplayProtection{}
}

// AlreadyReceived reports whether sequence is outside the acceptance
// window (too old) or has already been marked received, without
// mutating state. CheckAndMark calls it before marking; pkg/conn also
// passes it to wire.BuildAckBits as the membership test for ack bits.
func (rp *ReplayProtection) AlreadyReceived(sequence uint64) bool {
	if rp.hasReceived && rp.mostRecentSequence >= replayWindowSize && sequence <= rp.mostRecentSequence-replayWindowSize {
		return true
	}
	slot := sequence % replayWindowSize
	return rp.seen[slot] && rp.received[slot] == sequence
}

// CheckAndMark validates sequence against the window and, if
// acceptable, marks it received. It returns false for a replay or an
// out-of-window sequence; true if this is the first time sequence has
// been seen. This implements spec.md §3's invariant: "the replay
// window never accepts a sequence ≤ (max_received − window_size);
// within the window, each sequence is accepted at most once."
func (rp *ReplayProtection) CheckAndMark(sequence uint64) bool {
	if rp.AlreadyReceived(sequence) {
		return false
	}
	slot := sequence % replayWindowSize
	rp.received[slot] = sequence
	rp.seen[slot] = true
	if !rp.hasReceived || sequence > rp.mostRecentSequence {
		rp.mostRecentSequence = sequence
	}
	rp.hasReceived = true
	return true
}

// MostRecentSequence returns the highest sequence accepted so far.
func (rp *ReplayProtection) MostRecentSequence() uint64 {
	return rp.mostRecentSequence
}

// HasReceived reports whether any sequence has ever been accepted.
// Used to distinguish a genuine ack of sequence 0 from "nothing
// received yet" when a peer builds its outbound ack field.
func (rp *ReplayProtection) HasReceived() bool {
	return rp.hasReceived
}
