package channel

import "time"

// ReceiverReliableUnordered delivers messages in arrival order,
// discarding duplicates, per spec.md §4.2: "Receiver state
// (unordered): a bitset of received ids in a sliding window; duplicates
// are silently discarded."
type ReceiverReliableUnordered struct {
	cfg      Config
	re       *reassembler
	highest  uint16
	hasSeen  bool
	seenMask [ReceiveWindowSize]bool
	seenID   [ReceiveWindowSize]uint16
	ready    [][]byte
}

func NewReceiverReliableUnordered(cfg Config) *ReceiverReliableUnordered {
	return &ReceiverReliableUnordered{cfg: cfg, re: newReassembler(ReceiveWindowSize)}
}

func (r *ReceiverReliableUnordered) ChannelID() byte { return r.cfg.ChannelID }
func (r *ReceiverReliableUnordered) Config() Config  { return r.cfg }

func (r *ReceiverReliableUnordered) alreadySeen(id uint16) bool {
	if r.hasSeen && olderThan(id, r.highest-ReceiveWindowSize+1) {
		return true
	}
	slot := id % ReceiveWindowSize
	return r.seenMask[slot] && r.seenID[slot] == id
}

func (r *ReceiverReliableUnordered) markSeen(id uint16) {
	slot := id % ReceiveWindowSize
	r.seenMask[slot] = true
	r.seenID[slot] = id
	if !r.hasSeen || id-r.highest < 1<<15 {
		r.highest = id
	}
	r.hasSeen = true
}

func (r *ReceiverReliableUnordered) HandleFrame(payload []byte, now time.Time) error {
	f, err := decodeMessageFrame(payload)
	if err != nil {
		return err
	}
	if r.hasSeen && r.alreadySeen(f.MessageID) {
		return nil
	}
	msg, complete := r.re.Feed(f)
	if !complete {
		return nil
	}
	r.markSeen(f.MessageID)
	r.ready = append(r.ready, msg)
	return nil
}

func (r *ReceiverReliableUnordered) Receive() ([]byte, bool) {
	if len(r.ready) == 0 {
		return nil, false
	}
	msg := r.ready[0]
	r.ready = r.ready[1:]
	return msg, true
}
