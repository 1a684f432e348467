package channel

import "time"

// unreliableReassemblyWindow bounds in-progress slice reassembly for
// unreliable channels. Smaller than ReceiveWindowSize since a missing
// slice means the message is simply lost, never retried.
const unreliableReassemblyWindow = 32

// ReceiverUnreliable delivers messages in arrival order with no
// dedup or reordering guarantees, per spec.md §4.3.
type ReceiverUnreliable struct {
	cfg   Config
	re    *reassembler
	ready [][]byte
}

func NewReceiverUnreliable(cfg Config) *ReceiverUnreliable {
	return &ReceiverUnreliable{cfg: cfg, re: newReassembler(unreliableReassemblyWindow)}
}

func (r *ReceiverUnreliable) ChannelID() byte { return r.cfg.ChannelID }
func (r *ReceiverUnreliable) Config() Config  { return r.cfg }

func (r *ReceiverUnreliable) HandleFrame(payload []byte, now time.Time) error {
	f, err := decodeMessageFrame(payload)
	if err != nil {
		return err
	}
	msg, complete := r.re.Feed(f)
	if !complete {
		return nil
	}
	r.ready = append(r.ready, msg)
	return nil
}

func (r *ReceiverUnreliable) Receive() ([]byte, bool) {
	if len(r.ready) == 0 {
		return nil, false
	}
	msg := r.ready[0]
	r.ready = r.ready[1:]
	return msg, true
}

// ReceiverUnreliableSequenced keeps only the most recent message,
// discarding anything that arrives with message_id older than (or
// equal to) the highest one already delivered, per spec.md §4.3:
// "a late or out-of-order datagram is simply dropped rather than
// delivered stale."
type ReceiverUnreliableSequenced struct {
	cfg        Config
	re         *reassembler
	hasHighest bool
	highest    uint16
	ready      [][]byte
}

func NewReceiverUnreliableSequenced(cfg Config) *ReceiverUnreliableSequenced {
	return &ReceiverUnreliableSequenced{cfg: cfg, re: newReassembler(unreliableReassemblyWindow)}
}

func (r *ReceiverUnreliableSequenced) ChannelID() byte { return r.cfg.ChannelID }
func (r *ReceiverUnreliableSequenced) Config() Config  { return r.cfg }

func (r *ReceiverUnreliableSequenced) HandleFrame(payload []byte, now time.Time) error {
	f, err := decodeMessageFrame(payload)
	if err != nil {
		return err
	}
	if r.hasHighest && !olderThan(r.highest, f.MessageID) {
		// f.MessageID is not newer than the highest already delivered.
		return nil
	}
	msg, complete := r.re.Feed(f)
	if !complete {
		return nil
	}
	r.highest = f.MessageID
	r.hasHighest = true
	r.ready = append(r.ready, msg)
	return nil
}

func (r *ReceiverUnreliableSequenced) Receive() ([]byte, bool) {
	if len(r.ready) == 0 {
		return nil, false
	}
	msg := r.ready[0]
	r.ready = r.ready[1:]
	return msg, true
}
