package channel

import "time"

// ReceiverReliableOrdered delivers messages strictly in message_id
// order, buffering any message that completes reassembly out of turn
// in a map keyed by message_id until every earlier id is delivered.
// Ids already delivered are discarded as duplicates; ids ahead of the
// next expected one are buffered however far ahead they are, with no
// window bound.
type ReceiverReliableOrdered struct {
	cfg    Config
	re     *reassembler
	nextID uint16
	buffer map[uint16][]byte
	ready  [][]byte
}

func NewReceiverReliableOrdered(cfg Config) *ReceiverReliableOrdered {
	return &ReceiverReliableOrdered{
		cfg:    cfg,
		re:     newReassembler(ReceiveWindowSize),
		buffer: make(map[uint16][]byte),
	}
}

func (r *ReceiverReliableOrdered) ChannelID() byte { return r.cfg.ChannelID }
func (r *ReceiverReliableOrdered) Config() Config  { return r.cfg }

func (r *ReceiverReliableOrdered) HandleFrame(payload []byte, now time.Time) error {
	f, err := decodeMessageFrame(payload)
	if err != nil {
		return err
	}
	msg, complete := r.re.Feed(f)
	if !complete {
		return nil
	}
	if olderThan(f.MessageID, r.nextID) {
		// Already delivered (duplicate resend); discard.
		return nil
	}
	r.buffer[f.MessageID] = msg
	for {
		next, ok := r.buffer[r.nextID]
		if !ok {
			break
		}
		r.ready = append(r.ready, next)
		delete(r.buffer, r.nextID)
		r.nextID++
	}
	return nil
}

func (r *ReceiverReliableOrdered) Receive() ([]byte, bool) {
	if len(r.ready) == 0 {
		return nil, false
	}
	msg := r.ready[0]
	r.ready = r.ready[1:]
	return msg, true
}
