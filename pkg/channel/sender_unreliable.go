package channel

import "time"

// UnreliableSender fires a message exactly once and never retransmits,
// per spec.md §4.3: "no acking, no resend; large messages are still
// sliced but a missing slice simply means the whole message is lost."
type UnreliableSender struct {
	cfg        Config
	nextID     uint16
	pending    [][]byte
	bytesInUse int
}

func NewUnreliableSender(cfg Config) *UnreliableSender {
	return &UnreliableSender{cfg: cfg}
}

func (s *UnreliableSender) ChannelID() byte    { return s.cfg.ChannelID }
func (s *UnreliableSender) Config() Config     { return s.cfg }
func (s *UnreliableSender) BytesInFlight() int { return s.bytesInUse }

// Enqueue frames payload and queues it for the next Emit. bytesInUse
// tracks the encoded frames actually sitting in pending, the same
// quantity Emit subtracts from as it drains them, so accounting never
// drifts across partially-emitted sliced messages. An application
// hammering Send on a fire-and-forget channel still has its outstanding
// footprint capped by MaxMemoryUsageBytes (spec.md §4.1's invariant
// applies to every SendType, not just the reliable ones).
func (s *UnreliableSender) Enqueue(payload []byte, now time.Time) error {
	if len(payload) == 0 {
		return ErrEmptyMessage
	}
	id := s.nextID

	var frames [][]byte
	if len(payload) <= SliceSize {
		frames = [][]byte{encodeMessageFrame(messageFrame{MessageID: id, Payload: payload})}
	} else {
		chunks := splitIntoSlices(payload, SliceSize)
		frames = make([][]byte, len(chunks))
		for idx, c := range chunks {
			frames[idx] = encodeMessageFrame(messageFrame{
				MessageID:   id,
				IsSlice:     true,
				SliceIndex:  uint32(idx),
				TotalSlices: uint32(len(chunks)),
				Payload:     c,
			})
		}
	}

	added := 0
	for _, f := range frames {
		added += len(f)
	}
	if s.bytesInUse+added > s.cfg.MaxMemoryUsageBytes {
		return ErrChannelFull
	}
	s.nextID++
	s.pending = append(s.pending, frames...)
	s.bytesInUse += added
	return nil
}

func (s *UnreliableSender) HasPending(now time.Time) bool {
	return len(s.pending) > 0
}

// Emit hands off queued frames in order, each exactly once, until the
// next frame would exceed maxBytes; that frame and any after it stay
// queued for the next Emit. An emitted frame is never retried, so it
// leaves bytesInUse, which tracks only what's still queued.
func (s *UnreliableSender) Emit(now time.Time, maxBytes int) ([][]byte, PacketRecord) {
	var payloads [][]byte
	used := 0
	i := 0
	for ; i < len(s.pending); i++ {
		frame := s.pending[i]
		if used+len(frame) > maxBytes {
			break
		}
		payloads = append(payloads, frame)
		used += len(frame)
	}
	for _, frame := range s.pending[:i] {
		s.bytesInUse -= len(frame)
	}
	s.pending = s.pending[i:]
	return payloads, PacketRecord{ChannelID: s.cfg.ChannelID}
}

// Ack is a no-op: unreliable sends carry nothing to acknowledge.
func (s *UnreliableSender) Ack(record PacketRecord) {}
