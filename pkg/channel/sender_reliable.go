package channel

import (
	"sort"
	"time"
)

// outboundSlice tracks one slice of a sliced reliable message.
type outboundSlice struct {
	payload    []byte
	acked      bool
	lastSentAt time.Time
}

// outboundMessage is one entry in the reliable sender's ring, per
// spec.md §4.2: "a ring of outbound messages keyed by message_id, plus
// a per-message last_sent_at timestamp."
type outboundMessage struct {
	id         uint16
	payload    []byte // empty when sliced; slices hold the bytes instead
	acked      bool
	lastSentAt time.Time
	slices     []outboundSlice // nil when not sliced
}

func (m *outboundMessage) size() int {
	if m.slices != nil {
		n := 0
		for _, s := range m.slices {
			n += len(s.payload)
		}
		return n
	}
	return len(m.payload)
}

func (m *outboundMessage) delivered() bool {
	if m.slices == nil {
		return m.acked
	}
	for _, s := range m.slices {
		if !s.acked {
			return false
		}
	}
	return true
}

// ReliableSender implements the sender half shared by ReliableOrdered
// and ReliableUnordered (spec.md §4.2: sender behavior does not differ
// by ordering kind — only the receiver does).
type ReliableSender struct {
	cfg        Config
	nextID     uint16
	messages   map[uint16]*outboundMessage
	bytesInUse int
}

func NewReliableSender(cfg Config) *ReliableSender {
	return &ReliableSender{cfg: cfg, messages: make(map[uint16]*outboundMessage)}
}

func (s *ReliableSender) ChannelID() byte  { return s.cfg.ChannelID }
func (s *ReliableSender) Config() Config   { return s.cfg }
func (s *ReliableSender) BytesInFlight() int { return s.bytesInUse }

func (s *ReliableSender) Enqueue(payload []byte, now time.Time) error {
	if len(payload) == 0 {
		return ErrEmptyMessage
	}
	if s.bytesInUse+len(payload) > s.cfg.MaxMemoryUsageBytes {
		return ErrChannelFull
	}
	id := s.nextID
	s.nextID++

	msg := &outboundMessage{id: id}
	if len(payload) > SliceSize {
		chunks := splitIntoSlices(payload, SliceSize)
		msg.slices = make([]outboundSlice, len(chunks))
		for i, c := range chunks {
			msg.slices[i] = outboundSlice{payload: c}
		}
	} else {
		msg.payload = payload
	}
	s.messages[id] = msg
	s.bytesInUse += len(payload)
	return nil
}

func (s *ReliableSender) HasPending(now time.Time) bool {
	for _, m := range s.messages {
		if s.messageDue(m, now) {
			return true
		}
	}
	return false
}

func (s *ReliableSender) messageDue(m *outboundMessage, now time.Time) bool {
	if m.slices != nil {
		for _, sl := range m.slices {
			if !sl.acked && (sl.lastSentAt.IsZero() || now.Sub(sl.lastSentAt) >= s.cfg.ResendTime) {
				return true
			}
		}
		return false
	}
	return !m.acked && (m.lastSentAt.IsZero() || now.Sub(m.lastSentAt) >= s.cfg.ResendTime)
}

// Emit walks the outstanding list newest-first (per spec.md §4.2:
// "packs any message whose last_sent_at + resend_time <= now ...
// newest first") and packs frames until maxBytes is exhausted.
func (s *ReliableSender) Emit(now time.Time, maxBytes int) ([][]byte, PacketRecord) {
	ids := make([]uint16, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	var payloads [][]byte
	var items []ItemRef
	used := 0

	for _, id := range ids {
		m := s.messages[id]
		if m.slices != nil {
			for idx := range m.slices {
				sl := &m.slices[idx]
				if sl.acked || (!sl.lastSentAt.IsZero() && now.Sub(sl.lastSentAt) < s.cfg.ResendTime) {
					continue
				}
				frame := encodeMessageFrame(messageFrame{
					MessageID:   m.id,
					IsSlice:     true,
					SliceIndex:  uint32(idx),
					TotalSlices: uint32(len(m.slices)),
					Payload:     sl.payload,
				})
				if used+len(frame) > maxBytes {
					continue
				}
				payloads = append(payloads, frame)
				items = append(items, ItemRef{MessageID: m.id, SliceIndex: int32(idx)})
				used += len(frame)
				sl.lastSentAt = now
			}
			continue
		}

		if m.acked || (!m.lastSentAt.IsZero() && now.Sub(m.lastSentAt) < s.cfg.ResendTime) {
			continue
		}
		frame := encodeMessageFrame(messageFrame{MessageID: m.id, Payload: m.payload})
		if used+len(frame) > maxBytes {
			continue
		}
		payloads = append(payloads, frame)
		items = append(items, ItemRef{MessageID: m.id, SliceIndex: -1})
		used += len(frame)
		m.lastSentAt = now
	}

	return payloads, PacketRecord{ChannelID: s.cfg.ChannelID, Items: items}
}

// Ack marks the referenced items delivered, per spec.md §4.2: "When a
// packet carrying message_id M is acked, M is removed." A message is
// freed from the ring (and its bytes released) only once every slice
// of it (or the whole unsliced payload) is acked.
func (s *ReliableSender) Ack(record PacketRecord) {
	for _, item := range record.Items {
		m, ok := s.messages[item.MessageID]
		if !ok {
			continue
		}
		if item.SliceIndex < 0 {
			m.acked = true
		} else if int(item.SliceIndex) < len(m.slices) {
			m.slices[item.SliceIndex].acked = true
		}
		if m.delivered() {
			s.bytesInUse -= m.size()
			delete(s.messages, item.MessageID)
		}
	}
}
