package conn

import (
	"time"

	"github.com/duskforge/netchan/pkg/channel"
)

// outboxMaxEntries bounds memory when a peer never acks: the oldest
// unacked entry is evicted to make room. A channel's own resend timer
// still retries the underlying message independently, so an evicted
// entry does not lose data, only the opportunity to ack it directly.
const outboxMaxEntries = 1024

type sentPacket struct {
	sentAt  time.Time
	records []channel.PacketRecord
}

// outbox remembers, per outbound sequence number, which channel items
// that packet carried, so a later ack can be routed back to the
// senders that produced them.
type outbox struct {
	packets map[uint64]sentPacket
	order   []uint64
}

func newOutbox() *outbox {
	return &outbox{packets: make(map[uint64]sentPacket)}
}

func (o *outbox) Record(seq uint64, sentAt time.Time, records []channel.PacketRecord) {
	if len(o.packets) >= outboxMaxEntries {
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.packets, oldest)
	}
	o.packets[seq] = sentPacket{sentAt: sentAt, records: records}
	o.order = append(o.order, seq)
}

// Take removes and returns the tracked entry for seq, if any.
func (o *outbox) Take(seq uint64) (sentPacket, bool) {
	sp, ok := o.packets[seq]
	if !ok {
		return sentPacket{}, false
	}
	delete(o.packets, seq)
	for i, v := range o.order {
		if v == seq {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return sp, true
}
