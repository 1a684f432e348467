// Package channel implements the six sender/receiver kinds from
// spec.md §2 item 4 and §4.2–§4.3: ReliableOrdered, ReliableUnordered,
// Unreliable, and UnreliableSequenced, plus the slice mode any
// reliable channel can fall into for large messages.
package channel

import (
	"errors"
	"time"
)

// SliceSize is the default fragment size for large messages, per
// spec.md §4.2 ("default 1200 B"). Kept below the 1200 B MTU payload
// bound (spec.md GLOSSARY "MTU payload") rather than equal to it, so
// one full slice plus its message-frame and channel-frame overhead
// still fits in a single packet instead of being permanently
// unpackable.
const SliceSize = 1100

// ReceiveWindowSize is the number of in-progress slice reassemblies a
// reliable receiver keeps and the span of message ids the unordered
// receiver remembers for duplicate detection. ReliableSender does not
// consult it: the number of unacked messages a channel holds is bounded
// only by MaxMemoryUsageBytes.
const ReceiveWindowSize = 256

// SendType is the reliability/ordering contract of a channel, per
// spec.md §3.
type SendType int

const (
	Unreliable SendType = iota
	UnreliableSequenced
	ReliableOrdered
	ReliableUnordered
)

func (t SendType) String() string {
	switch t {
	case Unreliable:
		return "Unreliable"
	case UnreliableSequenced:
		return "UnreliableSequenced"
	case ReliableOrdered:
		return "ReliableOrdered"
	case ReliableUnordered:
		return "ReliableUnordered"
	default:
		return "Unknown"
	}
}

func (t SendType) Reliable() bool {
	return t == ReliableOrdered || t == ReliableUnordered
}

// Config is a channel descriptor, per spec.md §3.
type Config struct {
	ChannelID           byte
	SendType            SendType
	MaxMemoryUsageBytes int
	ResendTime          time.Duration // meaningful only for reliable kinds
}

var (
	// ErrEmptyMessage: spec.md §9 requires send_message to reject
	// empty payloads, since slice reassembly can't distinguish a
	// zero-byte delivered message from an un-started reassembly.
	ErrEmptyMessage = errors.New("channel: empty message rejected")
	// ErrChannelFull is returned when enqueueing would exceed
	// MaxMemoryUsageBytes, per spec.md §3/§4.7.
	ErrChannelFull = errors.New("channel: max_memory_usage_bytes exceeded")
)

// ItemRef identifies one outstanding unit of reliable work: either a
// whole unsliced message (SliceIndex == -1) or one slice of a sliced
// message.
type ItemRef struct {
	MessageID  uint16
	SliceIndex int32
}

// PacketRecord is what a Sender hands back from Emit describing which
// items it contributed to the packet being built, so the connection
// core can later call Ack(record) once that packet's sequence is
// confirmed received.
type PacketRecord struct {
	ChannelID byte
	Items     []ItemRef
}

// Sender is the outbound half of a channel.
type Sender interface {
	ChannelID() byte
	Config() Config
	// Enqueue assigns a message_id and queues payload for sending.
	Enqueue(payload []byte, now time.Time) error
	// HasPending reports whether there is data ready to (re)send now.
	HasPending(now time.Time) bool
	// Emit packs as many ready frames as fit in maxBytes into the
	// packet under construction, returning the raw bytes to append
	// (already channel-frame-encoded by the caller) is NOT this
	// method's job -- Emit returns message-frame payloads; the
	// connection core wraps them in wire.ChannelFrame.
	Emit(now time.Time, maxBytes int) (payloads [][]byte, record PacketRecord)
	// Ack marks the items in record as delivered. No-op for
	// unreliable senders.
	Ack(record PacketRecord)
	// BytesInFlight is the current outstanding byte footprint, used
	// to enforce MaxMemoryUsageBytes.
	BytesInFlight() int
}

// Receiver is the inbound half of a channel.
type Receiver interface {
	ChannelID() byte
	Config() Config
	// HandleFrame parses one message-frame payload (as produced by a
	// peer Sender.Emit) and updates reassembly/ordering state.
	HandleFrame(payload []byte, now time.Time) error
	// Receive pops the next message ready for delivery to the
	// application, in the order its SendType requires.
	Receive() ([]byte, bool)
}
