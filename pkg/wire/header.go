package wire

import "fmt"

// PacketKind is the low nibble of the packet type byte.
type PacketKind byte

const (
	KindConnectionRequest PacketKind = iota
	KindConnectionDenied
	KindChallenge
	KindResponse
	KindKeepAlive
	KindPayload
	KindDisconnect
)

const kindMask = 0x0F
const seqLenShift = 4

// TypeByte packs a packet kind and the byte-length of the sequence
// number that follows into a single byte, per spec.md §6.2: "Packet
// type byte, low 4 bits = kind, high 4 bits = encoded sequence
// length (0–8)."
func TypeByte(kind PacketKind, seqLen int) byte {
	return byte(kind)&kindMask | byte(seqLen)<<seqLenShift
}

// SplitTypeByte extracts the kind and sequence length from a type byte.
func SplitTypeByte(b byte) (PacketKind, int) {
	return PacketKind(b & kindMask), int(b >> seqLenShift)
}

// AckBits is a 32-bit bitmap: bit i set means sequence (ack-1-i) was
// received, per spec.md §4.1.
type AckBits uint32

// Set marks the packet `offset` slots below ack as received, where
// offset counts 0..31 corresponding to (ack-1-offset).
func (a *AckBits) Set(offset uint) {
	if offset < 32 {
		*a |= AckBits(1) << offset
	}
}

// Test reports whether the packet at `offset` slots below ack is
// marked received.
func (a AckBits) Test(offset uint) bool {
	if offset >= 32 {
		return false
	}
	return a&(AckBits(1)<<offset) != 0
}

// BuildAckBits computes the ack_bits field for a receiver whose
// highest received sequence is `ack`, given a membership test over
// previously received sequences. It is idempotent: calling it twice
// with the same inputs yields the same bitmap.
func BuildAckBits(ack uint64, received func(seq uint64) bool) AckBits {
	var bits AckBits
	for i := uint64(0); i < 32; i++ {
		if ack == 0 || i+1 > ack {
			break
		}
		seq := ack - 1 - i
		if received(seq) {
			bits.Set(uint(i))
		}
	}
	return bits
}

// Header is the fixed prefix of every data/payload packet: sequence,
// ack, and the ack bitmap covering the last 32 acked sequences.
type Header struct {
	Sequence uint64
	Ack      uint64
	AckBits  AckBits
}

// EncodeDataHeader writes the type byte (choosing the sequence length
// to fit Sequence), followed by Sequence, Ack (always full u64, since
// the receiver needs it to interpret AckBits unambiguously), and
// AckBits.
func EncodeDataHeader(w *Writer, kind PacketKind, h Header) {
	seqLen := SequenceByteLength(h.Sequence)
	w.WriteByte(TypeByte(kind, seqLen))
	w.WriteVarSequence(h.Sequence, seqLen)
	w.WriteUint64(h.Ack)
	w.WriteUint32(uint32(h.AckBits))
}

// DecodeDataHeader reads back what EncodeDataHeader wrote, given the
// already-consumed type byte.
func DecodeDataHeader(r *Reader, seqLen int) (Header, error) {
	if seqLen < 1 || seqLen > 8 {
		return Header{}, fmt.Errorf("wire: invalid sequence length %d", seqLen)
	}
	seq, err := r.ReadVarSequence(seqLen)
	if err != nil {
		return Header{}, err
	}
	ack, err := r.ReadUint64()
	if err != nil {
		return Header{}, err
	}
	ackBits, err := r.ReadUint32()
	if err != nil {
		return Header{}, err
	}
	return Header{Sequence: seq, Ack: ack, AckBits: AckBits(ackBits)}, nil
}

// ChannelFrame is one channel's payload slice within a packet, tagged
// with its channel id and length so receivers can demux a packet that
// interleaves frames from multiple channels (spec.md §5: "channel
// payloads may be packed in any order; the receiver must tolerate
// interleaving").
type ChannelFrame struct {
	ChannelID byte
	Payload   []byte
}

func EncodeChannelFrame(w *Writer, f ChannelFrame) {
	w.WriteByte(f.ChannelID)
	w.WriteUint16(uint16(len(f.Payload)))
	w.WriteBytes(f.Payload)
}

func DecodeChannelFrame(r *Reader) (ChannelFrame, error) {
	id, err := r.ReadByte()
	if err != nil {
		return ChannelFrame{}, err
	}
	length, err := r.ReadUint16()
	if err != nil {
		return ChannelFrame{}, err
	}
	payload, err := r.ReadBytes(int(length))
	if err != nil {
		return ChannelFrame{}, err
	}
	return ChannelFrame{ChannelID: id, Payload: payload}, nil
}

// DecodeChannelFrames decodes every frame remaining in r.
func DecodeChannelFrames(r *Reader) ([]ChannelFrame, error) {
	var frames []ChannelFrame
	for r.Len() > 0 {
		f, err := DecodeChannelFrame(r)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}
