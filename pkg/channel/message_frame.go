package channel

import (
	"fmt"

	"github.com/duskforge/netchan/pkg/wire"
)

// messageFrame is the wire encoding carried inside one wire.ChannelFrame
// payload: either a whole message or one slice of a sliced message,
// per spec.md §4.2 ("identified by (message_id, slice_index,
// total_slices)").
type messageFrame struct {
	MessageID   uint16
	IsSlice     bool
	SliceIndex  uint32
	TotalSlices uint32
	Payload     []byte
}

const (
	flagSlice = 1 << 0
)

func encodeMessageFrame(f messageFrame) []byte {
	w := wire.NewWriter(16 + len(f.Payload))
	var flags byte
	if f.IsSlice {
		flags |= flagSlice
	}
	w.WriteByte(flags)
	w.WriteUint16(f.MessageID)
	if f.IsSlice {
		w.WriteUint32(f.SliceIndex)
		w.WriteUint32(f.TotalSlices)
	}
	w.WriteUint16(uint16(len(f.Payload)))
	w.WriteBytes(f.Payload)
	return w.Bytes()
}

func decodeMessageFrame(b []byte) (messageFrame, error) {
	r := wire.NewReader(b)
	flags, err := r.ReadByte()
	if err != nil {
		return messageFrame{}, err
	}
	var f messageFrame
	f.IsSlice = flags&flagSlice != 0
	if f.MessageID, err = r.ReadUint16(); err != nil {
		return messageFrame{}, err
	}
	if f.IsSlice {
		if f.SliceIndex, err = r.ReadUint32(); err != nil {
			return messageFrame{}, err
		}
		if f.TotalSlices, err = r.ReadUint32(); err != nil {
			return messageFrame{}, err
		}
	}
	length, err := r.ReadUint16()
	if err != nil {
		return messageFrame{}, err
	}
	payload, err := r.ReadBytes(int(length))
	if err != nil {
		return messageFrame{}, err
	}
	f.Payload = append([]byte(nil), payload...)
	return f, nil
}

func splitIntoSlices(payload []byte, sliceSize int) [][]byte {
	if sliceSize <= 0 {
		panic(fmt.Sprintf("channel: invalid slice size %d", sliceSize))
	}
	var slices [][]byte
	for offset := 0; offset < len(payload); offset += sliceSize {
		end := offset + sliceSize
		if end > len(payload) {
			end = len(payload)
		}
		slices = append(slices, payload[offset:end])
	}
	if len(slices) == 0 {
		slices = [][]byte{{}}
	}
	return slices
}
