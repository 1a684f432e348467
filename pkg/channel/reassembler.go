package channel

// reassemblyState tracks one in-progress sliced message on the
// receive side, per spec.md §3 "Inbound reassembly record."
type reassemblyState struct {
	total     uint32
	chunks    [][]byte
	received  []bool
	numFilled uint32
}

// reassembler completes sliced messages and evicts the oldest
// in-progress reassembly when the window is full, per spec.md §4.2:
// "the receiver reconstructs the message when the last missing slice
// arrives" and §3: "destroyed when complete or oldest-evicted by
// window."
type reassembler struct {
	windowSize int
	order      []uint16
	pending    map[uint16]*reassemblyState
}

func newReassembler(windowSize int) *reassembler {
	return &reassembler{windowSize: windowSize, pending: make(map[uint16]*reassemblyState)}
}

// Feed processes one message-frame. For a non-sliced frame it returns
// the payload immediately. For a slice it returns (nil, false) until
// the last missing slice arrives, at which point it returns the
// reassembled payload.
func (r *reassembler) Feed(f messageFrame) ([]byte, bool) {
	if !f.IsSlice {
		return f.Payload, true
	}
	st, ok := r.pending[f.MessageID]
	if !ok {
		if r.windowSize > 0 && len(r.pending) >= r.windowSize {
			r.evictOldest()
		}
		st = &reassemblyState{
			total:    f.TotalSlices,
			chunks:   make([][]byte, f.TotalSlices),
			received: make([]bool, f.TotalSlices),
		}
		r.pending[f.MessageID] = st
		r.order = append(r.order, f.MessageID)
	}
	if f.SliceIndex < st.total && !st.received[f.SliceIndex] {
		st.chunks[f.SliceIndex] = f.Payload
		st.received[f.SliceIndex] = true
		st.numFilled++
	}
	if st.numFilled < st.total {
		return nil, false
	}

	total := 0
	for _, c := range st.chunks {
		total += len(c)
	}
	buf := make([]byte, 0, total)
	for _, c := range st.chunks {
		buf = append(buf, c...)
	}
	r.remove(f.MessageID)
	return buf, true
}

func (r *reassembler) remove(id uint16) {
	delete(r.pending, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *reassembler) evictOldest() {
	if len(r.order) == 0 {
		return
	}
	oldest := r.order[0]
	r.order = r.order[1:]
	delete(r.pending, oldest)
}
