package wire

// SequenceByteLength returns the number of bytes needed to carry a
// sequence number of this magnitude, per spec.md §6.2: "Sequence:
// little-endian, length-prefixed" with the length encoded in the high
// nibble of the packet type byte (0–8).
func SequenceByteLength(seq uint64) int {
	switch {
	case seq == 0:
		return 1
	case seq <= 0xFF:
		return 1
	case seq <= 0xFFFF:
		return 2
	case seq <= 0xFFFFFF:
		return 3
	case seq <= 0xFFFFFFFF:
		return 4
	case seq <= 0xFFFFFFFFFF:
		return 5
	case seq <= 0xFFFFFFFFFFFF:
		return 6
	case seq <= 0xFFFFFFFFFFFFFF:
		return 7
	default:
		return 8
	}
}
