package netcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayAcceptsNewSequences(t *testing.T) {
	rp := NewReplayProtection()
	for _, seq := range []uint64{0, 1, 2, 10, 9, 100} {
		require.True(t, rp.CheckAndMark(seq), "seq=%d", seq)
	}
}

func TestReplayRejectsDuplicate(t *testing.T) {
	rp := NewReplayProtection()
	require.True(t, rp.CheckAndMark(5))
	require.False(t, rp.CheckAndMark(5))
}

func TestReplayRejectsBeyondWindow(t *testing.T) {
	rp := NewReplayProtection()
	require.True(t, rp.CheckAndMark(1000))
	// 1000 - 256 = 744; sequences <= 744 must be rejected.
	require.False(t, rp.CheckAndMark(744))
	require.False(t, rp.CheckAndMark(0))
	require.True(t, rp.CheckAndMark(745))
}

func TestReplayAppliedTwiceYieldsSameVisibleState(t *testing.T) {
	rp := NewReplayProtection()
	first := rp.CheckAndMark(42)
	second := rp.CheckAndMark(42)
	require.True(t, first)
	require.False(t, second)
	require.Equal(t, uint64(42), rp.MostRecentSequence())
}
