package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(sendType SendType) Config {
	return Config{
		ChannelID:           1,
		SendType:            sendType,
		MaxMemoryUsageBytes: 1 << 20,
		ResendTime:          100 * time.Millisecond,
	}
}

func drainFrames(t *testing.T, payloads [][]byte, recv Receiver, now time.Time) {
	t.Helper()
	for _, p := range payloads {
		require.NoError(t, recv.HandleFrame(p, now))
	}
}

func TestReliableOrderedSmallMessageRoundTrip(t *testing.T) {
	now := time.Now()
	sender := NewReliableSender(testConfig(ReliableOrdered))
	recv := NewReceiverReliableOrdered(testConfig(ReliableOrdered))

	require.NoError(t, sender.Enqueue([]byte("hello"), now))
	payloads, record := sender.Emit(now, 4096)
	require.Len(t, payloads, 1)
	drainFrames(t, payloads, recv, now)
	sender.Ack(record)

	msg, ok := recv.Receive()
	require.True(t, ok)
	require.Equal(t, []byte("hello"), msg)
	require.Zero(t, sender.BytesInFlight())
}

func TestReliableOrderedDeliversInOrderDespiteArrivalOrder(t *testing.T) {
	now := time.Now()
	sender := NewReliableSender(testConfig(ReliableOrdered))
	recv := NewReceiverReliableOrdered(testConfig(ReliableOrdered))

	require.NoError(t, sender.Enqueue([]byte("first"), now))
	require.NoError(t, sender.Enqueue([]byte("second"), now))
	require.NoError(t, sender.Enqueue([]byte("third"), now))

	payloads, _ := sender.Emit(now, 4096)
	require.Len(t, payloads, 3)

	// Emit packs newest-first; feed the receiver in that same (reversed) order.
	require.NoError(t, recv.HandleFrame(payloads[0], now))
	require.NoError(t, recv.HandleFrame(payloads[1], now))

	_, ok := recv.Receive()
	require.False(t, ok, "message 'first' hasn't arrived yet, nothing should be ready")

	require.NoError(t, recv.HandleFrame(payloads[2], now))

	msg1, ok := recv.Receive()
	require.True(t, ok)
	require.Equal(t, []byte("first"), msg1)
	msg2, ok := recv.Receive()
	require.True(t, ok)
	require.Equal(t, []byte("second"), msg2)
	msg3, ok := recv.Receive()
	require.True(t, ok)
	require.Equal(t, []byte("third"), msg3)
}

func TestReliableUnorderedDeliversInArrivalOrder(t *testing.T) {
	now := time.Now()
	sender := NewReliableSender(testConfig(ReliableUnordered))
	recv := NewReceiverReliableUnordered(testConfig(ReliableUnordered))

	require.NoError(t, sender.Enqueue([]byte("a"), now))
	require.NoError(t, sender.Enqueue([]byte("b"), now))
	payloads, _ := sender.Emit(now, 4096)
	require.Len(t, payloads, 2)

	// payloads[0] is message id 1 ("b"), payloads[1] is id 0 ("a") -- newest first.
	drainFrames(t, payloads, recv, now)

	first, ok := recv.Receive()
	require.True(t, ok)
	require.Equal(t, []byte("b"), first)
	second, ok := recv.Receive()
	require.True(t, ok)
	require.Equal(t, []byte("a"), second)
}

func TestReliableUnorderedDiscardsDuplicates(t *testing.T) {
	now := time.Now()
	recv := NewReceiverReliableUnordered(testConfig(ReliableUnordered))
	frame := encodeMessageFrame(messageFrame{MessageID: 7, Payload: []byte("x")})

	require.NoError(t, recv.HandleFrame(frame, now))
	require.NoError(t, recv.HandleFrame(frame, now))

	_, ok := recv.Receive()
	require.True(t, ok)
	_, ok = recv.Receive()
	require.False(t, ok, "duplicate delivery must be discarded")
}

func TestReliableSenderRetransmitsAfterResendTime(t *testing.T) {
	now := time.Now()
	cfg := testConfig(ReliableOrdered)
	sender := NewReliableSender(cfg)
	require.NoError(t, sender.Enqueue([]byte("payload"), now))

	payloads, _ := sender.Emit(now, 4096)
	require.Len(t, payloads, 1)

	require.False(t, sender.HasPending(now.Add(cfg.ResendTime/2)))
	require.True(t, sender.HasPending(now.Add(cfg.ResendTime*2)))

	again, _ := sender.Emit(now.Add(cfg.ResendTime*2), 4096)
	require.Len(t, again, 1)
}

func TestReliableSenderEnforcesMemoryBudget(t *testing.T) {
	now := time.Now()
	cfg := testConfig(ReliableOrdered)
	cfg.MaxMemoryUsageBytes = 4
	sender := NewReliableSender(cfg)
	require.NoError(t, sender.Enqueue([]byte("ab"), now))
	err := sender.Enqueue([]byte("abcdef"), now)
	require.ErrorIs(t, err, ErrChannelFull)
}

func TestReliableSenderRejectsEmptyMessage(t *testing.T) {
	sender := NewReliableSender(testConfig(ReliableOrdered))
	err := sender.Enqueue(nil, time.Now())
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestReliableOrderedReassemblesSlicedMessage(t *testing.T) {
	now := time.Now()
	sender := NewReliableSender(testConfig(ReliableOrdered))
	recv := NewReceiverReliableOrdered(testConfig(ReliableOrdered))

	big := make([]byte, SliceSize*2+37)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, sender.Enqueue(big, now))

	payloads, record := sender.Emit(now, 1<<20)
	require.Len(t, payloads, 3)
	drainFrames(t, payloads, recv, now)
	sender.Ack(record)

	msg, ok := recv.Receive()
	require.True(t, ok)
	require.Equal(t, big, msg)
}

func TestUnreliableSenderKeepsUnsentFrameForNextEmit(t *testing.T) {
	now := time.Now()
	sender := NewUnreliableSender(testConfig(Unreliable))
	require.NoError(t, sender.Enqueue([]byte("small"), now))

	payloads, _ := sender.Emit(now, 0)
	require.Empty(t, payloads, "nothing fits under a zero-byte budget")
	require.True(t, sender.HasPending(now), "a frame that did not fit stays queued")

	payloads, _ = sender.Emit(now, 1<<20)
	require.Len(t, payloads, 1)
	require.False(t, sender.HasPending(now), "unreliable sends are never retried")
}

func TestUnreliableSenderEnforcesMemoryBudget(t *testing.T) {
	now := time.Now()
	cfg := testConfig(Unreliable)
	// The budget counts encoded frames: "ab" is a 7-byte frame,
	// "abcdef" an 11-byte one.
	cfg.MaxMemoryUsageBytes = 16
	sender := NewUnreliableSender(cfg)
	require.NoError(t, sender.Enqueue([]byte("ab"), now))
	err := sender.Enqueue([]byte("abcdef"), now)
	require.ErrorIs(t, err, ErrChannelFull)
}

func TestUnreliableSenderReleasesBudgetOnEmit(t *testing.T) {
	now := time.Now()
	cfg := testConfig(Unreliable)
	cfg.MaxMemoryUsageBytes = 32
	sender := NewUnreliableSender(cfg)
	require.NoError(t, sender.Enqueue([]byte("first"), now))
	require.NotZero(t, sender.BytesInFlight())

	payloads, _ := sender.Emit(now, 1<<20)
	require.Len(t, payloads, 1)
	require.Zero(t, sender.BytesInFlight(), "emitted frames must free their share of the budget")

	// A second message that wouldn't have fit before the first was
	// drained now succeeds.
	require.NoError(t, sender.Enqueue([]byte("a longer second message"), now))
}

func TestUnreliableReceiverDeliversArrivalOrder(t *testing.T) {
	now := time.Now()
	recv := NewReceiverUnreliable(testConfig(Unreliable))
	f1 := encodeMessageFrame(messageFrame{MessageID: 5, Payload: []byte("later-id")})
	f2 := encodeMessageFrame(messageFrame{MessageID: 1, Payload: []byte("earlier-id-arrives-second")})

	require.NoError(t, recv.HandleFrame(f1, now))
	require.NoError(t, recv.HandleFrame(f2, now))

	m1, _ := recv.Receive()
	require.Equal(t, []byte("later-id"), m1)
	m2, _ := recv.Receive()
	require.Equal(t, []byte("earlier-id-arrives-second"), m2)
}

func TestUnreliableSequencedDropsStaleMessages(t *testing.T) {
	now := time.Now()
	recv := NewReceiverUnreliableSequenced(testConfig(UnreliableSequenced))

	newer := encodeMessageFrame(messageFrame{MessageID: 10, Payload: []byte("newer")})
	stale := encodeMessageFrame(messageFrame{MessageID: 3, Payload: []byte("stale")})

	require.NoError(t, recv.HandleFrame(newer, now))
	require.NoError(t, recv.HandleFrame(stale, now))

	msg, ok := recv.Receive()
	require.True(t, ok)
	require.Equal(t, []byte("newer"), msg)
	_, ok = recv.Receive()
	require.False(t, ok, "stale id must be dropped, not delivered")
}

func TestReassemblerEvictsOldestWhenWindowFull(t *testing.T) {
	re := newReassembler(2)
	f0 := messageFrame{MessageID: 0, IsSlice: true, SliceIndex: 0, TotalSlices: 2, Payload: []byte("a")}
	f1 := messageFrame{MessageID: 1, IsSlice: true, SliceIndex: 0, TotalSlices: 2, Payload: []byte("b")}
	f2 := messageFrame{MessageID: 2, IsSlice: true, SliceIndex: 0, TotalSlices: 2, Payload: []byte("c")}

	_, complete := re.Feed(f0)
	require.False(t, complete)
	_, complete = re.Feed(f1)
	require.False(t, complete)
	// Window is full (ids 0 and 1 in progress); this evicts id 0.
	_, complete = re.Feed(f2)
	require.False(t, complete)

	// Completing id 0 now should not succeed: it was evicted.
	_, complete = re.Feed(messageFrame{MessageID: 0, IsSlice: true, SliceIndex: 1, TotalSlices: 2, Payload: []byte("x")})
	require.False(t, complete, "evicted reassembly restarts from scratch rather than completing")
}
