package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskforge/netchan/pkg/channel"
	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/events"
)

func testChannelConfigs() []channel.Config {
	return []channel.Config{
		{ChannelID: 0, SendType: channel.ReliableOrdered, MaxMemoryUsageBytes: 1 << 20, ResendTime: 200 * time.Millisecond},
		{ChannelID: 1, SendType: channel.Unreliable, MaxMemoryUsageBytes: 1 << 20},
	}
}

func newPair(t *testing.T) (client, server *Connection) {
	t.Helper()
	clientToServer, err := crypto.GenerateKey()
	require.NoError(t, err)
	serverToClient, err := crypto.GenerateKey()
	require.NoError(t, err)

	now := time.Unix(0, 0)
	cfg := Config{
		Channels:              testChannelConfigs(),
		AvailableBytesPerTick: 1 << 20,
		BurstBytes:            1 << 20,
		KeepAliveInterval:     100 * time.Millisecond,
		TimeoutSeconds:        2 * time.Second,
	}
	client = New(cfg, crypto.DirectionClientToServer, clientToServer, serverToClient, 0, now)
	server = New(cfg, crypto.DirectionServerToClient, serverToClient, clientToServer, 0, now)
	return client, server
}

func deliver(t *testing.T, from, to *Connection) {
	t.Helper()
	for _, pkt := range from.GetPacketsToSend() {
		require.NoError(t, to.HandleIncoming(pkt))
	}
}

func TestReliableMessageDeliveredEndToEnd(t *testing.T) {
	client, server := newPair(t)
	require.NoError(t, client.Send(0, []byte("hello server")))

	deliver(t, client, server)
	msg, ok := server.Receive(0)
	require.True(t, ok)
	require.Equal(t, []byte("hello server"), msg)

	// The ack piggybacked on the server's next packet should free the
	// client's outbox/sender state.
	deliver(t, server, client)
	require.Zero(t, client.channels.pairs[0].sender.BytesInFlight())
}

func TestUnreliableMessageDeliveredEndToEnd(t *testing.T) {
	client, server := newPair(t)
	require.NoError(t, client.Send(1, []byte("ping")))
	deliver(t, client, server)

	msg, ok := server.Receive(1)
	require.True(t, ok)
	require.Equal(t, []byte("ping"), msg)
}

func TestKeepAliveEmittedWhenIdle(t *testing.T) {
	client, _ := newPair(t)
	client.Update(200 * time.Millisecond)

	packets := client.GetPacketsToSend()
	require.Len(t, packets, 1, "idle connection should emit exactly one keepalive")
}

func TestTimeoutDisconnectsConnection(t *testing.T) {
	client, _ := newPair(t)
	client.Update(3 * time.Second)

	reason, disconnected := client.IsDisconnected()
	require.True(t, disconnected)
	require.Equal(t, events.ReasonTimeout, reason)
}

func TestChannelOverBudgetForcesDisconnect(t *testing.T) {
	cfg := Config{
		Channels: []channel.Config{
			{ChannelID: 0, SendType: channel.ReliableOrdered, MaxMemoryUsageBytes: 4, ResendTime: time.Second},
		},
		AvailableBytesPerTick: 1 << 20,
	}
	k1, _ := crypto.GenerateKey()
	k2, _ := crypto.GenerateKey()
	c := New(cfg, crypto.DirectionClientToServer, k1, k2, 0, time.Unix(0, 0))

	err := c.Send(0, []byte("this payload is too big for the budget"))
	require.Error(t, err)

	reason, disconnected := c.IsDisconnected()
	require.True(t, disconnected)
	require.Equal(t, events.ReasonChannelSendBufferFull, reason)
}

func TestUnreliableChannelOverBudgetForcesDisconnect(t *testing.T) {
	cfg := Config{
		Channels: []channel.Config{
			{ChannelID: 0, SendType: channel.Unreliable, MaxMemoryUsageBytes: 4},
		},
		AvailableBytesPerTick: 1 << 20,
	}
	k1, _ := crypto.GenerateKey()
	k2, _ := crypto.GenerateKey()
	c := New(cfg, crypto.DirectionClientToServer, k1, k2, 0, time.Unix(0, 0))

	err := c.Send(0, []byte("this payload is too big for the budget"))
	require.Error(t, err)

	reason, disconnected := c.IsDisconnected()
	require.True(t, disconnected)
	require.Equal(t, events.ReasonChannelSendBufferFull, reason)
}

func TestBandwidthBudgetCapsBytesEmittedPerTick(t *testing.T) {
	client, server := newPair(t)
	// Replace the bucket with a tightly bounded one.
	client.bandwidth = NewTokenBucket(1024, 1024)

	big := make([]byte, 10*1024)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, client.Send(0, big))

	totalEmitted := 0
	for i := 0; i < 10; i++ {
		client.Update(16 * time.Millisecond)
		for _, pkt := range client.GetPacketsToSend() {
			require.LessOrEqual(t, len(pkt), MaxPacketBytes+crypto.TagBytes)
			totalEmitted += len(pkt)
			require.NoError(t, server.HandleIncoming(pkt))
		}
	}
	require.LessOrEqual(t, totalEmitted, 10*1024+2048, "cumulative bytes should stay near the configured budget")
}

func TestNetworkInfoReflectsAckedRTT(t *testing.T) {
	client, server := newPair(t)
	require.NoError(t, client.Send(0, []byte("x")))
	client.Update(10 * time.Millisecond)
	deliver(t, client, server)
	server.Update(5 * time.Millisecond)
	deliver(t, server, client)

	info := client.NetworkInfo()
	require.GreaterOrEqual(t, info.RTT, time.Duration(0))
}
