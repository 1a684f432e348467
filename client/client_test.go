package client_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskforge/netchan/client"
	"github.com/duskforge/netchan/pkg/channel"
	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/events"
	"github.com/duskforge/netchan/pkg/token"
	"github.com/duskforge/netchan/server"
)

const testProtocolID = 0xC0FFEE

func testChannels() []channel.Config {
	return []channel.Config{
		{ChannelID: 0, SendType: channel.ReliableOrdered, MaxMemoryUsageBytes: 1 << 20, ResendTime: 100 * time.Millisecond},
	}
}

func buildToken(t *testing.T, serverKey crypto.Key, clientID uint64, expire uint64) token.Token {
	t.Helper()
	nonceBytes, err := crypto.RandomBytes(crypto.NonceBytes)
	require.NoError(t, err)
	var nonce [crypto.NonceBytes]byte
	copy(nonce[:], nonceBytes)

	csKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	scKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	priv := token.Private{
		ClientID: clientID, TimeoutSeconds: 15,
		ClientToServerKey: csKey, ServerToClientKey: scKey,
	}
	enc, err := token.Seal(serverKey, testProtocolID, expire, nonce, priv)
	require.NoError(t, err)

	return token.Token{
		ProtocolID: testProtocolID, ExpireTimestamp: expire, Nonce: nonce,
		ClientToServerKey: csKey, ServerToClientKey: scKey, TimeoutSeconds: 15,
		EncryptedPrivate: enc,
	}
}

func TestNewClientStartsConnecting(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok := buildToken(t, serverKey, 1, 999999)
	cl := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(), Now: time.Unix(0, 0),
	})
	require.True(t, cl.IsConnecting())
	require.False(t, cl.IsConnected())
	_, disconnected := cl.IsDisconnected()
	require.False(t, disconnected)
}

func TestClientSendBeforeConnectedFails(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok := buildToken(t, serverKey, 1, 999999)
	cl := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(), Now: time.Unix(0, 0),
	})
	require.Error(t, cl.Send(0, []byte("hi")))
	_, ok := cl.Receive(0)
	require.False(t, ok)
}

func TestClientTokenExpiryDisconnectsWithoutAnyServerTraffic(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok := buildToken(t, serverKey, 1, 5) // expires at unix 5
	cl := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(), Now: time.Unix(0, 0),
	})
	cl.Update(10 * time.Second)

	reason, disconnected := cl.IsDisconnected()
	require.True(t, disconnected)
	require.Equal(t, events.ReasonConnectionTokenExpired, reason)
}

func TestClientDoesNotRetryFasterThanHandshakeInterval(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok := buildToken(t, serverKey, 1, 999999)
	cl := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(), Now: time.Unix(0, 0),
	})

	first := cl.GetPacketsToSend()
	require.Len(t, first, 1, "connection request is sent immediately")

	second := cl.GetPacketsToSend()
	require.Empty(t, second, "retry interval hasn't elapsed")

	cl.Update(300 * time.Millisecond)
	third := cl.GetPacketsToSend()
	require.Len(t, third, 1, "retry interval elapsed")
}

func TestClientFullHandshakeReportsClientIDAndNetworkInfo(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := server.NewServer(server.Config{
		ProtocolID: testProtocolID, PrivateKey: serverKey, MaxClients: 4,
		ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})
	require.NoError(t, err)

	tok := buildToken(t, serverKey, 42, 999999)
	cl := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 50001}
	for i := 0; i < 40 && !cl.IsConnected(); i++ {
		cl.Update(50 * time.Millisecond)
		s.Update(50 * time.Millisecond)
		for _, pkt := range cl.GetPacketsToSend() {
			require.NoError(t, s.ProcessPacket(addr, pkt))
		}
		for _, out := range s.GetPacketsToSend() {
			require.NoError(t, cl.ProcessPacket(out.Data))
		}
	}

	require.True(t, cl.IsConnected())
	require.Equal(t, uint64(42), cl.ClientID())
	require.False(t, cl.IsConnecting())

	info := cl.NetworkInfo()
	require.GreaterOrEqual(t, info.RTT, time.Duration(0))
}

func TestClientDisconnectSetsDisconnectedByClient(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := server.NewServer(server.Config{
		ProtocolID: testProtocolID, PrivateKey: serverKey, MaxClients: 4,
		ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})
	require.NoError(t, err)

	tok := buildToken(t, serverKey, 9, 999999)
	cl := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 50002}
	for i := 0; i < 40 && !cl.IsConnected(); i++ {
		cl.Update(50 * time.Millisecond)
		s.Update(50 * time.Millisecond)
		for _, pkt := range cl.GetPacketsToSend() {
			require.NoError(t, s.ProcessPacket(addr, pkt))
		}
		for _, out := range s.GetPacketsToSend() {
			require.NoError(t, cl.ProcessPacket(out.Data))
		}
	}
	require.True(t, cl.IsConnected())

	cl.Disconnect()
	reason, disconnected := cl.IsDisconnected()
	require.True(t, disconnected)
	require.Equal(t, events.ReasonDisconnectedByClient, reason)
}
