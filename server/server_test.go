package server

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
)

const testProtocolID = 0xDEADBEEF

func testChannels() []channel.Config {
	return []channel.Config{
		{ChannelID: 0, SendType: channel.ReliableOrdered, MaxMemoryUsageBytes: 1 << 20, ResendTime: 100 * time.Millisecond},
	}
}

func buildToken(t *testing.T, serverKey crypto.Key, clientID uint64) token.Token {
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
	enc, err := token.Seal(serverKey, testProtocolID, 999999, nonce, priv)
	require.NoError(t, err)

	return token.Token{
		ProtocolID: testProtocolID, ExpireTimestamp: 999999, Nonce: nonce,
		ClientToServerKey: csKey, ServerToClientKey: scKey, TimeoutSeconds: 15,
		EncryptedPrivate: enc,
	}
}

func newTestServer(t *testing.T) (*Server, crypto.Key) {
	t.Helper()
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewServer(Config{
		ProtocolID: testProtocolID, PrivateKey: serverKey, MaxClients: 4,
		ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})
	require.NoError(t, err)
	return s, serverKey
}

func runHandshake(t *testing.T, s *Server, cl *client.Client, addr net.Addr) {
	t.Helper()
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
}

func TestHappyPathHandshake(t *testing.T) {
	s, serverKey := newTestServer(t)
	tok := buildToken(t, serverKey, 7)
	cl := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40001}

	runHandshake(t, s, cl, addr)

	require.True(t, cl.IsConnected())
	require.Equal(t, uint64(7), cl.ClientID())

	ev, ok := s.GetEvent()
	require.True(t, ok)
	require.Equal(t, events.KindClientConnected, ev.Kind)
	require.Equal(t, uint64(7), ev.ClientID)
}

func TestReliableMessageDeliveredServerToClientAndBack(t *testing.T) {
	s, serverKey := newTestServer(t)
	tok := buildToken(t, serverKey, 7)
	cl := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40002}
	runHandshake(t, s, cl, addr)
	require.True(t, cl.IsConnected())

	require.NoError(t, cl.Send(0, []byte("ping")))
	for i := 0; i < 5; i++ {
		cl.Update(20 * time.Millisecond)
		s.Update(20 * time.Millisecond)
		for _, pkt := range cl.GetPacketsToSend() {
			require.NoError(t, s.ProcessPacket(addr, pkt))
		}
		for _, out := range s.GetPacketsToSend() {
			require.NoError(t, cl.ProcessPacket(out.Data))
		}
	}
	msg, ok := s.ReceiveMessage(7, 0)
	require.True(t, ok)
	require.Equal(t, []byte("ping"), msg)

	require.NoError(t, s.SendMessage(7, 0, []byte("pong")))
	for i := 0; i < 5; i++ {
		cl.Update(20 * time.Millisecond)
		s.Update(20 * time.Millisecond)
		for _, pkt := range cl.GetPacketsToSend() {
			require.NoError(t, s.ProcessPacket(addr, pkt))
		}
		for _, out := range s.GetPacketsToSend() {
			require.NoError(t, cl.ProcessPacket(out.Data))
		}
	}
	reply, ok := cl.Receive(0)
	require.True(t, ok)
	require.Equal(t, []byte("pong"), reply)
}

func TestTokenReplayFromSecondAddressDenied(t *testing.T) {
	s, serverKey := newTestServer(t)
	tok := buildToken(t, serverKey, 7)

	clA := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40003}
	runHandshake(t, s, clA, addrA)
	require.True(t, clA.IsConnected())
	_, _ = s.GetEvent()

	clB := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40004}
	for i := 0; i < 10; i++ {
		clB.Update(50 * time.Millisecond)
		for _, pkt := range clB.GetPacketsToSend() {
			_ = s.ProcessPacket(addrB, pkt)
		}
		for _, out := range s.GetPacketsToSend() {
			if out.Addr == addrB {
				require.NoError(t, clB.ProcessPacket(out.Data))
			}
		}
	}
	reason, disconnected := clB.IsDisconnected()
	require.True(t, disconnected)
	require.Equal(t, events.ReasonInvalidToken, reason)
	_, stillConnectedEvent := s.GetEvent()
	require.False(t, stillConnectedEvent)
}

func TestServerTimeoutEmitsDisconnectEvent(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewServer(Config{
		ProtocolID: testProtocolID, PrivateKey: serverKey, MaxClients: 4,
		ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, TimeoutSeconds: time.Second, Now: time.Unix(0, 0),
	})
	require.NoError(t, err)
	tok := buildToken(t, serverKey, 7)
	cl := client.NewClient(client.Config{
		Token: tok, ClientChannels: testChannels(), ServerChannels: testChannels(),
		AvailableBytesPerTick: 1 << 20, Now: time.Unix(0, 0),
	})
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40005}
	runHandshake(t, s, cl, addr)
	require.True(t, cl.IsConnected())
	_, _ = s.GetEvent()

	// Stop feeding packets to the server; advance its clock well past
	// the 1s timeout.
	s.Update(3 * time.Second)

	ev, ok := s.GetEvent()
	require.True(t, ok)
	require.Equal(t, events.KindClientDisconnected, ev.Kind)
	require.Equal(t, events.ReasonTimeout, ev.Reason)
}
