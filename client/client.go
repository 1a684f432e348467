// Package client implements the client side of spec.md §4.5/§6.1: the
// handshake state machine plus, once Connected, the same connection
// core the server uses. Symmetric to package server but with a single
// peer instead of a client table.
package client

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskforge/netchan/pkg/channel"
	"github.com/duskforge/netchan/pkg/conn"
	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/events"
	"github.com/duskforge/netchan/pkg/logger"
	"github.com/duskforge/netchan/pkg/netcode"
	"github.com/duskforge/netchan/pkg/neterr"
	"github.com/duskforge/netchan/pkg/token"
)

// Config parameterizes a Client, per spec.md §6.3's ConnectionConfig.
type Config struct {
	Token token.Token

	ClientChannels []channel.Config // channels this client sends on
	ServerChannels []channel.Config // channels the server sends on

	AvailableBytesPerTick int
	BurstBytes            int
	KeepAliveInterval     time.Duration
	TimeoutSeconds        time.Duration

	Now time.Time
}

func (c Config) connConfig() conn.Config {
	return conn.Config{
		SendChannels:          c.ClientChannels,
		RecvChannels:          c.ServerChannels,
		AvailableBytesPerTick: c.AvailableBytesPerTick,
		BurstBytes:            c.BurstBytes,
		KeepAliveInterval:     c.KeepAliveInterval,
		TimeoutSeconds:        c.TimeoutSeconds,
	}
}

// Client drives one connection attempt from ConnectToken to Connected
// (or Disconnected), then forwards the application API to the
// established conn.Connection.
type Client struct {
	cfg    Config
	fsm    *netcode.ClientFSM
	c      *conn.Connection
	now    time.Time
	connID uuid.UUID // diagnostic only; never sent on the wire
}

// NewClient starts a handshake attempt for cfg.Token.
func NewClient(cfg Config) *Client {
	now := cfg.Now
	if now.IsZero() {
		now = time.Unix(0, 0)
	}
	return &Client{cfg: cfg, fsm: netcode.NewClientFSM(cfg.Token), now: now, connID: uuid.New()}
}

func (cl *Client) IsConnecting() bool { return cl.fsm.IsConnecting() }
func (cl *Client) IsConnected() bool  { return cl.c != nil }
func (cl *Client) IsDisconnected() (events.DisconnectReason, bool) {
	if cl.c != nil {
		return cl.c.IsDisconnected()
	}
	return cl.fsm.IsDisconnected()
}

// Update advances the client's virtual clock: during the handshake
// this ticks token-expiry checks; once connected it drives the
// connection core exactly like the server side does.
func (cl *Client) Update(dt time.Duration) {
	cl.now = cl.now.Add(dt)
	if cl.c != nil {
		cl.c.Update(dt)
		return
	}
	cl.fsm.Update(uint64(cl.now.Unix()))
	if cl.fsm.IsConnected() {
		cl.promote()
	}
}

func (cl *Client) promote() {
	logger.With("conn_id", cl.connID, "client_id", cl.fsm.ClientID()).Infof("handshake complete")
	cl.c = conn.New(cl.cfg.connConfig(), crypto.DirectionClientToServer, cl.fsm.SendKey(), cl.fsm.RecvKey(), cl.fsm.NextSeq(), cl.now)
}

// ProcessPacket routes one inbound datagram: during the handshake it
// drives the FSM; once connected it's handed to the connection core.
func (cl *Client) ProcessPacket(raw []byte) error {
	if len(raw) < 1 {
		return neterr.Protocol(nil)
	}
	if cl.c != nil {
		return cl.c.HandleIncoming(raw)
	}
	cl.fsm.HandlePacket(raw)
	if cl.fsm.IsConnected() {
		cl.promote()
	}
	return nil
}

// GetPacketsToSend returns the next batch of outbound datagrams: the
// handshake's retried request/response, or the connection core's
// payload/keepalive packets once connected.
func (cl *Client) GetPacketsToSend() [][]byte {
	if cl.c != nil {
		return cl.c.GetPacketsToSend()
	}
	return cl.fsm.PacketsToSend(cl.now)
}

// Send enqueues payload on channelID. Returns an error if the
// handshake hasn't completed yet.
func (cl *Client) Send(channelID byte, payload []byte) error {
	if cl.c == nil {
		return neterr.Protocol(fmt.Errorf("client: not connected"))
	}
	return cl.c.Send(channelID, payload)
}

// Receive pops the next delivered message on channelID, if any.
func (cl *Client) Receive(channelID byte) ([]byte, bool) {
	if cl.c == nil {
		return nil, false
	}
	return cl.c.Receive(channelID)
}

// Disconnect tears the connection down from the client side.
func (cl *Client) Disconnect() {
	if cl.c != nil {
		cl.c.Disconnect(events.ReasonDisconnectedByClient)
	}
}

// NetworkInfo reports live statistics, zero-valued if not yet connected.
func (cl *Client) NetworkInfo() conn.NetworkInfo {
	if cl.c == nil {
		return conn.NetworkInfo{}
	}
	return cl.c.NetworkInfo()
}

// ClientID returns the identity assigned by the connect token, valid
// once IsConnected reports true.
func (cl *Client) ClientID() uint64 { return cl.fsm.ClientID() }
