// Package server implements the server core from spec.md §4.6: a
// bounded client table keyed by client_id, a pending-connection table
// keyed by source address, and the event queue the application drains
// each frame. Grounded on the teacher's source/server/server.go Server
// struct (client table, running flag, Start/listen/updateLoop split)
// generalized from a SA-MP-specific player table to the handshake's
// address/client_id admission model.
package server

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/duskforge/netchan/pkg/channel"
	"github.com/duskforge/netchan/pkg/conn"
	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/events"
	"github.com/duskforge/netchan/pkg/logger"
	"github.com/duskforge/netchan/pkg/metrics"
	"github.com/duskforge/netchan/pkg/netcode"
	"github.com/duskforge/netchan/pkg/neterr"
	"github.com/duskforge/netchan/pkg/token"
	"github.com/duskforge/netchan/pkg/wire"
)

func splitKind(raw []byte) (netcode.Kind, int) {
	return wire.SplitTypeByte(raw[0])
}

// OutPacket is one datagram ready for the transport driver to send.
type OutPacket struct {
	Addr net.Addr
	Data []byte
}

// Config parameterizes a Server, per spec.md §6.3's ServerConfig and
// ConnectionConfig.
type Config struct {
	ProtocolID uint64
	PrivateKey crypto.Key // decrypts connect-token private sections
	MaxClients int

	ClientChannels []channel.Config // channels the client sends on
	ServerChannels []channel.Config // channels the server sends on

	AvailableBytesPerTick int
	BurstBytes            int
	KeepAliveInterval     time.Duration
	TimeoutSeconds        time.Duration

	Metrics *metrics.Registry
	Now     time.Time
}

func (c Config) connConfig() conn.Config {
	return conn.Config{
		SendChannels:          c.ServerChannels,
		RecvChannels:          c.ClientChannels,
		AvailableBytesPerTick: c.AvailableBytesPerTick,
		BurstBytes:            c.BurstBytes,
		KeepAliveInterval:     c.KeepAliveInterval,
		TimeoutSeconds:        c.TimeoutSeconds,
	}
}

type clientEntry struct {
	addr   net.Addr
	conn   *conn.Connection
	connID uuid.UUID // diagnostic only; never sent on the wire
}

// Server is the handshake admission table plus the set of live
// connections, per spec.md §4.6. It is single-threaded and cooperative
// per spec.md §5: callers serialize their own access (cmd/netchand
// calls it only from its main select loop; its recv goroutine hands
// datagrams over through a channel).
type Server struct {
	cfg   Config
	table *netcode.Table

	clients map[uint64]*clientEntry
	addrKey map[string]uint64 // addrKey -> client_id, mirrors table's own index for fast ProcessPacket routing

	events   []events.Event
	outbound []OutPacket
	now      time.Time
}

// NewServer constructs a Server. challengeKey is generated fresh per
// process; it never leaves the server and is never derived from the
// connect-token private key, so a compromised token cannot forge
// challenge responses.
func NewServer(cfg Config) (*Server, error) {
	challengeKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("server: generate challenge key: %w", err)
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Unix(0, 0)
	}
	return &Server{
		cfg:     cfg,
		table:   netcode.NewTable(challengeKey),
		clients: make(map[uint64]*clientEntry),
		addrKey: make(map[string]uint64),
		now:     now,
	}, nil
}

// Update advances timers and state, per spec.md §4.6: expire pending
// challenges, then age every connection and harvest disconnects.
func (s *Server) Update(dt time.Duration) {
	s.now = s.now.Add(dt)

	for _, addr := range s.table.ExpirePending(s.now) {
		logger.Debug("pending connection from %s expired", addr)
	}

	for id, entry := range s.clients {
		entry.conn.Update(dt)
		if reason, done := entry.conn.IsDisconnected(); done {
			logger.With("conn_id", entry.connID, "client_id", id).Infof("disconnected: %s", reason)
			s.events = append(s.events, events.Disconnected(id, reason))
			s.table.RemoveByAddr(entry.addr)
			delete(s.addrKey, entry.addr.String())
			delete(s.clients, id)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.ConnectionsActive.Dec()
				s.cfg.Metrics.DisconnectsByReason.WithLabelValues(reason.String()).Inc()
			}
		}
	}
}

// ProcessPacket routes one inbound datagram by packet type, per
// spec.md §4.6: handshake packets drive the pending table; Payload/
// KeepAlive/Disconnect route to the connection keyed by address.
func (s *Server) ProcessPacket(addr net.Addr, raw []byte) error {
	if len(raw) < 1 {
		return neterr.Protocol(nil)
	}
	kind, _ := splitKind(raw)

	if id, ok := s.addrKey[addr.String()]; ok {
		entry := s.clients[id]
		if err := entry.conn.HandleIncoming(raw); err != nil {
			if s.cfg.Metrics != nil {
				if ne, ok := err.(*neterr.Error); ok {
					s.cfg.Metrics.RecordDrop(ne.Kind())
				}
			}
			return err
		}
		return nil
	}

	switch kind {
	case netcode.KindConnectionRequest:
		return s.handleConnectionRequest(addr, raw)
	case netcode.KindResponse:
		return s.handleChallengeResponse(addr, raw)
	default:
		return neterr.Protocol(nil)
	}
}

func (s *Server) handleConnectionRequest(addr net.Addr, raw []byte) error {
	req, err := netcode.DecodeConnectionRequest(raw)
	if err != nil {
		return neterr.Protocol(err)
	}
	if req.ProtocolID != s.cfg.ProtocolID {
		return neterr.Protocol(nil)
	}
	if uint64(s.now.Unix()) >= req.ExpireTimestamp {
		s.deny(addr, netcode.DenyExpiredToken)
		return neterr.Auth(nil)
	}

	tok := token.Token{
		ProtocolID: req.ProtocolID, ExpireTimestamp: req.ExpireTimestamp,
		Nonce: req.Nonce, EncryptedPrivate: req.EncryptedPrivate,
	}
	if err := token.Open(s.cfg.PrivateKey, &tok); err != nil {
		s.deny(addr, netcode.DenyInvalidToken)
		return neterr.Auth(err)
	}
	if s.table.TokenNonceUsed(tok.Nonce) {
		s.deny(addr, netcode.DenyInvalidToken)
		return neterr.Auth(fmt.Errorf("server: connect token already consumed"))
	}

	if len(s.clients) >= s.cfg.MaxClients && s.table.StateFor(addr) == netcode.StateEmpty {
		s.deny(addr, netcode.DenyServerFull)
		return neterr.Capacity(nil)
	}

	env, err := s.table.IssueChallenge(addr, tok.Private.ClientID, uint32(s.cfg.MaxClients),
		tok.Private.ServerToClientKey, tok.Private.ClientToServerKey, tok.Private.UserData, tok.Nonce, s.now)
	if err != nil {
		return neterr.Fatal(err)
	}
	challengeBody := netcode.EncodeChallengeEnvelope(env)
	pkt, err := netcode.EncodeEncrypted(netcode.KindChallenge, tok.Private.ServerToClientKey, crypto.DirectionServerToClient, env.ChallengeSequence, challengeBody)
	if err != nil {
		return neterr.Fatal(err)
	}
	s.outbound = append(s.outbound, OutPacket{Addr: addr, Data: pkt})
	return nil
}

func (s *Server) handleChallengeResponse(addr net.Addr, raw []byte) error {
	// The response is encrypted under the pending entry's
	// client-to-server key, but the server doesn't know which pending
	// entry this is until it has decoded the (unencrypted) challenge
	// sequence; HandleResponse needs the plaintext envelope, so the
	// caller must know the key up front. We look up the pending key by
	// address instead of by content.
	key, ok := s.table.PendingKeyForAddr(addr)
	if !ok {
		return neterr.Protocol(nil)
	}
	_, _, payload, err := netcode.DecodeEncrypted(raw, key, crypto.DirectionClientToServer)
	if err != nil {
		return neterr.Auth(err)
	}
	env, err := netcode.DecodeChallengeEnvelope(payload)
	if err != nil {
		return neterr.Protocol(err)
	}
	view, evictedAddr, ok := s.table.HandleResponse(addr, env)
	if !ok {
		return neterr.Auth(nil)
	}
	if evictedAddr != nil {
		if old, ok := s.clients[view.ClientID]; ok {
			old.conn.Disconnect(events.ReasonDisconnectedByServer)
		}
		delete(s.addrKey, evictedAddr.String())
	}

	// The outer Challenge envelope was already sealed under this same
	// (ServerToClientKey, ServerToClient) pair at sequence
	// env.ChallengeSequence (see handleConnectionRequest above); the
	// promoted connection must not reuse that sequence, so it starts
	// one past it rather than at 0.
	c := conn.New(s.cfg.connConfig(), crypto.DirectionServerToClient, view.SendKey, view.RecvKey, env.ChallengeSequence+1, s.now)
	c.QueueHandshakeTag(netcode.EncodeKeepAlivePayload(netcode.KeepAlivePayload{
		ClientID: view.ClientID, MaxClients: uint32(s.cfg.MaxClients),
	}))
	connID := uuid.New()
	s.clients[view.ClientID] = &clientEntry{addr: addr, conn: c, connID: connID}
	s.addrKey[addr.String()] = view.ClientID
	logger.With("conn_id", connID, "client_id", view.ClientID).Infof("connected from %s", addr)
	s.events = append(s.events, events.Connected(view.ClientID))
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectionsActive.Inc()
		s.cfg.Metrics.ConnectionsTotal.Inc()
	}
	return nil
}

func (s *Server) deny(addr net.Addr, reason netcode.DenyReason) {
	s.outbound = append(s.outbound, OutPacket{Addr: addr, Data: netcode.EncodeConnectionDenied(reason)})
}

// GetPacketsToSend drains every connection's ready datagrams plus any
// handshake replies queued this tick.
func (s *Server) GetPacketsToSend() []OutPacket {
	out := s.outbound
	s.outbound = nil
	for _, entry := range s.clients {
		for _, pkt := range entry.conn.GetPacketsToSend() {
			out = append(out, OutPacket{Addr: entry.addr, Data: pkt})
		}
	}
	return out
}

// SendMessage enqueues payload on channelID for one client.
func (s *Server) SendMessage(clientID uint64, channelID byte, payload []byte) error {
	entry, ok := s.clients[clientID]
	if !ok {
		return neterr.Protocol(fmt.Errorf("server: unknown client_id %d", clientID))
	}
	return entry.conn.Send(channelID, payload)
}

// BroadcastMessage enqueues payload on channelID for every connected client.
func (s *Server) BroadcastMessage(channelID byte, payload []byte) {
	for _, entry := range s.clients {
		_ = entry.conn.Send(channelID, payload)
	}
}

// BroadcastMessageExcept is BroadcastMessage skipping exceptClientID.
func (s *Server) BroadcastMessageExcept(exceptClientID uint64, channelID byte, payload []byte) {
	for id, entry := range s.clients {
		if id == exceptClientID {
			continue
		}
		_ = entry.conn.Send(channelID, payload)
	}
}

// ReceiveMessage pops the next delivered message for clientID on channelID.
func (s *Server) ReceiveMessage(clientID uint64, channelID byte) ([]byte, bool) {
	entry, ok := s.clients[clientID]
	if !ok {
		return nil, false
	}
	return entry.conn.Receive(channelID)
}

// GetEvent drains the next queued connect/disconnect event, if any.
func (s *Server) GetEvent() (events.Event, bool) {
	if len(s.events) == 0 {
		return events.Event{}, false
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, true
}

// Disconnect forces clientID to Disconnected with reason DisconnectedByServer.
func (s *Server) Disconnect(clientID uint64) {
	if entry, ok := s.clients[clientID]; ok {
		entry.conn.Disconnect(events.ReasonDisconnectedByServer)
	}
}

// DisconnectAll disconnects every connected client.
func (s *Server) DisconnectAll() {
	for _, entry := range s.clients {
		entry.conn.Disconnect(events.ReasonDisconnectedByServer)
	}
}

// NetworkInfo reports live statistics for clientID.
func (s *Server) NetworkInfo(clientID uint64) (conn.NetworkInfo, bool) {
	entry, ok := s.clients[clientID]
	if !ok {
		return conn.NetworkInfo{}, false
	}
	return entry.conn.NetworkInfo(), true
}

// ConnectedCount reports the number of live connections.
func (s *Server) ConnectedCount() int { return len(s.clients) }

// ClientIDs returns every currently connected client_id, for callers
// (demo applications) that want to iterate connections without
// maintaining their own index.
func (s *Server) ClientIDs() []uint64 {
	ids := make([]uint64, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}
