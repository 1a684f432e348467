// Package conn implements the connection core from spec.md §4.4: the
// per-peer state that demuxes inbound packets to channels, composes
// outbound packets under a bandwidth budget, and maintains RTT, loss,
// keepalive and timeout — grounded on the teacher's
// source/protocol/raknet.go Session.Update/HandleACK/HandleNACK and
// its ACK-range bookkeeping, reworked around the sequence+ack-bitmap
// scheme in pkg/wire instead of RakNet's range-encoded ACK packets.
package conn

import (
	"math"
	"time"

	"github.com/duskforge/netchan/pkg/channel"
	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/events"
	"github.com/duskforge/netchan/pkg/netcode"
	"github.com/duskforge/netchan/pkg/neterr"
	"github.com/duskforge/netchan/pkg/wire"
)

// noAck is the header.Ack sentinel meaning "I haven't received
// anything from you yet," distinguishing that from a genuine ack of
// sequence 0.
const noAck = math.MaxUint64

// headerBudgetEstimate and frameOverhead are conservative allowances
// for the cleartext header, AEAD tag, and per-frame length prefix, so
// packet composition stays under MaxPacketBytes including overhead,
// not just raw frame payload bytes.
const headerBudgetEstimate = 32 + crypto.TagBytes
const frameOverhead = 3

// NetworkInfo mirrors spec.md §6.1's network_info(client_id) result.
type NetworkInfo struct {
	RTT                    time.Duration
	PacketLoss             float64
	BytesSentPerSecond     float64
	BytesReceivedPerSecond float64
}

// Connection is one peer's live session state after a successful
// handshake, per spec.md §3's Connection row.
type Connection struct {
	cfg       Config
	direction crypto.Direction
	sendKey   crypto.Key
	recvKey   crypto.Key

	channels *channelSet

	nextSeq uint64
	outbox  *outbox
	replay  *netcode.ReplayProtection

	bandwidth *TokenBucket
	estimator *Estimator

	now             time.Time
	lastSendTime    time.Time
	lastReceiveTime time.Time

	windowStart        time.Time
	bytesSentInWindow  int
	bytesRecvInWindow  int
	bytesSentPerSecond float64
	bytesRecvPerSecond float64

	disconnected bool
	reason       events.DisconnectReason

	handshakeTag []byte
}

// New constructs a Connection for one endpoint. direction is the
// direction THIS endpoint sends in (ClientToServer for a client
// connection, ServerToClient for a server's view of a client).
//
// startSeq is the first sequence number this connection will use under
// (sendKey, direction). It must be one past the highest sequence
// already sealed under that exact (key, direction) pair during the
// handshake that produced sendKey/recvKey — the Challenge/Response
// envelopes are ChaCha20-Poly1305-sealed with a nonce derived from
// (direction, sequence) alone (crypto.Seal), so starting a fresh
// connection back at sequence 0 under a key the handshake already used
// would reseal a second, different plaintext under an already-used
// nonce. Callers with no prior handshake traffic under the key (tests,
// synthetic pairs) pass 0.
func New(cfg Config, direction crypto.Direction, sendKey, recvKey crypto.Key, startSeq uint64, now time.Time) *Connection {
	cfg = cfg.withDefaults()
	sendCfgs, recvCfgs := cfg.channelLists()
	return &Connection{
		cfg:         cfg,
		direction:   direction,
		sendKey:     sendKey,
		recvKey:     recvKey,
		channels:    newChannelSet(sendCfgs, recvCfgs),
		nextSeq:     startSeq,
		outbox:      newOutbox(),
		replay:      netcode.NewReplayProtection(),
		bandwidth:   NewTokenBucket(cfg.AvailableBytesPerTick, cfg.BurstBytes),
		estimator:   NewEstimator(),
		now:         now,
		lastReceiveTime: now,
		windowStart: now,
	}
}

// QueueHandshakeTag arranges for payload to ride as the plaintext of
// the next packet this connection emits, ahead of anything
// GetPacketsToSend would otherwise send that tick. The server uses
// this to carry client_id/max_clients in the first KeepAlive, per
// spec.md §4.5 step 4, riding the connection's own sequence counter
// so it can never collide with a later data-plane packet under the
// same session key.
func (c *Connection) QueueHandshakeTag(payload []byte) {
	c.handshakeTag = payload
}

func (c *Connection) peerDirection() crypto.Direction {
	if c.direction == crypto.DirectionClientToServer {
		return crypto.DirectionServerToClient
	}
	return crypto.DirectionClientToServer
}

// Update advances the connection's virtual clock by dt and all
// time-driven state: bandwidth refill, loss-window tick, and timeout
// detection, per spec.md §5: "driven entirely by wall-clock deltas
// passed to update(dt)."
func (c *Connection) Update(dt time.Duration) {
	c.now = c.now.Add(dt)
	c.bandwidth.Refill(dt.Seconds())
	c.estimator.Tick()

	if elapsed := c.now.Sub(c.windowStart); elapsed >= time.Second {
		c.bytesSentPerSecond = float64(c.bytesSentInWindow) / elapsed.Seconds()
		c.bytesRecvPerSecond = float64(c.bytesRecvInWindow) / elapsed.Seconds()
		c.bytesSentInWindow = 0
		c.bytesRecvInWindow = 0
		c.windowStart = c.now
	}

	if !c.disconnected && c.now.Sub(c.lastReceiveTime) >= c.cfg.TimeoutSeconds {
		c.disconnect(events.ReasonTimeout)
	}
}

// Send enqueues payload on the named channel. A channel over its
// memory budget forces the connection to Disconnected per spec.md
// §4.7: "Channel over-budget: connection forced to Disconnected with
// reason SendBufferFull."
func (c *Connection) Send(channelID byte, payload []byte) error {
	if c.disconnected {
		return neterr.Protocol(nil)
	}
	pair, ok := c.channels.get(channelID)
	if !ok {
		return neterr.Protocol(nil)
	}
	if err := pair.sender.Enqueue(payload, c.now); err != nil {
		c.disconnect(events.ReasonChannelSendBufferFull)
		return err
	}
	return nil
}

// Receive pops the next delivered message on channelID, if any.
func (c *Connection) Receive(channelID byte) ([]byte, bool) {
	pair, ok := c.channels.get(channelID)
	if !ok {
		return nil, false
	}
	return pair.receiver.Receive()
}

// GetPacketsToSend composes as many ready datagrams as the bandwidth
// budget allows, per spec.md §4.4. Channels are visited in a fixed
// round-robin each call so no single channel starves the others. If
// there is nothing to send but the keepalive interval has elapsed, an
// empty KeepAlive packet is emitted.
func (c *Connection) GetPacketsToSend() [][]byte {
	if c.disconnected {
		return nil
	}

	var packets [][]byte

	if c.handshakeTag != nil {
		tag := c.handshakeTag
		c.handshakeTag = nil
		if pkt := c.buildPacket(wire.KindKeepAlive, nil, nil, tag); pkt != nil {
			packets = append(packets, pkt)
		}
	}

	order := c.channels.rotation()

	var frames []wire.ChannelFrame
	var records []channel.PacketRecord
	used := headerBudgetEstimate

	flush := func() {
		if len(frames) == 0 {
			return
		}
		if pkt := c.buildPacket(wire.KindPayload, frames, records, nil); pkt != nil {
			packets = append(packets, pkt)
		}
		frames = nil
		records = nil
		used = headerBudgetEstimate
	}

budgetExhausted:
	for _, idx := range order {
		pair := c.channels.pairs[idx]
		for pair.sender.HasPending(c.now) {
			budget := c.bandwidth.Available()
			if budget <= headerBudgetEstimate {
				break budgetExhausted
			}
			remaining := MaxPacketBytes - used
			if remaining <= 0 {
				flush()
				remaining = MaxPacketBytes - used
			}
			if budget < remaining {
				remaining = budget
			}
			payloads, record := pair.sender.Emit(c.now, remaining)
			if len(payloads) == 0 {
				break
			}
			chunk := 0
			for _, p := range payloads {
				frames = append(frames, wire.ChannelFrame{ChannelID: pair.id, Payload: p})
				used += frameOverhead + len(p)
				chunk += len(p)
			}
			if len(record.Items) > 0 {
				records = append(records, record)
			}
			c.bandwidth.TryConsume(chunk)
			if used >= MaxPacketBytes {
				flush()
			}
		}
	}
	flush()

	if len(packets) == 0 && c.now.Sub(c.lastSendTime) >= c.cfg.KeepAliveInterval {
		if pkt := c.buildPacket(wire.KindKeepAlive, nil, nil, nil); pkt != nil {
			packets = append(packets, pkt)
		}
	}
	return packets
}

// buildPacket seals frames (plus, for the one-off handshake tag, raw
// plaintext bytes prepended ahead of them) under the connection's send
// key and records the packet in the outbox for later ack
// reconciliation.
func (c *Connection) buildPacket(kind wire.PacketKind, frames []wire.ChannelFrame, records []channel.PacketRecord, rawPlaintext []byte) []byte {
	seq := c.nextSeq
	c.nextSeq++

	ack := uint64(noAck)
	var ackBits wire.AckBits
	if c.replay.HasReceived() {
		ack = c.replay.MostRecentSequence()
		ackBits = wire.BuildAckBits(ack, c.replay.AlreadyReceived)
	}

	hw := wire.NewWriter(16)
	wire.EncodeDataHeader(hw, kind, wire.Header{Sequence: seq, Ack: ack, AckBits: ackBits})
	header := hw.Bytes()

	bw := wire.NewWriter(64)
	bw.WriteBytes(rawPlaintext)
	for _, f := range frames {
		wire.EncodeChannelFrame(bw, f)
	}
	plaintext := bw.Bytes()

	ciphertext, err := crypto.Seal(c.sendKey, c.direction, seq, header, plaintext)
	if err != nil {
		return nil
	}

	out := make([]byte, 0, len(header)+len(ciphertext))
	out = append(out, header...)
	out = append(out, ciphertext...)

	if len(records) > 0 {
		c.outbox.Record(seq, c.now, records)
	}
	c.estimator.RecordSend()
	c.lastSendTime = c.now
	c.bytesSentInWindow += len(out)
	return out
}

// HandleIncoming decrypts and processes one raw datagram already
// routed to this connection, per spec.md §4.7: decryption failure,
// checksum mismatch, or replay is a silent drop.
func (c *Connection) HandleIncoming(raw []byte) error {
	if len(raw) < 1 {
		return neterr.Protocol(nil)
	}
	typeByte := raw[0]
	kind, seqLen := wire.SplitTypeByte(typeByte)
	r := wire.NewReader(raw[1:])
	header, err := wire.DecodeDataHeader(r, seqLen)
	if err != nil {
		return neterr.Protocol(err)
	}
	headerLen := 1 + seqLen + 8 + 4
	if len(raw) < headerLen {
		return neterr.Protocol(nil)
	}
	ciphertext := raw[headerLen:]

	plaintext, err := crypto.Open(c.recvKey, c.peerDirection(), header.Sequence, raw[:headerLen], ciphertext)
	if err != nil {
		return neterr.Protocol(err)
	}
	if !c.replay.CheckAndMark(header.Sequence) {
		return neterr.Protocol(nil)
	}
	c.lastReceiveTime = c.now
	c.bytesRecvInWindow += len(raw)

	c.reconcileAck(header)

	if kind == wire.KindPayload && len(plaintext) > 0 {
		pr := wire.NewReader(plaintext)
		frames, err := wire.DecodeChannelFrames(pr)
		if err != nil {
			return neterr.Protocol(err)
		}
		for _, f := range frames {
			if pair, ok := c.channels.get(f.ChannelID); ok {
				_ = pair.receiver.HandleFrame(f.Payload, c.now)
			}
		}
	}
	return nil
}

// reconcileAck consumes header.Ack and its ack-bitmap against the
// outbox, folding any newly-confirmed send into the RTT estimator and
// notifying the originating channel sender.
func (c *Connection) reconcileAck(header wire.Header) {
	if header.Ack == noAck {
		return
	}
	c.ackOne(header.Ack)
	for i := uint64(0); i < 32; i++ {
		if header.Ack == 0 || i+1 > header.Ack {
			break
		}
		if header.AckBits.Test(uint(i)) {
			c.ackOne(header.Ack - 1 - i)
		}
	}
}

func (c *Connection) ackOne(seq uint64) {
	sp, ok := c.outbox.Take(seq)
	if !ok {
		return
	}
	c.estimator.RecordAck(c.now.Sub(sp.sentAt))
	for _, record := range sp.records {
		if pair, ok := c.channels.get(record.ChannelID); ok {
			pair.sender.Ack(record)
		}
	}
}

// Disconnect transitions the connection to Disconnected with the
// given reason, per spec.md §5: "Explicit cancellation via
// disconnect() transitions to Disconnected."
func (c *Connection) Disconnect(reason events.DisconnectReason) {
	c.disconnect(reason)
}

func (c *Connection) disconnect(reason events.DisconnectReason) {
	if c.disconnected {
		return
	}
	c.disconnected = true
	c.reason = reason
}

// IsDisconnected reports the disconnect reason, if any.
func (c *Connection) IsDisconnected() (events.DisconnectReason, bool) {
	return c.reason, c.disconnected
}

// NetworkInfo reports the connection's live statistics, per spec.md
// §6.1.
func (c *Connection) NetworkInfo() NetworkInfo {
	return NetworkInfo{
		RTT:                    c.estimator.RTT(),
		PacketLoss:             c.estimator.PacketLoss(),
		BytesSentPerSecond:     c.bytesSentPerSecond,
		BytesReceivedPerSecond: c.bytesRecvPerSecond,
	}
}
