package netcode

import (
	"time"

	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/events"
	"github.com/duskforge/netchan/pkg/token"
	"github.com/duskforge/netchan/pkg/wire"
)

// ClientState is the state machine from spec.md §4.5: "Client states:
// SendingConnectionRequest → SendingChallengeResponse → Connected →
// Disconnected{reason}. A terminal Disconnected state is also
// reachable directly from any prior state on token expiry, denial, or
// timeout."
type ClientState int

const (
	ClientSendingConnectionRequest ClientState = iota
	ClientSendingChallengeResponse
	ClientConnected
	ClientDisconnected
)

// handshakeRetryInterval governs how often the client resends its
// current handshake packet while awaiting the next server reply.
const handshakeRetryInterval = 250 * time.Millisecond

// ClientFSM drives one client's handshake and tracks the session keys
// it carries into the data plane once Connected, grounded on the
// nakama multicode ClientInstance's connecting/connected/sendKey/
// recvKey shape (other_examples/.../instance.go.go).
type ClientFSM struct {
	state  ClientState
	reason events.DisconnectReason

	tok token.Token

	envelope    ChallengeEnvelope
	hasEnvelope bool

	clientID   uint64
	maxClients uint32

	lastSendTime time.Time
	nextSeq      uint64
}

// NewClientFSM starts a client handshake for the given connect token.
func NewClientFSM(tok token.Token) *ClientFSM {
	return &ClientFSM{state: ClientSendingConnectionRequest, tok: tok}
}

func (f *ClientFSM) State() ClientState { return f.state }
func (f *ClientFSM) IsConnecting() bool {
	return f.state == ClientSendingConnectionRequest || f.state == ClientSendingChallengeResponse
}
func (f *ClientFSM) IsConnected() bool { return f.state == ClientConnected }
func (f *ClientFSM) IsDisconnected() (events.DisconnectReason, bool) {
	return f.reason, f.state == ClientDisconnected
}
func (f *ClientFSM) ClientID() uint64    { return f.clientID }
func (f *ClientFSM) MaxClients() uint32  { return f.maxClients }
func (f *ClientFSM) SendKey() crypto.Key { return f.tok.ClientToServerKey }
func (f *ClientFSM) RecvKey() crypto.Key { return f.tok.ServerToClientKey }

// NextSeq returns the first sequence number not yet used to seal a
// Response envelope under (SendKey, ClientToServer). The promoted
// Connection must start here, not at 0, so it never reseals a packet
// under a nonce the handshake already spent on this same key.
func (f *ClientFSM) NextSeq() uint64 { return f.nextSeq }

func (f *ClientFSM) fail(reason events.DisconnectReason) {
	f.state = ClientDisconnected
	f.reason = reason
}

// Update advances timeouts: a token whose ExpireTimestamp has passed
// (compared against unixNow, the caller's wall-clock-derived epoch
// seconds) fails the handshake regardless of phase.
func (f *ClientFSM) Update(unixNow uint64) {
	if f.state == ClientDisconnected {
		return
	}
	if unixNow >= f.tok.ExpireTimestamp {
		f.fail(events.ReasonConnectionTokenExpired)
	}
}

// PacketsToSend returns the handshake packet to (re)transmit this
// tick, if the retry interval has elapsed, or nil if nothing is due.
func (f *ClientFSM) PacketsToSend(now time.Time) [][]byte {
	if f.state == ClientConnected || f.state == ClientDisconnected {
		return nil
	}
	if !f.lastSendTime.IsZero() && now.Sub(f.lastSendTime) < handshakeRetryInterval {
		return nil
	}
	f.lastSendTime = now

	switch f.state {
	case ClientSendingConnectionRequest:
		return [][]byte{EncodeConnectionRequest(f.tok.ProtocolID, f.tok.ExpireTimestamp, f.tok.Nonce, f.tok.EncryptedPrivate)}
	case ClientSendingChallengeResponse:
		if !f.hasEnvelope {
			return nil
		}
		body := EncodeChallengeEnvelope(f.envelope)
		seq := f.nextSeq
		f.nextSeq++
		pkt, err := EncodeEncrypted(KindResponse, f.tok.ClientToServerKey, crypto.DirectionClientToServer, seq, body)
		if err != nil {
			return nil
		}
		return [][]byte{pkt}
	}
	return nil
}

// HandlePacket processes one raw datagram from the server received
// before the client is Connected. A KeepAlive or Payload is read only
// while awaiting the challenge response, as the server's first
// data-plane packet carrying the KeepAlivePayload.
func (f *ClientFSM) HandlePacket(raw []byte) {
	if len(raw) < 1 || f.state == ClientDisconnected || f.state == ClientConnected {
		return
	}
	kind, _ := wire.SplitTypeByte(raw[0])
	switch kind {
	case KindConnectionDenied:
		reason, err := DecodeConnectionDenied(raw)
		if err != nil {
			return
		}
		f.fail(denyReasonToDisconnectReason(reason))
	case KindChallenge:
		if f.state != ClientSendingConnectionRequest {
			return
		}
		_, _, payload, err := DecodeEncrypted(raw, f.tok.ServerToClientKey, crypto.DirectionServerToClient)
		if err != nil {
			return
		}
		env, err := DecodeChallengeEnvelope(payload)
		if err != nil {
			return
		}
		f.envelope = env
		f.hasEnvelope = true
		f.state = ClientSendingChallengeResponse
		f.lastSendTime = time.Time{} // send the response immediately
	case KindKeepAlive, KindPayload:
		if f.state != ClientSendingChallengeResponse {
			return
		}
		payload, ok := decodeDataPlanePacket(raw, f.tok.ServerToClientKey, crypto.DirectionServerToClient)
		if !ok {
			return
		}
		ka, err := DecodeKeepAlivePayload(payload)
		if err != nil {
			return
		}
		f.clientID = ka.ClientID
		f.maxClients = ka.MaxClients
		f.state = ClientConnected
	}
}

// decodeDataPlanePacket authenticates one data-plane datagram (the
// full Sequence/Ack/AckBits header pkg/conn seals every post-handshake
// packet under) and returns its plaintext. The FSM needs this, rather
// than the simpler handshake-packet envelope EncodeEncrypted/
// DecodeEncrypted produce, because the first packet that promotes a
// client to Connected is emitted by the server's already-live
// conn.Connection so it consumes that connection's own sequence
// space.
func decodeDataPlanePacket(raw []byte, key crypto.Key, dir crypto.Direction) ([]byte, bool) {
	if len(raw) < 1 {
		return nil, false
	}
	_, seqLen := wire.SplitTypeByte(raw[0])
	if seqLen < 1 || seqLen > 8 {
		return nil, false
	}
	r := wire.NewReader(raw[1:])
	header, err := wire.DecodeDataHeader(r, seqLen)
	if err != nil {
		return nil, false
	}
	headerLen := 1 + seqLen + 8 + 4
	if len(raw) < headerLen {
		return nil, false
	}
	plaintext, err := crypto.Open(key, dir, header.Sequence, raw[:headerLen], raw[headerLen:])
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

func denyReasonToDisconnectReason(r DenyReason) events.DisconnectReason {
	switch r {
	case DenyExpiredToken:
		return events.ReasonConnectionTokenExpired
	case DenyServerFull:
		return events.ReasonServerFull
	case DenyAlreadyConnected:
		return events.ReasonDisconnectedByServer
	default:
		return events.ReasonInvalidToken
	}
}
