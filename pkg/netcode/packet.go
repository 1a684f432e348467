// Package netcode implements the secure connection handshake from
// spec.md §4.5: connect-token admission, challenge/response, replay
// protection, and the client/server state machines built on top.
package netcode

import (
	"fmt"

	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/wire"
)

// Kind mirrors wire.PacketKind; the handshake layer and the data-plane
// layer share one packet-type-byte namespace, per spec.md §6.2.
type Kind = wire.PacketKind

const (
	KindConnectionRequest = wire.KindConnectionRequest
	KindConnectionDenied  = wire.KindConnectionDenied
	KindChallenge         = wire.KindChallenge
	KindResponse          = wire.KindResponse
	KindKeepAlive         = wire.KindKeepAlive
	KindPayload           = wire.KindPayload
	KindDisconnect        = wire.KindDisconnect
)

// EncodeEncrypted wraps an already-serialized payload in the handshake
// packet envelope used for Challenge and Response: a type byte (kind +
// sequence length), the sequence itself, then the AEAD ciphertext.
// Data-plane packets use the fuller wire.EncodeDataHeader header instead. The type
// byte and sequence form the AAD, per spec.md §4.1.
func EncodeEncrypted(kind Kind, key crypto.Key, dir crypto.Direction, seq uint64, payload []byte) ([]byte, error) {
	seqLen := wire.SequenceByteLength(seq)
	w := wire.NewWriter(1 + seqLen + len(payload) + crypto.TagBytes)
	w.WriteByte(wire.TypeByte(kind, seqLen))
	w.WriteVarSequence(seq, seqLen)
	aad := w.Bytes()

	ciphertext, err := crypto.Seal(key, dir, seq, aad, payload)
	if err != nil {
		return nil, err
	}
	w.WriteBytes(ciphertext)
	return w.Bytes(), nil
}

// DecodeEncrypted reverses EncodeEncrypted. A decryption failure is
// always an AuthError-class outcome: the caller drops the packet and
// counts the failure, per spec.md §4.1 and §7.
func DecodeEncrypted(data []byte, key crypto.Key, dir crypto.Direction) (kind Kind, seq uint64, payload []byte, err error) {
	if len(data) < 1 {
		return 0, 0, nil, fmt.Errorf("netcode: empty packet")
	}
	typeByte := data[0]
	kind, seqLen := wire.SplitTypeByte(typeByte)
	if seqLen < 1 || seqLen > 8 {
		return 0, 0, nil, fmt.Errorf("netcode: invalid sequence length %d", seqLen)
	}
	r := wire.NewReader(data[1:])
	seq, err = r.ReadVarSequence(seqLen)
	if err != nil {
		return 0, 0, nil, err
	}
	aad := data[:1+seqLen]
	payload, err = crypto.Open(key, dir, seq, aad, r.Remaining())
	if err != nil {
		return 0, 0, nil, err
	}
	return kind, seq, payload, nil
}

// EncodeConnectionRequest serializes an unencrypted ConnectionRequest
// packet: the client doesn't yet share a session key with the server,
// so the only confidentiality here is the connect token's own private
// section (already sealed by the issuing authority).
func EncodeConnectionRequest(protocolID, expireTimestamp uint64, nonce [crypto.NonceBytes]byte, encryptedPrivate []byte) []byte {
	w := wire.NewWriter(1 + 8 + 8 + crypto.NonceBytes + len(encryptedPrivate))
	w.WriteByte(wire.TypeByte(KindConnectionRequest, 0))
	w.WriteUint64(protocolID)
	w.WriteUint64(expireTimestamp)
	w.WriteBytes(nonce[:])
	w.WriteBytes(encryptedPrivate)
	return w.Bytes()
}

type ConnectionRequest struct {
	ProtocolID       uint64
	ExpireTimestamp  uint64
	Nonce            [crypto.NonceBytes]byte
	EncryptedPrivate []byte
}

func DecodeConnectionRequest(data []byte) (ConnectionRequest, error) {
	if len(data) < 1 {
		return ConnectionRequest{}, fmt.Errorf("netcode: empty connection request")
	}
	kind, _ := wire.SplitTypeByte(data[0])
	if kind != KindConnectionRequest {
		return ConnectionRequest{}, fmt.Errorf("netcode: not a connection request packet")
	}
	r := wire.NewReader(data[1:])
	var req ConnectionRequest
	var err error
	if req.ProtocolID, err = r.ReadUint64(); err != nil {
		return ConnectionRequest{}, err
	}
	if req.ExpireTimestamp, err = r.ReadUint64(); err != nil {
		return ConnectionRequest{}, err
	}
	nonceBytes, err := r.ReadBytes(crypto.NonceBytes)
	if err != nil {
		return ConnectionRequest{}, err
	}
	copy(req.Nonce[:], nonceBytes)
	req.EncryptedPrivate = append([]byte(nil), r.Remaining()...)
	return req, nil
}

// DenyReason is the subset of DisconnectReason values that can be
// communicated over an unauthenticated ConnectionDenied packet.
type DenyReason byte

const (
	DenyInvalidToken DenyReason = iota
	DenyExpiredToken
	DenyServerFull
	DenyAlreadyConnected
)

// EncodeConnectionDenied is unencrypted: the server has no session key
// to encrypt under when it rejects a request, and the reason carries
// no secret.
func EncodeConnectionDenied(reason DenyReason) []byte {
	w := wire.NewWriter(2)
	w.WriteByte(wire.TypeByte(KindConnectionDenied, 0))
	w.WriteByte(byte(reason))
	return w.Bytes()
}

func DecodeConnectionDenied(data []byte) (DenyReason, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("netcode: connection denied packet too short")
	}
	kind, _ := wire.SplitTypeByte(data[0])
	if kind != KindConnectionDenied {
		return 0, fmt.Errorf("netcode: not a connection denied packet")
	}
	return DenyReason(data[1]), nil
}

// ChallengePayload is the plaintext this server seals under its
// instance-private challenge key; it is never readable by the client,
// which only ever echoes the ciphertext back.
type ChallengePayload struct {
	ClientID uint64
	UserData [256]byte
}

func EncodeChallengePayload(p ChallengePayload) []byte {
	w := wire.NewWriter(8 + 256)
	w.WriteUint64(p.ClientID)
	w.WriteBytes(p.UserData[:])
	return w.Bytes()
}

func DecodeChallengePayload(b []byte) (ChallengePayload, error) {
	r := wire.NewReader(b)
	var p ChallengePayload
	var err error
	if p.ClientID, err = r.ReadUint64(); err != nil {
		return ChallengePayload{}, err
	}
	ud, err := r.ReadBytes(256)
	if err != nil {
		return ChallengePayload{}, err
	}
	copy(p.UserData[:], ud)
	return p, nil
}

// ChallengeEnvelope is the inner payload of a Challenge/Response
// packet: a sequence (used as the challenge-key nonce) plus the
// opaque, server-sealed challenge token. The client cannot decrypt
// EncryptedToken; it only re-transmits it in Response.
type ChallengeEnvelope struct {
	ChallengeSequence uint64
	EncryptedToken    []byte
}

func EncodeChallengeEnvelope(e ChallengeEnvelope) []byte {
	w := wire.NewWriter(8 + len(e.EncryptedToken))
	w.WriteUint64(e.ChallengeSequence)
	w.WriteBytes(e.EncryptedToken)
	return w.Bytes()
}

func DecodeChallengeEnvelope(b []byte) (ChallengeEnvelope, error) {
	r := wire.NewReader(b)
	seq, err := r.ReadUint64()
	if err != nil {
		return ChallengeEnvelope{}, err
	}
	return ChallengeEnvelope{ChallengeSequence: seq, EncryptedToken: append([]byte(nil), r.Remaining()...)}, nil
}

// KeepAlivePayload carries the client_id/max_clients the spec requires
// the first server->client KeepAlive to convey (spec.md §4.5 step 4).
// Only that first KeepAlive (queued via conn.Connection.QueueHandshakeTag)
// carries it; later KeepAlives have an empty payload.
type KeepAlivePayload struct {
	ClientID   uint64
	MaxClients uint32
}

func EncodeKeepAlivePayload(p KeepAlivePayload) []byte {
	w := wire.NewWriter(12)
	w.WriteUint64(p.ClientID)
	w.WriteUint32(p.MaxClients)
	return w.Bytes()
}

func DecodeKeepAlivePayload(b []byte) (KeepAlivePayload, error) {
	r := wire.NewReader(b)
	var p KeepAlivePayload
	var err error
	if p.ClientID, err = r.ReadUint64(); err != nil {
		return KeepAlivePayload{}, err
	}
	if p.MaxClients, err = r.ReadUint32(); err != nil {
		return KeepAlivePayload{}, err
	}
	return p, nil
}
