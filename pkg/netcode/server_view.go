package netcode

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/duskforge/netchan/pkg/crypto"
)

// ConnState is a server's per-address view of one handshake, per
// spec.md §4.5: "the server never revisits completed admission; each
// address is Empty, Pending a challenge, or Connected."
type ConnState int

const (
	StateEmpty ConnState = iota
	StatePending
	StateConnected
)

// pendingTimeout bounds how long a challenge stays outstanding before
// the server forgets it and the address must restart from
// ConnectionRequest.
const pendingTimeout = 10 * time.Second

// View is what the server remembers about one address once the
// handshake has admitted it.
type View struct {
	State    ConnState
	ClientID uint64
	SendKey  crypto.Key // server -> client
	RecvKey  crypto.Key // client -> server
	addr     net.Addr
}

type pendingEntry struct {
	addr         net.Addr
	clientID     uint64
	maxClients   uint32
	sendKey      crypto.Key
	recvKey      crypto.Key
	userData     [256]byte
	tokenNonce   [crypto.NonceBytes]byte
	challengeSeq uint64
	createdAt    time.Time
}

// Table is the server-side admission table from spec.md §4.5/§4.7: a
// pending set keyed by address awaiting a Response, and a connected
// set keyed by both address and client_id so ProcessPacket and
// SendMessage can look a peer up either way. Grounded on the teacher's
// source/server/server.go client table, generalized from a single
// players-by-index slice to the two-phase handshake this protocol
// needs.
type Table struct {
	challengeKey crypto.Key
	nextSeq      uint64

	pending map[string]*pendingEntry

	connectedByAddr     map[string]*View
	connectedByClientID map[uint64]string // -> addr key

	// usedNonces records connect-token nonces that have already
	// completed a handshake. A token is consumed once, per spec.md §3's
	// ConnectToken lifecycle; a second ConnectionRequest bearing the
	// same nonce (e.g. the token replayed from another address) is
	// denied outright rather than treated as a fresh admission attempt.
	usedNonces map[[crypto.NonceBytes]byte]bool
}

func addrKey(addr net.Addr) string { return addr.String() }

// NewTable creates an admission table sealing challenges under
// challengeKey, a key generated once at server startup and never
// shared, per spec.md §4.5's "challenge token opaque to the client".
func NewTable(challengeKey crypto.Key) *Table {
	return &Table{
		challengeKey:        challengeKey,
		pending:             make(map[string]*pendingEntry),
		connectedByAddr:     make(map[string]*View),
		connectedByClientID: make(map[uint64]string),
		usedNonces:          make(map[[crypto.NonceBytes]byte]bool),
	}
}

func nonceFromSequence(seq uint64) [crypto.NonceBytes]byte {
	var n [crypto.NonceBytes]byte
	binary.LittleEndian.PutUint64(n[4:], seq)
	return n
}

// StateFor reports what the table currently knows about addr.
func (t *Table) StateFor(addr net.Addr) ConnState {
	key := addrKey(addr)
	if _, ok := t.connectedByAddr[key]; ok {
		return StateConnected
	}
	if _, ok := t.pending[key]; ok {
		return StatePending
	}
	return StateEmpty
}

// TokenNonceUsed reports whether a connect token with this nonce has
// already completed a handshake.
func (t *Table) TokenNonceUsed(nonce [crypto.NonceBytes]byte) bool {
	return t.usedNonces[nonce]
}

// IssueChallenge moves addr into Pending and returns the
// ChallengeEnvelope to encrypt and send back, per spec.md §4.5 step 2.
func (t *Table) IssueChallenge(addr net.Addr, clientID uint64, maxClients uint32, sendKey, recvKey crypto.Key, userData [256]byte, tokenNonce [crypto.NonceBytes]byte, now time.Time) (ChallengeEnvelope, error) {
	seq := t.nextSeq
	t.nextSeq++

	payload := EncodeChallengePayload(ChallengePayload{ClientID: clientID, UserData: userData})
	nonce := nonceFromSequence(seq)
	encrypted, err := crypto.SealWithNonce(t.challengeKey, nonce, nil, payload)
	if err != nil {
		return ChallengeEnvelope{}, fmt.Errorf("netcode: seal challenge: %w", err)
	}

	t.pending[addrKey(addr)] = &pendingEntry{
		addr: addr, clientID: clientID, maxClients: maxClients,
		sendKey: sendKey, recvKey: recvKey, userData: userData,
		tokenNonce: tokenNonce, challengeSeq: seq, createdAt: now,
	}
	return ChallengeEnvelope{ChallengeSequence: seq, EncryptedToken: encrypted}, nil
}

// HandleResponse verifies a client's echoed ChallengeEnvelope against
// the pending entry for addr and, on success, promotes it to
// Connected. A duplicate client_id already connected through a
// different address is evicted first: last writer wins, per spec.md
// §4.7. evictedAddr is non-nil when an older connection under the
// same client_id was just superseded; the caller must tear down
// whatever connection state it keeps for that address.
func (t *Table) HandleResponse(addr net.Addr, env ChallengeEnvelope) (view *View, evictedAddr net.Addr, ok bool) {
	key := addrKey(addr)
	pend, ok := t.pending[key]
	if !ok || pend.challengeSeq != env.ChallengeSequence {
		return nil, nil, false
	}
	nonce := nonceFromSequence(env.ChallengeSequence)
	payload, err := crypto.OpenWithNonce(t.challengeKey, nonce, nil, env.EncryptedToken)
	if err != nil {
		return nil, nil, false
	}
	cp, err := DecodeChallengePayload(payload)
	if err != nil || cp.ClientID != pend.clientID {
		return nil, nil, false
	}

	if oldAddrKey, exists := t.connectedByClientID[pend.clientID]; exists && oldAddrKey != key {
		evictedAddr = t.connectedByAddr[oldAddrKey].addr
		delete(t.connectedByAddr, oldAddrKey)
	}

	v := &View{State: StateConnected, ClientID: pend.clientID, SendKey: pend.sendKey, RecvKey: pend.recvKey, addr: addr}
	t.connectedByAddr[key] = v
	t.connectedByClientID[pend.clientID] = key
	t.usedNonces[pend.tokenNonce] = true
	delete(t.pending, key)
	return v, evictedAddr, true
}

// PendingKeyForAddr returns the client-to-server key a Response from
// addr should be decrypted with, if a challenge is outstanding there.
func (t *Table) PendingKeyForAddr(addr net.Addr) (crypto.Key, bool) {
	pend, ok := t.pending[addrKey(addr)]
	if !ok {
		return crypto.Key{}, false
	}
	return pend.recvKey, true
}

// Get returns the connected view for addr, if any.
func (t *Table) Get(addr net.Addr) (*View, bool) {
	v, ok := t.connectedByAddr[addrKey(addr)]
	return v, ok
}

// AddrKeyForClientID resolves a client_id back to its current address
// key; callers hold their own addr->Transport mapping for the actual
// send.
func (t *Table) AddrKeyForClientID(clientID uint64) (string, bool) {
	key, ok := t.connectedByClientID[clientID]
	return key, ok
}

// RemoveByAddr evicts any pending or connected entry at addr.
func (t *Table) RemoveByAddr(addr net.Addr) {
	key := addrKey(addr)
	delete(t.pending, key)
	if v, ok := t.connectedByAddr[key]; ok {
		delete(t.connectedByClientID, v.ClientID)
		delete(t.connectedByAddr, key)
	}
}

// ExpirePending drops pending entries older than pendingTimeout,
// returning the addresses evicted so the caller can log or count them.
func (t *Table) ExpirePending(now time.Time) []net.Addr {
	var expired []net.Addr
	for key, pend := range t.pending {
		if now.Sub(pend.createdAt) >= pendingTimeout {
			expired = append(expired, pend.addr)
			delete(t.pending, key)
		}
	}
	return expired
}

// ConnectedCount reports how many addresses currently hold a
// Connected view, for server capacity checks.
func (t *Table) ConnectedCount() int { return len(t.connectedByAddr) }
