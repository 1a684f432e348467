// Package token implements the ConnectToken wire format from spec.md
// §3 and §6.2: a 2048-byte fixed-size credential issued out of band,
// consumed once by the client and validated once by the server.
package token

import (
	"fmt"
	"net"

	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/wire"
)

const (
	VersionInfo = "NETCODE 1.02\x00"

	MaxServerAddresses = 32
	UserDataBytes      = 256

	// PrivateSectionBytes is the fixed size of the encrypted private
	// section, before the AEAD tag is appended.
	PrivateSectionBytes = 1024
	// TotalBytes is the fixed on-wire size of a ConnectToken, per
	// spec.md §6.2.
	TotalBytes = 2048

	addrV4 = 1
	addrV6 = 2
)

// Private is the plaintext of the encrypted private section: the data
// only the server can read.
type Private struct {
	ClientID        uint64
	TimeoutSeconds  uint32
	ServerAddresses []net.UDPAddr
	ClientToServerKey crypto.Key
	ServerToClientKey crypto.Key
	UserData        [UserDataBytes]byte
}

// Token is a fully decoded ConnectToken: the public fields every
// recipient can read, plus the private section (populated only after
// the server has decrypted it; zero value otherwise).
type Token struct {
	ProtocolID      uint64
	CreateTimestamp uint64
	ExpireTimestamp uint64
	Nonce           [crypto.NonceBytes]byte
	ServerAddresses []net.UDPAddr
	ClientToServerKey crypto.Key
	ServerToClientKey crypto.Key
	TimeoutSeconds  uint32

	EncryptedPrivate []byte // sealed Private, PrivateSectionBytes+crypto.TagBytes long

	Private Private // populated by Open
}

func encodeAddr(w *wire.Writer, a net.UDPAddr) {
	if v4 := a.IP.To4(); v4 != nil {
		w.WriteByte(addrV4)
		w.WriteBytes(v4)
	} else {
		w.WriteByte(addrV6)
		w.WriteBytes(a.IP.To16())
	}
	w.WriteUint16(uint16(a.Port))
}

func decodeAddr(r *wire.Reader) (net.UDPAddr, error) {
	version, err := r.ReadByte()
	if err != nil {
		return net.UDPAddr{}, err
	}
	var ipLen int
	switch version {
	case addrV4:
		ipLen = 4
	case addrV6:
		ipLen = 16
	default:
		return net.UDPAddr{}, fmt.Errorf("token: unknown address version %d", version)
	}
	ipBytes, err := r.ReadBytes(ipLen)
	if err != nil {
		return net.UDPAddr{}, err
	}
	port, err := r.ReadUint16()
	if err != nil {
		return net.UDPAddr{}, err
	}
	ip := make(net.IP, ipLen)
	copy(ip, ipBytes)
	return net.UDPAddr{IP: ip, Port: int(port)}, nil
}

func encodeAddrList(w *wire.Writer, addrs []net.UDPAddr) error {
	if len(addrs) > MaxServerAddresses {
		return fmt.Errorf("token: too many server addresses (%d > %d)", len(addrs), MaxServerAddresses)
	}
	w.WriteByte(byte(len(addrs)))
	for _, a := range addrs {
		encodeAddr(w, a)
	}
	return nil
}

func decodeAddrList(r *wire.Reader) ([]net.UDPAddr, error) {
	count, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(count) > MaxServerAddresses {
		return nil, fmt.Errorf("token: address count %d exceeds max %d", count, MaxServerAddresses)
	}
	addrs := make([]net.UDPAddr, count)
	for i := range addrs {
		a, err := decodeAddr(r)
		if err != nil {
			return nil, err
		}
		addrs[i] = a
	}
	return addrs, nil
}

// SealPrivate encrypts the private section under the server's
// pre-shared private key, authenticated by the public section's
// identity fields (protocol_id, expire, nonce) so a tampered public
// section invalidates the private one too.
func SealPrivate(serverKey crypto.Key, nonce [crypto.NonceBytes]byte, aad []byte, p Private) ([]byte, error) {
	w := wire.NewWriter(PrivateSectionBytes)
	w.WriteUint64(p.ClientID)
	w.WriteUint32(p.TimeoutSeconds)
	if err := encodeAddrList(w, p.ServerAddresses); err != nil {
		return nil, err
	}
	w.WriteBytes(p.ClientToServerKey[:])
	w.WriteBytes(p.ServerToClientKey[:])
	w.WriteBytes(p.UserData[:])

	plain := padTo(w.Bytes(), PrivateSectionBytes)
	return crypto.SealWithNonce(serverKey, nonce, aad, plain)
}

// OpenPrivate decrypts and parses the private section. A failure here
// is an AuthError per spec.md §7: the token is invalid or forged.
func OpenPrivate(serverKey crypto.Key, nonce [crypto.NonceBytes]byte, aad, encrypted []byte) (Private, error) {
	plain, err := crypto.OpenWithNonce(serverKey, nonce, aad, encrypted)
	if err != nil {
		return Private{}, fmt.Errorf("token: open private section: %w", err)
	}
	r := wire.NewReader(plain)
	var p Private
	if p.ClientID, err = r.ReadUint64(); err != nil {
		return Private{}, err
	}
	if p.TimeoutSeconds, err = r.ReadUint32(); err != nil {
		return Private{}, err
	}
	if p.ServerAddresses, err = decodeAddrList(r); err != nil {
		return Private{}, err
	}
	csKey, err := r.ReadBytes(crypto.KeyBytes)
	if err != nil {
		return Private{}, err
	}
	copy(p.ClientToServerKey[:], csKey)
	scKey, err := r.ReadBytes(crypto.KeyBytes)
	if err != nil {
		return Private{}, err
	}
	copy(p.ServerToClientKey[:], scKey)
	userData, err := r.ReadBytes(UserDataBytes)
	if err != nil {
		return Private{}, err
	}
	copy(p.UserData[:], userData)
	return p, nil
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// publicAAD returns the bytes that authenticate (but don't encrypt)
// the private section: the identity of the public section.
func publicAAD(protocolID, expire uint64, nonce [crypto.NonceBytes]byte) []byte {
	w := wire.NewWriter(8 + 8 + crypto.NonceBytes)
	w.WriteUint64(protocolID)
	w.WriteUint64(expire)
	w.WriteBytes(nonce[:])
	return w.Bytes()
}

// Encode serializes a Token (with an already-sealed EncryptedPrivate)
// to its fixed 2048-byte wire form.
func Encode(t Token) ([]byte, error) {
	if len(t.EncryptedPrivate) != PrivateSectionBytes+crypto.TagBytes {
		return nil, fmt.Errorf("token: encrypted private section must be %d bytes, got %d",
			PrivateSectionBytes+crypto.TagBytes, len(t.EncryptedPrivate))
	}
	w := wire.NewWriter(TotalBytes)
	w.WriteBytes([]byte(VersionInfo))
	w.WriteUint64(t.ProtocolID)
	w.WriteUint64(t.CreateTimestamp)
	w.WriteUint64(t.ExpireTimestamp)
	w.WriteBytes(t.Nonce[:])
	if err := encodeAddrList(w, t.ServerAddresses); err != nil {
		return nil, err
	}
	w.WriteBytes(t.ClientToServerKey[:])
	w.WriteBytes(t.ServerToClientKey[:])
	w.WriteUint32(t.TimeoutSeconds)
	w.WriteBytes(t.EncryptedPrivate)

	return padTo(w.Bytes(), TotalBytes), nil
}

// Decode parses the public section of a ConnectToken. The private
// section remains encrypted in EncryptedPrivate until the server calls
// Open with its pre-shared key.
func Decode(data []byte) (Token, error) {
	if len(data) != TotalBytes {
		return Token{}, fmt.Errorf("token: expected %d bytes, got %d", TotalBytes, len(data))
	}
	r := wire.NewReader(data)
	versionBytes, err := r.ReadBytes(len(VersionInfo))
	if err != nil {
		return Token{}, err
	}
	if string(versionBytes) != VersionInfo {
		return Token{}, fmt.Errorf("token: bad version info")
	}
	var t Token
	if t.ProtocolID, err = r.ReadUint64(); err != nil {
		return Token{}, err
	}
	if t.CreateTimestamp, err = r.ReadUint64(); err != nil {
		return Token{}, err
	}
	if t.ExpireTimestamp, err = r.ReadUint64(); err != nil {
		return Token{}, err
	}
	nonceBytes, err := r.ReadBytes(crypto.NonceBytes)
	if err != nil {
		return Token{}, err
	}
	copy(t.Nonce[:], nonceBytes)
	if t.ServerAddresses, err = decodeAddrList(r); err != nil {
		return Token{}, err
	}
	csKey, err := r.ReadBytes(crypto.KeyBytes)
	if err != nil {
		return Token{}, err
	}
	copy(t.ClientToServerKey[:], csKey)
	scKey, err := r.ReadBytes(crypto.KeyBytes)
	if err != nil {
		return Token{}, err
	}
	copy(t.ServerToClientKey[:], scKey)
	if t.TimeoutSeconds, err = r.ReadUint32(); err != nil {
		return Token{}, err
	}
	encPriv, err := r.ReadBytes(PrivateSectionBytes + crypto.TagBytes)
	if err != nil {
		return Token{}, err
	}
	t.EncryptedPrivate = append([]byte(nil), encPriv...)
	return t, nil
}

// Open decrypts the private section in place, populating t.Private.
// Modifying any byte of the private section (or the public identity
// fields that form its AAD) causes this to fail, per spec.md §8.
func Open(serverKey crypto.Key, t *Token) error {
	aad := publicAAD(t.ProtocolID, t.ExpireTimestamp, t.Nonce)
	p, err := OpenPrivate(serverKey, t.Nonce, aad, t.EncryptedPrivate)
	if err != nil {
		return err
	}
	t.Private = p
	return nil
}

// Seal produces EncryptedPrivate from a Private section and the
// token's public identity fields.
func Seal(serverKey crypto.Key, protocolID, expire uint64, nonce [crypto.NonceBytes]byte, p Private) ([]byte, error) {
	aad := publicAAD(protocolID, expire, nonce)
	return SealPrivate(serverKey, nonce, aad, p)
}
