package token

import (
	"net"
	"testing"

	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/stretchr/testify/require"
)

func buildToken(t *testing.T, serverKey crypto.Key) Token {
	t.Helper()
	nonce, err := crypto.RandomBytes(crypto.NonceBytes)
	require.NoError(t, err)
	var n [crypto.NonceBytes]byte
	copy(n[:], nonce)

	csKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	scKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	priv := Private{
		ClientID:          7,
		TimeoutSeconds:    15,
		ServerAddresses:   []net.UDPAddr{{IP: net.ParseIP("127.0.0.1"), Port: 40000}},
		ClientToServerKey: csKey,
		ServerToClientKey: scKey,
	}
	copy(priv.UserData[:], []byte("hello-user-data"))

	enc, err := Seal(serverKey, 0xDEADBEEF, 999999, n, priv)
	require.NoError(t, err)

	return Token{
		ProtocolID:        0xDEADBEEF,
		CreateTimestamp:   1,
		ExpireTimestamp:   999999,
		Nonce:             n,
		ServerAddresses:   priv.ServerAddresses,
		ClientToServerKey: csKey,
		ServerToClientKey: scKey,
		TimeoutSeconds:    15,
		EncryptedPrivate:  enc,
	}
}

func TestEncodeDecodeIsIdentity(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok := buildToken(t, serverKey)

	wire, err := Encode(tok)
	require.NoError(t, err)
	require.Len(t, wire, TotalBytes)

	got, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, tok.ProtocolID, got.ProtocolID)
	require.Equal(t, tok.ExpireTimestamp, got.ExpireTimestamp)
	require.Equal(t, tok.ClientToServerKey, got.ClientToServerKey)
	require.Equal(t, tok.EncryptedPrivate, got.EncryptedPrivate)

	require.NoError(t, Open(serverKey, &got))
	require.Equal(t, uint64(7), got.Private.ClientID)
}

func TestOpenFailsWithWrongKey(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok := buildToken(t, serverKey)

	wrongKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	err = Open(wrongKey, &tok)
	require.Error(t, err)
}

func TestModifyingPrivateSectionInvalidatesToken(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok := buildToken(t, serverKey)

	tok.EncryptedPrivate[0] ^= 0xFF
	err = Open(serverKey, &tok)
	require.Error(t, err)
}

func TestTooManyServerAddressesRejected(t *testing.T) {
	addrs := make([]net.UDPAddr, MaxServerAddresses+1)
	for i := range addrs {
		addrs[i] = net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1000 + i}
	}
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	var n [crypto.NonceBytes]byte
	_, err = Seal(serverKey, 1, 2, n, Private{ServerAddresses: addrs})
	require.Error(t, err)
}
