package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	aad := []byte{0x01, 0x02, 0x03}
	plaintext := []byte("hello netchan")

	ciphertext, err := Seal(key, DirectionClientToServer, 42, aad, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := Open(key, DirectionClientToServer, 42, aad, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenRejectsTamperedBytes(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	aad := []byte{0x01}
	ciphertext, err := Seal(key, DirectionServerToClient, 7, aad, []byte("payload"))
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF
	_, err = Open(key, DirectionServerToClient, 7, aad, ciphertext)
	require.Error(t, err)
}

func TestOpenRejectsWrongDirection(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	ciphertext, err := Seal(key, DirectionClientToServer, 1, nil, []byte("x"))
	require.NoError(t, err)

	_, err = Open(key, DirectionServerToClient, 1, nil, ciphertext)
	require.Error(t, err)
}

func TestOpenRejectsWrongSequence(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	ciphertext, err := Seal(key, DirectionClientToServer, 1, nil, []byte("x"))
	require.NoError(t, err)

	_, err = Open(key, DirectionClientToServer, 2, nil, ciphertext)
	require.Error(t, err)
}
