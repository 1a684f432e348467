// Package crypto wraps the authenticated-encryption primitives netchan
// needs: ChaCha20-Poly1305 sealing with a (direction, sequence) nonce,
// and key/nonce generation.
package crypto

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyBytes is the size of a ChaCha20-Poly1305 key.
	KeyBytes = chacha20poly1305.KeySize
	// TagBytes is the size of the appended AEAD tag.
	TagBytes = chacha20poly1305.Overhead
)

// Direction distinguishes client->server traffic from server->client
// traffic so the two directions never reuse a nonce even when their
// sequence counters collide.
type Direction byte

const (
	DirectionClientToServer Direction = 0
	DirectionServerToClient Direction = 1
)

// Key is a ChaCha20-Poly1305 key.
type Key [KeyBytes]byte

// nonce builds the 12-byte ChaCha20-Poly1305 nonce from a direction
// byte and a 64-bit sequence, per spec.md §4.5: "the nonce for AEAD is
// (direction_byte || sequence_u64) — unique per session per direction".
func nonce(dir Direction, sequence uint64) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	n[0] = byte(dir)
	binary.LittleEndian.PutUint64(n[4:], sequence)
	return n
}

// Seal encrypts and authenticates plaintext into a new buffer, with the
// AEAD tag appended. aad is additional authenticated data (the packet type byte
// and sequence, per spec.md §4.1) that is authenticated but not
// encrypted.
func Seal(key Key, dir Direction, sequence uint64, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	n := nonce(dir, sequence)
	return aead.Seal(nil, n[:], plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext. A failure here (bad key,
// tampered bytes, wrong nonce) must never panic — callers drop the
// packet and count the failure, per spec.md §4.1 and §7.
func Open(key Key, dir Direction, sequence uint64, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	n := nonce(dir, sequence)
	plaintext, err := aead.Open(nil, n[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	return plaintext, nil
}

// NonceBytes is the ChaCha20-Poly1305 nonce size, exposed for callers
// (connect-token sealing) that need an explicit nonce rather than one
// derived from a (direction, sequence) pair.
const NonceBytes = chacha20poly1305.NonceSize

// SealWithNonce is Seal with an explicit, caller-supplied nonce. Used
// for connect tokens, which are sealed once out of band rather than
// sequenced within a live session.
func SealWithNonce(key Key, nonce [NonceBytes]byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// OpenWithNonce is Open with an explicit, caller-supplied nonce.
func OpenWithNonce(key Key, nonce [NonceBytes]byte, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	return plaintext, nil
}
