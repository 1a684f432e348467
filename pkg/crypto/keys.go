package crypto

import "crypto/rand"

// GenerateKey returns a fresh random ChaCha20-Poly1305 key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// RandomBytes fills a buffer of the given length with CSPRNG output,
// used for connect-token nonces and challenge tokens.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
