package salmon

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF info strings. Changing them changes every derived key.
const (
	hkdfInfoWrapEnc = "salmon config wrap enc"
	hkdfInfoWrapMac = "salmon config wrap mac"
	hkdfInfoAuthEnc = "salmon auth file enc"
	hkdfInfoAuthMac = "salmon auth file mac"
	hkdfInfoNameMac = "salmon name mac"
)

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// hkdfDerive derives outLen bytes from key and info using HKDF-SHA256.
func hkdfDerive(key []byte, info string, outLen int) []byte {
	h := hkdf.New(sha256.New, key, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(h, out); err != nil {
		panic(fmt.Sprintf("hkdfDerive: %v", err))
	}
	return out
}
