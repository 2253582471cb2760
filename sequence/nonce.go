package sequence

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NonceSize is the length of a content nonce in bytes.
const NonceSize = 8

// IncrementNonce returns nonce+1 interpreted as a big-endian unsigned integer.
// It fails instead of wrapping around.
func IncrementNonce(nonce []byte) ([]byte, error) {
	out := make([]byte, len(nonce))
	copy(out, nonce)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out, nil
		}
	}
	return nil, fmt.Errorf("nonce overflow")
}

// CompareNonce compares two nonces as big-endian unsigned integers.
func CompareNonce(a, b []byte) int {
	if len(a) != len(b) {
		// left-pad the shorter one
		n := len(a)
		if len(b) > n {
			n = len(b)
		}
		return bytes.Compare(padNonce(a, n), padNonce(b, n))
	}
	return bytes.Compare(a, b)
}

func padNonce(n []byte, size int) []byte {
	out := make([]byte, size)
	copy(out[size-len(n):], n)
	return out
}

// NonceFromUint64 encodes v as an 8-byte big-endian nonce.
func NonceFromUint64(v uint64) []byte {
	out := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(out, v)
	return out
}

// NonceToUint64 decodes an 8-byte big-endian nonce.
func NonceToUint64(n []byte) uint64 {
	return binary.BigEndian.Uint64(padNonce(n, NonceSize))
}

// MaxNonce is the largest nonce value, all bits set.
func MaxNonce() []byte {
	return NonceFromUint64(^uint64(0))
}

// SplitRange splits the range [next, max) in two and returns the midpoint.
// The lower half [next, mid) stays with the caller, [mid, max) is handed over.
func SplitRange(next, max []byte) ([]byte, error) {
	lo := NonceToUint64(next)
	hi := NonceToUint64(max)
	if hi <= lo || hi-lo < 2 {
		return nil, fmt.Errorf("nonce range too small to split")
	}
	return NonceFromUint64(lo + (hi-lo)/2), nil
}
