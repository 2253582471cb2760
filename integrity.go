package salmon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Integrity holds the per-file chunk layout and the HMAC key.
//
// With integrity enabled every chunk of plaintext is stored as
// [HMAC-SHA256 tag][ciphertext]. The tag covers nonce, the 8-byte big-endian
// chunk index and the chunk ciphertext, so chunks cannot be swapped or moved
// between files.
type Integrity struct {
	hashKey   []byte
	chunkSize int64
}

// NewIntegrity validates the chunk size and key.
func NewIntegrity(hashKey []byte, chunkSize int) (*Integrity, error) {
	if err := ValidateKey(hashKey, HashKeyLength); err != nil {
		return nil, err
	}
	if err := ValidateChunkSize(chunkSize); err != nil {
		return nil, err
	}
	return &Integrity{hashKey: hashKey, chunkSize: int64(chunkSize)}, nil
}

// ChunkSize returns the plaintext bytes per chunk.
func (i *Integrity) ChunkSize() int64 {
	return i.chunkSize
}

// ComputeChunkHash returns the tag for one ciphertext chunk.
func ComputeChunkHash(hashKey, nonce []byte, chunkIndex uint64, chunk []byte) []byte {
	mac := hmac.New(sha256.New, hashKey)
	mac.Write(nonce)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], chunkIndex)
	mac.Write(idx[:])
	mac.Write(chunk)
	return mac.Sum(nil)
}

// VerifyChunkHash checks tag in constant time.
func VerifyChunkHash(hashKey, nonce []byte, chunkIndex uint64, chunk, tag []byte) bool {
	return hmac.Equal(ComputeChunkHash(hashKey, nonce, chunkIndex, chunk), tag)
}

// ChunkIndex returns the chunk holding logical offset pos.
func (i *Integrity) ChunkIndex(pos int64) int64 {
	return pos / i.chunkSize
}

// ChunkOffset returns the real offset of chunk idx, tag included.
func (i *Integrity) ChunkOffset(idx int64, headerLen int64) int64 {
	return headerLen + idx*(HashLength+i.chunkSize)
}

// LogicalSize converts the real file size into the plaintext size.
func (i *Integrity) LogicalSize(realSize, headerLen int64) int64 {
	data := realSize - headerLen
	if data <= 0 {
		return 0
	}
	full := data / (HashLength + i.chunkSize)
	rem := data % (HashLength + i.chunkSize)
	size := full * i.chunkSize
	if rem > HashLength {
		size += rem - HashLength
	}
	return size
}

// TruncatedChunk reports whether the real file ends in a chunk that holds no
// more than its tag, and returns that chunk's index. LogicalSize ignores such
// a tail.
func (i *Integrity) TruncatedChunk(realSize, headerLen int64) (int64, bool) {
	data := realSize - headerLen
	if data <= 0 {
		return 0, false
	}
	rem := data % (HashLength + i.chunkSize)
	if rem == 0 || rem > HashLength {
		return 0, false
	}
	return data / (HashLength + i.chunkSize), true
}

// RealSize converts a plaintext size into the stored size.
func (i *Integrity) RealSize(logicalSize, headerLen int64) int64 {
	chunks := (logicalSize + i.chunkSize - 1) / i.chunkSize
	return headerLen + chunks*HashLength + logicalSize
}
