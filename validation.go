package salmon

import (
	"fmt"
	"strings"
)

// ValidateBuffer checks if a buffer is valid (non-nil and has expected size)
func ValidateBuffer(buf []byte, name string, minSize int) error {
	if buf == nil {
		return &ValidationError{
			Field:   name,
			Message: "buffer cannot be nil",
			Err:     ErrNilBuffer,
		}
	}
	if minSize > 0 && len(buf) < minSize {
		return &ValidationError{
			Field:   name,
			Value:   len(buf),
			Message: fmt.Sprintf("buffer too small: got %d bytes, need at least %d bytes", len(buf), minSize),
		}
	}
	return nil
}

// ValidateOffset checks if a stream offset is valid
func ValidateOffset(offset int64, name string) error {
	if offset < 0 {
		return &ValidationError{
			Field:   name,
			Value:   offset,
			Message: "offset cannot be negative",
			Err:     ErrNegativeOffset,
		}
	}
	return nil
}

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
			Err:     ErrInvalidKey,
		}
	}
	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
			Err:     ErrInvalidKey,
		}
	}
	return nil
}

// ValidateNonce checks if a content nonce has the right length
func ValidateNonce(nonce []byte) error {
	if len(nonce) != NonceLength {
		return &ValidationError{
			Field:   "nonce",
			Value:   len(nonce),
			Message: fmt.Sprintf("invalid nonce size: got %d bytes, expected %d bytes", len(nonce), NonceLength),
		}
	}
	return nil
}

// ValidateChunkSize checks the bounds and block alignment of an integrity chunk size
func ValidateChunkSize(size int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return &ValidationError{
			Field:   "chunk_size",
			Value:   size,
			Message: fmt.Sprintf("must be between %d and %d", MinChunkSize, MaxChunkSize),
		}
	}
	if size%BlockSize != 0 {
		return &ValidationError{
			Field:   "chunk_size",
			Value:   size,
			Message: fmt.Sprintf("must be a multiple of %d", BlockSize),
		}
	}
	return nil
}

// ValidateFilePath checks a slash separated drive path. Empty paths, NUL
// bytes and ".." elements are rejected.
func ValidateFilePath(path string) error {
	if path == "" {
		return &ValidationError{
			Field:   "path",
			Message: "file path cannot be empty",
		}
	}
	if strings.ContainsRune(path, 0) {
		return &ValidationError{
			Field:   "path",
			Value:   path,
			Message: "file path contains a NUL byte",
		}
	}
	for _, elem := range strings.Split(path, "/") {
		if elem == ".." {
			return &ValidationError{
				Field:   "path",
				Value:   path,
				Message: "file path cannot leave the drive",
			}
		}
	}
	return nil
}
